package domain

// Capability is a permission checked by the authorizer.
type Capability string

const (
	CapArbitrate     Capability = "arbitrate"
	CapVoid          Capability = "void"
	CapWithdrawHouse Capability = "withdraw_house"
	CapManageRoles   Capability = "manage_roles"
)

// Role is the membership level of an address.
type Role string

const (
	RoleNone     Role = "none"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)
