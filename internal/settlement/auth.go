package settlement

import (
	"sort"

	"github.com/alanyoungcy/castbet/internal/domain"
)

// Authorizer is the single capability check for gated operations. The admin
// holds every capability; operators may only arbitrate disputes.
type Authorizer struct {
	admin     domain.Address
	operators map[domain.Address]struct{}
}

// NewAuthorizer creates an authorizer with the given admin and operators.
func NewAuthorizer(admin domain.Address, operators ...domain.Address) *Authorizer {
	a := &Authorizer{admin: admin, operators: make(map[domain.Address]struct{}, len(operators))}
	for _, op := range operators {
		a.operators[op] = struct{}{}
	}
	return a
}

// Authorize returns a *domain.AuthError when caller lacks capability.
func (a *Authorizer) Authorize(caller domain.Address, capability domain.Capability) error {
	switch a.RoleOf(caller) {
	case domain.RoleAdmin:
		return nil
	case domain.RoleOperator:
		if capability == domain.CapArbitrate {
			return nil
		}
	}
	return &domain.AuthError{Caller: caller, Capability: capability}
}

// RoleOf reports the role held by addr.
func (a *Authorizer) RoleOf(addr domain.Address) domain.Role {
	if addr != domain.ZeroAddress && addr == a.admin {
		return domain.RoleAdmin
	}
	if _, ok := a.operators[addr]; ok {
		return domain.RoleOperator
	}
	return domain.RoleNone
}

// Admin returns the admin address.
func (a *Authorizer) Admin() domain.Address { return a.admin }

// Operators returns the operator set sorted by address.
func (a *Authorizer) Operators() []domain.Address {
	out := make([]domain.Address, 0, len(a.operators))
	for op := range a.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (a *Authorizer) grant(addr domain.Address)  { a.operators[addr] = struct{}{} }
func (a *Authorizer) revoke(addr domain.Address) { delete(a.operators, addr) }
