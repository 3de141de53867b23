package settlement

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Withdraw empties one credit ledger. The balance is checked, cleared and
// only then turned into a transfer, so a second withdrawal observes zero.
func (e *Engine) Withdraw(now time.Time, c Withdraw) (domain.Transfer, error) {
	if !c.Kind.Valid() {
		return domain.Transfer{}, fmt.Errorf("withdraw: kind %q: %w", c.Kind, domain.ErrInvalidArgument)
	}
	to := c.Caller
	if c.Kind == domain.BalanceHouse {
		if err := e.auth.Authorize(c.Caller, domain.CapWithdrawHouse); err != nil {
			return domain.Transfer{}, fmt.Errorf("withdraw house: %w", err)
		}
		if c.To != domain.ZeroAddress {
			to = c.To
		}
	}
	if to == domain.ZeroAddress {
		return domain.Transfer{}, fmt.Errorf("withdraw %s: zero recipient: %w", c.Kind, domain.ErrInvalidArgument)
	}

	tx := e.begin()
	var amount ledger.Amount
	if c.Kind == domain.BalanceHouse {
		amount, tx.house = tx.house, ledger.Amount{}
	} else {
		b := tx.balance(c.Caller)
		switch c.Kind {
		case domain.BalanceCreatorFees:
			amount, b.CreatorFees = b.CreatorFees, ledger.Amount{}
		case domain.BalanceReferral:
			amount, b.ReferralRewards = b.ReferralRewards, ledger.Amount{}
		case domain.BalanceBond:
			amount, b.Bonds = b.Bonds, ledger.Amount{}
		}
		tx.balances[c.Caller] = b
	}
	if amount.IsZero() {
		return domain.Transfer{}, fmt.Errorf("withdraw %s for %s: %w", c.Kind, c.Caller.Hex(), domain.ErrInsufficientBalance)
	}
	tx.send(amount)
	if tx.err != nil {
		return domain.Transfer{}, fmt.Errorf("withdraw %s: %w", c.Kind, tx.err)
	}
	tx.commit()
	return domain.Transfer{To: to, Amount: amount, Reason: domain.TransferWithdrawal, Kind: c.Kind}, nil
}

// WithdrawCreatorFees empties the caller's creator fee balance.
func (e *Engine) WithdrawCreatorFees(now time.Time, caller domain.Address) (domain.Transfer, error) {
	return e.Withdraw(now, Withdraw{Caller: caller, Kind: domain.BalanceCreatorFees})
}

// WithdrawReferrerFees empties the caller's referral reward balance.
func (e *Engine) WithdrawReferrerFees(now time.Time, caller domain.Address) (domain.Transfer, error) {
	return e.Withdraw(now, Withdraw{Caller: caller, Kind: domain.BalanceReferral})
}

// WithdrawBond empties the caller's claimable bond balance.
func (e *Engine) WithdrawBond(now time.Time, caller domain.Address) (domain.Transfer, error) {
	return e.Withdraw(now, Withdraw{Caller: caller, Kind: domain.BalanceBond})
}

// WithdrawHouseFees sends the house balance to to. Admin only.
func (e *Engine) WithdrawHouseFees(now time.Time, caller, to domain.Address) (domain.Transfer, error) {
	return e.Withdraw(now, Withdraw{Caller: caller, Kind: domain.BalanceHouse, To: to})
}

// GrantOperator adds an arbitration operator. Admin only.
func (e *Engine) GrantOperator(c GrantOperator) error {
	if err := e.auth.Authorize(c.Caller, domain.CapManageRoles); err != nil {
		return fmt.Errorf("grant operator: %w", err)
	}
	if c.Operator == domain.ZeroAddress || c.Operator == e.auth.Admin() {
		return fmt.Errorf("grant operator %s: %w", c.Operator.Hex(), domain.ErrInvalidArgument)
	}
	if e.auth.RoleOf(c.Operator) == domain.RoleOperator {
		return fmt.Errorf("grant operator %s: %w", c.Operator.Hex(), domain.ErrAlreadyExists)
	}
	e.auth.grant(c.Operator)
	return nil
}

// RevokeOperator removes an arbitration operator. Admin only.
func (e *Engine) RevokeOperator(c RevokeOperator) error {
	if err := e.auth.Authorize(c.Caller, domain.CapManageRoles); err != nil {
		return fmt.Errorf("revoke operator: %w", err)
	}
	if e.auth.RoleOf(c.Operator) != domain.RoleOperator {
		return fmt.Errorf("revoke operator %s: %w", c.Operator.Hex(), domain.ErrNotFound)
	}
	e.auth.revoke(c.Operator)
	return nil
}
