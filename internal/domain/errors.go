package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidState        = errors.New("invalid state")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrNothingToDistribute = errors.New("nothing to distribute")
	ErrBondTooLow          = errors.New("bond too low")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrHalted              = errors.New("sequencer halted")

	ErrMarketNotFound = fmt.Errorf("market %w", ErrNotFound)
	ErrMarketExists   = fmt.Errorf("market %w", ErrAlreadyExists)

	// Ledger violations are defined next to the arithmetic.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrOverflow            = ledger.ErrOverflow
)

// InvalidStateError reports a transition attempted from the wrong lifecycle
// state. Expected lists every state the operation accepts.
type InvalidStateError struct {
	Op       string
	MarketID string
	Expected []State
	Actual   State
	Reason   string
}

func (e *InvalidStateError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = string(s)
	}
	msg := fmt.Sprintf("%s: market %s is %s, want %s", e.Op, e.MarketID, e.Actual, strings.Join(want, "|"))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + ": " + ErrInvalidState.Error()
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// Fatal reports that no retry can succeed because the market is terminal.
func (e *InvalidStateError) Fatal() bool { return e.Actual.Terminal() }

// AuthError reports a caller lacking a capability.
type AuthError struct {
	Caller     Address
	Capability Capability
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s lacks %s: %s", e.Caller.Hex(), e.Capability, ErrUnauthorized)
}

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// BondError reports a bond below the required minimum.
type BondError struct {
	Posted   ledger.Amount
	Required ledger.Amount
}

func (e *BondError) Error() string {
	return fmt.Sprintf("bond %s below required %s: %s", e.Posted, e.Required, ErrBondTooLow)
}

func (e *BondError) Is(target error) bool { return target == ErrBondTooLow }
