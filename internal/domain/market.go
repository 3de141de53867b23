package domain

import (
	"time"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Side is the outcome a bettor stakes on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s names a bettable side.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Outcome is a proposed or final market result.
type Outcome string

const (
	OutcomeYes  Outcome = "yes"
	OutcomeNo   Outcome = "no"
	OutcomeDraw Outcome = "draw"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeDraw
}

// WinningSide returns the side paid by a YES/NO outcome. DRAW has no winning
// side.
func (o Outcome) WinningSide() (Side, bool) {
	switch o {
	case OutcomeYes:
		return SideYes, true
	case OutcomeNo:
		return SideNo, true
	default:
		return "", false
	}
}

// State is the lifecycle state of a market.
type State string

const (
	StateOpen     State = "open"
	StateLocked   State = "locked"
	StateProposed State = "proposed"
	StateDisputed State = "disputed"
	StateResolved State = "resolved"
)

// AllStates lists every lifecycle state in order.
var AllStates = []State{StateOpen, StateLocked, StateProposed, StateDisputed, StateResolved}

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool { return s == StateResolved }

// Market is one question and its pools. The lifecycle-specific fields
// (proposal, challenge, result) live in Phase so they cannot be read before
// the transition that sets them.
type Market struct {
	ID          string
	Creator     Address
	Question    string
	CreatedAt   time.Time
	Deadline    time.Time
	BonusWindow time.Duration

	Phase Phase

	SeedYes   ledger.Amount
	SeedNo    ledger.Amount
	TotalYes  ledger.Amount // net of entry fees
	TotalNo   ledger.Amount // net of entry fees
	SharesYes ledger.Amount
	SharesNo  ledger.Amount

	// Received is every unit ever transferred into the market; Escrow is what
	// the market still holds.
	Received ledger.Amount
	Escrow   ledger.Amount

	// Positions holds position keys in order of first bet; Cursor indexes
	// into it for batch payout.
	Positions []PositionKey
	Cursor    int
	PaidOut   bool
	Reopened  int
	UpdatedAt time.Time
}

// StateAt returns the effective state at now. An open market whose deadline
// has passed is LOCKED even though nothing has been written yet.
func (m *Market) StateAt(now time.Time) State {
	if _, ok := m.Phase.(Open); ok && !now.Before(m.Deadline) {
		return StateLocked
	}
	return m.Phase.State()
}

// Total returns the net stake on side.
func (m *Market) Total(side Side) ledger.Amount {
	if side == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// Seed returns the dead liquidity on side.
func (m *Market) Seed(side Side) ledger.Amount {
	if side == SideYes {
		return m.SeedYes
	}
	return m.SeedNo
}

// Shares returns the shares issued on side.
func (m *Market) Shares(side Side) ledger.Amount {
	if side == SideYes {
		return m.SharesYes
	}
	return m.SharesNo
}

// EffectivePool returns the stake plus seed backing the odds of side.
func (m *Market) EffectivePool(side Side) (ledger.Amount, error) {
	return m.Total(side).Add(m.Seed(side))
}

// Pool returns the whole net-of-entry-fee pool including seed.
func (m *Market) Pool() (ledger.Amount, error) {
	return ledger.Sum(m.TotalYes, m.TotalNo, m.SeedYes, m.SeedNo)
}

// SeedTotal returns SeedYes + SeedNo.
func (m *Market) SeedTotal() (ledger.Amount, error) {
	return m.SeedYes.Add(m.SeedNo)
}

// Clone returns a deep copy safe to hand to readers.
func (m *Market) Clone() *Market {
	out := *m
	out.Positions = append([]PositionKey(nil), m.Positions...)
	return &out
}
