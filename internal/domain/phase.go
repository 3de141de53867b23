package domain

import (
	"time"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Phase is the lifecycle variant of a market. Each variant carries only the
// fields meaningful in that state; transitions replace the whole value.
type Phase interface {
	State() State
	sealed()
}

// Open accepts bets until the deadline.
type Open struct{}

// Proposal is a bonded result submission.
type Proposal struct {
	Proposer   Address       `json:"proposer"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	Bond       ledger.Amount `json:"bond"`
	Evidence   string        `json:"evidence,omitempty"`
	ProposedAt time.Time     `json:"proposed_at"`
}

// Challenge is a bonded objection to a proposal.
type Challenge struct {
	Challenger   Address       `json:"challenger"`
	Bond         ledger.Amount `json:"bond"`
	Evidence     string        `json:"evidence,omitempty"`
	ChallengedAt time.Time     `json:"challenged_at"`
}

// Proposed waits out the challenge window.
type Proposed struct {
	Proposal Proposal
}

// Disputed waits for arbitration.
type Disputed struct {
	Proposal  Proposal
	Challenge Challenge
}

// ResolutionPath records which of the three resolution paths settled a market.
type ResolutionPath string

const (
	PathUnchallenged ResolutionPath = "unchallenged"
	PathArbitration  ResolutionPath = "arbitration"
	PathVoid         ResolutionPath = "void"
)

// SettlementMode selects how positions are paid.
type SettlementMode string

const (
	// ModePayout pays the winning side pro rata to shares.
	ModePayout SettlementMode = "payout"
	// ModeRefund refunds every position its net stake.
	ModeRefund SettlementMode = "refund"
)

// Settlement is the accounting fixed at resolution time.
type Settlement struct {
	Mode        SettlementMode `json:"mode,omitempty"`
	WinningSide Side           `json:"winning_side,omitempty"` // empty in refund mode

	Pool           ledger.Amount `json:"pool"` // net pool including seed
	ReporterReward ledger.Amount `json:"reporter_reward"`
	Reporter       Address       `json:"reporter"`
	Distributable  ledger.Amount `json:"distributable"`
	Denominator    ledger.Amount `json:"denominator"`   // winning shares + winning seed
	DeadShare      ledger.Amount `json:"dead_share"`    // part of distributable owned by seed, swept to house
	SeedReturned   ledger.Amount `json:"seed_returned"` // seed credited back to the creator (refund mode)

	Reserved ledger.Amount `json:"reserved"` // owed to bettors
	Paid     ledger.Amount `json:"paid"`     // paid to bettors so far
	Dust     ledger.Amount `json:"dust"`     // swept to house once paid out
}

// Resolved is terminal.
type Resolved struct {
	Outcome    Outcome // empty when Void
	Void       bool
	Reason     string
	Path       ResolutionPath
	Proposal   *Proposal
	Challenge  *Challenge
	ResolvedAt time.Time
	Settlement Settlement
}

func (Open) State() State     { return StateOpen }
func (Proposed) State() State { return StateProposed }
func (Disputed) State() State { return StateDisputed }
func (Resolved) State() State { return StateResolved }

func (Open) sealed()     {}
func (Proposed) sealed() {}
func (Disputed) sealed() {}
func (Resolved) sealed() {}
