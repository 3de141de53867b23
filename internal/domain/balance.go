package domain

import "github.com/alanyoungcy/castbet/internal/ledger"

// BalanceKind names one of the withdrawable credit ledgers.
type BalanceKind string

const (
	BalanceCreatorFees BalanceKind = "creator_fees"
	BalanceReferral    BalanceKind = "referral_rewards"
	BalanceBond        BalanceKind = "bonds"
	BalanceHouse       BalanceKind = "house"
)

// Valid reports whether k is a known balance kind.
func (k BalanceKind) Valid() bool {
	switch k {
	case BalanceCreatorFees, BalanceReferral, BalanceBond, BalanceHouse:
		return true
	}
	return false
}

// Balances are the per-address credit ledgers. Creator fee balances also
// receive returned seed liquidity.
type Balances struct {
	CreatorFees     ledger.Amount `json:"creator_fees"`
	ReferralRewards ledger.Amount `json:"referral_rewards"`
	Bonds           ledger.Amount `json:"bonds"`
}

// IsZero reports whether every ledger is empty.
func (b Balances) IsZero() bool {
	return b.CreatorFees.IsZero() && b.ReferralRewards.IsZero() && b.Bonds.IsZero()
}

// Total sums the three ledgers.
func (b Balances) Total() (ledger.Amount, error) {
	return ledger.Sum(b.CreatorFees, b.ReferralRewards, b.Bonds)
}

// TransferReason classifies value leaving the engine.
type TransferReason string

const (
	TransferPayout     TransferReason = "payout"
	TransferRefund     TransferReason = "refund"
	TransferWithdrawal TransferReason = "withdrawal"
)

// Transfer is an instruction to move settlement tokens out of the engine.
// Transfers are the only way value leaves.
type Transfer struct {
	To       Address        `json:"to"`
	Amount   ledger.Amount  `json:"amount"`
	Reason   TransferReason `json:"reason"`
	Kind     BalanceKind    `json:"kind,omitempty"`
	MarketID string         `json:"market_id,omitempty"`
}
