package domain

import (
	"time"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// PositionKey identifies the single position an account holds on one side of
// one market.
type PositionKey struct {
	MarketID string
	Account  Address
	Side     Side
}

// Position is an account's stake on one side of a market. Repeat bets on the
// same side accumulate into it.
type Position struct {
	MarketID string
	Account  Address
	Side     Side

	Gross  ledger.Amount // stake before entry fees
	Stake  ledger.Amount // net of entry fees; the refund amount
	Shares ledger.Amount
	Weight uint64 // effective weight in bps, 10000 = 1.0

	Referrer Address
	Paid     bool
	Payout   ledger.Amount

	PlacedAt  time.Time
	UpdatedAt time.Time
}

// Key returns the position's identity.
func (p *Position) Key() PositionKey {
	return PositionKey{MarketID: p.MarketID, Account: p.Account, Side: p.Side}
}
