package settlement

import (
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// SideQuote is what a reference bet on one side would get right now.
type SideQuote struct {
	EffectivePool ledger.Amount `json:"effective_pool"`
	ImpliedBps    uint64        `json:"implied_bps"`
	Weight        uint64        `json:"weight"`
	// Payout is what the reference stake would pay if this side won
	// immediately after the bet; MultiplierBps is Payout/stake.
	Payout        ledger.Amount `json:"payout"`
	MultiplierBps uint64        `json:"multiplier_bps"`
}

// Quote is a read-only pricing snapshot of a market.
type Quote struct {
	MarketID string        `json:"market_id"`
	State    domain.State  `json:"state"`
	Stake    ledger.Amount `json:"stake"`
	Yes      SideQuote     `json:"yes"`
	No       SideQuote     `json:"no"`
	MinBond  ledger.Amount `json:"min_bond"`
	Fees     FeeSchedule   `json:"fees"`
}

// Quote prices a reference bet of stake on both sides of a market. A zero
// stake quotes one whole token.
func (e *Engine) Quote(id string, stake ledger.Amount, now time.Time) (Quote, error) {
	m, err := e.market(id)
	if err != nil {
		return Quote{}, err
	}
	if stake.IsZero() {
		stake = ledger.USDC(1)
	}
	pool, err := m.Pool()
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		MarketID: m.ID,
		State:    m.StateAt(now),
		Stake:    stake,
		MinBond:  e.params.MinBond(pool),
		Fees:     e.params.Fees,
	}
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		sq, err := e.quoteSide(m, side, stake, pool, now)
		if err != nil {
			return Quote{}, err
		}
		if side == domain.SideYes {
			q.Yes = sq
		} else {
			q.No = sq
		}
	}
	return q, nil
}

func (e *Engine) quoteSide(m *domain.Market, side domain.Side, stake, pool ledger.Amount, now time.Time) (SideQuote, error) {
	eff, err := m.EffectivePool(side)
	if err != nil {
		return SideQuote{}, err
	}
	sq := SideQuote{EffectivePool: eff}
	if !pool.IsZero() {
		implied, err := ledger.MulDiv(eff, ledger.New(ledger.BpsDenominator), pool)
		if err != nil {
			return SideQuote{}, err
		}
		sq.ImpliedBps, _ = implied.Uint64()
	}
	if sq.Payout, sq.Weight, err = ProjectedPayout(m, side, stake, now, e.params); err != nil {
		return SideQuote{}, err
	}
	mult, err := ledger.MulDiv(sq.Payout, ledger.New(ledger.BpsDenominator), stake)
	if err != nil {
		return SideQuote{}, err
	}
	sq.MultiplierBps, _ = mult.Uint64()
	return sq, nil
}
