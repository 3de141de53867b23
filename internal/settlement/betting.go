package settlement

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// BetResult reports the effect of a placed bet.
type BetResult struct {
	Position domain.Position `json:"position"`
	Fees     FeeSplit        `json:"fees"`
	Shares   ledger.Amount   `json:"shares"`
	Weight   uint64          `json:"weight"`
}

// PlaceBet stakes gross on a side of an OPEN market. Entry fees come off the
// gross amount before shares are issued. The slippage bound is checked before
// anything is written, so a rejected bet leaves every pool untouched.
func (e *Engine) PlaceBet(now time.Time, c PlaceBet) (BetResult, error) {
	m, err := e.market(c.MarketID)
	if err != nil {
		return BetResult{}, err
	}
	if m.StateAt(now) != domain.StateOpen {
		return BetResult{}, invalidState(OpPlaceBet, m, now, "", domain.StateOpen)
	}
	if !c.Side.Valid() {
		return BetResult{}, fmt.Errorf("bet %s: side %q: %w", m.ID, c.Side, domain.ErrInvalidArgument)
	}
	if c.Bettor == domain.ZeroAddress {
		return BetResult{}, fmt.Errorf("bet %s: zero bettor: %w", m.ID, domain.ErrInvalidArgument)
	}
	if c.Amount.IsZero() {
		return BetResult{}, fmt.Errorf("bet %s: zero amount: %w", m.ID, domain.ErrInvalidArgument)
	}
	if c.Referrer == c.Bettor {
		c.Referrer = domain.ZeroAddress
	}
	hasReferrer := c.Referrer != domain.ZeroAddress

	split, err := e.params.Fees.Split(c.Amount, hasReferrer)
	if err != nil {
		return BetResult{}, fmt.Errorf("bet %s: %w", m.ID, err)
	}
	weight := Weight(m, c.Side, now, e.params.MaxBonusBps)
	shares, err := SharesFor(split.Net, weight)
	if err != nil {
		return BetResult{}, fmt.Errorf("bet %s: %w", m.ID, err)
	}
	if shares.IsZero() {
		return BetResult{}, fmt.Errorf("bet %s: amount %s too small to issue shares: %w", m.ID, c.Amount, domain.ErrInvalidArgument)
	}
	if shares.Lt(c.MinSharesOut) {
		return BetResult{}, fmt.Errorf("bet %s: shares %s below minimum %s: %w", m.ID, shares, c.MinSharesOut, domain.ErrSlippageExceeded)
	}

	key := domain.PositionKey{MarketID: m.ID, Account: c.Bettor, Side: c.Side}
	pos := domain.Position{MarketID: m.ID, Account: c.Bettor, Side: c.Side, Referrer: c.Referrer, PlacedAt: now}
	existing, exists := e.positions[key]
	if exists {
		pos = *existing
		if pos.Referrer == domain.ZeroAddress {
			pos.Referrer = c.Referrer
		}
	}

	next := *m
	tx := e.begin()
	tx.receive(c.Amount)
	tx.add(&next.Received, c.Amount)
	tx.add(&next.Escrow, split.Net)
	if c.Side == domain.SideYes {
		tx.add(&next.TotalYes, split.Net)
		tx.add(&next.SharesYes, shares)
	} else {
		tx.add(&next.TotalNo, split.Net)
		tx.add(&next.SharesNo, shares)
	}
	tx.add(&pos.Gross, c.Amount)
	tx.add(&pos.Stake, split.Net)
	tx.add(&pos.Shares, shares)
	tx.credit(domain.ZeroAddress, domain.BalanceHouse, split.House)
	tx.credit(m.Creator, domain.BalanceCreatorFees, split.Creator)
	if hasReferrer {
		tx.credit(c.Referrer, domain.BalanceReferral, split.Referrer)
	}
	if tx.err != nil {
		return BetResult{}, fmt.Errorf("bet %s: %w", m.ID, tx.err)
	}
	effective, err := ledger.MulDiv(pos.Shares, ledger.New(WeightScale), pos.Stake)
	if err != nil {
		return BetResult{}, fmt.Errorf("bet %s: %w", m.ID, err)
	}
	pos.Weight, _ = effective.Uint64()
	pos.UpdatedAt = now
	next.UpdatedAt = now
	if !exists {
		next.Positions = append(append([]domain.PositionKey(nil), m.Positions...), key)
	}

	tx.commit()
	*m = next
	e.positions[key] = &pos
	return BetResult{Position: pos, Fees: split, Shares: shares, Weight: weight}, nil
}
