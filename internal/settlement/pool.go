package settlement

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// WeightScale is the weight of a bet with no bonus (1.0).
const WeightScale = ledger.BpsDenominator

// Weight returns the multiplier, in bps, for a bet on side at now. Only a bet
// on the strictly smaller effective pool placed inside the bonus window
// earns a bonus, and the bonus decays linearly to zero at the window end.
func Weight(m *domain.Market, side domain.Side, now time.Time, maxBonusBps uint64) uint64 {
	if m.BonusWindow <= 0 || maxBonusBps == 0 {
		return WeightScale
	}
	elapsed := now.Sub(m.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= m.BonusWindow {
		return WeightScale
	}
	mine, err := m.EffectivePool(side)
	if err != nil {
		return WeightScale
	}
	other, err := m.EffectivePool(side.Opposite())
	if err != nil || !mine.Lt(other) {
		return WeightScale
	}
	remaining := uint64(m.BonusWindow - elapsed)
	bonus, err := ledger.MulDiv(ledger.New(maxBonusBps), ledger.New(remaining), ledger.New(uint64(m.BonusWindow)))
	if err != nil {
		return WeightScale
	}
	b, _ := bonus.Uint64()
	return WeightScale + b
}

// SharesFor converts a net stake to shares at weight.
func SharesFor(net ledger.Amount, weight uint64) (ledger.Amount, error) {
	return ledger.MulDiv(net, ledger.New(weight), ledger.New(WeightScale))
}

// Settle fixes the payout accounting of a market at resolution. YES and NO
// pay the winning side pro rata to shares, with seed liquidity counted as
// shares owned by nobody; the part of the distributable pool those dead
// shares would earn is swept to the house. DRAW and void refund every net
// stake; a DRAW pays the reporter out of the seed and returns the rest of the
// seed to the creator, a void returns the whole seed.
func Settle(m *domain.Market, outcome domain.Outcome, void bool, reporter domain.Address, fees FeeSchedule) (domain.Settlement, error) {
	pool, err := m.Pool()
	if err != nil {
		return domain.Settlement{}, err
	}
	s := domain.Settlement{Pool: pool, Reporter: reporter}

	win, ok := outcome.WinningSide()
	if void || !ok {
		s.Mode = domain.ModeRefund
		if s.Reserved, err = m.TotalYes.Add(m.TotalNo); err != nil {
			return domain.Settlement{}, err
		}
		seed, err := m.SeedTotal()
		if err != nil {
			return domain.Settlement{}, err
		}
		if !void {
			s.ReporterReward = ledger.Min(fees.ReporterReward(pool), seed)
		}
		if s.SeedReturned, err = seed.Sub(s.ReporterReward); err != nil {
			return domain.Settlement{}, err
		}
		s.Distributable = s.Reserved
		return s, nil
	}

	s.Mode = domain.ModePayout
	s.WinningSide = win
	s.ReporterReward = fees.ReporterReward(pool)
	if s.Distributable, err = pool.Sub(s.ReporterReward); err != nil {
		return domain.Settlement{}, err
	}
	winShares := m.Shares(win)
	if s.Denominator, err = winShares.Add(m.Seed(win)); err != nil {
		return domain.Settlement{}, err
	}
	if s.Denominator.IsZero() {
		// A market always has seed on both sides; guard anyway.
		s.DeadShare = s.Distributable
		return s, nil
	}
	if s.Reserved, err = ledger.MulDiv(s.Distributable, winShares, s.Denominator); err != nil {
		return domain.Settlement{}, err
	}
	if s.DeadShare, err = s.Distributable.Sub(s.Reserved); err != nil {
		return domain.Settlement{}, err
	}
	return s, nil
}

// PayoutFor returns what p is owed under s and whether p is eligible at all.
func PayoutFor(s domain.Settlement, p *domain.Position) (ledger.Amount, bool, error) {
	switch s.Mode {
	case domain.ModeRefund:
		return p.Stake, true, nil
	case domain.ModePayout:
		if p.Side != s.WinningSide || s.Denominator.IsZero() {
			return ledger.Amount{}, false, nil
		}
		amt, err := ledger.MulDiv(p.Shares, s.Distributable, s.Denominator)
		return amt, true, err
	default:
		return ledger.Amount{}, false, fmt.Errorf("settlement: unknown mode %q", s.Mode)
	}
}

// ProjectedPayout returns what a bet of gross on side would pay if the market
// resolved for that side immediately afterwards, with no referrer.
func ProjectedPayout(m *domain.Market, side domain.Side, gross ledger.Amount, now time.Time, p Params) (ledger.Amount, uint64, error) {
	split, err := p.Fees.Split(gross, false)
	if err != nil {
		return ledger.Amount{}, 0, err
	}
	weight := Weight(m, side, now, p.MaxBonusBps)
	shares, err := SharesFor(split.Net, weight)
	if err != nil {
		return ledger.Amount{}, 0, err
	}
	pool, err := m.Pool()
	if err != nil {
		return ledger.Amount{}, 0, err
	}
	if pool, err = pool.Add(split.Net); err != nil {
		return ledger.Amount{}, 0, err
	}
	dist, err := pool.Sub(p.Fees.ReporterReward(pool))
	if err != nil {
		return ledger.Amount{}, 0, err
	}
	denom, err := ledger.Sum(m.Shares(side), m.Seed(side), shares)
	if err != nil {
		return ledger.Amount{}, 0, err
	}
	if denom.IsZero() {
		return ledger.Amount{}, weight, nil
	}
	payout, err := ledger.MulDiv(shares, dist, denom)
	return payout, weight, err
}
