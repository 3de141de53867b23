package settlement

import (
	"fmt"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// FeeSchedule holds the basis-point fee rates. Entry fees are taken once at
// bet placement; the reporter reward is taken once at resolution from the
// pool that is already net of entry fees.
type FeeSchedule struct {
	HouseBps    uint64 `json:"house_bps"`
	CreatorBps  uint64 `json:"creator_bps"`
	ReferrerBps uint64 `json:"referrer_bps"`
	ReporterBps uint64 `json:"reporter_bps"`
}

// DefaultFees returns house 10%, creator 5%, referrer 5%, reporter 1%.
func DefaultFees() FeeSchedule {
	return FeeSchedule{HouseBps: 1000, CreatorBps: 500, ReferrerBps: 500, ReporterBps: 100}
}

// EntryBps is the total entry fee rate.
func (f FeeSchedule) EntryBps() uint64 {
	return f.HouseBps + f.CreatorBps + f.ReferrerBps
}

// Validate rejects schedules that would leave no net stake.
func (f FeeSchedule) Validate() error {
	if f.EntryBps() >= ledger.BpsDenominator {
		return fmt.Errorf("entry fees %d bps must be below 10000", f.EntryBps())
	}
	if f.ReporterBps >= ledger.BpsDenominator {
		return fmt.Errorf("reporter reward %d bps must be below 10000", f.ReporterBps)
	}
	return nil
}

// FeeSplit is the result of splitting a gross stake.
type FeeSplit struct {
	Net      ledger.Amount `json:"net"`
	House    ledger.Amount `json:"house"`
	Creator  ledger.Amount `json:"creator"`
	Referrer ledger.Amount `json:"referrer"`
}

// Fees returns the total taken from the gross amount.
func (s FeeSplit) Fees() (ledger.Amount, error) {
	return ledger.Sum(s.House, s.Creator, s.Referrer)
}

// Split divides gross into net stake and fees. Without a referrer the
// referrer share accrues to the house. Each fee floors; the rounding
// remainder stays in Net so the four parts always sum to gross.
func (f FeeSchedule) Split(gross ledger.Amount, hasReferrer bool) (FeeSplit, error) {
	s := FeeSplit{
		House:    gross.Bps(f.HouseBps),
		Creator:  gross.Bps(f.CreatorBps),
		Referrer: gross.Bps(f.ReferrerBps),
	}
	if !hasReferrer {
		house, err := s.House.Add(s.Referrer)
		if err != nil {
			return FeeSplit{}, err
		}
		s.House, s.Referrer = house, ledger.Amount{}
	}
	fees, err := s.Fees()
	if err != nil {
		return FeeSplit{}, err
	}
	if s.Net, err = gross.Sub(fees); err != nil {
		return FeeSplit{}, fmt.Errorf("fee split: %w", err)
	}
	return s, nil
}

// ReporterReward is the resolution-time reward on the net pool.
func (f FeeSchedule) ReporterReward(pool ledger.Amount) ledger.Amount {
	return pool.Bps(f.ReporterBps)
}
