// Package settlement is the market settlement and optimistic-dispute engine.
// It owns every market, position and credit balance, and is the only place
// where money is computed: the fee splitter and the pool accountant in this
// package are the sole sources of monetary splits.
//
// The Engine is synchronous and not safe for concurrent use; callers
// serialize access through the sequencer.
package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Params are the economic parameters of the engine.
type Params struct {
	Fees FeeSchedule

	// BondFloor is the absolute minimum proposal bond; BondBps scales the
	// minimum with the pool.
	BondFloor ledger.Amount
	BondBps   uint64

	ChallengeWindow time.Duration

	// MaxBonusBps is the contrarian weight bonus at market creation. It decays
	// linearly to zero over the market's bonus window.
	MaxBonusBps uint64

	MinSeed         ledger.Amount
	MaxBatchSize    int
	MaxQuestionSize int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Fees:            DefaultFees(),
		BondFloor:       ledger.USDC(10),
		BondBps:         100,
		ChallengeWindow: 24 * time.Hour,
		MaxBonusBps:     5000,
		MinSeed:         ledger.USDC(2),
		MaxBatchSize:    200,
		MaxQuestionSize: 512,
	}
}

// Validate checks the parameters for consistency.
func (p Params) Validate() error {
	var errs []string
	if err := p.Fees.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if p.BondFloor.IsZero() {
		errs = append(errs, "bond floor must be positive")
	}
	if p.BondBps > ledger.BpsDenominator {
		errs = append(errs, "bond bps must be <= 10000")
	}
	if p.ChallengeWindow <= 0 {
		errs = append(errs, "challenge window must be positive")
	}
	if p.MaxBonusBps > ledger.BpsDenominator {
		errs = append(errs, "max bonus bps must be <= 10000")
	}
	if p.MinSeed.IsZero() || !p.MinSeed.IsEven() {
		errs = append(errs, "min seed must be positive and even")
	}
	if p.MaxBatchSize <= 0 {
		errs = append(errs, "max batch size must be positive")
	}
	if p.MaxQuestionSize <= 0 {
		errs = append(errs, "max question size must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("settlement params: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ErrInsolvent is returned by CheckSolvency when an accounting identity fails.
var ErrInsolvent = errors.New("ledger insolvent")
