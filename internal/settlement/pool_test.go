package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

func TestWeight_ContrarianBonusDecaysLinearly(t *testing.T) {
	m := &domain.Market{
		CreatedAt:   t0,
		BonusWindow: 10 * time.Hour,
		SeedYes:     ledger.USDC(5),
		SeedNo:      ledger.USDC(5),
		TotalYes:    ledger.USDC(8),
	}

	assert.Equal(t, uint64(15000), Weight(m, domain.SideNo, t0, 5000))
	assert.Equal(t, uint64(12500), Weight(m, domain.SideNo, t0.Add(5*time.Hour), 5000))
	assert.Equal(t, uint64(10000), Weight(m, domain.SideNo, t0.Add(10*time.Hour), 5000))
	assert.Equal(t, uint64(10000), Weight(m, domain.SideYes, t0, 5000), "majority side never earns a bonus")
}

func TestWeight_TiedPoolsEarnNoBonus(t *testing.T) {
	m := &domain.Market{CreatedAt: t0, BonusWindow: time.Hour, SeedYes: ledger.USDC(5), SeedNo: ledger.USDC(5)}
	assert.Equal(t, WeightScale, Weight(m, domain.SideYes, t0, 5000))
	assert.Equal(t, WeightScale, Weight(m, domain.SideNo, t0, 5000))
}

func TestSharesFor(t *testing.T) {
	shares, err := SharesFor(ledger.USDC(80), 12500)
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(100), shares)
}

func TestMinBond_Floor(t *testing.T) {
	p := DefaultParams()
	// Below 1000 USDC the 1% rate is under the 10 USDC floor.
	for _, pool := range []ledger.Amount{{}, ledger.New(1), ledger.USDC(50), ledger.USDC(999), ledger.USDC(1000)} {
		assert.Equal(t, p.BondFloor, p.MinBond(pool), "pool %s", pool)
	}
	assert.Equal(t, ledger.USDC(25), p.MinBond(ledger.USDC(2500)))
}

func TestSettle_PayoutModeCountsSeedAsDeadShares(t *testing.T) {
	m := &domain.Market{
		SeedYes:   ledger.USDC(5),
		SeedNo:    ledger.USDC(5),
		TotalYes:  ledger.USDC(80),
		SharesYes: ledger.USDC(80),
		TotalNo:   ledger.USDC(80),
		SharesNo:  ledger.USDC(80),
	}
	s, err := Settle(m, domain.OutcomeYes, false, alice, DefaultFees())
	require.NoError(t, err)

	assert.Equal(t, domain.ModePayout, s.Mode)
	assert.Equal(t, ledger.USDC(170), s.Pool)
	assert.Equal(t, ledger.New(1_700_000), s.ReporterReward)
	assert.Equal(t, ledger.New(168_300_000), s.Distributable)
	assert.Equal(t, ledger.USDC(85), s.Denominator)

	sum, err := s.Reserved.Add(s.DeadShare)
	require.NoError(t, err)
	assert.Equal(t, s.Distributable, sum)
	assert.Equal(t, ledger.New(158_400_000), s.Reserved)
}

func TestSettle_DrawPaysReporterFromSeed(t *testing.T) {
	m := &domain.Market{
		SeedYes:  ledger.USDC(5),
		SeedNo:   ledger.USDC(5),
		TotalYes: ledger.USDC(800),
		TotalNo:  ledger.USDC(800),
	}
	s, err := Settle(m, domain.OutcomeDraw, false, alice, DefaultFees())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeRefund, s.Mode)
	assert.Equal(t, ledger.USDC(1600), s.Reserved)
	// 1% of 1610 exceeds the 10 seed, so the reward is capped at the seed.
	assert.Equal(t, ledger.USDC(10), s.ReporterReward)
	assert.True(t, s.SeedReturned.IsZero())

	v, err := Settle(m, "", true, domain.ZeroAddress, DefaultFees())
	require.NoError(t, err)
	assert.True(t, v.ReporterReward.IsZero(), "void pays no reporter reward")
	assert.Equal(t, ledger.USDC(10), v.SeedReturned)
}

func TestPayoutFor(t *testing.T) {
	s := domain.Settlement{
		Mode:          domain.ModePayout,
		WinningSide:   domain.SideYes,
		Distributable: ledger.USDC(100),
		Denominator:   ledger.USDC(40),
	}
	amt, ok, err := PayoutFor(s, &domain.Position{Side: domain.SideYes, Shares: ledger.USDC(10)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.USDC(25), amt)

	_, ok, err = PayoutFor(s, &domain.Position{Side: domain.SideNo, Shares: ledger.USDC(10)})
	require.NoError(t, err)
	assert.False(t, ok)

	refund := domain.Settlement{Mode: domain.ModeRefund}
	amt, ok, err = PayoutFor(refund, &domain.Position{Side: domain.SideNo, Stake: ledger.USDC(7)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.USDC(7), amt)
}
