package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

func TestFeeSchedule_Split(t *testing.T) {
	fees := DefaultFees()

	tests := []struct {
		name        string
		gross       ledger.Amount
		hasReferrer bool
		want        FeeSplit
	}{
		{
			name:        "with referrer",
			gross:       ledger.USDC(100),
			hasReferrer: true,
			want:        FeeSplit{Net: ledger.USDC(80), House: ledger.USDC(10), Creator: ledger.USDC(5), Referrer: ledger.USDC(5)},
		},
		{
			name:  "referrer share goes to house",
			gross: ledger.USDC(100),
			want:  FeeSplit{Net: ledger.USDC(80), House: ledger.USDC(15), Creator: ledger.USDC(5)},
		},
		{
			name:  "rounding stays in net",
			gross: ledger.New(19),
			want:  FeeSplit{Net: ledger.New(18), House: ledger.New(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fees.Split(tt.gross, tt.hasReferrer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			total, err := ledger.Sum(got.Net, got.House, got.Creator, got.Referrer)
			require.NoError(t, err)
			assert.True(t, total.Eq(tt.gross), "split must sum to gross")
		})
	}
}

func TestFeeSchedule_ReporterRewardOnNetPool(t *testing.T) {
	fees := DefaultFees()
	// 100 gross became 80 net at entry; the reward is 1% of the net pool,
	// not of the original 100.
	assert.Equal(t, ledger.New(800_000), fees.ReporterReward(ledger.USDC(80)))
}

func TestFeeSchedule_Validate(t *testing.T) {
	require.NoError(t, DefaultFees().Validate())
	require.Error(t, FeeSchedule{HouseBps: 6000, CreatorBps: 4000}.Validate())
}
