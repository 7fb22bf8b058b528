package execution

import (
	"testing"
	"time"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeConfig_RateChoosesHighestTierAtOrBelowVIP(t *testing.T) {
	cfg := FeeConfig{Tiers: []FeeTier{
		{VIPLevel: 0, MakerBps: 2, TakerBps: 5},
		{VIPLevel: 1, MakerBps: 1, TakerBps: 4},
		{VIPLevel: 2, MakerBps: 0.5, TakerBps: 3},
	}}
	assert.InDelta(t, 0.0004, cfg.Rate(Market, 1), 1e-9)
	assert.InDelta(t, 0.0001, cfg.Rate(Limit, 1), 1e-9)
	assert.InDelta(t, 0.0005, cfg.Rate(Market, 0), 1e-9)
	assert.InDelta(t, 0.0003, cfg.Rate(Market, 99), 1e-9) // caps at highest defined tier
}

func TestFeeConfig_RateIsZeroWithNoTiers(t *testing.T) {
	cfg := FeeConfig{}
	assert.Equal(t, 0.0, cfg.Rate(Market, 5))
}

func TestSlippageConfig_LimitOrdersNeverSlip(t *testing.T) {
	cfg := SlippageConfig{Model: FixedSlippage, FixedBps: 10}
	assert.Equal(t, 0.0, cfg.Slippage(Limit, 10000, 100000, 1.0))
}

func TestSlippageConfig_FixedModelIgnoresVolumeAndVolatility(t *testing.T) {
	cfg := SlippageConfig{Model: FixedSlippage, FixedBps: 7}
	assert.Equal(t, 7.0, cfg.Slippage(Market, 10000, 100, 5.0))
}

func TestSlippageConfig_AdaptiveGrowsWithParticipation(t *testing.T) {
	cfg := SlippageConfig{Model: AdaptiveSlippage, FixedBps: 5}
	low := cfg.Slippage(Market, 1000, 100000, 0)
	high := cfg.Slippage(Market, 50000, 100000, 0)
	assert.Greater(t, high, low)
}

func TestSlippageConfig_VolumeWeightedPicksHighestQualifyingTier(t *testing.T) {
	cfg := SlippageConfig{Model: VolumeWeightedSlippage, VolumeTiers: []VolumeTier{
		{MinNotional: 0, Bps: 2},
		{MinNotional: 10000, Bps: 5},
		{MinNotional: 100000, Bps: 10},
	}}
	assert.Equal(t, 2.0, cfg.Slippage(Market, 5000, 0, 0))
	assert.Equal(t, 5.0, cfg.Slippage(Market, 50000, 0, 0))
	assert.Equal(t, 10.0, cfg.Slippage(Market, 200000, 0, 0))
}

func TestSlippageConfig_VolatilityAdjustedScalesByRatio(t *testing.T) {
	cfg := SlippageConfig{Model: VolatilityAdjustedSlippage, FixedBps: 4, BaselineVolatility: 0.02}
	assert.InDelta(t, 8.0, cfg.Slippage(Market, 0, 0, 0.04), 1e-9)
	assert.InDelta(t, 2.0, cfg.Slippage(Market, 0, 0, 0.01), 1e-9)
}

func TestEngine_DisabledExecuteBehavesLikePlainBroker(t *testing.T) {
	b := broker.New(10000, 0.001, 1, 0.005)
	e := New(DefaultConfig())

	res, err := e.Execute(b, broker.Long, Market, 1, 100, 1000, 0, time.Now(), "entry")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.FillPrice)
	assert.Equal(t, 0.001, res.FeeRateApplied)
	assert.Equal(t, 0.001, b.FeeRate, "broker's own fee rate must be untouched after a disabled Execute")
}

func TestEngine_EnabledExecuteAppliesSlippageAndTierFee(t *testing.T) {
	b := broker.New(10000, 0.001, 1, 0.005)
	cfg := Config{
		Enabled: true,
		Fees:    FeeConfig{Tiers: []FeeTier{{VIPLevel: 0, MakerBps: 1, TakerBps: 5}}},
		Slippage: SlippageConfig{Model: FixedSlippage, FixedBps: 10},
	}
	e := New(cfg)

	res, err := e.Execute(b, broker.Long, Market, 1, 100, 1000, 0, time.Now(), "entry")
	require.NoError(t, err)
	assert.InDelta(t, 100.1, res.FillPrice, 1e-9) // +10bps on a buy
	assert.InDelta(t, 0.0005, res.FeeRateApplied, 1e-9)
	assert.Equal(t, 0.001, b.FeeRate, "broker's fee rate must be restored after Execute")
}

func TestEngine_AccrueFundingChargesLongsOnPositiveRate(t *testing.T) {
	b := broker.New(10000, 0, 1, 0.005)
	require.NoError(t, b.Buy(1, 100, time.Now(), "entry"))

	cfg := Config{Enabled: true, FundingEnabled: true}
	e := New(cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []series.FundingPoint{{Time: start, Rate: 0.0001}}
	cashBefore := b.Cash

	require.NoError(t, e.AccrueFunding(b, points, start))
	assert.Less(t, b.Cash, cashBefore, "a long pays funding on a positive rate")
}

func TestEngine_AccrueFundingSkipsWithinTheSameInterval(t *testing.T) {
	b := broker.New(10000, 0, 1, 0.005)
	require.NoError(t, b.Buy(1, 100, time.Now(), "entry"))

	cfg := Config{Enabled: true, FundingEnabled: true}
	e := New(cfg)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []series.FundingPoint{{Time: start, Rate: 0.0001}}
	require.NoError(t, e.AccrueFunding(b, points, start))
	cashAfterFirst := b.Cash

	require.NoError(t, e.AccrueFunding(b, points, start.Add(1*time.Hour)))
	assert.Equal(t, cashAfterFirst, b.Cash)
}

func TestEngine_AccrueFundingNoopWhenDisabled(t *testing.T) {
	b := broker.New(10000, 0, 1, 0.005)
	require.NoError(t, b.Buy(1, 100, time.Now(), "entry"))

	e := New(DefaultConfig())
	cashBefore := b.Cash
	require.NoError(t, e.AccrueFunding(b, []series.FundingPoint{{Time: time.Now(), Rate: 0.01}}, time.Now()))
	assert.Equal(t, cashBefore, b.Cash)
}

func TestRefreshLiquidationPrice_MatchesBrokerComputation(t *testing.T) {
	b := broker.New(10000, 0, 2, 0.005)
	require.NoError(t, b.Buy(1, 100, time.Now(), "entry"))

	want, ok := b.LiquidationPrice()
	require.True(t, ok)

	got, ok := RefreshLiquidationPrice(b)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
