package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/series"
)

func bar(t time.Time, o, h, l, c, v float64) series.Bar {
	return series.Bar{Time: t, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestValidate_OHLCV_Clean(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start.Add(time.Hour), 105, 112, 100, 108, 12),
	}}
	r := Validate(ser, series.TF1h)
	assert.True(t, r.Passed)
}

func TestValidate_OHLCV_DuplicateTimestampIsCritical(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start, 100, 110, 95, 105, 10),
	}}
	r := Validate(ser, series.TF1h)
	assert.False(t, r.Passed)
	assertHasRule(t, r, "ohlcv.duplicate_timestamp")
}

func TestValidate_OHLCV_InvariantViolationIsCritical(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 90, 95, 105, 10), // high < open
	}}
	r := Validate(ser, series.TF1h)
	assert.False(t, r.Passed)
	assertHasRule(t, r, "ohlcv.ohlc_invariant")
}

func TestValidate_OHLCV_ZeroVolumeIsInfoOnly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 0),
	}}
	r := Validate(ser, series.TF1h)
	assert.True(t, r.Passed, "zero volume is info-level, must not fail the report")
	assertHasRule(t, r, "ohlcv.zero_volume")
}

func TestValidate_OHLCV_GapDetection(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start.Add(3*time.Hour), 105, 112, 100, 108, 12),
	}}
	r := Validate(ser, series.TF1h)
	assert.True(t, r.Passed, "gaps are warnings, not critical")
	assertHasRule(t, r, "ohlcv.gap")
}

func TestValidate_Funding_ImplausibleRateIsWarning(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindFundingRate, Funding: []series.FundingPoint{
		{Time: start, Rate: 0.02},
	}}
	r := Validate(ser, series.TF1h)
	assert.True(t, r.Passed)
	assertHasRule(t, r, "funding.implausible")
}

func TestValidate_OpenInterest_NegativeIsCritical(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOpenInterest, OpenInterest: []series.OpenInterestPoint{
		{Time: start, Value: -5},
	}}
	r := Validate(ser, series.TF1h)
	assert.False(t, r.Passed)
}

func TestValidate_LongShort_OutOfBoundsIsCritical(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindLongShortRatio, LongShort: []series.LongShortPoint{
		{Time: start, LongCount: -1, ShortCount: 2},
	}}
	r := Validate(ser, series.TF1h)
	assert.False(t, r.Passed)
}

func TestValidate_Liquidations_EmptyIsNotAnError(t *testing.T) {
	ser := series.Series{Kind: series.KindLiquidations}
	r := Validate(ser, series.TF1h)
	assert.True(t, r.Passed)
}

func TestClean_DeduplicatesAndDropsInvariantViolations(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start, 100, 110, 95, 105, 10), // duplicate
		bar(start.Add(time.Hour), 100, 90, 95, 105, 10), // invalid, dropped
		bar(start.Add(2*time.Hour), 105, 112, 100, 108, 12),
	}}
	cleaned := Clean(ser, series.TF1h)
	// The dropped bar leaves a single-bar gap, which Clean forward-fills
	// with a flat bar at the prior close (105), not the invalid bar's high of 90.
	require.Len(t, cleaned.Bars, 3)
	assert.Equal(t, 105.0, cleaned.Bars[1].High)
}

func TestClean_ForwardFillsSingleBarGap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start.Add(2*time.Hour), 105, 112, 100, 108, 12), // one missing bar at +1h
	}}
	cleaned := Clean(ser, series.TF1h)
	require.Len(t, cleaned.Bars, 3)
	assert.Equal(t, 105.0, cleaned.Bars[1].Close, "synthesized bar should be flat at prior close")
}

func TestClean_DoesNotFillLargerGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ser := series.Series{Kind: series.KindOHLCV, Bars: []series.Bar{
		bar(start, 100, 110, 95, 105, 10),
		bar(start.Add(5*time.Hour), 105, 112, 100, 108, 12),
	}}
	cleaned := Clean(ser, series.TF1h)
	assert.Len(t, cleaned.Bars, 2, "gaps larger than one bar must never be fabricated")
}

func assertHasRule(t *testing.T, r *Report, ruleID string) {
	t.Helper()
	for _, f := range r.Findings {
		if f.RuleID == ruleID {
			return
		}
	}
	t.Fatalf("expected finding with rule %q, got %+v", ruleID, r.Findings)
}
