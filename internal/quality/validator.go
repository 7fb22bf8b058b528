// Package quality validates series data against per-kind rule tables and
// optionally repairs minor defects before the series reaches storage or
// the backtest engine.
package quality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/duskrow/perpbacktest/internal/series"
)

// Severity classifies a finding. Only Critical fails a Report.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// Finding is one rule violation or observation.
type Finding struct {
	Severity      Severity
	RuleID        string
	Message       string
	AffectedRange *TimeRange
}

// TimeRange marks the span of data a Finding concerns, when bounded.
type TimeRange struct {
	Start, End time.Time
}

// Report aggregates all findings for one series validation pass.
type Report struct {
	Findings []Finding
	Passed   bool // true iff no Critical finding is present
}

func (r *Report) add(sev Severity, ruleID, msg string, rng *TimeRange) {
	r.Findings = append(r.Findings, Finding{Severity: sev, RuleID: ruleID, Message: msg, AffectedRange: rng})
	if sev == Critical {
		r.Passed = false
	}
}

// Validate runs the rule table appropriate to ser.Kind and returns a Report.
// Report.Passed starts true and only flips to false on a Critical finding.
func Validate(ser series.Series, tf series.Timeframe) *Report {
	r := &Report{Passed: true}
	switch ser.Kind {
	case series.KindOHLCV:
		validateOHLCV(ser, tf, r)
	case series.KindFundingRate:
		validateFunding(ser, r)
	case series.KindOpenInterest:
		validateOpenInterest(ser, r)
	case series.KindBasis:
		validateBasis(ser, r)
	case series.KindLiquidations:
		validateLiquidations(ser, r)
	case series.KindLongShortRatio:
		validateLongShort(ser, r)
	default:
		r.add(Critical, "unknown_kind", fmt.Sprintf("unrecognized series kind %q", ser.Kind), nil)
	}
	return r
}

func validateOHLCV(ser series.Series, tf series.Timeframe, r *Report) {
	if len(ser.Bars) == 0 {
		r.add(Critical, "ohlcv.empty", "no bars present", nil)
		return
	}

	seen := make(map[int64]bool, len(ser.Bars))
	closes := make([]float64, 0, len(ser.Bars))

	for _, b := range ser.Bars {
		if b.Low < 0 || b.Open < 0 || b.High < 0 || b.Close < 0 {
			r.add(Critical, "ohlcv.negative_price", fmt.Sprintf("negative price at %s", b.Time), &TimeRange{b.Time, b.Time})
			continue
		}
		lo := math.Min(b.Open, b.Close)
		hi := math.Max(b.Open, b.Close)
		if !(b.Low <= lo && hi <= b.High) {
			r.add(Critical, "ohlcv.ohlc_invariant", fmt.Sprintf("OHLC invariant violated at %s", b.Time), &TimeRange{b.Time, b.Time})
			continue
		}
		key := b.Time.UTC().Unix()
		if seen[key] {
			r.add(Critical, "ohlcv.duplicate_timestamp", fmt.Sprintf("duplicate timestamp %s", b.Time), &TimeRange{b.Time, b.Time})
			continue
		}
		seen[key] = true
		closes = append(closes, b.Close)

		if b.Volume == 0 {
			r.add(Info, "ohlcv.zero_volume", fmt.Sprintf("zero-volume bar at %s", b.Time), &TimeRange{b.Time, b.Time})
		}
	}

	if outliers := iqrOutliers(closes); len(outliers) > 0 {
		r.add(Warning, "ohlcv.price_outlier", fmt.Sprintf("%d close(s) outside IQR bounds", len(outliers)), nil)
	}

	if interval, err := tf.Duration(); err == nil {
		checkGaps(ser.Bars, interval, r)
	}
}

// iqrOutliers returns the indices of values outside [Q1-1.5*IQR, Q3+1.5*IQR].
func iqrOutliers(values []float64) []int {
	if len(values) < 4 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	var outliers []int
	for i, v := range values {
		if v < lo || v > hi {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func checkGaps(bars []series.Bar, interval time.Duration, r *Report) {
	sorted := append([]series.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Time.Sub(sorted[i-1].Time)
		if gap > interval+interval/2 { // tolerate rounding, flag anything beyond 1.5x the nominal cadence
			r.add(Warning, "ohlcv.gap", fmt.Sprintf("gap of %s between %s and %s", gap, sorted[i-1].Time, sorted[i].Time),
				&TimeRange{sorted[i-1].Time, sorted[i].Time})
		}
	}
}

func validateFunding(ser series.Series, r *Report) {
	if len(ser.Funding) == 0 {
		r.add(Critical, "funding.empty", "no funding points present", nil)
		return
	}
	sorted := append([]series.FundingPoint(nil), ser.Funding...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	for i, p := range sorted {
		if math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0) {
			r.add(Critical, "funding.non_finite", fmt.Sprintf("non-finite funding rate at %s", p.Time), &TimeRange{p.Time, p.Time})
			continue
		}
		if math.Abs(p.Rate) > 0.01 {
			r.add(Warning, "funding.implausible", fmt.Sprintf("|rate|=%.5f exceeds 1%% at %s", p.Rate, p.Time), &TimeRange{p.Time, p.Time})
		}
		if i > 0 {
			gap := p.Time.Sub(sorted[i-1].Time)
			if gap > 8*time.Hour+time.Hour {
				r.add(Warning, "funding.gap", fmt.Sprintf("gap of %s before %s", gap, p.Time), &TimeRange{sorted[i-1].Time, p.Time})
			}
		}
	}
}

func validateOpenInterest(ser series.Series, r *Report) {
	if len(ser.OpenInterest) == 0 {
		r.add(Critical, "open_interest.empty", "no open-interest points present", nil)
		return
	}
	values := make([]float64, len(ser.OpenInterest))
	for i, p := range ser.OpenInterest {
		if p.Value < 0 {
			r.add(Critical, "open_interest.negative", fmt.Sprintf("negative open interest at %s", p.Time), &TimeRange{p.Time, p.Time})
		}
		values[i] = p.Value
	}
	mean, std := meanStd(values)
	if std > 0 {
		for _, p := range ser.OpenInterest {
			z := (p.Value - mean) / std
			if math.Abs(z) > 3 {
				r.add(Warning, "open_interest.zscore_outlier", fmt.Sprintf("z=%.2f at %s", z, p.Time), &TimeRange{p.Time, p.Time})
			}
		}
	}
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(values)))
	return mean, std
}

func validateBasis(ser series.Series, r *Report) {
	if len(ser.Basis) == 0 {
		r.add(Critical, "basis.empty", "no basis points present", nil)
		return
	}
	for _, p := range ser.Basis {
		if p.Perp == 0 && p.Spot == 0 {
			r.add(Critical, "basis.missing_sides", fmt.Sprintf("both perp and spot are zero at %s", p.Time), &TimeRange{p.Time, p.Time})
			continue
		}
		if p.Spot == 0 {
			r.add(Warning, "basis.division_by_zero_guard", fmt.Sprintf("spot is zero at %s, pct basis undefined", p.Time), &TimeRange{p.Time, p.Time})
		}
	}
}

func validateLiquidations(ser series.Series, r *Report) {
	// Sparse coverage is normal for liquidations; an empty series is not an error.
	for _, p := range ser.Liquidations {
		if p.BuyVol < 0 || p.SellVol < 0 {
			r.add(Critical, "liquidations.negative", fmt.Sprintf("negative liquidation volume at %s", p.Time), &TimeRange{p.Time, p.Time})
		}
	}
}

func validateLongShort(ser series.Series, r *Report) {
	if len(ser.LongShort) == 0 {
		r.add(Critical, "long_short.empty", "no long/short points present", nil)
		return
	}
	for _, p := range ser.LongShort {
		total := p.LongCount + p.ShortCount
		if total <= 0 {
			r.add(Critical, "long_short.non_positive_sum", fmt.Sprintf("long+short <= 0 at %s", p.Time), &TimeRange{p.Time, p.Time})
			continue
		}
		longRatio := p.LongCount / total
		shortRatio := p.ShortCount / total
		if longRatio < 0 || longRatio > 1 || shortRatio < 0 || shortRatio > 1 {
			r.add(Critical, "long_short.out_of_bounds", fmt.Sprintf("ratio outside [0,1] at %s", p.Time), &TimeRange{p.Time, p.Time})
		}
	}
}

// Clean repairs a series in place where the spec permits auto-fix:
// deduplicate timestamps (keep first), drop OHLC-invariant violations,
// clip IQR outliers to their nearest bound, forward-fill single-bar
// gaps. It never fabricates data across gaps wider than one bar.
func Clean(ser series.Series, tf series.Timeframe) series.Series {
	if ser.Kind != series.KindOHLCV {
		return ser
	}

	sorted := append([]series.Bar(nil), ser.Bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var deduped []series.Bar
	seen := make(map[int64]bool, len(sorted))
	for _, b := range sorted {
		key := b.Time.UTC().Unix()
		if seen[key] {
			continue
		}
		seen[key] = true
		if b.Validate() != nil {
			continue
		}
		deduped = append(deduped, b)
	}

	closes := make([]float64, len(deduped))
	for i, b := range deduped {
		closes[i] = b.Close
	}
	if len(closes) >= 4 {
		sortedCloses := append([]float64(nil), closes...)
		sort.Float64s(sortedCloses)
		q1 := percentile(sortedCloses, 0.25)
		q3 := percentile(sortedCloses, 0.75)
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr
		for i := range deduped {
			if deduped[i].Close < lo {
				deduped[i].Close = lo
			} else if deduped[i].Close > hi {
				deduped[i].Close = hi
			}
		}
	}

	interval, err := tf.Duration()
	if err == nil && interval > 0 {
		deduped = forwardFillSingleGaps(deduped, interval)
	}

	out := ser
	out.Bars = deduped
	return out
}

func forwardFillSingleGaps(bars []series.Bar, interval time.Duration) []series.Bar {
	if len(bars) < 2 {
		return bars
	}
	filled := make([]series.Bar, 0, len(bars))
	filled = append(filled, bars[0])
	for i := 1; i < len(bars); i++ {
		prev := filled[len(filled)-1]
		gap := bars[i].Time.Sub(prev.Time)
		// Exactly one missing bar: synthesize a flat bar at prev's close.
		if gap > interval+interval/2 && gap <= 2*interval+interval/2 {
			synthetic := series.Bar{
				Time: prev.Time.Add(interval), Open: prev.Close, High: prev.Close,
				Low: prev.Close, Close: prev.Close, Volume: 0,
			}
			filled = append(filled, synthetic)
		}
		filled = append(filled, bars[i])
	}
	return filled
}
