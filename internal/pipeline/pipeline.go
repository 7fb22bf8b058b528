// Package pipeline is the single entry point strategies and the backtest
// engine use to obtain series data: it probes storage first, falls back
// to the exchange connectors on a miss, runs quality control, and can
// combine the same series across multiple exchanges.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskrow/perpbacktest/internal/exchange"
	"github.com/duskrow/perpbacktest/internal/quality"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/storage"
)

// DataQualityError is raised when a required series fails quality
// control with a critical finding.
type DataQualityError struct {
	Symbol string
	Kind   series.Kind
	Report *quality.Report
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("pipeline: %s %s failed quality control (%d findings)", e.Symbol, e.Kind, len(e.Report.Findings))
}

// AggregateMethod selects how per-exchange series are combined in Aggregate.
type AggregateMethod string

const (
	WeightedMean AggregateMethod = "weighted_mean"
	Median       AggregateMethod = "median"
	Sum          AggregateMethod = "sum"
)

// DefaultMaxWorkers bounds Aggregate's per-exchange fan-out, per §4.6.
const DefaultMaxWorkers = 3

// Pipeline wires one Store (C4) and a connector per exchange (C2).
type Pipeline struct {
	store      *storage.Store
	connectors map[string]exchange.Connector
	maxWorkers int
	log        zerolog.Logger
}

// New builds a Pipeline. connectors is keyed by exchange name, matching
// each Connector's Name().
func New(store *storage.Store, connectors map[string]exchange.Connector, log zerolog.Logger) *Pipeline {
	return &Pipeline{store: store, connectors: connectors, maxWorkers: DefaultMaxWorkers, log: log}
}

// Load satisfies a strategy's declared DataRequirements for one symbol
// over [start,end] on one exchange: storage first, connector on miss,
// quality control in between, written back to storage before returning.
func (p *Pipeline) Load(ctx context.Context, exchangeName, symbol string, reqs []series.DataRequirement, tf series.Timeframe, start, end time.Time) (map[series.Kind]series.Series, error) {
	out := make(map[series.Kind]series.Series, len(reqs))

	for _, req := range reqs {
		reqTF := tf
		if req.Timeframe != "" {
			reqTF = req.Timeframe
		}
		q := series.Query{Exchange: exchangeName, Symbol: symbol, Kind: req.SourceKind, Timeframe: reqTF, Start: start, End: end}

		ser, err := p.fetch(ctx, exchangeName, q, reqTF)
		if err != nil {
			if !req.Required && isOmittable(err) {
				p.log.Debug().Str("symbol", symbol).Str("kind", string(req.SourceKind)).Msg("optional requirement omitted")
				continue
			}
			return nil, err
		}
		out[req.SourceKind] = ser
	}

	return out, nil
}

func isOmittable(err error) bool {
	switch err.(type) {
	case *exchange.SymbolNotFoundError, *exchange.NotSupportedError:
		return true
	default:
		return false
	}
}

func (p *Pipeline) fetch(ctx context.Context, exchangeName string, q series.Query, tf series.Timeframe) (series.Series, error) {
	if p.store.Has(q) {
		ser, err := p.store.Read(q)
		if err == nil {
			return ser, nil
		}
		p.log.Warn().Err(err).Str("fingerprint", q.Fingerprint()).Msg("storage hit failed to read, falling through to connector")
	}

	conn, ok := p.connectors[exchangeName]
	if !ok {
		return series.Series{}, fmt.Errorf("pipeline: no connector registered for exchange %q", exchangeName)
	}

	ser, err := p.fetchFromConnector(ctx, conn, q, tf)
	if err != nil {
		return series.Series{}, err
	}

	report := quality.Validate(ser, tf)
	for _, f := range report.Findings {
		if f.Severity == quality.Warning {
			p.log.Warn().Str("rule", f.RuleID).Str("symbol", q.Symbol).Msg(f.Message)
		}
	}
	if !report.Passed {
		return series.Series{}, &DataQualityError{Symbol: q.Symbol, Kind: q.Kind, Report: report}
	}

	if err := p.store.Write(q, ser); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist fetched series to storage")
	}

	return ser, nil
}

func (p *Pipeline) fetchFromConnector(ctx context.Context, conn exchange.Connector, q series.Query, tf series.Timeframe) (series.Series, error) {
	switch q.Kind {
	case series.KindOHLCV:
		return conn.GetOHLCV(ctx, q.Symbol, tf, q.Start, q.End)
	case series.KindFundingRate:
		return conn.GetFundingRate(ctx, q.Symbol, q.Start, q.End)
	case series.KindOpenInterest:
		return conn.GetOpenInterest(ctx, q.Symbol, q.Start, q.End)
	case series.KindLongShortRatio:
		return conn.GetLongShortRatio(ctx, q.Symbol, q.Start, q.End)
	case series.KindLiquidations:
		return conn.GetLiquidations(ctx, q.Symbol, q.Start, q.End)
	default:
		return series.Series{}, fmt.Errorf("pipeline: %s cannot be fetched from a connector directly", q.Kind)
	}
}

// point is a (time, value, weight) triple extracted from a typed series,
// generic enough to combine across the different Kinds.
type point struct {
	Time   time.Time
	Value  float64
	Weight float64
}

// Aggregate fetches one series kind from several exchanges in parallel
// (bounded by maxWorkers), aligns on the union of timestamps (outer
// join; missing exchange at a timestamp = gap), flags per-timestamp
// cross-exchange outliers via Z-score (included, not dropped), and
// combines per method.
func (p *Pipeline) Aggregate(ctx context.Context, kind series.Kind, symbol string, exchanges []string, method AggregateMethod, tf series.Timeframe, start, end time.Time) (series.Series, error) {
	type fetched struct {
		exchange string
		points   []point
		err      error
	}

	sem := make(chan struct{}, p.maxWorkers)
	results := make(chan fetched, len(exchanges))

	for _, ex := range exchanges {
		ex := ex
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			q := series.Query{Exchange: ex, Symbol: symbol, Kind: kind, Timeframe: tf, Start: start, End: end}
			ser, err := p.fetch(ctx, ex, q, tf)
			if err != nil {
				results <- fetched{exchange: ex, err: err}
				return
			}
			results <- fetched{exchange: ex, points: toPoints(ser)}
		}()
	}

	byTime := make(map[int64][]point)
	var failures []string
	for range exchanges {
		r := <-results
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.exchange, r.err))
			continue
		}
		for _, pt := range r.points {
			key := pt.Time.UTC().Unix()
			byTime[key] = append(byTime[key], pt)
		}
	}
	if len(byTime) == 0 {
		return series.Series{}, fmt.Errorf("pipeline: aggregate %s/%s produced no data across %v (failures: %v)", symbol, kind, exchanges, failures)
	}

	timestamps := make([]int64, 0, len(byTime))
	for ts := range byTime {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := series.Series{Symbol: symbol, Exchange: "aggregate", Kind: kind, Timeframe: tf, Start: start, End: end}
	for _, ts := range timestamps {
		pts := byTime[ts]
		flagOutliers(pts, p.log)
		combined := combine(pts, method)
		appendPoint(&out, time.Unix(ts, 0).UTC(), combined)
	}
	return out, nil
}

func toPoints(ser series.Series) []point {
	var pts []point
	switch ser.Kind {
	case series.KindOHLCV:
		for _, b := range ser.Bars {
			pts = append(pts, point{Time: b.Time, Value: b.Close, Weight: b.Volume})
		}
	case series.KindFundingRate:
		for _, f := range ser.Funding {
			pts = append(pts, point{Time: f.Time, Value: f.Rate, Weight: 1})
		}
	case series.KindOpenInterest:
		for _, o := range ser.OpenInterest {
			pts = append(pts, point{Time: o.Time, Value: o.Value, Weight: 1})
		}
	case series.KindBasis:
		for _, b := range ser.Basis {
			pts = append(pts, point{Time: b.Time, Value: b.Basis, Weight: 1})
		}
	case series.KindLiquidations:
		for _, l := range ser.Liquidations {
			pts = append(pts, point{Time: l.Time, Value: l.BuyVol + l.SellVol, Weight: 1})
		}
	case series.KindLongShortRatio:
		for _, l := range ser.LongShort {
			total := l.LongCount + l.ShortCount
			if total > 0 {
				pts = append(pts, point{Time: l.Time, Value: l.LongCount / total, Weight: 1})
			}
		}
	}
	return pts
}

func appendPoint(out *series.Series, t time.Time, v float64) {
	switch out.Kind {
	case series.KindOHLCV:
		out.Bars = append(out.Bars, series.Bar{Time: t, Open: v, High: v, Low: v, Close: v, Volume: 0})
	case series.KindFundingRate:
		out.Funding = append(out.Funding, series.FundingPoint{Time: t, Rate: v})
	case series.KindOpenInterest:
		out.OpenInterest = append(out.OpenInterest, series.OpenInterestPoint{Time: t, Value: v})
	case series.KindBasis:
		out.Basis = append(out.Basis, series.BasisPoint{Time: t, Basis: v})
	case series.KindLiquidations:
		out.Liquidations = append(out.Liquidations, series.LiquidationPoint{Time: t, BuyVol: v})
	case series.KindLongShortRatio:
		out.LongShort = append(out.LongShort, series.LongShortPoint{Time: t, LongCount: v, ShortCount: 1 - v})
	}
}

func combine(pts []point, method AggregateMethod) float64 {
	switch method {
	case Sum:
		var total float64
		for _, p := range pts {
			total += p.Value
		}
		return total
	case Median:
		values := make([]float64, len(pts))
		for i, p := range pts {
			values[i] = p.Value
		}
		sort.Float64s(values)
		mid := len(values) / 2
		if len(values)%2 == 0 {
			return (values[mid-1] + values[mid]) / 2
		}
		return values[mid]
	case WeightedMean:
		fallthrough
	default:
		var weightedSum, weightTotal float64
		hasWeight := false
		for _, p := range pts {
			if p.Weight > 0 {
				hasWeight = true
			}
		}
		for _, p := range pts {
			w := p.Weight
			if !hasWeight {
				w = 1
			}
			weightedSum += p.Value * w
			weightTotal += w
		}
		if weightTotal == 0 {
			return 0
		}
		return weightedSum / weightTotal
	}
}

// flagOutliers logs (but never drops) any point whose cross-exchange
// Z-score at this timestamp exceeds 3 in absolute value.
func flagOutliers(pts []point, log zerolog.Logger) {
	if len(pts) < 2 {
		return
	}
	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.Value
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)))
	if std == 0 {
		return
	}
	for _, v := range values {
		z := (v - mean) / std
		if math.Abs(z) > 3 {
			log.Warn().Float64("z_score", z).Float64("value", v).Msg("cross-exchange outlier at aggregation timestamp")
		}
	}
}
