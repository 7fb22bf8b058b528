package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/exchange"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/storage"
)

// fakeConnector returns a fixed OHLCV series and reports unsupported for
// everything else, so tests can exercise required-vs-optional handling.
type fakeConnector struct {
	name string
	bars []series.Bar
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) GetOHLCV(ctx context.Context, symbol string, tf series.Timeframe, start, end time.Time) (series.Series, error) {
	return series.Series{Symbol: symbol, Exchange: f.name, Kind: series.KindOHLCV, Timeframe: tf, Bars: f.bars}, nil
}
func (f *fakeConnector) GetFundingRate(ctx context.Context, symbol string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: f.name, Capability: "funding"}
}
func (f *fakeConnector) GetOpenInterest(ctx context.Context, symbol string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: f.name, Capability: "open_interest"}
}
func (f *fakeConnector) GetLongShortRatio(ctx context.Context, symbol string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: f.name, Capability: "long_short_ratio"}
}
func (f *fakeConnector) GetLiquidations(ctx context.Context, symbol string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: f.name, Capability: "liquidations"}
}
func (f *fakeConnector) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if len(f.bars) == 0 {
		return 0, &exchange.SymbolNotFoundError{Exchange: f.name, Symbol: symbol}
	}
	return f.bars[len(f.bars)-1].Close, nil
}

var _ exchange.Connector = (*fakeConnector)(nil)

func testBars(start time.Time, closes ...float64) []series.Bar {
	var bars []series.Bar
	for i, c := range closes {
		t := start.Add(time.Duration(i) * time.Hour)
		bars = append(bars, series.Bar{Time: t, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10})
	}
	return bars
}

func TestLoad_FetchesAndCaches(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{name: "binance", bars: testBars(start, 100, 101, 102)}
	store, err := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	p := New(store, map[string]exchange.Connector{"binance": conn}, zerolog.Nop())

	reqs := []series.DataRequirement{{SourceKind: series.KindOHLCV, Required: true}}
	out, err := p.Load(context.Background(), "binance", "BTC/USDT", reqs, series.TF1h, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Contains(t, out, series.KindOHLCV)
	assert.Len(t, out[series.KindOHLCV].Bars, 3)

	q := series.Query{Exchange: "binance", Symbol: "BTC/USDT", Kind: series.KindOHLCV, Timeframe: series.TF1h, Start: start, End: start.Add(3 * time.Hour)}
	assert.True(t, store.Has(q), "a successful fetch must be written back to storage")
}

func TestLoad_OptionalUnsupportedIsOmitted(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{name: "binance", bars: testBars(start, 100)}
	store, err := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	p := New(store, map[string]exchange.Connector{"binance": conn}, zerolog.Nop())

	reqs := []series.DataRequirement{
		{SourceKind: series.KindOHLCV, Required: true},
		{SourceKind: series.KindLiquidations, Required: false},
	}
	out, err := p.Load(context.Background(), "binance", "BTC/USDT", reqs, series.TF1h, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Contains(t, out, series.KindOHLCV)
	assert.NotContains(t, out, series.KindLiquidations)
}

func TestLoad_RequiredUnsupportedPropagatesError(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{name: "binance", bars: testBars(start, 100)}
	store, err := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	p := New(store, map[string]exchange.Connector{"binance": conn}, zerolog.Nop())

	reqs := []series.DataRequirement{{SourceKind: series.KindLiquidations, Required: true}}
	_, err = p.Load(context.Background(), "binance", "BTC/USDT", reqs, series.TF1h, start, start.Add(time.Hour))
	require.Error(t, err)
}

func TestAggregate_WeightedMeanAcrossExchanges(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &fakeConnector{name: "binance", bars: testBars(start, 100)}
	b := &fakeConnector{name: "bybit", bars: testBars(start, 102)}
	store, err := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	p := New(store, map[string]exchange.Connector{"binance": a, "bybit": b}, zerolog.Nop())

	out, err := p.Aggregate(context.Background(), series.KindOHLCV, "BTC/USDT", []string{"binance", "bybit"}, WeightedMean, series.TF1h, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, out.Bars, 1)
	// Equal volume weights on both sides => simple average of 100 and 102.
	assert.Equal(t, 101.0, out.Bars[0].Close)
}

func TestAggregate_NoDataReturnsError(t *testing.T) {
	a := &fakeConnector{name: "binance"}
	store, err := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	p := New(store, map[string]exchange.Connector{"binance": a}, zerolog.Nop())

	_, err = p.Aggregate(context.Background(), series.KindOHLCV, "BTC/USDT", []string{"binance"}, WeightedMean, series.TF1h, time.Now(), time.Now().Add(time.Hour))
	assert.Error(t, err)
}
