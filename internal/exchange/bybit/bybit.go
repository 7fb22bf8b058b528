// Package bybit implements exchange.Connector against Bybit's v5 unified
// REST API for USDT perpetuals.
package bybit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/duskrow/perpbacktest/internal/exchange"
	"github.com/duskrow/perpbacktest/internal/ratelimit"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/symbol"
)

var baseURL = "https://api.bybit.com"

const pageLimit = 1000

type Connector struct {
	tr *exchange.Transport
}

func New(limits *ratelimit.Manager, log zerolog.Logger) *Connector {
	burst := rate.NewLimiter(rate.Limit(1.8), 5)
	return &Connector{tr: exchange.NewTransport("bybit", limits, burst, log)}
}

func (c *Connector) Name() string { return "bybit" }

func (c *Connector) nativeSymbol(canonical string) (string, error) {
	sym, err := symbol.Parse(canonical)
	if err != nil {
		return "", err
	}
	return symbol.ToExchange(sym, "bybit")
}

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type klineResult struct {
	List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
}

func (c *Connector) GetOHLCV(ctx context.Context, canonical string, tf series.Timeframe, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	interval, err := bybitInterval(tf)
	if err != nil {
		return series.Series{}, err
	}

	out := series.Series{Symbol: canonical, Exchange: "bybit", Kind: series.KindOHLCV, Timeframe: tf, Start: start, End: end}

	cursor := start
	for cursor.Before(end) {
		url := fmt.Sprintf("%s/v5/market/kline?category=linear&symbol=%s&interval=%s&start=%d&end=%d&limit=%d",
			baseURL, native, interval, cursor.UnixMilli(), end.UnixMilli(), pageLimit)

		var env envelope[klineResult]
		if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
			return series.Series{}, err
		}
		if env.RetCode != 0 {
			return series.Series{}, &exchange.ExchangeAPIError{Exchange: "bybit", Op: "kline", Err: errors.New(env.RetMsg)}
		}
		if len(env.Result.List) == 0 {
			break
		}

		// Bybit returns newest-first; reverse while parsing.
		before := len(out.Bars)
		for i := len(env.Result.List) - 1; i >= 0; i-- {
			bar, err := parseKline(env.Result.List[i])
			if err != nil {
				return series.Series{}, err
			}
			out.Bars = append(out.Bars, bar)
		}
		added := len(out.Bars) - before
		if added == 0 {
			break
		}

		last := out.Bars[len(out.Bars)-1].Time
		if !last.After(cursor) {
			break
		}
		cursor = last.Add(time.Millisecond)

		if added < pageLimit {
			break
		}
	}

	return out, nil
}

func parseKline(row []string) (series.Bar, error) {
	if len(row) < 6 {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "bybit", Detail: "kline row too short"}
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	open, err2 := strconv.ParseFloat(row[1], 64)
	high, err3 := strconv.ParseFloat(row[2], 64)
	low, err4 := strconv.ParseFloat(row[3], 64)
	close_, err5 := strconv.ParseFloat(row[4], 64)
	vol, err6 := strconv.ParseFloat(row[5], 64)
	if err != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "bybit", Detail: "kline field not numeric"}
	}
	bar := series.Bar{Time: time.UnixMilli(ms).UTC(), Open: open, High: high, Low: low, Close: close_, Volume: vol}
	return bar, bar.Validate()
}

func bybitInterval(tf series.Timeframe) (string, error) {
	switch tf {
	case series.TF1m:
		return "1", nil
	case series.TF5m:
		return "5", nil
	case series.TF15m:
		return "15", nil
	case series.TF1h:
		return "60", nil
	case series.TF4h:
		return "240", nil
	case series.TF1d:
		return "D", nil
	default:
		return "", fmt.Errorf("bybit: unsupported timeframe %q", tf)
	}
}

type fundingResult struct {
	List []struct {
		FundingRate     string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

func (c *Connector) GetFundingRate(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "bybit", Kind: series.KindFundingRate, Start: start, End: end}

	url := fmt.Sprintf("%s/v5/market/funding/history?category=linear&symbol=%s&startTime=%d&endTime=%d&limit=%d",
		baseURL, native, start.UnixMilli(), end.UnixMilli(), 200)

	var env envelope[fundingResult]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return series.Series{}, err
	}
	if env.RetCode != 0 {
		return series.Series{}, &exchange.ExchangeAPIError{Exchange: "bybit", Op: "funding", Err: errors.New(env.RetMsg)}
	}
	for _, r := range env.Result.List {
		ms, err1 := strconv.ParseInt(r.FundingRateTimestamp, 10, 64)
		rate, err2 := strconv.ParseFloat(r.FundingRate, 64)
		if err1 != nil || err2 != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "bybit", Detail: "funding field not numeric"}
		}
		out.Funding = append(out.Funding, series.FundingPoint{Time: time.UnixMilli(ms).UTC(), Rate: rate})
	}
	return out, nil
}

type oiResult struct {
	List []struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	} `json:"list"`
}

func (c *Connector) GetOpenInterest(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "bybit", Kind: series.KindOpenInterest, Start: start, End: end}

	url := fmt.Sprintf("%s/v5/market/open-interest?category=linear&symbol=%s&intervalTime=5min&startTime=%d&endTime=%d&limit=%d",
		baseURL, native, start.UnixMilli(), end.UnixMilli(), 200)

	var env envelope[oiResult]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return series.Series{}, err
	}
	if env.RetCode != 0 {
		return series.Series{}, &exchange.ExchangeAPIError{Exchange: "bybit", Op: "open_interest", Err: errors.New(env.RetMsg)}
	}
	for _, r := range env.Result.List {
		ms, err1 := strconv.ParseInt(r.Timestamp, 10, 64)
		val, err2 := strconv.ParseFloat(r.OpenInterest, 64)
		if err1 != nil || err2 != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "bybit", Detail: "open interest field not numeric"}
		}
		out.OpenInterest = append(out.OpenInterest, series.OpenInterestPoint{Time: time.UnixMilli(ms).UTC(), Value: val})
	}
	return out, nil
}

// GetLongShortRatio is unsupported: Bybit's public v5 API has no
// account-ratio endpoint comparable to Binance's.
func (c *Connector) GetLongShortRatio(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: "bybit", Capability: "long_short_ratio"}
}

// GetLiquidations is unsupported for the same reason as Binance: Bybit's
// liquidation feed is websocket-only.
func (c *Connector) GetLiquidations(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: "bybit", Capability: "liquidations"}
}

type tickerResult struct {
	List []struct {
		MarkPrice string `json:"markPrice"`
	} `json:"list"`
}

func (c *Connector) GetMarkPrice(ctx context.Context, canonical string) (float64, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", baseURL, native)

	var env envelope[tickerResult]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return 0, err
	}
	if env.RetCode != 0 || len(env.Result.List) == 0 {
		return 0, &exchange.SymbolNotFoundError{Exchange: "bybit", Symbol: canonical}
	}
	v, err := strconv.ParseFloat(env.Result.List[0].MarkPrice, 64)
	if err != nil {
		return 0, &exchange.DataFormatError{Exchange: "bybit", Detail: "mark price not numeric"}
	}
	return v, nil
}

var _ exchange.Connector = (*Connector)(nil)
