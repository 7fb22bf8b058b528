// Package okx implements exchange.Connector against OKX's v5 REST API
// for USDT-margined perpetual swaps.
package okx

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

var baseURL = "https://www.okx.com"

type Connector struct {
	tr *exchange.Transport
}

func New(limits *ratelimit.Manager, log zerolog.Logger) *Connector {
	burst := rate.NewLimiter(rate.Limit(9), 9) // OKX's tightest public-data budget is 20 req / 2s
	return &Connector{tr: exchange.NewTransport("okx", limits, burst, log)}
}

func (c *Connector) Name() string { return "okx" }

func (c *Connector) nativeSymbol(canonical string) (string, error) {
	sym, err := symbol.Parse(canonical)
	if err != nil {
		return "", err
	}
	return symbol.ToExchange(sym, "okx")
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// candleRow is ["ts","o","h","l","c","vol","volCcy","volCcyQuote","confirm"], newest first.
type candleRow []string

func (c *Connector) GetOHLCV(ctx context.Context, canonical string, tf series.Timeframe, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	bar, err := okxBar(tf)
	if err != nil {
		return series.Series{}, err
	}

	out := series.Series{Symbol: canonical, Exchange: "okx", Kind: series.KindOHLCV, Timeframe: tf, Start: start, End: end}

	// OKX's history-candles endpoint pages backward from "after"; walk
	// forward in whole-range requests and stitch until the window is covered.
	cursor := start
	for cursor.Before(end) {
		url := fmt.Sprintf("%s/api/v5/market/history-candles?instId=%s&bar=%s&before=%d&after=%d&limit=%d",
			baseURL, native, bar, cursor.UnixMilli()-1, end.UnixMilli(), 100)

		var env envelope[[]candleRow]
		if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
			return series.Series{}, err
		}
		if env.Code != "0" {
			return series.Series{}, &exchange.ExchangeAPIError{Exchange: "okx", Op: "candles", Err: errors.New(env.Msg)}
		}
		if len(env.Data) == 0 {
			break
		}

		before := len(out.Bars)
		for i := len(env.Data) - 1; i >= 0; i-- {
			b, err := parseCandle(env.Data[i])
			if err != nil {
				return series.Series{}, err
			}
			out.Bars = append(out.Bars, b)
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

		if added < 100 {
			break
		}
	}

	return out, nil
}

func parseCandle(row candleRow) (series.Bar, error) {
	if len(row) < 6 {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "okx", Detail: "candle row too short"}
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	open, err2 := strconv.ParseFloat(row[1], 64)
	high, err3 := strconv.ParseFloat(row[2], 64)
	low, err4 := strconv.ParseFloat(row[3], 64)
	close_, err5 := strconv.ParseFloat(row[4], 64)
	vol, err6 := strconv.ParseFloat(row[5], 64)
	if err != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "okx", Detail: "candle field not numeric"}
	}
	b := series.Bar{Time: time.UnixMilli(ms).UTC(), Open: open, High: high, Low: low, Close: close_, Volume: vol}
	return b, b.Validate()
}

func okxBar(tf series.Timeframe) (string, error) {
	switch tf {
	case series.TF1m:
		return "1m", nil
	case series.TF5m:
		return "5m", nil
	case series.TF15m:
		return "15m", nil
	case series.TF1h:
		return "1H", nil
	case series.TF4h:
		return "4H", nil
	case series.TF1d:
		return "1D", nil
	default:
		return "", fmt.Errorf("okx: unsupported timeframe %q", tf)
	}
}

// fundingRow is one historical funding-rate record.
type fundingRow struct {
	FundingTime string `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

func (c *Connector) GetFundingRate(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "okx", Kind: series.KindFundingRate, Start: start, End: end}

	url := fmt.Sprintf("%s/api/v5/public/funding-rate-history?instId=%s&before=%d&after=%d&limit=%d",
		baseURL, native, start.UnixMilli()-1, end.UnixMilli(), 100)

	var env envelope[[]fundingRow]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return series.Series{}, err
	}
	if env.Code != "0" {
		return series.Series{}, &exchange.ExchangeAPIError{Exchange: "okx", Op: "funding", Err: errors.New(env.Msg)}
	}
	for _, r := range env.Data {
		ms, err1 := strconv.ParseInt(r.FundingTime, 10, 64)
		rate, err2 := strconv.ParseFloat(r.FundingRate, 64)
		if err1 != nil || err2 != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "okx", Detail: "funding field not numeric"}
		}
		out.Funding = append(out.Funding, series.FundingPoint{Time: time.UnixMilli(ms).UTC(), Rate: rate})
	}
	return out, nil
}

type oiRow struct {
	OI string `json:"oi"`
	Ts string `json:"ts"`
}

func (c *Connector) GetOpenInterest(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "okx", Kind: series.KindOpenInterest, Start: start, End: end}

	// OKX's public open-interest endpoint only returns a current snapshot;
	// the history variant is period-keyed, not range-keyed, so a single
	// snapshot point is all that's available per call.
	url := fmt.Sprintf("%s/api/v5/public/open-interest?instType=SWAP&instId=%s", baseURL, native)

	var env envelope[[]oiRow]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return series.Series{}, err
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return out, nil
	}
	r := env.Data[0]
	ms, err1 := strconv.ParseInt(r.Ts, 10, 64)
	val, err2 := strconv.ParseFloat(r.OI, 64)
	if err1 != nil || err2 != nil {
		return series.Series{}, &exchange.DataFormatError{Exchange: "okx", Detail: "open interest field not numeric"}
	}
	out.OpenInterest = append(out.OpenInterest, series.OpenInterestPoint{Time: time.UnixMilli(ms).UTC(), Value: val})
	return out, nil
}

// GetLongShortRatio is unsupported: OKX's contract-position ratio is
// scoped per-trader-tier, not a simple aggregate comparable across venues.
func (c *Connector) GetLongShortRatio(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: "okx", Capability: "long_short_ratio"}
}

// GetLiquidations is unsupported: OKX only exposes a recent-liquidations
// rolling window (not an arbitrary historical range).
func (c *Connector) GetLiquidations(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: "okx", Capability: "liquidations"}
}

type markRow struct {
	MarkPx string `json:"markPx"`
}

func (c *Connector) GetMarkPrice(ctx context.Context, canonical string) (float64, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/api/v5/public/mark-price?instType=SWAP&instId=%s", baseURL, native)

	var env envelope[[]markRow]
	if err := c.tr.GetJSON(ctx, url, 1, &env); err != nil {
		return 0, err
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return 0, &exchange.SymbolNotFoundError{Exchange: "okx", Symbol: canonical}
	}
	v, err := strconv.ParseFloat(env.Data[0].MarkPx, 64)
	if err != nil {
		return 0, &exchange.DataFormatError{Exchange: "okx", Detail: "mark price not numeric"}
	}
	return v, nil
}

var _ exchange.Connector = (*Connector)(nil)
