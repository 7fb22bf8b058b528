// Package binance implements the exchange.Connector contract against
// Binance's USD-M futures REST API.
package binance

import (
	"context"
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

var baseURL = "https://fapi.binance.com"

const pageLimit = 1000

// Connector talks to Binance futures. Zero value is not usable; build
// with New.
type Connector struct {
	tr *exchange.Transport
}

// New builds a Binance connector sharing the given rate-limit manager
// (so the sliding window budget is process-wide, not per-connector).
func New(limits *ratelimit.Manager, log zerolog.Logger) *Connector {
	burst := rate.NewLimiter(rate.Limit(18), 18) // ~1100/min secondary burst cap
	return &Connector{tr: exchange.NewTransport("binance", limits, burst, log)}
}

func (c *Connector) Name() string { return "binance" }

func (c *Connector) nativeSymbol(canonical string) (string, error) {
	sym, err := symbol.Parse(canonical)
	if err != nil {
		return "", err
	}
	return symbol.ToExchange(sym, "binance")
}

type klineRow [12]any

func (c *Connector) GetOHLCV(ctx context.Context, canonical string, tf series.Timeframe, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	interval, err := binanceInterval(tf)
	if err != nil {
		return series.Series{}, err
	}

	out := series.Series{Symbol: canonical, Exchange: "binance", Kind: series.KindOHLCV, Timeframe: tf, Start: start, End: end}

	cursor := start
	for cursor.Before(end) {
		url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
			baseURL, native, interval, cursor.UnixMilli(), end.UnixMilli(), pageLimit)

		var rows []klineRow
		if err := c.tr.GetJSON(ctx, url, 1, &rows); err != nil {
			return series.Series{}, err
		}
		if len(rows) == 0 {
			break
		}

		for _, r := range rows {
			bar, err := parseKline(r)
			if err != nil {
				return series.Series{}, err
			}
			out.Bars = append(out.Bars, bar)
		}

		last := out.Bars[len(out.Bars)-1].Time
		if !last.After(cursor) {
			break
		}
		cursor = last.Add(time.Millisecond)

		if len(rows) < pageLimit {
			break
		}
	}

	return out, nil
}

func parseKline(r klineRow) (series.Bar, error) {
	openMS, ok := r[0].(float64)
	if !ok {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "binance", Detail: "kline open time not numeric"}
	}
	open, err := strconv.ParseFloat(asString(r[1]), 64)
	high, err2 := strconv.ParseFloat(asString(r[2]), 64)
	low, err3 := strconv.ParseFloat(asString(r[3]), 64)
	close_, err4 := strconv.ParseFloat(asString(r[4]), 64)
	vol, err5 := strconv.ParseFloat(asString(r[5]), 64)
	if err != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return series.Bar{}, &exchange.DataFormatError{Exchange: "binance", Detail: "kline field not numeric"}
	}

	bar := series.Bar{
		Time:   time.UnixMilli(int64(openMS)).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close_,
		Volume: vol,
	}
	return bar, bar.Validate()
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func binanceInterval(tf series.Timeframe) (string, error) {
	switch tf {
	case series.TF1m:
		return "1m", nil
	case series.TF5m:
		return "5m", nil
	case series.TF15m:
		return "15m", nil
	case series.TF1h:
		return "1h", nil
	case series.TF4h:
		return "4h", nil
	case series.TF1d:
		return "1d", nil
	default:
		return "", fmt.Errorf("binance: unsupported timeframe %q", tf)
	}
}

type fundingRow struct {
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

func (c *Connector) GetFundingRate(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}

	out := series.Series{Symbol: canonical, Exchange: "binance", Kind: series.KindFundingRate, Start: start, End: end}
	url := fmt.Sprintf("%s/fapi/v1/fundingRate?symbol=%s&startTime=%d&endTime=%d&limit=%d",
		baseURL, native, start.UnixMilli(), end.UnixMilli(), pageLimit)

	var rows []fundingRow
	if err := c.tr.GetJSON(ctx, url, 1, &rows); err != nil {
		return series.Series{}, err
	}
	for _, r := range rows {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "binance", Detail: "funding rate not numeric"}
		}
		out.Funding = append(out.Funding, series.FundingPoint{
			Time: time.UnixMilli(r.FundingTime).UTC(),
			Rate: rate,
		})
	}
	return out, nil
}

type oiRow struct {
	Timestamp            int64  `json:"timestamp"`
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
}

func (c *Connector) GetOpenInterest(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "binance", Kind: series.KindOpenInterest, Start: start, End: end}

	url := fmt.Sprintf("%s/futures/data/openInterestHist?symbol=%s&period=5m&startTime=%d&endTime=%d&limit=%d",
		baseURL, native, start.UnixMilli(), end.UnixMilli(), pageLimit)

	var rows []oiRow
	if err := c.tr.GetJSON(ctx, url, 1, &rows); err != nil {
		return series.Series{}, err
	}
	for _, r := range rows {
		v, err := strconv.ParseFloat(r.SumOpenInterestValue, 64)
		if err != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "binance", Detail: "open interest not numeric"}
		}
		out.OpenInterest = append(out.OpenInterest, series.OpenInterestPoint{
			Time:  time.UnixMilli(r.Timestamp).UTC(),
			Value: v,
		})
	}
	return out, nil
}

type lsRow struct {
	Timestamp      int64  `json:"timestamp"`
	LongAccount    string `json:"longAccount"`
	ShortAccount   string `json:"shortAccount"`
}

func (c *Connector) GetLongShortRatio(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return series.Series{}, err
	}
	out := series.Series{Symbol: canonical, Exchange: "binance", Kind: series.KindLongShortRatio, Start: start, End: end}

	url := fmt.Sprintf("%s/futures/data/globalLongShortAccountRatio?symbol=%s&period=5m&startTime=%d&endTime=%d&limit=%d",
		baseURL, native, start.UnixMilli(), end.UnixMilli(), pageLimit)

	var rows []lsRow
	if err := c.tr.GetJSON(ctx, url, 1, &rows); err != nil {
		return series.Series{}, err
	}
	for _, r := range rows {
		long, err1 := strconv.ParseFloat(r.LongAccount, 64)
		short, err2 := strconv.ParseFloat(r.ShortAccount, 64)
		if err1 != nil || err2 != nil {
			return series.Series{}, &exchange.DataFormatError{Exchange: "binance", Detail: "long/short ratio not numeric"}
		}
		out.LongShort = append(out.LongShort, series.LongShortPoint{
			Time:       time.UnixMilli(r.Timestamp).UTC(),
			LongCount:  long,
			ShortCount: short,
		})
	}
	return out, nil
}

// GetLiquidations is unsupported: Binance's futures REST API exposes no
// historical liquidation feed, only a streaming websocket (Non-goal).
func (c *Connector) GetLiquidations(ctx context.Context, canonical string, start, end time.Time) (series.Series, error) {
	return series.Series{}, &exchange.NotSupportedError{Exchange: "binance", Capability: "liquidations"}
}

type markPriceRow struct {
	MarkPrice string `json:"markPrice"`
}

func (c *Connector) GetMarkPrice(ctx context.Context, canonical string) (float64, error) {
	native, err := c.nativeSymbol(canonical)
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", baseURL, native)

	var row markPriceRow
	if err := c.tr.GetJSON(ctx, url, 1, &row); err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(row.MarkPrice, 64)
	if err != nil {
		return 0, &exchange.DataFormatError{Exchange: "binance", Detail: "mark price not numeric"}
	}
	return v, nil
}

var _ exchange.Connector = (*Connector)(nil)
