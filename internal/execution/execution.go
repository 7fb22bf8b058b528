// Package execution is an optional overlay that turns a nominal order
// into a filled one with realistic fees, slippage, and funding — the
// same tiered-profile config shape internal/config's guards use for
// regime-dependent thresholds, applied to VIP-tier fee/slippage bps
// instead of guard thresholds. When disabled, the broker's own flat
// FeeRate applies and this package is not in the loop at all.
package execution

import (
	"time"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
)

// OrderType selects which side of the maker/taker spread an order pays.
type OrderType string

const (
	Market OrderType = "market" // taker
	Limit  OrderType = "limit"  // maker
)

// SlippageModel selects how an order's fill price is adversely adjusted.
type SlippageModel string

const (
	FixedSlippage              SlippageModel = "fixed"
	AdaptiveSlippage           SlippageModel = "adaptive"
	VolumeWeightedSlippage     SlippageModel = "volume_weighted"
	VolatilityAdjustedSlippage SlippageModel = "volatility_adjusted"
)

// FeeTier is one VIP level's maker/taker rates, in basis points.
type FeeTier struct {
	VIPLevel int
	MakerBps float64
	TakerBps float64
}

// FeeConfig is the ordered set of VIP tiers a fee lookup chooses from.
type FeeConfig struct {
	Tiers []FeeTier
}

// Rate returns the fee rate (as a fraction, not bps) for orderType at the
// highest tier whose VIPLevel does not exceed vip, matching the
// teacher's active-profile/regime lookup idiom in internal/config/guards.go.
func (c FeeConfig) Rate(orderType OrderType, vip int) float64 {
	var best *FeeTier
	for i := range c.Tiers {
		t := &c.Tiers[i]
		if t.VIPLevel <= vip && (best == nil || t.VIPLevel > best.VIPLevel) {
			best = t
		}
	}
	if best == nil {
		return 0
	}
	if orderType == Limit {
		return best.MakerBps / 10000
	}
	return best.TakerBps / 10000
}

// VolumeTier is one notional-size bucket's slippage bps, for the
// volume_weighted model.
type VolumeTier struct {
	MinNotional float64
	Bps         float64
}

// SlippageConfig parameterizes the active slippage model.
type SlippageConfig struct {
	Model              SlippageModel
	FixedBps           float64
	VolumeTiers        []VolumeTier // sorted ascending by MinNotional
	BaselineVolatility float64      // reference vol for volatility_adjusted
}

// Slippage returns the adverse price adjustment, in bps, for an order.
// Limit orders never slip — only market orders cross the spread and eat
// liquidity. barVolume/currentVolatility are read by the adaptive and
// volatility_adjusted models respectively; unused by the others.
func (c SlippageConfig) Slippage(orderType OrderType, notional, barVolume, currentVolatility float64) float64 {
	if orderType == Limit {
		return 0
	}
	switch c.Model {
	case AdaptiveSlippage:
		if barVolume <= 0 {
			return c.FixedBps
		}
		participation := notional / barVolume
		return c.FixedBps * (1 + participation)
	case VolumeWeightedSlippage:
		return c.volumeTierBps(notional)
	case VolatilityAdjustedSlippage:
		if c.BaselineVolatility <= 0 {
			return c.FixedBps
		}
		return c.FixedBps * (currentVolatility / c.BaselineVolatility)
	default: // FixedSlippage and unset
		return c.FixedBps
	}
}

func (c SlippageConfig) volumeTierBps(notional float64) float64 {
	bps := 0.0
	for _, t := range c.VolumeTiers {
		if notional >= t.MinNotional {
			bps = t.Bps
		}
	}
	return bps
}

// Config is the top-level execution overlay, off by default so a
// backtest run's broker behaves exactly as if this package didn't exist.
type Config struct {
	Enabled        bool
	Fees           FeeConfig
	Slippage       SlippageConfig
	VIPLevel       int
	FundingEnabled bool
}

// DefaultConfig returns a disabled overlay.
func DefaultConfig() Config {
	return Config{Enabled: false}
}

// Result is what actually happened to a nominal order once fees and
// slippage are applied.
type Result struct {
	FillPrice      float64
	FeeAmount      float64
	SlippageBps    float64
	FeeRateApplied float64
}

// Engine applies Config's overlay around a Broker's otherwise-unmodified
// order and funding logic.
type Engine struct {
	cfg             Config
	lastFundingTime map[*broker.Broker]time.Time
}

// New builds an Engine. Passing a disabled Config is valid and makes
// every method here a pass-through — callers don't need an enabled
// check of their own.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, lastFundingTime: map[*broker.Broker]time.Time{}}
}

// Execute fills a market or limit order against b, adjusting the nominal
// price for slippage and overriding b's fee rate for the VIP-tier rate
// this order type earns, for the duration of this one call — b.FeeRate
// otherwise drives the broker's own margin/fee arithmetic unchanged, so
// the overlay reuses that arithmetic rather than duplicating it.
func (e *Engine) Execute(b *broker.Broker, side broker.Side, orderType OrderType, size, price, barVolume, currentVolatility float64, at time.Time, reason string) (Result, error) {
	if !e.cfg.Enabled {
		var err error
		if side == broker.Long {
			err = b.Buy(size, price, at, reason)
		} else {
			err = b.Sell(size, price, at, reason)
		}
		return Result{FillPrice: price, FeeRateApplied: b.FeeRate}, err
	}

	notional := size * price
	slippageBps := e.cfg.Slippage.Slippage(orderType, notional, barVolume, currentVolatility)
	fillPrice := adjustForSlippage(side, price, slippageBps)

	rate := e.cfg.Fees.Rate(orderType, e.cfg.VIPLevel)
	restore := b.FeeRate
	b.FeeRate = rate
	defer func() { b.FeeRate = restore }()

	var err error
	if side == broker.Long {
		err = b.Buy(size, fillPrice, at, reason)
	} else {
		err = b.Sell(size, fillPrice, at, reason)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		FillPrice:      fillPrice,
		FeeAmount:      notional * rate,
		SlippageBps:    slippageBps,
		FeeRateApplied: rate,
	}, nil
}

// adjustForSlippage moves price against the trader: up for a buy
// (paying more), down for a sell (receiving less).
func adjustForSlippage(side broker.Side, price, bps float64) float64 {
	adj := price * bps / 10000
	if side == broker.Long {
		return price + adj
	}
	return price - adj
}

// fundingInterval is the venue cadence series.FundingPoint observations
// are sampled at.
const fundingInterval = 8 * time.Hour

// AccrueFunding applies position_notional · funding_rate · direction_sign
// to b's cash if at has crossed an 8h funding boundary since the last
// call for this broker, looking the rate up from points. A long position
// pays when the rate is positive (direction_sign +1); a short receives
// (direction_sign -1). No-op when funding is disabled or b is flat.
func (e *Engine) AccrueFunding(b *broker.Broker, points []series.FundingPoint, at time.Time) error {
	if !e.cfg.Enabled || !e.cfg.FundingEnabled {
		return nil
	}
	pos := b.Position()
	if pos == nil {
		return nil
	}

	last, seen := e.lastFundingTime[b]
	if seen && at.Sub(last) < fundingInterval {
		return nil
	}

	rate, ok := fundingRateAt(points, at)
	if !ok {
		return nil
	}

	notional := pos.Size * pos.Entry
	sign := 1.0
	if pos.Side == broker.Short {
		sign = -1.0
	}
	payment := notional * rate * sign

	b.Cash -= payment
	e.lastFundingTime[b] = at
	return nil
}

func fundingRateAt(points []series.FundingPoint, at time.Time) (float64, bool) {
	var best *series.FundingPoint
	for i := range points {
		p := &points[i]
		if p.Time.After(at) {
			continue
		}
		if best == nil || p.Time.After(best.Time) {
			best = p
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Rate, true
}

// AdjustFill computes the overlay's effect on a nominal order without
// touching a broker directly, for callers whose order auto-sizes from
// account equity (like Broker.BuyAll/SellAll) and so only know price up
// front, not size. approxNotional should be the caller's best estimate
// of the order's eventual notional, for the slippage models that scale
// with it. overridden is false when the overlay is disabled, meaning
// the caller should leave price and the broker's own fee rate alone.
func (e *Engine) AdjustFill(side broker.Side, orderType OrderType, nominalPrice, approxNotional, barVolume, currentVolatility float64) (fillPrice, feeRate float64, overridden bool) {
	if !e.cfg.Enabled {
		return nominalPrice, 0, false
	}
	slippageBps := e.cfg.Slippage.Slippage(orderType, approxNotional, barVolume, currentVolatility)
	fillPrice = adjustForSlippage(side, nominalPrice, slippageBps)
	feeRate = e.cfg.Fees.Rate(orderType, e.cfg.VIPLevel)
	return fillPrice, feeRate, true
}

// RefreshLiquidationPrice recomputes b's liquidation price. Broker
// already derives it live from position state rather than caching it,
// so this is a thin, explicitly-named wrapper satisfying §4.14's "the
// engine refreshes liq_price on every position mutation" — there is no
// staleness to fix, only a place to call out that the guarantee holds.
func RefreshLiquidationPrice(b *broker.Broker) (float64, bool) {
	return b.LiquidationPrice()
}
