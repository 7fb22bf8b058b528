// Package backtest drives one strategy over one symbol's data bar by
// bar: liquidation check, stop-loss/take-profit arbitration, strategy
// dispatch, then mark-to-market, exactly in that order every bar.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/execution"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

// StopManager refreshes a position's stop-loss/take-profit levels on
// each bar. The risk subsystem's Dynamic Stop Manager implements this;
// Engine works with a nil StopManager too (strategies that manage their
// own exits, like rsireversion, never need one).
type StopManager interface {
	Update(pos *broker.Position, bar series.Bar) (stopLoss, takeProfit *float64)
}

// ExecutionOverlay adjusts a signal-driven entry's nominal price and fee
// rate for slippage and VIP-tier fees before the engine auto-sizes and
// opens the position. Engine works with a nil ExecutionOverlay too — the
// broker's own flat FeeRate and unadjusted price apply, same as when
// execution.Config.Enabled is false. *execution.Engine implements this.
type ExecutionOverlay interface {
	AdjustFill(side broker.Side, orderType execution.OrderType, nominalPrice, approxNotional, barVolume, currentVolatility float64) (fillPrice, feeRate float64, overridden bool)
}

// Config holds the broker parameters for one run.
type Config struct {
	StartingCash          float64
	FeeRate               float64
	Leverage              float64
	MaintenanceMarginRate float64
	// SlippageRate adversely adjusts SL/TP fills: a long's stop fills
	// slippage_rate worse than the trigger price, a long's target
	// likewise; zero means fill exactly at the trigger.
	SlippageRate float64
}

// Result is the outcome of one Run: the equity curve, trade log,
// liquidation events, and final account state. Metrics (Sharpe, max
// drawdown, etc.) are computed separately from EquityCurve/TradeLog by
// the metrics package, keeping the engine decoupled from that concern.
type Result struct {
	EquityCurve       []broker.EquityPoint
	TradeLog          []broker.Trade
	LiquidationEvents []broker.Trade
	FinalCash         float64
	FinalEquity       float64
}

// Engine runs a single-symbol, single-strategy backtest.
type Engine struct {
	cfg   Config
	stops StopManager
	exec  ExecutionOverlay
	log   zerolog.Logger
}

// New builds an Engine. stops and exec may both be nil.
func New(cfg Config, stops StopManager, exec ExecutionOverlay, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, stops: stops, exec: exec, log: log}
}

// Run drives descriptor's strategy, constructed with params, over data.
// data must contain an OHLCV series satisfying the descriptor's data
// requirements; the engine iterates its bars in order. Zero bars is
// valid input, not an error: the strategy is never constructed and
// Run returns a flat Result with a single starting-cash equity point.
func (e *Engine) Run(ctx context.Context, d strategy.Descriptor, params map[string]interface{}, data map[series.Kind]series.Series) (*Result, error) {
	ohlcv, ok := data[series.KindOHLCV]
	if !ok {
		return nil, fmt.Errorf("backtest: an OHLCV series is required to run")
	}
	bars := ohlcv.Bars

	if len(bars) == 0 {
		b := broker.New(e.cfg.StartingCash, e.cfg.FeeRate, e.cfg.Leverage, e.cfg.MaintenanceMarginRate)
		b.MarkToMarket(e.cfg.StartingCash, time.Time{})
		return &Result{
			EquityCurve: b.EquityCurve,
			TradeLog:    b.TradeLog,
			FinalCash:   b.Cash,
			FinalEquity: b.Equity(e.cfg.StartingCash),
		}, nil
	}

	if d.ValidateParameters != nil {
		if err := d.ValidateParameters(params); err != nil {
			return nil, fmt.Errorf("backtest: invalid parameters: %w", err)
		}
	}

	b := broker.New(e.cfg.StartingCash, e.cfg.FeeRate, e.cfg.Leverage, e.cfg.MaintenanceMarginRate)

	inst, err := d.New(b, data, params)
	if err != nil {
		return nil, fmt.Errorf("backtest: strategy construction failed: %w", err)
	}

	imperative, _ := inst.(strategy.Imperative)
	declarative, _ := inst.(strategy.Declarative)

	var signals []strategy.Signal
	if imperative == nil {
		if declarative == nil {
			return nil, fmt.Errorf("backtest: strategy %s implements neither Imperative nor Declarative", d.ID)
		}
		signals, err = declarative.ComputeSignals(data, params)
		if err != nil {
			return nil, fmt.Errorf("backtest: compute_signals failed: %w", err)
		}
		if len(signals) != len(bars) {
			return nil, fmt.Errorf("backtest: compute_signals returned %d signals for %d bars", len(signals), len(bars))
		}
	}

	lastSignal := strategy.SignalFlat

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if price, breached := b.Breached(bar.Low, bar.High); breached {
			if err := b.Liquidate(price, bar.Time); err != nil {
				return nil, fmt.Errorf("backtest: liquidate failed: %w", err)
			}
			lastSignal = strategy.SignalFlat
			b.MarkToMarket(bar.Close, bar.Time)
			continue
		}

		if pos := b.Position(); pos != nil {
			if e.stops != nil {
				sl, tp := e.stops.Update(pos, bar)
				if err := b.SetStops(sl, tp); err != nil {
					return nil, fmt.Errorf("backtest: set_stops failed: %w", err)
				}
			}
			if reason, price, hit := e.arbitrateStops(pos, bar); hit {
				if err := b.Close(price, bar.Time, reason); err != nil {
					return nil, fmt.Errorf("backtest: close on %s failed: %w", reason, err)
				}
				lastSignal = strategy.SignalFlat
				b.MarkToMarket(bar.Close, bar.Time)
				continue
			}
		}

		if imperative != nil {
			if err := imperative.OnBar(strategy.BarContext{Index: i, Bar: bar, Data: data, Broker: b}); err != nil {
				return nil, fmt.Errorf("backtest: on_bar failed at index %d: %w", i, err)
			}
		} else {
			sig := signals[i]
			if sig != lastSignal {
				if err := e.driveSignal(b, lastSignal, sig, bar); err != nil {
					return nil, fmt.Errorf("backtest: signal transition failed at index %d: %w", i, err)
				}
				lastSignal = sig
			}
		}

		b.MarkToMarket(bar.Close, bar.Time)
	}

	last := bars[len(bars)-1]
	if b.Position() != nil {
		if err := b.Close(last.Close, last.Time, "end_of_data"); err != nil {
			return nil, fmt.Errorf("backtest: terminal close failed: %w", err)
		}
	}

	return &Result{
		EquityCurve:       b.EquityCurve,
		TradeLog:          b.TradeLog,
		LiquidationEvents: b.LiquidationEvents,
		FinalCash:         b.Cash,
		FinalEquity:       b.Equity(last.Close),
	}, nil
}

// arbitrateStops implements §4.8 step 2: SL wins ties, fills at the
// trigger price adjusted adversely by SlippageRate.
func (e *Engine) arbitrateStops(pos *broker.Position, bar series.Bar) (reason string, price float64, triggered bool) {
	slHit := pos.StopLoss != nil && e.crosses(pos.Side, true, *pos.StopLoss, bar)
	tpHit := pos.TakeProfit != nil && e.crosses(pos.Side, false, *pos.TakeProfit, bar)

	switch {
	case slHit:
		return "stop_loss", e.slip(pos.Side, true, *pos.StopLoss), true
	case tpHit:
		return "take_profit", e.slip(pos.Side, false, *pos.TakeProfit), true
	default:
		return "", 0, false
	}
}

// crosses reports whether bar's low/high crosses the given stop-loss
// (isStopLoss=true) or take-profit level for pos.Side.
func (e *Engine) crosses(side broker.Side, isStopLoss bool, level float64, bar series.Bar) bool {
	isLong := side == broker.Long
	if isStopLoss {
		if isLong {
			return bar.Low <= level
		}
		return bar.High >= level
	}
	if isLong {
		return bar.High >= level
	}
	return bar.Low <= level
}

// slip adjusts a trigger fill adversely by SlippageRate: a long's stop
// fills lower, a long's target fills lower too (less favorable); a
// short's stop fills higher, a short's target fills higher.
func (e *Engine) slip(side broker.Side, isStopLoss bool, level float64) float64 {
	if e.cfg.SlippageRate == 0 {
		return level
	}
	adverse := level * e.cfg.SlippageRate
	isLong := side == broker.Long
	if isLong {
		return level - adverse
	}
	return level + adverse
}

// driveSignal converts a signal transition into broker calls per §4.8:
// 0→1 buy_all; 1→0 close; 0→-1 short_all; -1→0 close. A direct flip
// between long and short (skipping flat) closes the existing side
// first, then opens the new one.
func (e *Engine) driveSignal(b *broker.Broker, from, to strategy.Signal, bar series.Bar) error {
	if from != strategy.SignalFlat && b.Position() != nil {
		if err := b.Close(bar.Close, bar.Time, "signal_flip"); err != nil {
			return err
		}
	}
	switch to {
	case strategy.SignalLong:
		price, restore := e.overlayFill(b, broker.Long, bar, b.Equity(bar.Close)*b.Leverage)
		defer restore()
		return b.BuyAll(price, bar.Time)
	case strategy.SignalShort:
		price, restore := e.overlayFill(b, broker.Short, bar, b.Equity(bar.Close)*b.Leverage)
		defer restore()
		return b.SellAll(price, bar.Time)
	case strategy.SignalFlat:
		return nil
	default:
		return fmt.Errorf("backtest: unknown signal %d", to)
	}
}

// overlayFill asks e.exec (if set) to adjust a nominal market-order fill
// for slippage and the VIP-tier fee rate, temporarily overriding b's
// FeeRate for the caller's one broker call. The returned restore func is
// always safe to call (and to defer) even when e.exec is nil.
func (e *Engine) overlayFill(b *broker.Broker, side broker.Side, bar series.Bar, approxNotional float64) (price float64, restore func()) {
	if e.exec == nil {
		return bar.Close, func() {}
	}
	fillPrice, feeRate, overridden := e.exec.AdjustFill(side, execution.Market, bar.Close, approxNotional, bar.Volume, 0)
	if !overridden {
		return bar.Close, func() {}
	}
	prior := b.FeeRate
	b.FeeRate = feeRate
	return fillPrice, func() { b.FeeRate = prior }
}
