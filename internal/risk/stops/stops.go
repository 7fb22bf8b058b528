// Package stops implements the dynamic stop manager: per-bar
// stop-loss/take-profit recomputation plugged into the backtest
// engine's StopManager seam. Final should_exit arbitration (stop-loss
// wins same-bar ties) stays in the engine; this package only refreshes
// the levels it arbitrates against.
package stops

import (
	"math"
	"time"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/risk/sr"
	"github.com/duskrow/perpbacktest/internal/series"
)

// StopType selects how the stop-loss level is derived.
type StopType string

const (
	StopFixed    StopType = "fixed"
	StopATR      StopType = "atr"
	StopSupport  StopType = "support"
	StopTrailing StopType = "trailing"
)

// TakeProfitType selects how the take-profit level is derived.
type TakeProfitType string

const (
	TakeProfitFixed      TakeProfitType = "fixed"
	TakeProfitResistance TakeProfitType = "resistance"
	TakeProfitRiskReward TakeProfitType = "risk_reward"
	TakeProfitTrailing   TakeProfitType = "trailing"
)

// Config parameterizes one run's stop-loss and take-profit rules.
type Config struct {
	StopType StopType
	// FixedStopPct is the adverse distance from entry for StopFixed,
	// e.g. 0.02 for a 2% stop.
	FixedStopPct float64
	// ATRPeriod and ATRMultiplier parameterize StopATR: stop sits
	// ATRMultiplier*ATR(ATRPeriod) away from entry. Defaults 14 and 1.5.
	ATRPeriod     int
	ATRMultiplier float64

	// SRLevels feeds StopSupport/TakeProfitResistance; computed once
	// (e.g. via sr.Detect over a warmup window) and supplied by the
	// caller, since levels don't need bar-by-bar recomputation.
	SRLevels []sr.Level

	// TrailingActivationPct is the minimum favorable move (as a
	// fraction of entry) before a trailing stop starts following price.
	TrailingActivationPct float64
	// TrailingDistancePct is how far behind the high/low-water mark the
	// trailing stop sits once activated.
	TrailingDistancePct float64

	TakeProfitType TakeProfitType
	// FixedTakeProfitPct is the favorable distance from entry for
	// TakeProfitFixed.
	FixedTakeProfitPct float64
	// RiskRewardRatio multiplies the stop-loss distance to derive
	// TakeProfitRiskReward's target.
	RiskRewardRatio float64
}

// DefaultConfig mirrors commonly used defaults: ATR(14) stop at 1.5x,
// a risk_reward take-profit at 2:1.
func DefaultConfig() Config {
	return Config{
		StopType:            StopATR,
		ATRPeriod:           14,
		ATRMultiplier:       1.5,
		TrailingActivationPct: 0.02,
		TrailingDistancePct:   0.01,
		TakeProfitType:      TakeProfitRiskReward,
		RiskRewardRatio:     2.0,
	}
}

// Manager implements backtest.StopManager. It accumulates bar history
// internally (for ATR) and tracks a favorable-excursion watermark per
// position (for trailing stops/targets), so the caller only needs to
// construct one Manager per backtest run and pass it to backtest.New.
type Manager struct {
	cfg Config

	history []series.Bar

	curEntryTime time.Time
	slWatermark  float64
	tpWatermark  float64
	trailingSL   *float64
	trailingTP   *float64
}

// New builds a Manager from cfg.
func New(cfg Config) *Manager {
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = 1.5
	}
	return &Manager{cfg: cfg}
}

// Update recomputes stop-loss and take-profit for pos given bar,
// satisfying backtest.StopManager.
func (m *Manager) Update(pos *broker.Position, bar series.Bar) (stopLoss, takeProfit *float64) {
	m.history = append(m.history, bar)
	if pos.EntryTime != m.curEntryTime {
		m.curEntryTime = pos.EntryTime
		m.slWatermark = pos.Entry
		m.tpWatermark = pos.Entry
		m.trailingSL = nil
		m.trailingTP = nil
	}

	sl := m.computeStopLoss(pos, bar)
	tp := m.computeTakeProfit(pos, bar, sl)
	return sl, tp
}

func (m *Manager) computeStopLoss(pos *broker.Position, bar series.Bar) *float64 {
	isLong := pos.Side == broker.Long

	switch m.cfg.StopType {
	case StopFixed:
		return adverse(pos.Entry, m.cfg.FixedStopPct, isLong)

	case StopATR:
		a := atr(m.history, m.cfg.ATRPeriod)
		if math.IsNaN(a) {
			return nil
		}
		dist := a * m.cfg.ATRMultiplier
		var level float64
		if isLong {
			level = pos.Entry - dist
		} else {
			level = pos.Entry + dist
		}
		return &level

	case StopSupport:
		if isLong {
			if l, ok := sr.NearestSupport(bar.Close, m.cfg.SRLevels); ok {
				return &l.Price
			}
			return nil
		}
		if l, ok := sr.NearestResistance(bar.Close, m.cfg.SRLevels); ok {
			return &l.Price
		}
		return nil

	case StopTrailing:
		return m.trailingStopLoss(pos, bar, isLong)

	default:
		return nil
	}
}

// trailingStopLoss ratchets a trailing stop in the position's favor
// only, once the move since entry reaches TrailingActivationPct.
func (m *Manager) trailingStopLoss(pos *broker.Position, bar series.Bar, isLong bool) *float64 {
	if isLong {
		if bar.High > m.slWatermark {
			m.slWatermark = bar.High
		}
		profit := (m.slWatermark - pos.Entry) / pos.Entry
		if profit < m.cfg.TrailingActivationPct {
			return nil
		}
		candidate := m.slWatermark * (1 - m.cfg.TrailingDistancePct)
		if m.trailingSL == nil || candidate > *m.trailingSL {
			m.trailingSL = &candidate
		}
		return m.trailingSL
	}

	if m.slWatermark == 0 || bar.Low < m.slWatermark {
		if m.slWatermark == 0 {
			m.slWatermark = pos.Entry
		}
		if bar.Low < m.slWatermark {
			m.slWatermark = bar.Low
		}
	}
	profit := (pos.Entry - m.slWatermark) / pos.Entry
	if profit < m.cfg.TrailingActivationPct {
		return nil
	}
	candidate := m.slWatermark * (1 + m.cfg.TrailingDistancePct)
	if m.trailingSL == nil || candidate < *m.trailingSL {
		m.trailingSL = &candidate
	}
	return m.trailingSL
}

func (m *Manager) computeTakeProfit(pos *broker.Position, bar series.Bar, sl *float64) *float64 {
	isLong := pos.Side == broker.Long

	switch m.cfg.TakeProfitType {
	case TakeProfitFixed:
		return favorable(pos.Entry, m.cfg.FixedTakeProfitPct, isLong)

	case TakeProfitResistance:
		if isLong {
			if l, ok := sr.NearestResistance(bar.Close, m.cfg.SRLevels); ok {
				return &l.Price
			}
			return nil
		}
		if l, ok := sr.NearestSupport(bar.Close, m.cfg.SRLevels); ok {
			return &l.Price
		}
		return nil

	case TakeProfitRiskReward:
		if sl == nil {
			return nil
		}
		slDist := math.Abs(pos.Entry - *sl)
		rr := m.cfg.RiskRewardRatio
		if rr <= 0 {
			rr = 2.0
		}
		var level float64
		if isLong {
			level = pos.Entry + rr*slDist
		} else {
			level = pos.Entry - rr*slDist
		}
		return &level

	case TakeProfitTrailing:
		return m.trailingTakeProfit(pos, bar, isLong)

	default:
		return nil
	}
}

func (m *Manager) trailingTakeProfit(pos *broker.Position, bar series.Bar, isLong bool) *float64 {
	if isLong {
		if bar.High > m.tpWatermark {
			m.tpWatermark = bar.High
		}
		candidate := m.tpWatermark * (1 - m.cfg.TrailingDistancePct)
		if m.trailingTP == nil || candidate > *m.trailingTP {
			m.trailingTP = &candidate
		}
		return m.trailingTP
	}

	if m.tpWatermark == 0 || bar.Low < m.tpWatermark {
		if m.tpWatermark == 0 {
			m.tpWatermark = pos.Entry
		}
		if bar.Low < m.tpWatermark {
			m.tpWatermark = bar.Low
		}
	}
	candidate := m.tpWatermark * (1 + m.cfg.TrailingDistancePct)
	if m.trailingTP == nil || candidate < *m.trailingTP {
		m.trailingTP = &candidate
	}
	return m.trailingTP
}

func adverse(entry, pct float64, isLong bool) *float64 {
	var level float64
	if isLong {
		level = entry * (1 - pct)
	} else {
		level = entry * (1 + pct)
	}
	return &level
}

func favorable(entry, pct float64, isLong bool) *float64 {
	var level float64
	if isLong {
		level = entry * (1 + pct)
	} else {
		level = entry * (1 - pct)
	}
	return &level
}

// atr computes a simple-average true range over the trailing period
// bars of history (including the current bar). Returns NaN until at
// least two bars are available.
func atr(history []series.Bar, period int) float64 {
	if len(history) < 2 {
		return math.NaN()
	}
	start := len(history) - period
	if start < 1 {
		start = 1
	}

	var sum float64
	var n int
	for i := start; i < len(history); i++ {
		prevClose := history[i-1].Close
		h, l := history[i].High, history[i].Low
		tr := math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
		sum += tr
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
