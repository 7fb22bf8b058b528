package main

import (
	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/config"
	"github.com/duskrow/perpbacktest/internal/risk/stops"
)

// toStopsConfig translates the YAML-decoded RiskConfig into
// stops.Config, keeping internal/risk/stops itself free of a YAML
// dependency, same split as toExecutionConfig.
func toStopsConfig(c config.RiskConfig) stops.Config {
	cfg := stops.DefaultConfig()
	if c.StopType != "" {
		cfg.StopType = stops.StopType(c.StopType)
	}
	if c.FixedStopPct > 0 {
		cfg.FixedStopPct = c.FixedStopPct
	}
	if c.ATRPeriod > 0 {
		cfg.ATRPeriod = c.ATRPeriod
	}
	if c.ATRMultiplier > 0 {
		cfg.ATRMultiplier = c.ATRMultiplier
	}
	if c.TrailingActivationPct > 0 {
		cfg.TrailingActivationPct = c.TrailingActivationPct
	}
	if c.TrailingDistancePct > 0 {
		cfg.TrailingDistancePct = c.TrailingDistancePct
	}
	if c.TakeProfitType != "" {
		cfg.TakeProfitType = stops.TakeProfitType(c.TakeProfitType)
	}
	if c.FixedTakeProfitPct > 0 {
		cfg.FixedTakeProfitPct = c.FixedTakeProfitPct
	}
	if c.RiskRewardRatio > 0 {
		cfg.RiskRewardRatio = c.RiskRewardRatio
	}
	return cfg
}

// riskOverlay returns a non-nil backtest.StopManager only when the
// config enables the dynamic stop manager, so callers can pass the
// result straight to backtest.New without an extra nil check. The
// return type must be the interface itself (not *stops.Manager) so the
// disabled branch's "return nil" produces a true nil interface rather
// than an interface wrapping a nil *stops.Manager — same reasoning as
// executionOverlay.
func riskOverlay(c config.RiskConfig) backtest.StopManager {
	if !c.Enabled {
		return nil
	}
	return stops.New(toStopsConfig(c))
}
