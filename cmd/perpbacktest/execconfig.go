package main

import (
	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/config"
	"github.com/duskrow/perpbacktest/internal/execution"
)

// toExecutionConfig translates the YAML-decoded ExecutionConfig into
// execution.Config, keeping the execution package itself free of a
// YAML dependency.
func toExecutionConfig(c config.ExecutionConfig) execution.Config {
	tiers := make([]execution.FeeTier, 0, len(c.FeeTiers))
	for _, t := range c.FeeTiers {
		tiers = append(tiers, execution.FeeTier{VIPLevel: t.VIPLevel, MakerBps: t.MakerBps, TakerBps: t.TakerBps})
	}
	volTiers := make([]execution.VolumeTier, 0, len(c.VolumeTiers))
	for _, t := range c.VolumeTiers {
		volTiers = append(volTiers, execution.VolumeTier{MinNotional: t.MinNotional, Bps: t.Bps})
	}
	return execution.Config{
		Enabled:        c.Enabled,
		VIPLevel:       c.VIPLevel,
		FundingEnabled: c.FundingEnabled,
		Fees:           execution.FeeConfig{Tiers: tiers},
		Slippage: execution.SlippageConfig{
			Model:              execution.SlippageModel(c.SlippageModel),
			FixedBps:           c.SlippageFixedBps,
			VolumeTiers:        volTiers,
			BaselineVolatility: c.BaselineVolatility,
		},
	}
}

// executionOverlay returns a non-nil backtest.ExecutionOverlay only
// when the config enables it, so callers can pass the result straight
// to backtest.New without an extra nil check of their own. The return
// type must be the interface itself (not *execution.Engine) so the
// disabled branch's "return nil" produces a true nil interface rather
// than an interface wrapping a nil *execution.Engine.
func executionOverlay(c config.ExecutionConfig) backtest.ExecutionOverlay {
	if !c.Enabled {
		return nil
	}
	return execution.New(toExecutionConfig(c))
}
