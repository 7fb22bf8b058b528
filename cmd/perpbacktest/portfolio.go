package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/metrics"
	"github.com/duskrow/perpbacktest/internal/risk/riskcalc"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
	"github.com/duskrow/perpbacktest/internal/symbol"
)

// portfolioRunSpec is one entry in a portfolio config's runs list.
type portfolioRunSpec struct {
	Strategy  string                 `yaml:"strategy"`
	Symbol    string                 `yaml:"symbol"`
	Exchange  string                 `yaml:"exchange"`
	Timeframe string                 `yaml:"timeframe"`
	Start     string                 `yaml:"start"`
	End       string                 `yaml:"end"`
	Params    map[string]interface{} `yaml:"params"`
}

// portfolioConfig is a batch of independent single-symbol backtests
// sharing one broker configuration.
type portfolioConfig struct {
	InitialCash float64             `yaml:"initial_cash"`
	FeeRate     float64             `yaml:"fee_rate"`
	Leverage    float64             `yaml:"leverage"`
	Runs        []portfolioRunSpec  `yaml:"runs"`
}

func newPortfolioCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Run a batch of backtests described in a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return &userError{fmt.Errorf("cli: --config is required")}
			}
			data, err := os.ReadFile(configPath)
			if err != nil {
				return &userError{fmt.Errorf("cli: read portfolio config: %w", err)}
			}
			var pc portfolioConfig
			if err := yaml.Unmarshal(data, &pc); err != nil {
				return &userError{fmt.Errorf("cli: parse portfolio config: %w", err)}
			}
			if len(pc.Runs) == 0 {
				return &userError{fmt.Errorf("cli: portfolio config declares no runs")}
			}

			a, err := buildApp(flagConfigPath, flagPretty, flagVerbosity)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			var failures int
			returns := make(map[string][]float64, len(pc.Runs))
			for _, rs := range pc.Runs {
				label := fmt.Sprintf("%s/%s", rs.Strategy, rs.Symbol)
				rets, err := runOnePortfolioEntry(ctx, a, pc, rs)
				if err != nil {
					failures++
					fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
					continue
				}
				returns[label] = rets
			}
			printPortfolioRiskReport(returns)

			if failures == len(pc.Runs) {
				return &runtimeError{fmt.Errorf("cli: all %d portfolio runs failed", failures)}
			}
			if failures > 0 {
				return &partialError{fmt.Errorf("cli: %d of %d portfolio runs failed", failures, len(pc.Runs))}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "portfolio config YAML path")
	cmd.MarkFlagRequired("config")
	return cmd
}

// runOnePortfolioEntry runs one backtest and returns its bar-over-bar
// equity returns, for the portfolio-level risk report.
func runOnePortfolioEntry(ctx context.Context, a *app, pc portfolioConfig, rs portfolioRunSpec) ([]float64, error) {
	d, err := a.registry.Get(rs.Strategy)
	if err != nil {
		return nil, err
	}
	sym, err := symbol.Parse(rs.Symbol)
	if err != nil {
		return nil, err
	}
	tf := series.Timeframe(rs.Timeframe)
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", rs.Timeframe)
	}
	start, end, err := parseDateRange(rs.Start, rs.End)
	if err != nil {
		return nil, err
	}
	exchangeName := rs.Exchange
	if exchangeName == "" {
		if len(a.cfg.Exchanges) != 1 {
			return nil, fmt.Errorf("exchange must be set explicitly when more than one is configured")
		}
		exchangeName = a.cfg.Exchanges[0].Name
	}

	data, err := a.pipeline.Load(ctx, exchangeName, sym.String(), d.DataRequirements, tf, start, end)
	if err != nil {
		return nil, err
	}

	params := strategy.FillDefaults(d, rs.Params)
	if d.ValidateParameters != nil {
		if err := d.ValidateParameters(params); err != nil {
			return nil, err
		}
	}

	btCfg := backtest.Config{
		StartingCash:          orDefault(0, pc.InitialCash, 10000),
		FeeRate:               orDefault(0, pc.FeeRate, a.cfg.Broker.FeeRate),
		Leverage:              orDefault(0, pc.Leverage, orDefault(0, a.cfg.Broker.Leverage, 1)),
		MaintenanceMarginRate: a.cfg.Broker.MaintenanceMarginRate,
		SlippageRate:          a.cfg.Broker.SlippageRate,
	}
	engine := backtest.New(btCfg, riskOverlay(a.cfg.Risk), executionOverlay(a.cfg.Execution), a.log)
	result, err := engine.Run(ctx, d, params, data)
	if err != nil {
		return nil, err
	}

	dur, _ := tf.Duration()
	barsPerYear := float64(365*24*time.Hour) / float64(dur)
	m := metrics.Compute(metrics.Input{
		EquityCurve: result.EquityCurve,
		TradeLog:    result.TradeLog,
		InitialCash: btCfg.StartingCash,
		BarsPerYear: barsPerYear,
	})
	printRunSummary(fmt.Sprintf("%s/%s", rs.Strategy, sym.String()), result, m)
	return equityReturns(result.EquityCurve), nil
}

// equityReturns converts an equity curve into bar-over-bar fractional
// returns, the input shape internal/risk/riskcalc.Compute expects.
func equityReturns(curve []broker.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, curve[i].Equity/prev-1)
	}
	return rets
}

// printPortfolioRiskReport prints each run's annualized risk metrics
// and the pairwise return-correlation matrix across every successful
// run in the batch, once at least two runs have returns to compare.
func printPortfolioRiskReport(returns map[string][]float64) {
	if len(returns) < 2 {
		return
	}
	metricsByName, corr := riskcalc.Compute(returns, nil, 0, 365*24)

	fmt.Println("\nportfolio risk report:")
	for name, m := range metricsByName {
		fmt.Printf("  %-30s ann_return=%.4f ann_vol=%.4f sharpe=%.4f max_dd=%.4f\n",
			name, m.AnnualizedReturn, m.AnnualizedVolatility, m.SharpeRatio, m.MaxDrawdown)
	}
	fmt.Println("  correlation matrix:")
	for a, row := range corr {
		for b, c := range row {
			if a < b {
				fmt.Printf("    %s / %s: %.4f\n", a, b, c)
			}
		}
	}
}
