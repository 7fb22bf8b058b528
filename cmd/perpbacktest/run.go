package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/metrics"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
	"github.com/duskrow/perpbacktest/internal/symbol"
)

const dateLayout = "2006-01-02"

func newRunCommand() *cobra.Command {
	var (
		strategyID   string
		symbolStr    string
		tfStr        string
		exchangeName string
		startStr     string
		endStr       string
		cash         float64
		fee          float64
		leverage     float64
		maintMargin  float64
		slRate       float64
		tpRate       float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagConfigPath, flagPretty, flagVerbosity)
			if err != nil {
				return err
			}

			d, err := a.registry.Get(strategyID)
			if err != nil {
				return &userError{err}
			}

			sym, err := symbol.Parse(symbolStr)
			if err != nil {
				return &userError{err}
			}
			tf := series.Timeframe(tfStr)
			if !tf.Valid() {
				return &userError{fmt.Errorf("cli: unsupported timeframe %q", tfStr)}
			}

			start, end, err := parseDateRange(startStr, endStr)
			if err != nil {
				return &userError{err}
			}

			if exchangeName == "" {
				if len(a.cfg.Exchanges) != 1 {
					return &userError{fmt.Errorf("cli: --exchange is required when more than one exchange is configured")}
				}
				exchangeName = a.cfg.Exchanges[0].Name
			}

			params, err := parseParamArgs(d, args)
			if err != nil {
				return &userError{err}
			}
			params = strategy.FillDefaults(d, params)
			if d.ValidateParameters != nil {
				if err := d.ValidateParameters(params); err != nil {
					return &userError{err}
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			data, err := a.pipeline.Load(ctx, exchangeName, sym.String(), d.DataRequirements, tf, start, end)
			if err != nil {
				return &runtimeError{err}
			}

			btCfg := backtest.Config{
				StartingCash:          orDefault(cash, a.cfg.Broker.StartingCash, 10000),
				FeeRate:               orDefault(fee, a.cfg.Broker.FeeRate, 0.0004),
				Leverage:              orDefault(leverage, a.cfg.Broker.Leverage, 1),
				MaintenanceMarginRate: orDefault(maintMargin, a.cfg.Broker.MaintenanceMarginRate, 0.005),
				SlippageRate:          a.cfg.Broker.SlippageRate,
			}

			riskCfg := a.cfg.Risk
			if slRate > 0 {
				riskCfg.Enabled = true
				riskCfg.StopType = "fixed"
				riskCfg.FixedStopPct = slRate
			}
			if tpRate > 0 {
				riskCfg.Enabled = true
				riskCfg.TakeProfitType = "fixed"
				riskCfg.FixedTakeProfitPct = tpRate
			}

			engine := backtest.New(btCfg, riskOverlay(riskCfg), executionOverlay(a.cfg.Execution), a.log)
			result, err := engine.Run(ctx, d, params, data)
			if err != nil {
				return &runtimeError{err}
			}

			dur, _ := tf.Duration()
			barsPerYear := float64(365*24*time.Hour) / float64(dur)
			m := metrics.Compute(metrics.Input{
				EquityCurve: result.EquityCurve,
				TradeLog:    result.TradeLog,
				InitialCash: btCfg.StartingCash,
				BarsPerYear: barsPerYear,
			})
			printRunSummary(sym.String(), result, m)
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategyID, "strategy", "s", "", "strategy ID (see list)")
	cmd.Flags().StringVarP(&symbolStr, "symbol", "m", "", "canonical symbol, e.g. BTC/USDT")
	cmd.Flags().StringVarP(&tfStr, "timeframe", "t", "1h", "bar timeframe (1m,5m,15m,1h,4h,1d)")
	cmd.Flags().StringVar(&exchangeName, "exchange", "", "exchange to source data from (required with >1 configured exchange)")
	cmd.Flags().StringVar(&startStr, "start", "", "start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&endStr, "end", "", "end date, YYYY-MM-DD")
	cmd.Flags().Float64Var(&cash, "cash", 0, "starting cash (overrides config default)")
	cmd.Flags().Float64Var(&fee, "fee", 0, "fee rate (overrides config default)")
	cmd.Flags().Float64Var(&leverage, "leverage", 0, "leverage (overrides config default)")
	cmd.Flags().Float64Var(&slRate, "sl", 0, "static stop-loss distance as a fraction of entry price")
	cmd.Flags().Float64Var(&tpRate, "tp", 0, "static take-profit distance as a fraction of entry price")
	cmd.MarkFlagRequired("strategy")
	cmd.MarkFlagRequired("symbol")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if endStr != "" {
		t, err := time.Parse(dateLayout, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("cli: invalid --end date %q: %w", endStr, err)
		}
		end = t
	}
	start := end.AddDate(0, -1, 0)
	if startStr != "" {
		t, err := time.Parse(dateLayout, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("cli: invalid --start date %q: %w", startStr, err)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("cli: --start must be before --end")
	}
	return start, end, nil
}

func orDefault(v, configured, fallback float64) float64 {
	if v != 0 {
		return v
	}
	if configured != 0 {
		return configured
	}
	return fallback
}

func printRunSummary(sym string, result *backtest.Result, m metrics.Result) {
	fmt.Printf("%s: %d trades, final equity %.2f, total return %.2f%%, sharpe %.2f, max drawdown %.2f%%\n",
		sym, len(result.TradeLog), result.FinalEquity, m.TotalReturn*100, m.SharpeRatio, m.MaxDrawdown*100)
}
