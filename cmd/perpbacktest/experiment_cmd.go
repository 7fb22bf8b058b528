package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/duskrow/perpbacktest/internal/analyzer"
	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/experiment"
	"github.com/duskrow/perpbacktest/internal/metrics"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/symbol"
)

// experimentFile is experiment.Config's YAML-decodable shape: the
// GridSpec union and ExpansionMode/Direction enums round-trip as plain
// strings/fields, kept separate from experiment.Config so that package
// stays free of a YAML dependency, same split as config.ExecutionConfig.
type experimentFile struct {
	Name               string                      `yaml:"name"`
	Strategy           string                      `yaml:"strategy"`
	Symbols            []string                    `yaml:"symbols"`
	BaseParams         map[string]interface{}      `yaml:"base_params"`
	ParamGrid          map[string]gridSpecFile     `yaml:"param_grid"`
	ExpansionMode      string                      `yaml:"expansion_mode"`
	MaxCombinations    int                         `yaml:"max_combinations"`
	Seed               int64                       `yaml:"seed"`
	OptimizationMetric string                      `yaml:"optimization_metric"`
	Direction          string                      `yaml:"direction"`
	ParallelWorkers    int                         `yaml:"parallel_workers"`
	TimeoutPerRunSec   int                         `yaml:"timeout_per_run_seconds"`
	FailFast           bool                        `yaml:"fail_fast"`
	Patience           int                         `yaml:"patience"`
	CheckpointPath     string                      `yaml:"checkpoint_path"`
	CheckpointEvery    int                         `yaml:"checkpoint_every"`
	ResultsPath        string                      `yaml:"results_path"`
	Timeframe          string                      `yaml:"timeframe"`
	Exchange           string                      `yaml:"exchange"`
	Start              string                      `yaml:"start"`
	End                string                      `yaml:"end"`
}

type gridSpecFile struct {
	List        []interface{} `yaml:"list"`
	Start       float64       `yaml:"start"`
	Stop        float64       `yaml:"stop"`
	Step        float64       `yaml:"step"`
	LogStart    float64       `yaml:"log_start"`
	LogStop     float64       `yaml:"log_stop"`
	LogNum      int           `yaml:"log_num"`
}

func (g gridSpecFile) toGridSpec() experiment.GridSpec {
	switch {
	case len(g.List) > 0:
		return experiment.GridSpec{List: g.List}
	case g.LogNum > 0:
		return experiment.GridSpec{LogStart: g.LogStart, LogStop: g.LogStop, LogNum: g.LogNum, HasLogScale: true}
	default:
		return experiment.GridSpec{Start: g.Start, Stop: g.Stop, Step: g.Step, HasRange: true}
	}
}

func loadExperimentFile(path string) (*experimentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cli: read experiment config: %w", err)
	}
	var ef experimentFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("cli: parse experiment config: %w", err)
	}
	return &ef, nil
}

func (ef *experimentFile) toConfig() experiment.Config {
	grid := make(map[string]experiment.GridSpec, len(ef.ParamGrid))
	for k, g := range ef.ParamGrid {
		grid[k] = g.toGridSpec()
	}
	return experiment.Config{
		Name:               ef.Name,
		StrategyID:         ef.Strategy,
		Symbols:            ef.Symbols,
		BaseParams:         ef.BaseParams,
		ParamGrid:          grid,
		ExpansionMode:      experiment.ExpansionMode(orString(ef.ExpansionMode, "grid")),
		MaxCombinations:    ef.MaxCombinations,
		Seed:               ef.Seed,
		OptimizationMetric: orString(ef.OptimizationMetric, "sharpe_ratio"),
		Direction:          experiment.Direction(orString(ef.Direction, "maximize")),
		ParallelWorkers:    ef.ParallelWorkers,
		TimeoutPerRun:      time.Duration(ef.TimeoutPerRunSec) * time.Second,
		FailFast:           ef.FailFast,
		Patience:           ef.Patience,
		CheckpointPath:     ef.CheckpointPath,
		CheckpointEvery:    ef.CheckpointEvery,
		ResultsPath:        orString(ef.ResultsPath, "results.jsonl"),
	}
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func newExperimentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Create, run, optimize, list, or analyze parameter sweeps",
	}
	cmd.AddCommand(
		newExperimentCreateCommand(),
		newExperimentRunCommand(false),
		newExperimentRunCommand(true),
		newExperimentListCommand(),
		newExperimentAnalyzeCommand(),
	)
	return cmd
}

func newExperimentCreateCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a template experiment config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return &userError{fmt.Errorf("cli: --out is required")}
			}
			template := experimentFile{
				Name:               "example_sweep",
				Strategy:           "sma_cross",
				Symbols:            []string{"BTC/USDT"},
				Timeframe:          "1h",
				ParamGrid:          map[string]gridSpecFile{"fast": {List: []interface{}{5, 10, 20}}, "slow": {List: []interface{}{50, 100, 200}}},
				ExpansionMode:      "grid",
				OptimizationMetric: "sharpe_ratio",
				Direction:          "maximize",
				ParallelWorkers:    4,
				MaxCombinations:    100,
				ResultsPath:        "results.jsonl",
			}
			data, err := yaml.Marshal(template)
			if err != nil {
				return &runtimeError{err}
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil && filepath.Dir(out) != "." {
				return &runtimeError{err}
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return &runtimeError{err}
			}
			fmt.Printf("wrote template experiment config to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "experiment.yaml", "path to write the template config")
	return cmd
}

func newExperimentRunCommand(optimize bool) *cobra.Command {
	var configPath string
	use := "run"
	short := "Run a grid-search experiment"
	if optimize {
		use = "optimize"
		short = "Run a random-search experiment, stopping early on patience exhaustion"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return &userError{fmt.Errorf("cli: --config is required")}
			}
			ef, err := loadExperimentFile(configPath)
			if err != nil {
				return &userError{err}
			}
			cfg := ef.toConfig()
			if optimize {
				cfg.ExpansionMode = experiment.ExpandRandomMode
				if cfg.Patience == 0 {
					cfg.Patience = 20
				}
			}

			a, err := buildApp(flagConfigPath, flagPretty, flagVerbosity)
			if err != nil {
				return err
			}
			d, err := a.registry.Get(cfg.StrategyID)
			if err != nil {
				return &userError{err}
			}

			tf := series.Timeframe(orString(ef.Timeframe, "1h"))
			if !tf.Valid() {
				return &userError{fmt.Errorf("cli: unsupported timeframe %q", ef.Timeframe)}
			}
			start, end, err := parseDateRange(ef.Start, ef.End)
			if err != nil {
				return &userError{err}
			}
			exchangeName := ef.Exchange
			if exchangeName == "" {
				if len(a.cfg.Exchanges) != 1 {
					return &userError{fmt.Errorf("cli: exchange must be set explicitly when more than one is configured")}
				}
				exchangeName = a.cfg.Exchanges[0].Name
			}

			store, err := experiment.NewJSONLStore(cfg.ResultsPath)
			if err != nil {
				return &runtimeError{err}
			}
			defer store.Close()

			overlay := executionOverlay(a.cfg.Execution)
			backtestFn := func(ctx context.Context, sym string, params map[string]interface{}) (map[string]float64, error) {
				canonical, err := symbol.Parse(sym)
				if err != nil {
					return nil, err
				}
				data, err := a.pipeline.Load(ctx, exchangeName, canonical.String(), d.DataRequirements, tf, start, end)
				if err != nil {
					return nil, &experiment.TransientError{Err: err}
				}
				btCfg := backtest.Config{
					StartingCash:          orDefault(0, a.cfg.Broker.StartingCash, 10000),
					FeeRate:               a.cfg.Broker.FeeRate,
					Leverage:              orDefault(0, a.cfg.Broker.Leverage, 1),
					MaintenanceMarginRate: a.cfg.Broker.MaintenanceMarginRate,
					SlippageRate:          a.cfg.Broker.SlippageRate,
				}
				engine := backtest.New(btCfg, riskOverlay(a.cfg.Risk), overlay, a.log)
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
				return map[string]float64{
					"sharpe_ratio":  m.SharpeRatio,
					"total_return":  m.TotalReturn,
					"max_drawdown":  m.MaxDrawdown,
					"sortino_ratio": m.SortinoRatio,
					"profit_factor": m.ProfitFactor,
				}, nil
			}

			runner := experiment.New(a.log).EnableProgress()
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
			defer cancel()
			res, err := runner.Run(ctx, cfg, backtestFn, store)
			if err != nil {
				return &runtimeError{err}
			}

			fmt.Printf("%s: %d/%d completed, %d failed, %d skipped\n", res.Name, res.CompletedTasks, res.TotalTasks, res.FailedTasks, res.SkippedTasks)
			if res.BestRun != nil {
				fmt.Printf("best: %s/%s %s=%.6f\n", res.BestRun.Symbol, res.BestRun.ComboID, cfg.OptimizationMetric, res.BestRun.Metrics[cfg.OptimizationMetric])
			}
			if res.FailedTasks > 0 {
				return &partialError{fmt.Errorf("cli: %d of %d tasks failed", res.FailedTasks, res.TotalTasks)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment config YAML path")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newExperimentListCommand() *cobra.Command {
	var resultsPath string
	var topK int
	var metric string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the top runs from a results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := readResults(resultsPath)
			if err != nil {
				return &userError{err}
			}
			top := analyzer.Top(runs, topK, metric, experiment.Maximize)
			for i, r := range top {
				fmt.Printf("%d. %s/%s %s=%.6f\n", i+1, r.Symbol, r.ComboID, metric, r.Metrics[metric])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&resultsPath, "results", "r", "results.jsonl", "path to a JSONL results file")
	cmd.Flags().IntVar(&topK, "top", 10, "number of runs to print")
	cmd.Flags().StringVar(&metric, "metric", "sharpe_ratio", "metric to rank by")
	return cmd
}

func newExperimentAnalyzeCommand() *cobra.Command {
	var resultsPath, format, metric, name string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Render a full report (top runs, parameter importance, correlation) from a results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := readResults(resultsPath)
			if err != nil {
				return &userError{err}
			}
			report, err := analyzer.Report(runs, analyzer.Format(format), analyzer.ReportOptions{
				Name:      name,
				Metric:    metric,
				Direction: experiment.Maximize,
			})
			if err != nil {
				return &runtimeError{err}
			}
			fmt.Println(report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&resultsPath, "results", "r", "results.jsonl", "path to a JSONL results file")
	cmd.Flags().StringVar(&format, "format", "markdown", "report format: markdown, json, html")
	cmd.Flags().StringVar(&metric, "metric", "sharpe_ratio", "metric to rank and correlate by")
	cmd.Flags().StringVar(&name, "name", "experiment", "report title")
	return cmd
}
