// Package experiment sweeps a strategy's parameter grid across
// symbols with a bounded worker pool, checkpointing progress and
// streaming per-run metrics to a ResultStore as they complete — the
// same bounded-fan-out idiom the data pipeline (C6) uses for
// multi-exchange aggregation, generalized from I/O-bound connector
// calls to CPU-bound backtest runs.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	applog "github.com/duskrow/perpbacktest/internal/log"
)

// ExpansionMode selects how ParamGrid is turned into concrete
// parameter combinations.
type ExpansionMode string

const (
	ExpandGridMode     ExpansionMode = "grid"
	ExpandRandomMode   ExpansionMode = "random"
	ExpandBayesianMode ExpansionMode = "bayesian"
)

// Direction selects whether OptimizationMetric is maximized or
// minimized when tracking the best run.
type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

// Config is one experiment's full specification.
type Config struct {
	Name       string
	StrategyID string
	Symbols    []string
	BaseParams map[string]interface{}
	ParamGrid  map[string]GridSpec

	ExpansionMode   ExpansionMode
	MaxCombinations int
	// Seed drives RandomSample's rng for random/bayesian expansion, kept
	// here (not ambient global state) so repeated runs are
	// bit-identical per §5's determinism requirement.
	Seed int64

	OptimizationMetric string
	Direction          Direction

	ParallelWorkers int
	TimeoutPerRun   time.Duration
	FailFast        bool
	// Patience stops a random/bayesian sweep early after this many
	// consecutive trials with no new best. Zero disables early stopping
	// (grid mode always runs to completion regardless of Patience).
	Patience int

	CheckpointPath  string
	CheckpointEvery int
	ResultsPath     string
}

// TaskResult is one backtest's outcome within the sweep.
type TaskResult struct {
	Symbol  string                 `json:"symbol"`
	ComboID string                 `json:"combo_id"`
	Params  map[string]interface{} `json:"params"`
	Metrics map[string]float64     `json:"metrics,omitempty"`
	Status  string                 `json:"status"` // completed | failed | skipped
	Error   string                 `json:"error,omitempty"`
}

// Result is the sweep's final summary.
type Result struct {
	RunID           string       `json:"run_id"`
	Name            string       `json:"name"`
	Runs            []TaskResult `json:"runs"`
	BestRun         *TaskResult  `json:"best_run,omitempty"`
	TotalTasks      int          `json:"total_tasks"`
	CompletedTasks  int          `json:"completed_tasks"`
	FailedTasks     int          `json:"failed_tasks"`
	SkippedTasks    int          `json:"skipped_tasks"`
	StoppedEarly    bool         `json:"stopped_early"`
}

// BacktestFunc runs one backtest for symbol with params and returns
// its output metrics. A TransientError return is retried; any other
// error is recorded as a permanent failure.
type BacktestFunc func(ctx context.Context, symbol string, params map[string]interface{}) (map[string]float64, error)

// TransientError marks a backtest failure the runner should retry
// (e.g. a data-fetch timeout), as opposed to a deterministic failure
// like invalid parameters.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

const maxRetries = 2

// Runner drives one Config's sweep.
type Runner struct {
	log          zerolog.Logger
	showProgress bool
}

// New builds a Runner.
func New(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// EnableProgress turns on a stdout progress bar over the sweep's
// tasks, driven one tick per task (completed, failed, or skipped).
// Off by default so library callers and tests stay quiet.
func (r *Runner) EnableProgress() *Runner {
	r.showProgress = true
	return r
}

type task struct {
	symbol  string
	comboID string
	params  map[string]interface{}
}

// Run expands cfg's parameter grid, runs every (symbol, combo) task
// through backtestFn with a bounded worker pool, streams each result
// to store, and checkpoints progress to cfg.CheckpointPath.
func (r *Runner) Run(ctx context.Context, cfg Config, backtestFn BacktestFunc, store ResultStore) (*Result, error) {
	combos, err := r.expand(cfg)
	if err != nil {
		return nil, err
	}

	tasks := buildTasks(cfg.Symbols, combos, cfg.BaseParams)

	cp := &Checkpoint{Completed: map[string]bool{}}
	if cfg.CheckpointPath != "" {
		loaded, err := LoadCheckpoint(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		cp = loaded
	}

	workers := cfg.ParallelWorkers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// sem bounds in-flight tasks. Its capacity is only released once the
	// consumer goroutine below has fully processed that task's result
	// (including updating stopEarly), not when the worker goroutine
	// merely finishes — otherwise, with workers=1, the submission loop
	// could race ahead and dispatch another task before an early-stop
	// signal from the one just finished became visible.
	sem := make(chan struct{}, workers)
	resultsCh := make(chan TaskResult, len(tasks))
	consumerDone := make(chan struct{})
	var wg sync.WaitGroup

	var mu sync.Mutex
	result := &Result{RunID: uuid.New().String(), Name: cfg.Name, TotalTasks: len(tasks)}
	var best *TaskResult
	sinceBest := 0
	stopEarly := false
	earlyStoppable := cfg.ExpansionMode != ExpandGridMode && cfg.Patience > 0

	completedCount := 0

	var progress *applog.ProgressIndicator
	if r.showProgress && len(tasks) > 0 {
		progress = applog.NewProgressIndicator(cfg.Name, len(tasks), applog.DefaultProgressConfig())
	}
	tick := func(n int) {
		if progress != nil {
			progress.Update(n)
		}
	}

	go func() {
		defer close(consumerDone)
		for tr := range resultsCh {
			if err := store.Write(tr); err != nil {
				r.log.Warn().Err(err).Str("symbol", tr.Symbol).Str("combo_id", tr.ComboID).Msg("experiment: failed to write result")
			}

			mu.Lock()
			result.Runs = append(result.Runs, tr)
			switch tr.Status {
			case "completed":
				result.CompletedTasks++
				cp.markComplete(tr.Symbol, tr.ComboID)
				completedCount++

				improved := isBetter(best, tr, cfg.OptimizationMetric, cfg.Direction)
				if improved {
					t := tr
					best = &t
					sinceBest = 0
				} else {
					sinceBest++
				}

				if earlyStoppable && sinceBest >= cfg.Patience {
					stopEarly = true
					result.StoppedEarly = true
				}

				if cfg.CheckpointPath != "" && cfg.CheckpointEvery > 0 && completedCount%cfg.CheckpointEvery == 0 {
					if err := cp.Save(cfg.CheckpointPath); err != nil {
						r.log.Warn().Err(err).Msg("experiment: checkpoint save failed")
					}
				}

			case "failed":
				result.FailedTasks++
				if cfg.FailFast {
					stopEarly = true
					cancel()
				}
			}
			n := result.CompletedTasks + result.FailedTasks + result.SkippedTasks
			mu.Unlock()
			tick(n)

			<-sem
		}
	}()

	for _, t := range tasks {
		t := t
		if cp.isComplete(t.symbol, t.comboID) {
			mu.Lock()
			result.SkippedTasks++
			n := result.CompletedTasks + result.FailedTasks + result.SkippedTasks
			mu.Unlock()
			tick(n)
			continue
		}

		mu.Lock()
		cancelled := stopEarly
		mu.Unlock()
		if cancelled || runCtx.Err() != nil {
			mu.Lock()
			result.SkippedTasks++
			n := result.CompletedTasks + result.FailedTasks + result.SkippedTasks
			mu.Unlock()
			tick(n)
			continue
		}

		sem <- struct{}{}

		// Re-check after a (possibly blocking) semaphore acquisition:
		// stopEarly may have flipped while this task waited for a slot.
		mu.Lock()
		cancelled = stopEarly
		mu.Unlock()
		if cancelled || runCtx.Err() != nil {
			<-sem
			mu.Lock()
			result.SkippedTasks++
			n := result.CompletedTasks + result.FailedTasks + result.SkippedTasks
			mu.Unlock()
			tick(n)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resultsCh <- r.runOne(runCtx, cfg, t, backtestFn)
		}()
	}

	wg.Wait()
	close(resultsCh)
	<-consumerDone

	if progress != nil {
		progress.FinishWithMessage(fmt.Sprintf("%d completed, %d failed, %d skipped", result.CompletedTasks, result.FailedTasks, result.SkippedTasks))
	}

	if cfg.CheckpointPath != "" {
		if err := cp.Save(cfg.CheckpointPath); err != nil {
			r.log.Warn().Err(err).Msg("experiment: final checkpoint save failed")
		}
	}

	result.BestRun = best
	return result, nil
}

func (r *Runner) runOne(ctx context.Context, cfg Config, t task, backtestFn BacktestFunc) TaskResult {
	tr := TaskResult{Symbol: t.symbol, ComboID: t.comboID, Params: t.params}

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.TimeoutPerRun > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.TimeoutPerRun)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		metrics, err := backtestFn(runCtx, t.symbol, t.params)
		if err == nil {
			tr.Metrics = metrics
			tr.Status = "completed"
			return tr
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			tr.Status = "failed"
			tr.Error = err.Error()
			return tr
		}
		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-runCtx.Done():
				tr.Status = "failed"
				tr.Error = runCtx.Err().Error()
				return tr
			}
		}
	}

	tr.Status = "failed"
	tr.Error = fmt.Sprintf("exhausted %d retries: %v", maxRetries, lastErr)
	return tr
}

func (r *Runner) expand(cfg Config) ([]map[string]interface{}, error) {
	switch cfg.ExpansionMode {
	case ExpandRandomMode, ExpandBayesianMode:
		if cfg.ExpansionMode == ExpandBayesianMode {
			r.log.Info().Msg("experiment: no bayesian optimizer available, falling back to random search")
		}
		seed := cfg.Seed
		rng := deterministicRNG(seed)
		n := cfg.MaxCombinations
		if n <= 0 {
			n = 1
		}
		return RandomSample(cfg.ParamGrid, n, rng)
	default:
		return ExpandGrid(cfg.ParamGrid, cfg.MaxCombinations)
	}
}

// deterministicRNG returns a closure producing values in [0,1) from a
// simple linear congruential generator seeded by seed — avoids a
// dependency on math/rand's global state so repeated runs with the
// same seed reproduce identical combinations, per §5's determinism
// requirement.
func deterministicRNG(seed int64) func() float64 {
	state := uint64(seed)
	if state == 0 {
		state = 1
	}
	return func() float64 {
		state = state*6364136223846793005 + 1442695040888963407
		return float64(state>>11) / float64(1<<53)
	}
}

func buildTasks(symbols []string, combos []map[string]interface{}, base map[string]interface{}) []task {
	var tasks []task
	for _, sym := range symbols {
		for i, combo := range combos {
			params := make(map[string]interface{}, len(base)+len(combo))
			for k, v := range base {
				params[k] = v
			}
			for k, v := range combo {
				params[k] = v
			}
			tasks = append(tasks, task{symbol: sym, comboID: fmt.Sprintf("c%04d", i), params: params})
		}
	}
	return tasks
}

func isBetter(best *TaskResult, candidate TaskResult, metric string, dir Direction) bool {
	if best == nil {
		return true
	}
	bv, bok := best.Metrics[metric]
	cv, cok := candidate.Metrics[metric]
	if !cok {
		return false
	}
	if !bok {
		return true
	}
	if dir == Minimize {
		return cv < bv
	}
	return cv > bv
}
