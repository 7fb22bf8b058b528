package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskrow/perpbacktest/internal/experiment"
	"github.com/duskrow/perpbacktest/internal/httpserver"
)

// newServeCommand starts the optional ops HTTP surface (§4.18):
// /healthz, /metrics, and /experiments/{id}. Experiment status is
// resolved on demand from a directory of completed JSONLStore result
// files, named <run-id>.jsonl — the CLI has no in-process sweep
// registry to query, since `experiment run` and `serve` are separate
// invocations, so a finished sweep's id is simply its results
// filename with the extension stripped.
func newServeCommand() *cobra.Command {
	var addr, resultsDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only ops HTTP surface (health, metrics, experiment status)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(flagConfigPath, flagPretty, flagVerbosity)
			if err != nil {
				return err
			}

			listenAddr := addr
			if listenAddr == "" {
				listenAddr = a.cfg.Ops.ListenAddr
			}
			if listenAddr == "" {
				return &userError{fmt.Errorf("cli: no listen address configured (set --addr or ops.listen_addr)")}
			}

			health := httpserver.HealthCheckerFunc(func() []httpserver.ComponentHealth {
				return a.checkHealth()
			})
			metricsRegistry := httpserver.NewMetricsRegistry()
			lookup := httpserver.ExperimentStatusLookupFunc(func(id string) (*experiment.Result, bool) {
				return lookupExperimentResult(resultsDir, id)
			})

			srv := httpserver.New(httpserver.DefaultConfig(listenAddr), health, metricsRegistry, lookup, a.log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return &runtimeError{err}
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ops.listen_addr)")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "results", "directory of completed <run-id>.jsonl experiment result files")
	return cmd
}

// checkHealth reports the storage root's reachability and each
// configured exchange connector's presence. Connectors expose no
// lightweight ping, so "healthy" here means "constructed and wired",
// not "reachable over the network" — a live check would need a
// concrete symbol/timeframe to probe with, which this surface does
// not have.
func (a *app) checkHealth() []httpserver.ComponentHealth {
	components := make([]httpserver.ComponentHealth, 0, len(a.connectors)+1)

	if _, err := os.Stat(a.cfg.Storage.Root); err != nil {
		components = append(components, httpserver.ComponentHealth{Name: "storage", Healthy: false, Detail: err.Error()})
	} else {
		components = append(components, httpserver.ComponentHealth{Name: "storage", Healthy: true})
	}

	for name, conn := range a.connectors {
		components = append(components, httpserver.ComponentHealth{Name: conn.Name(), Healthy: true, Detail: "configured: " + name})
	}
	return components
}

// lookupExperimentResult reconstructs an experiment.Result summary
// from a completed run's JSONL file, keyed by filename (without
// extension) as the run id.
func lookupExperimentResult(dir, id string) (*experiment.Result, bool) {
	path := filepath.Join(dir, id+".jsonl")
	runs, err := readResults(path)
	if err != nil {
		return nil, false
	}

	res := &experiment.Result{RunID: id, Name: id, Runs: runs, TotalTasks: len(runs)}
	for _, r := range runs {
		switch r.Status {
		case "completed":
			res.CompletedTasks++
		case "failed":
			res.FailedTasks++
		case "skipped":
			res.SkippedTasks++
		}
	}
	return res, true
}
