package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds the Prometheus metrics the ops surface exposes:
// backtest/experiment task throughput and duration, pipeline fetch
// performance, and storage cache hit rate — the same
// histogram-per-step/counter-per-outcome shape the teacher's
// MetricsRegistry used for its scan pipeline, repurposed to backtest
// and data-pipeline stages.
type MetricsRegistry struct {
	registry *prometheus.Registry

	BacktestDuration   *prometheus.HistogramVec
	ExperimentTasks    *prometheus.CounterVec
	PipelineFetches    *prometheus.CounterVec
	PipelineFetchSecs  *prometheus.HistogramVec
	StorageCacheHits   prometheus.Counter
	StorageCacheMisses prometheus.Counter
}

// NewMetricsRegistry builds a fresh, independently-registered
// MetricsRegistry (a dedicated prometheus.Registry, not the global
// default, so repeated test construction never panics on duplicate
// registration).
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()

	m := &MetricsRegistry{
		registry: reg,
		BacktestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpbacktest_run_duration_seconds",
				Help:    "Wall-clock duration of one backtest engine Run call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy", "result"},
		),
		ExperimentTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbacktest_experiment_tasks_total",
				Help: "Total experiment sweep tasks by terminal status",
			},
			[]string{"status"},
		),
		PipelineFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbacktest_pipeline_fetches_total",
				Help: "Total pipeline Load fetches by series kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PipelineFetchSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpbacktest_pipeline_fetch_seconds",
				Help:    "Duration of a pipeline series fetch (storage hit or connector call)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		StorageCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbacktest_storage_cache_hits_total",
			Help: "Total storage reads satisfied without a connector call",
		}),
		StorageCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbacktest_storage_cache_misses_total",
			Help: "Total storage reads that fell through to a connector call",
		}),
	}

	reg.MustRegister(
		m.BacktestDuration, m.ExperimentTasks, m.PipelineFetches,
		m.PipelineFetchSecs, m.StorageCacheHits, m.StorageCacheMisses,
	)
	return m
}

// Handler exposes the registry in the Prometheus text exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBacktest records one completed (or failed) Run call.
func (m *MetricsRegistry) ObserveBacktest(strategy, result string, d time.Duration) {
	m.BacktestDuration.WithLabelValues(strategy, result).Observe(d.Seconds())
}

// ObserveExperimentTask records one sweep task's terminal status.
func (m *MetricsRegistry) ObserveExperimentTask(status string) {
	m.ExperimentTasks.WithLabelValues(status).Inc()
}

// ObservePipelineFetch records one pipeline series fetch's outcome and
// duration, and whether it was served from storage.
func (m *MetricsRegistry) ObservePipelineFetch(kind, outcome string, cacheHit bool, d time.Duration) {
	m.PipelineFetches.WithLabelValues(kind, outcome).Inc()
	m.PipelineFetchSecs.WithLabelValues(kind).Observe(d.Seconds())
	if cacheHit {
		m.StorageCacheHits.Inc()
	} else {
		m.StorageCacheMisses.Inc()
	}
}
