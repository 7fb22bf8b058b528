// Package analyzer turns a completed experiment sweep's TaskResults into
// rankings, filtered subsets, parameter-importance scores, and
// human-readable reports — the same decile/attribution/correlation
// toolkit march_aug's engine applies to signal backtests, generalized
// from score-deciles over trading signals to metric rankings over
// parameter combinations.
package analyzer

import (
	"sort"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// Top returns the k runs with the best metric value, ordered best-first.
// Runs without the metric, or not completed, are excluded.
func Top(runs []experiment.TaskResult, k int, metric string, dir experiment.Direction) []experiment.TaskResult {
	var eligible []experiment.TaskResult
	for _, r := range runs {
		if r.Status != "completed" {
			continue
		}
		if _, ok := r.Metrics[metric]; !ok {
			continue
		}
		eligible = append(eligible, r)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		vi, vj := eligible[i].Metrics[metric], eligible[j].Metrics[metric]
		if dir == experiment.Minimize {
			return vi < vj
		}
		return vi > vj
	})

	if k <= 0 || k >= len(eligible) {
		return eligible
	}
	return eligible[:k]
}

// MetricRange filters runs to those whose metric falls within [Min, Max].
// A zero HasMin/HasMax leaves that bound open.
type MetricRange struct {
	Metric string
	HasMin bool
	Min    float64
	HasMax bool
	Max    float64
}

// ParamEqual filters runs to those whose param equals Value (compared via
// fmt.Sprintf("%v", ...) so numeric/string grid values compare sensibly
// regardless of the concrete Go type a JSON-round-tripped param arrives as).
type ParamEqual struct {
	Param string
	Value interface{}
}

// Predicates is a conjunction of metric-range and param-equality filters,
// per §4.13's "ranges on metrics, equality on params."
type Predicates struct {
	Status       string // optional: "completed", "failed", "skipped"
	MetricRanges []MetricRange
	ParamEquals  []ParamEqual
}

// Filter returns the subset of runs matching every predicate.
func Filter(runs []experiment.TaskResult, p Predicates) []experiment.TaskResult {
	var out []experiment.TaskResult
	for _, r := range runs {
		if p.Status != "" && r.Status != p.Status {
			continue
		}
		if !matchesMetricRanges(r, p.MetricRanges) {
			continue
		}
		if !matchesParamEquals(r, p.ParamEquals) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesMetricRanges(r experiment.TaskResult, ranges []MetricRange) bool {
	for _, mr := range ranges {
		v, ok := r.Metrics[mr.Metric]
		if !ok {
			return false
		}
		if mr.HasMin && v < mr.Min {
			return false
		}
		if mr.HasMax && v > mr.Max {
			return false
		}
	}
	return true
}

func matchesParamEquals(r experiment.TaskResult, equals []ParamEqual) bool {
	for _, pe := range equals {
		v, ok := r.Params[pe.Param]
		if !ok {
			return false
		}
		if !sameValue(v, pe.Value) {
			return false
		}
	}
	return true
}

func sameValue(a, b interface{}) bool {
	return stringifyValue(a) == stringifyValue(b)
}
