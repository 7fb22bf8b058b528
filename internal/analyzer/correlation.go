package analyzer

import (
	"math"
	"sort"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// CorrelationMatrix computes the Pearson correlation between every pair
// of named fields (param or metric names) across completed runs, the
// same closed-form correlation march_aug's engine uses for factor
// attribution, generalized to an arbitrary field set rather than four
// fixed factor names. Fields missing from a run, or non-numeric, drop
// that run from the pair's sample.
func CorrelationMatrix(runs []experiment.TaskResult, fields []string) map[string]map[string]float64 {
	completed := onlyCompleted(runs)

	out := make(map[string]map[string]float64, len(fields))
	for _, a := range fields {
		out[a] = make(map[string]float64, len(fields))
		for _, b := range fields {
			out[a][b] = pairCorrelation(completed, a, b)
		}
	}
	return out
}

func onlyCompleted(runs []experiment.TaskResult) []experiment.TaskResult {
	var out []experiment.TaskResult
	for _, r := range runs {
		if r.Status == "completed" {
			out = append(out, r)
		}
	}
	return out
}

func pairCorrelation(runs []experiment.TaskResult, a, b string) float64 {
	var xs, ys []float64
	for _, r := range runs {
		x, okX := numericValue(r.Metrics, r.Params, a)
		y, okY := numericValue(r.Metrics, r.Params, b)
		if !okX || !okY {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return pearson(xs, ys)
}

func pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}
	meanX, meanY := mean(x), mean(y)

	var numerator, sumXSq, sumYSq float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		numerator += dx * dy
		sumXSq += dx * dx
		sumYSq += dy * dy
	}
	denom := math.Sqrt(sumXSq * sumYSq)
	if denom == 0 {
		return 0
	}
	return numerator / denom
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// defaultFields picks every metric key plus every numeric param key seen
// across completed runs, for callers that don't want to name fields
// explicitly (e.g. the report generator's default correlation section).
func defaultFields(runs []experiment.TaskResult) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range onlyCompleted(runs) {
		for k := range r.Metrics {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
		for k, v := range r.Params {
			if seen[k] {
				continue
			}
			if _, ok := numericValue(nil, map[string]interface{}{k: v}, k); ok {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}
