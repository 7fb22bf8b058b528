package analyzer

import (
	"sort"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// permutationRepeats is how many shuffles are averaged per parameter to
// smooth out the noise a single permutation would introduce.
const permutationRepeats = 5

// ParameterImportance scores each parameter's contribution to metric
// using permutation importance on a group-mean surrogate: predict metric
// from a parameter's discrete value by that value's group mean, measure
// the residual sum of squares, then measure how much worse that residual
// gets once the parameter's values are randomly reassigned (breaking any
// real association). A parameter whose grouping does little better than
// random gets a near-zero score; scores are normalized to sum to 1.
//
// Deterministic and reproducible given seed, per §4.13.
func ParameterImportance(runs []experiment.TaskResult, metric string, seed int64) map[string]float64 {
	completed := completedWithMetric(runs, metric)
	if len(completed) < 2 {
		return map[string]float64{}
	}

	y := make([]float64, len(completed))
	for i, r := range completed {
		y[i] = r.Metrics[metric]
	}

	paramNames := collectParamNames(completed)
	raw := make(map[string]float64, len(paramNames))

	for idx, name := range paramNames {
		groups := make([]string, len(completed))
		for i, r := range completed {
			groups[i] = stringifyValue(r.Params[name])
		}

		baseRSS := groupMeanRSS(groups, y)

		rng := deterministicRNG(seed + int64(idx)*104729 + 1)
		var permSum float64
		for rep := 0; rep < permutationRepeats; rep++ {
			shuffled := shuffleStrings(groups, rng)
			permSum += groupMeanRSS(shuffled, y)
		}
		avgPermRSS := permSum / float64(permutationRepeats)

		importance := avgPermRSS - baseRSS
		if importance < 0 {
			importance = 0
		}
		raw[name] = importance
	}

	return normalize(raw)
}

func completedWithMetric(runs []experiment.TaskResult, metric string) []experiment.TaskResult {
	var out []experiment.TaskResult
	for _, r := range runs {
		if r.Status != "completed" {
			continue
		}
		if _, ok := r.Metrics[metric]; !ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

func collectParamNames(runs []experiment.TaskResult) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range runs {
		for k := range r.Params {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// groupMeanRSS computes the residual sum of squares of y against the
// mean of y within each distinct group label.
func groupMeanRSS(groups []string, y []float64) float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for i, g := range groups {
		sums[g] += y[i]
		counts[g]++
	}
	means := map[string]float64{}
	for g, s := range sums {
		means[g] = s / float64(counts[g])
	}

	var rss float64
	for i, g := range groups {
		d := y[i] - means[g]
		rss += d * d
	}
	return rss
}

func shuffleStrings(in []string, rng func() float64) []string {
	out := append([]string(nil), in...)
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng() * float64(i+1))
		if j > i {
			j = i
		}
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func normalize(raw map[string]float64) map[string]float64 {
	var total float64
	for _, v := range raw {
		total += v
	}
	out := make(map[string]float64, len(raw))
	if total == 0 {
		for k := range raw {
			out[k] = 0
		}
		return out
	}
	for k, v := range raw {
		out[k] = v / total
	}
	return out
}

// deterministicRNG mirrors experiment.deterministicRNG's seeded LCG: a
// small linear congruential generator rather than math/rand's global
// source, so the same seed always reproduces the same shuffle sequence.
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
