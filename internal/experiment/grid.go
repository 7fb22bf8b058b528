package experiment

import (
	"fmt"
	"math"
	"sort"
)

// GridSpec is one parameter's sweep specification: an explicit list,
// a linear {start,stop,step} range, or a log-scale range with a fixed
// point count. Exactly one of the three should be populated.
type GridSpec struct {
	List []interface{}

	Start, Stop, Step float64
	HasRange          bool

	LogStart, LogStop float64
	LogNum            int
	HasLogScale       bool
}

// Values expands the spec into its concrete candidate values.
func (g GridSpec) Values() ([]interface{}, error) {
	switch {
	case len(g.List) > 0:
		return g.List, nil
	case g.HasRange:
		if g.Step == 0 {
			return nil, fmt.Errorf("experiment: range grid spec has zero step")
		}
		var out []interface{}
		for v := g.Start; (g.Step > 0 && v <= g.Stop) || (g.Step < 0 && v >= g.Stop); v += g.Step {
			out = append(out, v)
		}
		return out, nil
	case g.HasLogScale:
		if g.LogNum < 2 || g.LogStart <= 0 || g.LogStop <= 0 {
			return nil, fmt.Errorf("experiment: log_scale grid spec requires num>=2 and positive bounds")
		}
		logStart, logStop := math.Log(g.LogStart), math.Log(g.LogStop)
		step := (logStop - logStart) / float64(g.LogNum-1)
		out := make([]interface{}, g.LogNum)
		for i := 0; i < g.LogNum; i++ {
			out[i] = math.Exp(logStart + step*float64(i))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("experiment: grid spec has no list, range, or log_scale populated")
	}
}

// ExpandGrid returns the Cartesian product of paramGrid's values, one
// map per combination, in deterministic key order. maxCombinations, if
// > 0, truncates the result (the caller's log should note the drop).
func ExpandGrid(paramGrid map[string]GridSpec, maxCombinations int) ([]map[string]interface{}, error) {
	if len(paramGrid) == 0 {
		return []map[string]interface{}{{}}, nil
	}

	keys := make([]string, 0, len(paramGrid))
	for k := range paramGrid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]interface{}, len(keys))
	for i, k := range keys {
		vs, err := paramGrid[k].Values()
		if err != nil {
			return nil, fmt.Errorf("experiment: param %q: %w", k, err)
		}
		values[i] = vs
	}

	var combos []map[string]interface{}
	var recurse func(idx int, cur map[string]interface{})
	recurse = func(idx int, cur map[string]interface{}) {
		if maxCombinations > 0 && len(combos) >= maxCombinations {
			return
		}
		if idx == len(keys) {
			clone := make(map[string]interface{}, len(cur))
			for k, v := range cur {
				clone[k] = v
			}
			combos = append(combos, clone)
			return
		}
		for _, v := range values[idx] {
			cur[keys[idx]] = v
			recurse(idx+1, cur)
			if maxCombinations > 0 && len(combos) >= maxCombinations {
				return
			}
		}
	}
	recurse(0, map[string]interface{}{})

	return combos, nil
}

// RandomSample draws n combinations from paramGrid's space uniformly
// at random using rng (injected so callers control the seed, per the
// spec's determinism requirement), without requiring the full
// Cartesian product to be materialized.
func RandomSample(paramGrid map[string]GridSpec, n int, rng func() float64) ([]map[string]interface{}, error) {
	keys := make([]string, 0, len(paramGrid))
	for k := range paramGrid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]interface{}, len(keys))
	for i, k := range keys {
		vs, err := paramGrid[k].Values()
		if err != nil {
			return nil, fmt.Errorf("experiment: param %q: %w", k, err)
		}
		if len(vs) == 0 {
			return nil, fmt.Errorf("experiment: param %q has no candidate values", k)
		}
		values[i] = vs
	}

	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		combo := make(map[string]interface{}, len(keys))
		for j, k := range keys {
			pick := int(rng() * float64(len(values[j])))
			if pick >= len(values[j]) {
				pick = len(values[j]) - 1
			}
			combo[k] = values[j][pick]
		}
		out = append(out, combo)
	}
	return out, nil
}
