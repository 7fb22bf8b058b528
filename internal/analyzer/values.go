package analyzer

import "fmt"

// stringifyValue renders a param value into a stable grouping key,
// regardless of whether it arrived as a Go int/float64 (in-process) or a
// JSON-decoded float64/string (read back from a JSONLStore).
func stringifyValue(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// numericValue extracts field as a float64, checking metrics first and
// falling back to params so a caller can name either without knowing
// which bucket it lives in. Non-numeric param values (e.g. "atr") are
// not convertible and return ok=false.
func numericValue(metrics map[string]float64, params map[string]interface{}, field string) (float64, bool) {
	if v, ok := metrics[field]; ok {
		return v, true
	}
	raw, ok := params[field]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
