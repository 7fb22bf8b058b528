package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/duskrow/perpbacktest/internal/strategy"
)

// parseParamArgs turns CLI trailing args like "fast=5" "slow=20.0"
// "trend_filter=true" into a params map, typed according to d's
// ParameterSpec when the name is declared, or inferred (int, float,
// bool, then string) otherwise.
func parseParamArgs(d strategy.Descriptor, args []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("cli: parameter %q must be in key=value form", arg)
		}
		spec, declared := d.Parameters[k]
		if declared {
			parsed, err := coerce(v, spec.Type)
			if err != nil {
				return nil, fmt.Errorf("cli: parameter %s: %w", k, err)
			}
			out[k] = parsed
			continue
		}
		out[k] = inferType(v)
	}
	return out, nil
}

func coerce(v string, t strategy.ParamType) (interface{}, error) {
	switch t {
	case strategy.ParamInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", v)
		}
		return n, nil
	case strategy.ParamFloat:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", v)
		}
		return f, nil
	case strategy.ParamBool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("expected true/false, got %q", v)
		}
		return b, nil
	default:
		return v, nil
	}
}

func inferType(v string) interface{} {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
