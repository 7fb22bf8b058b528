package main

import (
	"github.com/duskrow/perpbacktest/internal/strategy"
	"github.com/duskrow/perpbacktest/internal/strategy/strategies/rsireversion"
	"github.com/duskrow/perpbacktest/internal/strategy/strategies/smacross"
)

// builtinRegistry returns a Registry pre-populated with the two
// reference strategies every build carries.
func builtinRegistry() (*strategy.Registry, error) {
	r := strategy.NewRegistry()
	for _, d := range []strategy.Descriptor{smacross.Descriptor(), rsireversion.Descriptor()} {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
