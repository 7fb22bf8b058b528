// Package strategy defines the contract strategies implement, the two
// supported lifecycle shapes (imperative/declarative), and a process-wide
// registry the CLI and experiment runner use to discover them.
package strategy

import (
	"fmt"
	"sync"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
)

// ParamType is the primitive type a ParameterSpec's value takes.
type ParamType string

const (
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamString ParamType = "string"
)

// ParameterSpec describes one tunable parameter: its type, default, and
// (for numeric types) the range the experiment runner may search.
type ParameterSpec struct {
	Name    string
	Type    ParamType
	Default interface{}
	Min     float64
	Max     float64
	Choices []string
}

// Metadata is optional descriptive information about a strategy.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Author      string
	Version     string
}

// Signal is one of the three discrete position states a declarative
// strategy may occupy at a bar.
type Signal int

const (
	SignalShort Signal = -1
	SignalFlat  Signal = 0
	SignalLong  Signal = 1
)

// BarContext is passed to an imperative strategy on each bar: the bar
// index and OHLCV row, the full data map for the run (for strategies
// that need other series kinds), and the broker to act through.
type BarContext struct {
	Index  int
	Bar    series.Bar
	Data   map[series.Kind]series.Series
	Broker *broker.Broker
}

// Imperative is one of the two strategy lifecycle shapes: constructed
// with a broker and the run's data, then driven one bar at a time.
type Imperative interface {
	OnBar(ctx BarContext) error
}

// Declarative is the vectorized lifecycle shape: invoked once with the
// full data map and parameters, returning one signal per OHLCV bar. A
// signal at index i MUST depend only on data[:i+1] (no look-ahead); a
// repeated value across consecutive bars represents holding the
// position established at the last transition.
type Declarative interface {
	ComputeSignals(data map[series.Kind]series.Series, params map[string]interface{}) ([]Signal, error)
}

// Factory builds one instance of a strategy for a single backtest run.
// The returned value MUST implement Imperative or Declarative (the
// engine type-switches on it to detect the shape) — this is the Go
// equivalent of inspecting constructor arity: the shape is discovered
// from the interface the returned instance satisfies, not reflection
// over the factory's own signature.
type Factory func(b *broker.Broker, data map[series.Kind]series.Series, params map[string]interface{}) (interface{}, error)

// Descriptor is everything the registry, CLI, and experiment runner need
// to know about a strategy without instantiating it.
type Descriptor struct {
	ID               string
	Metadata         Metadata
	Parameters       map[string]ParameterSpec
	DataRequirements []series.DataRequirement
	New              Factory
	// ValidateParameters enforces cross-parameter constraints (e.g.
	// fast<slow). Optional; nil means no cross-parameter constraint.
	ValidateParameters func(params map[string]interface{}) error
}

// Validate checks the descriptor's own invariants: an ID, a non-nil
// Factory, and that DataRequirements' first element is OHLCV per the
// contract.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("strategy: descriptor must declare a non-empty ID")
	}
	if d.New == nil {
		return fmt.Errorf("strategy %s: descriptor must declare a Factory", d.ID)
	}
	if len(d.DataRequirements) == 0 || d.DataRequirements[0].SourceKind != series.KindOHLCV {
		return fmt.Errorf("strategy %s: first data requirement must be OHLCV", d.ID)
	}
	return nil
}

// Registry is a process-wide, concurrency-safe strategy catalogue.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Descriptor)}
}

// Register adds a descriptor, rejecting a duplicate ID or a descriptor
// that fails Validate.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[d.ID]; exists {
		return fmt.Errorf("strategy: %q is already registered", d.ID)
	}
	r.strategies[d.ID] = d
	return nil
}

// Get returns the descriptor for id, or an error if unregistered.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.strategies[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("strategy: %q is not registered", id)
	}
	return d, nil
}

// List returns every registered (id, metadata) pair.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.strategies))
	for _, d := range r.strategies {
		out = append(out, d.Metadata)
	}
	return out
}

// FillDefaults returns a copy of params with any parameter the
// descriptor declares but params omits set to its Default.
func FillDefaults(d Descriptor, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(d.Parameters))
	for name, spec := range d.Parameters {
		out[name] = spec.Default
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

