// Package strategy defines the strategy capability consumed by the event
// backtester, plus the reference strategies used by the CLI and the
// walk-forward engine.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantframe/backlite/pkg/models"
)

// Strategy receives market events and emits signals. A strategy owns its own
// indicator state; the backtester never inspects it.
type Strategy interface {
	Name() string
	// SetParams applies a named parameter mapping. Unknown keys are ignored
	// so one grid can drive heterogeneous strategies.
	SetParams(params map[string]float64) error
	// OnBar processes one candle and returns zero or more signals.
	OnBar(bar models.Bar) []models.Signal
}

// TickStrategy is implemented by strategies that also consume raw ticks.
type TickStrategy interface {
	Strategy
	OnTick(tick models.Tick) []models.Signal
}

// Constructor builds a fresh strategy instance. Walk-forward evaluation
// constructs a new instance per window phase, so constructors must not share
// mutable state.
type Constructor func() Strategy

// Registry maps strategy names to constructors. It is an explicit object
// created at process start and passed by handle; there is no package-level
// registry.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under a name. Duplicate names are an error.
func (r *Registry) Register(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.ctors[name] = ctor
	return nil
}

// Create instantiates a fresh strategy by name.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return ctor(), nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the reference strategies installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ma_crossover", func() Strategy { return NewMACrossover() })
	r.Register("momentum", func() Strategy { return NewMomentum() })
	return r
}
