// Package strategy defines the Strategy interface for cross-sectional
// signals, a Registry of named strategy factories, and the Backtester that
// runs a strategy through the full pipeline.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"quantdash/internal/domain"
)

// Strategy scores a single ticker's price history.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Score returns one SignalPoint per observation in series, in the same
	// order. A point is undefined while the ticker lacks enough history.
	// Score must not read prices later than the point it is scoring.
	Score(series *domain.PriceSeries) []domain.SignalPoint
}

// Factory builds a Strategy configured from run parameters.
type Factory func(p domain.Params) (Strategy, error)

// Registry holds a named collection of strategy factories for lookup and
// enumeration. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the factory was found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Build looks up p.Signal and constructs the strategy. An unknown name is a
// *domain.ParamError on the "signal" field.
func (r *Registry) Build(p domain.Params) (Strategy, error) {
	f, ok := r.Get(p.Signal)
	if !ok {
		return nil, &domain.ParamError{
			Field:  "signal",
			Reason: fmt.Sprintf("unknown signal %q (available: %v)", p.Signal, r.List()),
		}
	}
	return f(p)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
