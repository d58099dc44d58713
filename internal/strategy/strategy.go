// Package strategy defines the Strategy interface for signal generation and
// provides a Registry for selecting an implementation by name.
package strategy

import (
	"fmt"
	"sort"

	"b3quant/internal/domain"
	"b3quant/internal/indicators"
)

// Strategy turns one bar and its indicator snapshot into a trading signal.
// Implementations must be deterministic and must not retain state between
// calls, so one instance can serve concurrent runs.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Signal returns buy, sell or hold for the bar. Undefined indicators
	// must produce hold.
	Signal(bar domain.Bar, snap indicators.Snapshot) domain.Signal
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Lookup is Get with an error naming the known strategies.
func (r *Registry) Lookup(name string) (Strategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, r.List())
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
