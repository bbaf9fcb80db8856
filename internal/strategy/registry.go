package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hexvolt/hftbot/internal/domain"
)

// Deps bundles the collaborators a strategy factory may need.
type Deps struct {
	Positions PositionView
	Clock     domain.Clock
	Logger    *slog.Logger
}

// Factory builds a strategy instance of one kind from its configuration.
type Factory func(cfg Config, deps Deps) (Strategy, error)

// Registry maps strategy kind names to factories. New kinds register by name
// and parameter block; the engine never assumes a fixed set of kinds. Safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-populated with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterKind("scalping", NewScalping)
	r.RegisterKind("momentum", NewMomentum)
	r.RegisterKind("arbitrage", NewArbitrage)
	return r
}

// RegisterKind adds (or replaces) a factory under the given kind name.
func (r *Registry) RegisterKind(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New builds a strategy of the given kind.
func (r *Registry) New(kind string, cfg Config, deps Deps) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", kind, domain.ErrUnknownStrategy)
	}
	cfg.Kind = kind
	return f(cfg, deps)
}

// Kinds returns the registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
