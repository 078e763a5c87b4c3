package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// Registry holds the pattern strategies by match type.
// It is read-only after construction.
type Registry struct {
	strategies map[domain.MatchType]PatternStrategy
}

// NewRegistry creates a registry with the wildcard and regex strategies.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[domain.MatchType]PatternStrategy),
	}

	r.Register(NewWildcardStrategy())
	r.Register(NewRegexStrategy())

	return r
}

// NewRegistryWithStrategies creates a registry with custom strategies (for testing).
func NewRegistryWithStrategies(strategies ...PatternStrategy) *Registry {
	r := &Registry{
		strategies: make(map[domain.MatchType]PatternStrategy),
	}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds a strategy to the registry.
func (r *Registry) Register(s PatternStrategy) {
	r.strategies[s.Type()] = s
}

// Get returns the strategy for a match type. An empty type means wildcard.
func (r *Registry) Get(t domain.MatchType) (PatternStrategy, bool) {
	if t == "" {
		t = domain.MatchWildcard
	}
	s, ok := r.strategies[t]
	return s, ok
}

// Types returns the registered match types, sorted.
func (r *Registry) Types() []domain.MatchType {
	types := make([]domain.MatchType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate checks that pattern is non-empty, the type is known and the
// pattern compiles under it.
func (r *Registry) Validate(t domain.MatchType, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return domain.NewValidationError("pattern", "must not be empty")
	}
	s, ok := r.Get(t)
	if !ok {
		names := make([]string, 0, len(r.strategies))
		for _, known := range r.Types() {
			names = append(names, string(known))
		}
		return domain.NewValidationError("type",
			fmt.Sprintf("%q is not one of %s", t, strings.Join(names, ", ")))
	}
	if _, err := s.Compile(pattern); err != nil {
		return domain.NewValidationError("pattern", fmt.Sprintf("does not compile: %v", err))
	}
	return nil
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the shared registry of built-in strategies.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
