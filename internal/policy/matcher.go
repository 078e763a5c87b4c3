package policy

import (
	"regexp"
	"sort"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

type compiledRule struct {
	rule     domain.Rule
	strategy PatternStrategy
	re       *regexp.Regexp
}

// RuleSet is an immutable snapshot of the enabled rules, ordered by priority
// (highest first, ties in registration order) with patterns precompiled.
type RuleSet struct {
	rules []compiledRule
}

type options struct {
	registry *Registry
	known    map[string]bool
}

// Option configures NewRuleSet.
type Option func(*options)

// WithRegistry uses a custom strategy registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithKnownProfiles makes rules pointing at any other profile id non-matching.
func WithKnownProfiles(ids []string) Option {
	return func(o *options) {
		o.known = make(map[string]bool, len(ids))
		for _, id := range ids {
			o.known[id] = true
		}
	}
}

// NewRuleSet snapshots rules. The input slice is not modified.
// Rules whose pattern does not compile, or whose type is unknown, never match.
func NewRuleSet(rules []domain.Rule, opts ...Option) *RuleSet {
	o := options{registry: defaultRegistry}
	for _, opt := range opts {
		opt(&o)
	}

	enabled := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if o.known != nil && !o.known[r.ProfileID] {
			continue
		}
		enabled = append(enabled, r)
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})

	set := &RuleSet{rules: make([]compiledRule, 0, len(enabled))}
	for _, r := range enabled {
		cr := compiledRule{rule: r}
		if s, ok := o.registry.Get(r.Type); ok {
			cr.strategy = s
			if re, err := s.Compile(r.Pattern); err == nil {
				cr.re = re
			}
		}
		set.rules = append(set.rules, cr)
	}
	return set
}

// Match returns the first rule matching rawURL.
func (s *RuleSet) Match(rawURL string) (domain.Rule, bool) {
	for _, cr := range s.rules {
		if cr.re == nil {
			continue
		}
		for _, candidate := range cr.strategy.Candidates(rawURL) {
			if cr.re.MatchString(candidate) {
				return cr.rule, true
			}
		}
	}
	return domain.Rule{}, false
}

// MatchProfile returns the routed profile id, or "" when nothing matches.
func (s *RuleSet) MatchProfile(rawURL string) string {
	r, ok := s.Match(rawURL)
	if !ok {
		return ""
	}
	return r.ProfileID
}

// Rules returns the ordered rules of the snapshot.
func (s *RuleSet) Rules() []domain.Rule {
	out := make([]domain.Rule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

// Len returns the number of enabled rules in the snapshot.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Match routes rawURL with a fresh snapshot of rules.
// Returns the profile id or "".
func Match(rawURL string, rules []domain.Rule) string {
	return NewRuleSet(rules).MatchProfile(rawURL)
}
