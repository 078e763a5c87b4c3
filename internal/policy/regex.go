package policy

import (
	"regexp"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// RegexStrategy implements PatternStrategy for regular expressions (RE2
// syntax). Patterns are unanchored and case-sensitive unless they say
// otherwise, and are tested against the full URL only.
type RegexStrategy struct{}

// NewRegexStrategy creates the regex strategy.
func NewRegexStrategy() *RegexStrategy {
	return &RegexStrategy{}
}

func (s *RegexStrategy) Type() domain.MatchType {
	return domain.MatchRegex
}

func (s *RegexStrategy) Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}

func (s *RegexStrategy) Candidates(rawURL string) []string {
	return []string{rawURL}
}

// Source translates the RE2 pattern to JS syntax; case folding is spelled
// out in the expression rather than passed as a flag.
func (s *RegexStrategy) Source(pattern string) (string, bool, error) {
	expr, err := jsRegexSource(pattern)
	return expr, false, err
}

// Ensure RegexStrategy implements PatternStrategy.
var _ PatternStrategy = (*RegexStrategy)(nil)
