package policy

import (
	"regexp"
	"strings"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// WildcardStrategy implements PatternStrategy for shell-style patterns.
// '*' matches any run of characters, '?' exactly one; everything else is
// literal. Matching is anchored at both ends and case-insensitive.
type WildcardStrategy struct{}

// NewWildcardStrategy creates the wildcard strategy.
func NewWildcardStrategy() *WildcardStrategy {
	return &WildcardStrategy{}
}

func (s *WildcardStrategy) Type() domain.MatchType {
	return domain.MatchWildcard
}

// Compile converts the wildcard into an anchored, case-insensitive expression.
func (s *WildcardStrategy) Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + wildcardExpr(pattern))
}

// Candidates tests the full URL first, then its hostname, so "*.example.com"
// routes "https://a.example.com/path" as well as the bare host.
func (s *WildcardStrategy) Candidates(rawURL string) []string {
	host := hostOf(rawURL)
	if host == "" || host == rawURL {
		return []string{rawURL}
	}
	return []string{rawURL, host}
}

// Source reuses the compiled expression; QuoteMeta escapes are valid in JS.
func (s *WildcardStrategy) Source(pattern string) (string, bool, error) {
	return wildcardExpr(pattern), true, nil
}

func wildcardExpr(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// Ensure WildcardStrategy implements PatternStrategy.
var _ PatternStrategy = (*WildcardStrategy)(nil)
