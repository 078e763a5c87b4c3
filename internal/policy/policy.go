// Package policy implements URL routing policy.
// Each rule match type (wildcard, regex) is a PatternStrategy; a RuleSet is an
// immutable, precompiled snapshot of the rules used to route URLs to profiles.
// Everything in this package is pure and safe for concurrent use.
package policy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// PatternStrategy defines how one rule match type is interpreted.
type PatternStrategy interface {
	// Type returns the match type this strategy handles.
	Type() domain.MatchType

	// Compile turns a pattern into a regular expression.
	Compile(pattern string) (*regexp.Regexp, error)

	// Candidates returns the strings of rawURL the pattern is tested against,
	// in order. A rule matches if any candidate matches.
	Candidates(rawURL string) []string

	// Source returns the JavaScript RegExp source to embed in a PAC script
	// and whether it is case-insensitive.
	Source(pattern string) (expr string, caseInsensitive bool, err error)
}

// hostOf extracts the hostname from rawURL. Inputs without a scheme are
// parsed as http URLs. Returns "" when no host can be found.
func hostOf(rawURL string) string {
	candidate := rawURL
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
