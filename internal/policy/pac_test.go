package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

func TestJSRegexSource(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{name: "plain", pattern: `^https://git\.`, want: `^https:\/\/git\.`},
		{name: "inline case folding", pattern: `(?i)bank`, want: `[Bb][Aa][Nn][Kk\u212A]`},
		{name: "text anchors", pattern: `\Aapi\.example\.com\z`, want: `^api\.example\.com$`},
		{name: "quoted literal", pattern: `\Qa.b\E`, want: `a\.b`},
		{name: "posix class", pattern: `[[:digit:]]+`, want: `[0-9]+`},
		{name: "named group", pattern: `(?P<tld>[a-z]+)$`, want: `([a-z]+)$`},
		{name: "grouped repetition", pattern: `(?:ab)+`, want: `(?:ab)+`},
		{name: "lazy bounded repeat", pattern: `x{2,}?y{1,3}z{4}`, want: `x{2,}?y{1,3}z{4}`},
		{name: "alternation", pattern: `foo|bar`, want: `(?:foo|bar)`},
		{name: "dot excludes only newline", pattern: `a.b`, want: `a[^\n]b`},
		{name: "dot all", pattern: `(?s)a.b`, want: `a[\s\S]b`},
		{name: "non-ascii literal", pattern: `café`, want: `caf\u00E9`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsRegexSource(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSRegexSource_WideClassesKeepSurrogates(t *testing.T) {
	got, err := jsRegexSource(`[^/]+`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, `\uD800-\uDFFF]+`), got)
	assert.NotContains(t, got, "/")

	got, err = jsRegexSource(`\p{Greek}`)
	require.NoError(t, err)
	assert.NotContains(t, got, `\p`)
	assert.True(t, strings.HasPrefix(got, "["), got)
}

func TestGeneratePAC_QuotesDirective(t *testing.T) {
	profiles := []domain.Profile{
		{ID: "evil", Type: domain.ProfileHTTP, Host: `evil"; } return "PROXY 6.6.6.6:1"; { "`, Port: 80},
	}
	rules := []domain.Rule{rule("r1", "*.example.com", domain.MatchWildcard, "evil", 0)}

	script, err := GeneratePAC(rules, profiles)
	require.NoError(t, err)

	assert.NotContains(t, script, `return "PROXY 6.6.6.6:1";`)
	assert.Contains(t, script, `\"PROXY 6.6.6.6:1\"`)
	returns := 0
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "return ") {
			returns++
		}
	}
	assert.Equal(t, 2, returns, "one rule plus the DIRECT fallback")
}

func TestGeneratePAC_TranslatesRegexRules(t *testing.T) {
	profiles := []domain.Profile{{ID: "w", Type: domain.ProfileHTTP, Host: "10.1.1.1", Port: 8080}}
	bank := rule("r1", `(?i)bank\z`, domain.MatchRegex, "w", 0)
	bank.Name = "banking"

	script, err := GeneratePAC([]domain.Rule{bank}, profiles)
	require.NoError(t, err)

	assert.NotContains(t, script, "(?i)")
	assert.Contains(t, script, `new RegExp("[Bb][Aa][Nn][Kk\\u212A]$", "").test(url)`)
	assert.NotContains(t, script, ".test(host)", "regex rules see the URL only")
}

func TestGeneratePAC_CommentsCannotBreakLines(t *testing.T) {
	profiles := []domain.Profile{{ID: "w", Type: domain.ProfileHTTP, Host: "10.1.1.1", Port: 8080}}
	r := rule("r1", "*.example.com", domain.MatchWildcard, "w", 0)
	r.Name = "a\u2028return \"PROXY 6.6.6.6:1\";"

	script, err := GeneratePAC([]domain.Rule{r}, profiles)
	require.NoError(t, err)

	assert.NotContains(t, script, "\u2028")
	assert.Contains(t, script, "// a return \"PROXY 6.6.6.6:1\";")
}
