package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"text/template"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const pacTemplate = `// Generated by zayproxy. Rules are evaluated highest priority first.
function FindProxyForURL(url, host) {
{{- range .Entries}}
    // {{.Label}}
{{- if .Skipped}}
    // left out: {{.Skipped}}
{{- else}}
    if ({{.Test}}) {
        return {{.Directive}};
    }
{{- end}}
{{- end}}
    return "DIRECT";
}
`

var pacTmpl = template.Must(template.New("pac").Parse(pacTemplate))

type pacEntry struct {
	Label string
	Test  string
	// Directive is a JSON-encoded JS string literal.
	Directive string
	// Skipped is why the rule has no PAC equivalent, if it has none.
	Skipped string
}

// pacDirective returns the FindProxyForURL result for a profile.
func pacDirective(p domain.Profile) (string, bool) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	switch p.Type {
	case domain.ProfileHTTP:
		return "PROXY " + addr, true
	case domain.ProfileHTTPS:
		return "HTTPS " + addr, true
	case domain.ProfileSOCKS5:
		return "SOCKS5 " + addr + "; SOCKS " + addr, true
	case domain.ProfileSOCKS4:
		return "SOCKS " + addr, true
	default:
		return "", false
	}
}

// GeneratePAC renders the rules as a proxy auto-config script. Rules that
// point at a missing or PAC profile, or whose pattern does not compile, are
// left out, as are rules with no JS equivalent, which keep a comment.
// Unmatched URLs go DIRECT.
func GeneratePAC(rules []domain.Rule, profiles []domain.Profile) (string, error) {
	byID := make(map[string]domain.Profile, len(profiles))
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	set := NewRuleSet(rules, WithKnownProfiles(ids))
	entries := make([]pacEntry, 0, set.Len())
	for _, cr := range set.rules {
		if cr.re == nil {
			continue
		}
		directive, ok := pacDirective(byID[cr.rule.ProfileID])
		if !ok {
			continue
		}
		label := cr.rule.Name
		if label == "" {
			label = cr.rule.Pattern
		}
		label = sanitizeComment(label)

		expr, insensitive, err := cr.strategy.Source(cr.rule.Pattern)
		if err != nil {
			entries = append(entries, pacEntry{Label: label, Skipped: sanitizeComment(err.Error())})
			continue
		}
		literal, err := json.Marshal(expr)
		if err != nil {
			return "", fmt.Errorf("failed to encode pattern %q: %w", cr.rule.Pattern, err)
		}
		quoted, err := json.Marshal(directive)
		if err != nil {
			return "", fmt.Errorf("failed to encode directive for rule %q: %w", cr.rule.ID, err)
		}
		flags := `""`
		if insensitive {
			flags = `"i"`
		}
		re := fmt.Sprintf("new RegExp(%s, %s)", literal, flags)
		test := re + ".test(url)"
		if cr.rule.Type != domain.MatchRegex {
			test += " || " + re + ".test(host)"
		}
		entries = append(entries, pacEntry{
			Label:     label,
			Test:      test,
			Directive: string(quoted),
		})
	}

	var buf bytes.Buffer
	if err := pacTmpl.Execute(&buf, struct{ Entries []pacEntry }{entries}); err != nil {
		return "", fmt.Errorf("failed to execute pac template: %w", err)
	}
	return buf.String(), nil
}

func sanitizeComment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
