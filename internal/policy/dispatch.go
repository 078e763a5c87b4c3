package policy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

var proxySchemes = map[domain.ProfileType]string{
	domain.ProfileHTTP:   "http",
	domain.ProfileHTTPS:  "https",
	domain.ProfileSOCKS4: "socks4",
	domain.ProfileSOCKS5: "socks5",
}

// ProxyURL builds the URL a client dials to use profile p, credentials included.
// PAC profiles have no single proxy and return an error.
func ProxyURL(p domain.Profile) (*url.URL, error) {
	scheme, ok := proxySchemes[p.Type]
	if !ok {
		return nil, fmt.Errorf("profile type %s has no proxy URL", p.Type)
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.HasCredentials() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// ProxyFor returns the proxy a request to target should use under profile p,
// or nil when the bypass list (or loopback) sends it direct. Bypass entries
// follow NO_PROXY syntax: domains, "*.domain", ".domain", IPs and CIDRs.
func ProxyFor(target *url.URL, p domain.Profile) (*url.URL, error) {
	proxy, err := ProxyURL(p)
	if err != nil {
		return nil, err
	}

	// httpproxy only understands http(s) and socks5 schemes, so the bypass
	// decision is made with a placeholder and the real URL returned after.
	placeholder := "http://" + proxy.Host
	cfg := httpproxy.Config{
		HTTPProxy:  placeholder,
		HTTPSProxy: placeholder,
		NoProxy:    strings.Join(p.BypassList, ","),
	}
	via, err := cfg.ProxyFunc()(target)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate bypass list: %w", err)
	}
	if via == nil {
		return nil, nil
	}
	return proxy, nil
}

// Route matches rawURL against set and resolves the proxy through the matched
// profile. profiles is looked up by id.
func Route(set *RuleSet, profiles map[string]domain.Profile, rawURL string) domain.MatchResult {
	result := domain.MatchResult{URL: rawURL}
	rule, ok := set.Match(rawURL)
	if !ok {
		return result
	}
	result.Matched = true
	result.RuleID = rule.ID
	result.ProfileID = rule.ProfileID

	profile, ok := profiles[rule.ProfileID]
	if !ok {
		return result
	}
	result.Profile = &profile

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		target, err = url.Parse("http://" + rawURL)
		if err != nil {
			return result
		}
	}
	if proxy, err := ProxyFor(target, profile); err == nil && proxy != nil {
		redacted := *proxy
		if redacted.User != nil {
			redacted.User = url.User(redacted.User.Username())
		}
		result.ProxyURL = redacted.String()
	}
	return result
}
