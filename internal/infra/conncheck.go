package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/transport/socks5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/policy"
)

const (
	DefaultCheckURL     = "http://httpbin.org/ip"
	DefaultCheckTimeout = 10 * time.Second

	maxCheckBody = 64 << 10
)

// ProxyChecker implements domain.ConnectivityTester by fetching a check URL
// that echoes the caller's address, routed through the profile.
type ProxyChecker struct {
	checkURL string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProxyChecker creates a checker. Empty values fall back to the defaults.
func NewProxyChecker(checkURL string, timeout time.Duration, logger *zap.Logger) *ProxyChecker {
	if checkURL == "" {
		checkURL = DefaultCheckURL
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &ProxyChecker{checkURL: checkURL, timeout: timeout, logger: logger}
}

// Test issues one request through the profile. It never returns an error;
// failures are reported in the result.
func (p *ProxyChecker) Test(ctx context.Context, profile domain.Profile) domain.ConnectivityResult {
	result := domain.ConnectivityResult{ProfileID: profile.ID}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch profile.Type {
	case domain.ProfileHTTP, domain.ProfileHTTPS:
		result.EgressIP, err = p.checkHTTPProxy(ctx, profile)
	case domain.ProfileSOCKS5:
		result.EgressIP, err = p.checkSOCKS5(ctx, profile)
	case domain.ProfilePAC:
		err = p.checkPAC(ctx, profile)
	case domain.ProfileSOCKS4:
		err = errors.New("SOCKS4 connectivity test is not supported")
	default:
		err = fmt.Errorf("unknown profile type %q", profile.Type)
	}
	result.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		p.logger.Info("connectivity test failed",
			zap.String("profile", profile.ID),
			zap.Error(err))
		return result
	}
	result.Success = true
	p.logger.Info("connectivity test passed",
		zap.String("profile", profile.ID),
		zap.String("egress_ip", result.EgressIP),
		zap.Int64("latency_ms", result.LatencyMs))
	return result
}

func (p *ProxyChecker) checkHTTPProxy(ctx context.Context, profile domain.Profile) (string, error) {
	proxyURL, err := policy.ProxyURL(profile)
	if err != nil {
		return "", err
	}
	return p.fetchOrigin(ctx, &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	})
}

func (p *ProxyChecker) checkSOCKS5(ctx context.Context, profile domain.Profile) (string, error) {
	endpoint := &transport.TCPEndpoint{Address: net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port))}
	dialer, err := socks5.NewClient(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	if profile.HasCredentials() {
		if err := dialer.SetCredentials([]byte(profile.Username), []byte(profile.Password)); err != nil {
			return "", fmt.Errorf("invalid SOCKS5 credentials: %w", err)
		}
	}
	return p.fetchOrigin(ctx, &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialStream(ctx, addr)
		},
		DisableKeepAlives: true,
	})
}

// checkPAC only checks that the script is reachable and looks like a PAC file.
func (p *ProxyChecker) checkPAC(ctx context.Context, profile domain.Profile) error {
	if profile.PACURL == "" {
		return domain.NewValidationError("pacUrl", "required for PAC profiles")
	}
	body, err := p.get(ctx, http.DefaultTransport, profile.PACURL)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "FindProxyForURL") {
		return errors.New("PAC script does not define FindProxyForURL")
	}
	return nil
}

func (p *ProxyChecker) fetchOrigin(ctx context.Context, rt http.RoundTripper) (string, error) {
	body, err := p.get(ctx, rt, p.checkURL)
	if err != nil {
		return "", err
	}
	return parseOrigin(body)
}

func (p *ProxyChecker) get(ctx context.Context, rt http.RoundTripper, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	client := &http.Client{Transport: rt}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCheckBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, nil
}

// parseOrigin extracts the first address of an httpbin-style {"origin": ...}
// body. A body without origin is accepted with an empty address.
func parseOrigin(body []byte) (string, error) {
	var payload struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse check response: %w", err)
	}
	origin, _, _ := strings.Cut(payload.Origin, ",")
	return strings.TrimSpace(origin), nil
}

// Ensure ProxyChecker implements domain.ConnectivityTester.
var _ domain.ConnectivityTester = (*ProxyChecker)(nil)
