package infra

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const (
	netshBin = "netsh"
	regBin   = "reg"

	targetWinHTTP = "WinHTTP"
	targetWinINet = "WinINet"

	internetSettingsKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Internet Settings`
)

// NetshProxyAdapter implements domain.ProxyAdapter on Windows. WinHTTP is set
// with netsh, the per-user WinINet settings with reg.
type NetshProxyAdapter struct {
	runner   domain.CommandRunner
	timeout  time.Duration
	executor *planExecutor
	logger   *zap.Logger
}

// NewNetshProxyAdapter creates the Windows proxy adapter.
func NewNetshProxyAdapter(runner domain.CommandRunner, timeout time.Duration, logger *zap.Logger) *NetshProxyAdapter {
	return &NetshProxyAdapter{
		runner:  runner,
		timeout: timeout,
		executor: &planExecutor{
			runner:  runner,
			timeout: timeout,
			check:   exitStatusCheck,
			logger:  logger,
		},
		logger: logger,
	}
}

func (a *NetshProxyAdapter) Platform() string {
	return "windows"
}

// ListManagedTargets returns the fixed WinHTTP and WinINet targets.
func (a *NetshProxyAdapter) ListManagedTargets(ctx context.Context) ([]string, error) {
	return []string{targetWinHTTP, targetWinINet}, nil
}

func regSet(value, kind, data string) domain.Command {
	return domain.Command{
		Name: regBin,
		Args: []string{"add", internetSettingsKey, "/v", value, "/t", kind, "/d", data, "/f"},
	}
}

// Apply sets the machine WinHTTP proxy and the user WinINet proxy.
// SOCKS profiles are applied with HTTP proxy semantics and a warning.
func (a *NetshProxyAdapter) Apply(ctx context.Context, p domain.Profile) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.Platform()}
	defer func() { logApplyResult(a.logger.With(zap.String("profile", p.ID)), "apply proxy", result) }()

	result.Targets, _ = a.ListManagedTargets(ctx)

	if p.Type == domain.ProfilePAC {
		result.Err = &domain.UnsupportedPlatformError{Platform: a.Platform(), Operation: "PAC profiles"}
		result.Classify()
		return result
	}
	if p.Type.IsSOCKS() {
		result.AddWarning(fmt.Sprintf("%s is not supported by the Windows system proxy; applied as an HTTP proxy", p.Type))
	}
	if p.HasCredentials() {
		result.AddWarning("proxy credentials cannot be stored in the Windows system proxy; clients will prompt for them")
	}

	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	winhttp := domain.Command{
		Name: netshBin,
		Args: []string{"winhttp", "set", "proxy", "proxy-server=" + addr},
	}
	if len(p.BypassList) > 0 {
		winhttp.Args = append(winhttp.Args, "bypass-list="+strings.Join(p.BypassList, ";"))
	}

	steps := []step{
		{targetWinHTTP, winhttp},
		{targetWinINet, regSet("ProxyServer", "REG_SZ", addr)},
		{targetWinINet, regSet("ProxyEnable", "REG_DWORD", "1")},
	}
	if len(p.BypassList) > 0 {
		steps = append(steps, step{targetWinINet, regSet("ProxyOverride", "REG_SZ", strings.Join(p.BypassList, ";"))})
	}

	a.executor.execute(ctx, steps, result)
	result.Classify()
	classifyPermission(result, "set system proxy")

	if result.Outcome != domain.OutcomeFailed {
		v, err := a.Verify(ctx, p)
		if err != nil {
			result.AddWarning(fmt.Sprintf("verification failed: %v", err))
		} else {
			result.Verification = v
			if !v.Matches {
				result.AddWarning(fmt.Sprintf("verification mismatch on %s: %s", v.Target, v.Detail))
			}
		}
	}
	return result
}

// Disable resets WinHTTP to direct access and turns the WinINet proxy off.
func (a *NetshProxyAdapter) Disable(ctx context.Context) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.Platform()}
	defer func() { logApplyResult(a.logger, "disable proxy", result) }()

	result.Targets, _ = a.ListManagedTargets(ctx)
	steps := []step{
		{targetWinHTTP, domain.Command{Name: netshBin, Args: []string{"winhttp", "reset", "proxy"}}},
		{targetWinINet, regSet("ProxyEnable", "REG_DWORD", "0")},
	}

	a.executor.execute(ctx, steps, result)
	result.Classify()
	classifyPermission(result, "reset system proxy")
	return result
}

// Verify reads back the WinHTTP proxy.
func (a *NetshProxyAdapter) Verify(ctx context.Context, p domain.Profile) (*domain.Verification, error) {
	cmd := domain.Command{Name: netshBin, Args: []string{"winhttp", "show", "proxy"}}
	res := a.runner.Run(ctx, cmd, a.timeout)
	if !res.Succeeded() {
		return nil, fmt.Errorf("netsh winhttp show proxy: %s", describeFailure(res))
	}

	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	out := res.Stdout
	v := &domain.Verification{
		Target:  targetWinHTTP,
		Enabled: !strings.Contains(out, "Direct access"),
	}
	if strings.Contains(out, addr) {
		v.Host = p.Host
		v.Port = p.Port
	}
	v.Matches = v.Enabled && v.Host != ""
	if !v.Matches {
		v.Detail = fmt.Sprintf("expected proxy server %s in: %s", addr, trimOutput(out))
	}
	return v, nil
}

// isPermissionDenied recognizes elevation failures in netsh and reg output.
func isPermissionDenied(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "requires elevation") ||
		strings.Contains(lower, "access is denied") ||
		strings.Contains(lower, "run as administrator")
}

// classifyPermission marks a failed result as a PermissionError when a step
// was refused for lack of privilege.
func classifyPermission(result *domain.ApplyResult, op string) {
	if result.Outcome != domain.OutcomeFailed || result.Err != nil {
		return
	}
	for _, s := range result.Failures() {
		if isPermissionDenied(s.Output) || isPermissionDenied(s.Error) {
			result.Err = &domain.PermissionError{Operation: op, Detail: s.Error}
			return
		}
	}
}

// Ensure NetshProxyAdapter implements domain.ProxyAdapter.
var _ domain.ProxyAdapter = (*NetshProxyAdapter)(nil)
