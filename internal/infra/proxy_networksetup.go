package infra

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const networksetupBin = "networksetup"

// defaultNetworkServices is used when discovery returns no enabled service.
var defaultNetworkServices = []string{"Wi-Fi", "Ethernet"}

// NetworkSetupAdapter implements domain.ProxyAdapter on macOS by driving
// networksetup once per enabled network service.
type NetworkSetupAdapter struct {
	runner   domain.CommandRunner
	timeout  time.Duration
	executor *planExecutor
	logger   *zap.Logger
}

// NewNetworkSetupAdapter creates the macOS proxy adapter.
func NewNetworkSetupAdapter(runner domain.CommandRunner, timeout time.Duration, logger *zap.Logger) *NetworkSetupAdapter {
	return &NetworkSetupAdapter{
		runner:  runner,
		timeout: timeout,
		executor: &planExecutor{
			runner:  runner,
			timeout: timeout,
			check:   networksetupCheck,
			logger:  logger,
		},
		logger: logger,
	}
}

func (a *NetworkSetupAdapter) Platform() string {
	return "darwin"
}

// networksetupCheck treats "** Error" output as failure; networksetup often
// exits 0 when it rejects an argument.
func networksetupCheck(res domain.CommandResult) (bool, string) {
	if failed, detail := exitStatusCheck(res); failed {
		return true, detail
	}
	out := res.Output()
	if strings.Contains(out, "** Error") || strings.Contains(out, "is not a recognized network service") {
		return true, trimOutput(out)
	}
	return false, ""
}

// parseNetworkServices reads -listallnetworkservices output. The first line
// is an explanatory header and services marked with '*' are disabled.
func parseNetworkServices(out string) []string {
	var services []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue
		}
		if line == "" || strings.Contains(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services
}

// discover lists the enabled network services.
func (a *NetworkSetupAdapter) discover(ctx context.Context) ([]string, []string, error) {
	cmd := domain.Command{Name: networksetupBin, Args: []string{"-listallnetworkservices"}}
	res := a.runner.Run(ctx, cmd, a.timeout)
	if failed, detail := networksetupCheck(res); failed {
		return nil, nil, fmt.Errorf("failed to list network services: %s", detail)
	}

	services := parseNetworkServices(res.Stdout)
	if len(services) == 0 {
		warning := fmt.Sprintf("no enabled network services found, falling back to %s",
			strings.Join(defaultNetworkServices, ", "))
		a.logger.Warn(warning)
		return append([]string(nil), defaultNetworkServices...), []string{warning}, nil
	}
	return services, nil, nil
}

// ListManagedTargets returns the enabled network services.
func (a *NetworkSetupAdapter) ListManagedTargets(ctx context.Context) ([]string, error) {
	targets, _, err := a.discover(ctx)
	return targets, err
}

// setProxyCommand builds "-set<kind> <service> <host> <port> [on <user> <pass>]".
func setProxyCommand(flag, service string, p domain.Profile) domain.Command {
	cmd := domain.Command{
		Name: networksetupBin,
		Args: []string{flag, service, p.Host, strconv.Itoa(p.Port)},
	}
	if p.HasCredentials() {
		cmd.Args = append(cmd.Args, "on", p.Username, p.Password)
		cmd.Secret = []int{len(cmd.Args) - 1}
	}
	return cmd
}

func stateCommand(flag, service, state string) domain.Command {
	return domain.Command{Name: networksetupBin, Args: []string{flag, service, state}}
}

// plan returns the ordered mutation steps for every service.
func (a *NetworkSetupAdapter) plan(p domain.Profile, services []string) ([]step, error) {
	if p.Type == domain.ProfilePAC && p.PACURL == "" {
		return nil, domain.NewValidationError("pacUrl", "required to apply a PAC profile")
	}

	var steps []step
	for _, svc := range services {
		switch {
		case p.Type == domain.ProfileHTTP || p.Type == domain.ProfileHTTPS:
			steps = append(steps,
				step{svc, setProxyCommand("-setwebproxy", svc, p)},
				step{svc, stateCommand("-setwebproxystate", svc, "on")},
				step{svc, setProxyCommand("-setsecurewebproxy", svc, p)},
				step{svc, stateCommand("-setsecurewebproxystate", svc, "on")},
			)
		case p.Type.IsSOCKS():
			steps = append(steps,
				step{svc, setProxyCommand("-setsocksfirewallproxy", svc, p)},
				step{svc, stateCommand("-setsocksfirewallproxystate", svc, "on")},
			)
		case p.Type == domain.ProfilePAC:
			steps = append(steps,
				step{svc, domain.Command{Name: networksetupBin, Args: []string{"-setautoproxyurl", svc, p.PACURL}}},
				step{svc, stateCommand("-setautoproxystate", svc, "on")},
			)
		default:
			return nil, &domain.UnsupportedPlatformError{Platform: "darwin", Operation: fmt.Sprintf("profile type %q", p.Type)}
		}

		if len(p.BypassList) > 0 {
			args := append([]string{"-setproxybypassdomains", svc}, p.BypassList...)
			steps = append(steps, step{svc, domain.Command{Name: networksetupBin, Args: args}})
		}
	}
	return steps, nil
}

// Apply configures the profile on every enabled network service.
func (a *NetworkSetupAdapter) Apply(ctx context.Context, p domain.Profile) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.Platform()}
	defer func() { logApplyResult(a.logger.With(zap.String("profile", p.ID)), "apply proxy", result) }()

	services, warnings, err := a.discover(ctx)
	if err != nil {
		result.Err = err
		result.Classify()
		return result
	}
	result.Targets = services
	result.Warnings = append(result.Warnings, warnings...)

	steps, err := a.plan(p, services)
	if err != nil {
		result.Err = err
		result.Classify()
		return result
	}

	a.executor.execute(ctx, steps, result)
	result.Classify()

	if result.Outcome != domain.OutcomeFailed {
		v, err := a.verifyService(ctx, p, services[0])
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

// Disable turns every proxy category off on every service. Turning off an
// already disabled category succeeds.
func (a *NetworkSetupAdapter) Disable(ctx context.Context) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.Platform()}
	defer func() { logApplyResult(a.logger, "disable proxy", result) }()

	services, warnings, err := a.discover(ctx)
	if err != nil {
		services = append([]string(nil), defaultNetworkServices...)
		warnings = append(warnings, fmt.Sprintf("%v; disabling on %s", err, strings.Join(services, ", ")))
	}
	result.Targets = services
	result.Warnings = append(result.Warnings, warnings...)

	var steps []step
	for _, svc := range services {
		steps = append(steps,
			step{svc, stateCommand("-setwebproxystate", svc, "off")},
			step{svc, stateCommand("-setsecurewebproxystate", svc, "off")},
			step{svc, stateCommand("-setsocksfirewallproxystate", svc, "off")},
			step{svc, stateCommand("-setautoproxystate", svc, "off")},
		)
	}

	a.executor.execute(ctx, steps, result)
	result.Classify()
	return result
}

// Verify re-queries the first enabled service.
func (a *NetworkSetupAdapter) Verify(ctx context.Context, p domain.Profile) (*domain.Verification, error) {
	services, _, err := a.discover(ctx)
	if err != nil {
		return nil, err
	}
	return a.verifyService(ctx, p, services[0])
}

func (a *NetworkSetupAdapter) verifyService(ctx context.Context, p domain.Profile, service string) (*domain.Verification, error) {
	flag := "-getwebproxy"
	switch {
	case p.Type.IsSOCKS():
		flag = "-getsocksfirewallproxy"
	case p.Type == domain.ProfilePAC:
		flag = "-getautoproxyurl"
	}

	cmd := domain.Command{Name: networksetupBin, Args: []string{flag, service}}
	res := a.runner.Run(ctx, cmd, a.timeout)
	if failed, detail := networksetupCheck(res); failed {
		return nil, fmt.Errorf("%s %s: %s", flag, service, detail)
	}

	fields := parseKeyValues(res.Stdout)
	v := &domain.Verification{
		Target:  service,
		Enabled: strings.EqualFold(fields["Enabled"], "Yes"),
		Host:    fields["Server"],
	}
	if port, err := strconv.Atoi(fields["Port"]); err == nil {
		v.Port = port
	}

	if p.Type == domain.ProfilePAC {
		v.Host = fields["URL"]
		v.Matches = v.Enabled && v.Host == p.PACURL
	} else {
		v.Matches = v.Enabled && v.Host == p.Host && v.Port == p.Port
	}
	if !v.Matches {
		v.Detail = fmt.Sprintf("observed enabled=%t server=%q port=%d", v.Enabled, v.Host, v.Port)
	}
	return v, nil
}

// parseKeyValues parses "Key: Value" lines.
func parseKeyValues(out string) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

// Ensure NetworkSetupAdapter implements domain.ProxyAdapter.
var _ domain.ProxyAdapter = (*NetworkSetupAdapter)(nil)
