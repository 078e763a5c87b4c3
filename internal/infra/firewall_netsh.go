package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const (
	DefaultFirewallTimeout       = 10 * time.Second
	DefaultFirewallRemoveTimeout = 5 * time.Second

	windowsRulePrefix = "ZayProxy Block - "
)

// NetshFirewallBackend implements domain.FirewallBackend with Windows Defender
// Firewall outbound program rules.
type NetshFirewallBackend struct {
	runner        domain.CommandRunner
	timeout       time.Duration
	removeTimeout time.Duration
	logger        *zap.Logger
}

// NewNetshFirewallBackend creates the Windows firewall backend.
func NewNetshFirewallBackend(runner domain.CommandRunner, timeout, removeTimeout time.Duration, logger *zap.Logger) *NetshFirewallBackend {
	if timeout <= 0 {
		timeout = DefaultFirewallTimeout
	}
	if removeTimeout <= 0 {
		removeTimeout = DefaultFirewallRemoveTimeout
	}
	return &NetshFirewallBackend{
		runner:        runner,
		timeout:       timeout,
		removeTimeout: removeTimeout,
		logger:        logger,
	}
}

func (b *NetshFirewallBackend) Platform() string {
	return "windows"
}

// WindowsRuleName is the Windows Firewall display name of a rule.
func WindowsRuleName(rule domain.FirewallRule) string {
	return windowsRulePrefix + rule.Name
}

// committedRuleName is the name of the OS rule this record last created,
// which differs from WindowsRuleName after a rename until the next apply.
func committedRuleName(rule domain.FirewallRule) string {
	if rule.OSRuleName != "" {
		return rule.OSRuleName
	}
	return WindowsRuleName(rule)
}

// Apply replaces any existing rule of the same name with a fresh one and
// drops the rule committed under a previous name. The returned rule records
// the committed name.
func (b *NetshFirewallBackend) Apply(ctx context.Context, rule domain.FirewallRule) (domain.FirewallRule, error) {
	name := WindowsRuleName(rule)

	// Stale rule from a previous apply; absence is fine.
	b.runner.Run(ctx, deleteRuleCommand(name), b.removeTimeout)

	action := "block"
	if !rule.Blocked {
		action = "allow"
	}
	cmd := domain.Command{
		Name: "netsh",
		Args: []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + name,
			"dir=out",
			"action=" + action,
			"program=" + rule.Path,
			"enable=yes",
		},
	}
	res := b.runner.Run(ctx, cmd, b.timeout)
	if !res.Succeeded() {
		if isPermissionDenied(res.Output()) {
			return rule, &domain.PermissionError{
				Operation: "add firewall rule",
				Detail:    "run zayproxy from an elevated prompt",
			}
		}
		return rule, fmt.Errorf("failed to add firewall rule %q: %s", name, describeFailure(res))
	}

	if previous := rule.OSRuleName; previous != "" && previous != name {
		if res := b.runner.Run(ctx, deleteRuleCommand(previous), b.removeTimeout); !res.Succeeded() &&
			!strings.Contains(res.Output(), "No rules match") {
			b.logger.Warn("failed to delete renamed firewall rule",
				zap.String("rule", rule.ID),
				zap.String("name", previous),
				zap.String("error", describeFailure(res)))
		}
	}
	rule.OSRuleName = name

	b.logger.Info("firewall rule added",
		zap.String("rule", rule.ID),
		zap.String("name", name),
		zap.String("action", action))
	return rule, nil
}

func (b *NetshFirewallBackend) Remove(ctx context.Context, rule domain.FirewallRule) error {
	name := committedRuleName(rule)
	res := b.runner.Run(ctx, deleteRuleCommand(name), b.removeTimeout)
	if res.Succeeded() || strings.Contains(res.Output(), "No rules match") {
		return nil
	}
	if isPermissionDenied(res.Output()) {
		return &domain.PermissionError{Operation: "delete firewall rule", Detail: name}
	}
	return fmt.Errorf("failed to delete firewall rule %q: %s", name, describeFailure(res))
}

func (b *NetshFirewallBackend) Status(ctx context.Context, rule domain.FirewallRule) domain.FirewallStatusKind {
	res := b.runner.Run(ctx, domain.Command{
		Name: "netsh",
		Args: []string{"advfirewall", "firewall", "show", "rule", "name=" + committedRuleName(rule)},
	}, b.removeTimeout)
	if res.Succeeded() && !strings.Contains(res.Stdout, "No rules match") {
		return domain.FirewallEnforced
	}
	return domain.FirewallNotApplied
}

func deleteRuleCommand(name string) domain.Command {
	return domain.Command{
		Name: "netsh",
		Args: []string{"advfirewall", "firewall", "delete", "rule", "name=" + name},
	}
}

// Ensure NetshFirewallBackend implements domain.FirewallBackend.
var _ domain.FirewallBackend = (*NetshFirewallBackend)(nil)
