package infra

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// FirewallOptions configures NewFirewallBackend.
type FirewallOptions struct {
	DataDir       string
	Timeout       time.Duration
	RemoveTimeout time.Duration
}

// NewFirewallBackend selects the firewall backend for goos.
func NewFirewallBackend(goos string, opts FirewallOptions, runner domain.CommandRunner, fs domain.FileSystemManager, logger *zap.Logger) domain.FirewallBackend {
	switch goos {
	case "darwin":
		return NewPFAnchorBackend(filepath.Join(opts.DataDir, "firewall"), runner, fs, opts.RemoveTimeout, logger)
	case "windows":
		return NewNetshFirewallBackend(runner, opts.Timeout, opts.RemoveTimeout, logger)
	default:
		return &UnsupportedFirewallBackend{goos: goos}
	}
}

// UnsupportedFirewallBackend rejects every operation.
type UnsupportedFirewallBackend struct {
	goos string
}

func (b *UnsupportedFirewallBackend) Platform() string {
	return b.goos
}

func (b *UnsupportedFirewallBackend) Apply(ctx context.Context, rule domain.FirewallRule) (domain.FirewallRule, error) {
	return rule, b.unsupported()
}

func (b *UnsupportedFirewallBackend) Remove(ctx context.Context, rule domain.FirewallRule) error {
	return b.unsupported()
}

func (b *UnsupportedFirewallBackend) Status(ctx context.Context, rule domain.FirewallRule) domain.FirewallStatusKind {
	return domain.FirewallNotApplied
}

func (b *UnsupportedFirewallBackend) unsupported() error {
	return &domain.UnsupportedPlatformError{Platform: b.goos, Operation: "application firewall"}
}

var _ domain.FirewallBackend = (*UnsupportedFirewallBackend)(nil)
