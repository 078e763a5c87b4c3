package infra

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// UnsupportedProxyAdapter fails every operation on platforms without a
// system proxy implementation.
type UnsupportedProxyAdapter struct {
	platform string
	logger   *zap.Logger
}

// NewUnsupportedProxyAdapter creates the fail-fast adapter.
func NewUnsupportedProxyAdapter(platform string, logger *zap.Logger) *UnsupportedProxyAdapter {
	return &UnsupportedProxyAdapter{platform: platform, logger: logger}
}

func (a *UnsupportedProxyAdapter) Platform() string {
	return a.platform
}

func (a *UnsupportedProxyAdapter) err() error {
	return &domain.UnsupportedPlatformError{Platform: a.platform, Operation: "system proxy configuration"}
}

func (a *UnsupportedProxyAdapter) Apply(ctx context.Context, p domain.Profile) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.platform, Err: a.err()}
	result.Classify()
	a.logger.Warn("proxy apply requested on unsupported platform", zap.String("platform", a.platform))
	return result
}

func (a *UnsupportedProxyAdapter) Disable(ctx context.Context) *domain.ApplyResult {
	result := &domain.ApplyResult{Platform: a.platform, Err: a.err()}
	result.Classify()
	return result
}

func (a *UnsupportedProxyAdapter) Verify(ctx context.Context, p domain.Profile) (*domain.Verification, error) {
	return nil, a.err()
}

func (a *UnsupportedProxyAdapter) ListManagedTargets(ctx context.Context) ([]string, error) {
	return nil, a.err()
}

// Ensure UnsupportedProxyAdapter implements domain.ProxyAdapter.
var _ domain.ProxyAdapter = (*UnsupportedProxyAdapter)(nil)
