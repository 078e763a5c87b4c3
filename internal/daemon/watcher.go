// Package daemon implements the background drift watcher run by serve.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// Reconciler re-applies the active profile when the OS has drifted.
type Reconciler interface {
	Reconcile(ctx context.Context) (*domain.ApplyResult, error)
}

// SettingsReader exposes the user settings the watcher reacts to.
type SettingsReader interface {
	Get() (domain.Settings, error)
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	ReconcileInterval  time.Duration // How often to verify the applied proxy
	PlistCheckInterval time.Duration // How often to check the LaunchAgent plist
	ExecPath           string        // Binary the LaunchAgent should run
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ReconcileInterval:  60 * time.Second,
		PlistCheckInterval: 60 * time.Second,
	}
}

// Watcher periodically reconciles the system proxy with the stored state and
// keeps the login item in line with the autoStart setting.
type Watcher struct {
	config      WatcherConfig
	reconciler  Reconciler
	settings    SettingsReader
	launchAgent domain.LaunchAgentManager
	// lock serializes reconciliation with other writers (the API).
	lock   sync.Locker
	logger *zap.Logger
}

// NewWatcher creates a watcher. settings and launchAgent may be nil, in which
// case the login item is left alone.
func NewWatcher(
	config WatcherConfig,
	reconciler Reconciler,
	settings SettingsReader,
	launchAgent domain.LaunchAgentManager,
	lock sync.Locker,
	logger *zap.Logger,
) *Watcher {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Watcher{
		config:      config,
		reconciler:  reconciler,
		settings:    settings,
		launchAgent: launchAgent,
		lock:        lock,
		logger:      logger,
	}
}

// Run starts the watcher loop. It blocks until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		zap.Duration("reconcile_interval", w.config.ReconcileInterval))

	w.reconcile(ctx)
	w.ensurePlist()

	reconcileTicker := time.NewTicker(w.config.ReconcileInterval)
	plistTicker := time.NewTicker(w.config.PlistCheckInterval)
	defer func() {
		reconcileTicker.Stop()
		plistTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()

		case <-reconcileTicker.C:
			w.reconcile(ctx)

		case <-plistTicker.C:
			w.ensurePlist()
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	w.lock.Lock()
	defer w.lock.Unlock()

	result, err := w.reconciler.Reconcile(ctx)
	if err != nil {
		w.logger.Error("reconcile failed", zap.Error(err))
		return
	}
	if result != nil {
		w.logger.Info("proxy re-applied",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("failed_steps", len(result.Failures())))
	}
}

// ensurePlist installs, updates or removes the LaunchAgent to match the
// autoStart setting.
func (w *Watcher) ensurePlist() {
	if w.launchAgent == nil || w.settings == nil || w.config.ExecPath == "" {
		return
	}
	settings, err := w.settings.Get()
	if err != nil {
		w.logger.Warn("failed to read settings", zap.Error(err))
		return
	}

	switch {
	case !settings.AutoStart && w.launchAgent.IsInstalled():
		w.logger.Info("autostart disabled, removing LaunchAgent")
		if err := w.launchAgent.Uninstall(); err != nil {
			w.logger.Error("failed to remove LaunchAgent", zap.Error(err))
		}
	case settings.AutoStart && !w.launchAgent.IsInstalled():
		w.logger.Info("LaunchAgent plist missing, installing")
		if err := w.launchAgent.Install(w.config.ExecPath); err != nil {
			w.logger.Error("failed to install LaunchAgent", zap.Error(err))
		}
	case settings.AutoStart && w.launchAgent.NeedsUpdate(w.config.ExecPath):
		w.logger.Info("LaunchAgent plist outdated, updating")
		if err := w.launchAgent.Install(w.config.ExecPath); err != nil {
			w.logger.Error("failed to update LaunchAgent", zap.Error(err))
		}
	}
}
