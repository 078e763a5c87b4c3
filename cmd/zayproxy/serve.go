package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/api"
	"github.com/eliteGoblin/zayproxy/internal/config"
	"github.com/eliteGoblin/zayproxy/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API and the drift watcher",
	Long: `Serves the HTTP/WebSocket control API on the configured listen address
and, unless disabled in config, periodically re-applies the active profile
when the system proxy settings drift.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var listenFlag string

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	generated, err := config.EnsureAPIToken(a.cfgPath, &a.cfg)
	if err != nil {
		return err
	}
	if generated {
		logger.Info("generated api token", zap.String("config", a.cfgPath))
	}

	// API and watcher share one writer lock.
	var mu sync.Mutex

	server := api.NewServer(api.Services{
		Profiles:     a.profiles,
		Rules:        a.rules,
		Firewall:     a.firewall,
		Orchestrator: a.orch,
		Settings:     a.settings,
		Transfer:     a.transfer,
		Tester:       a.tester,
		Logs:         a.logs,
	}, api.Options{Token: a.cfg.API.Token}, &mu, logger)

	if a.cfg.Watch.Enabled {
		execPath, err := os.Executable()
		if err != nil {
			logger.Warn("failed to get executable path, autostart sync disabled", zap.Error(err))
			execPath = ""
		} else if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}

		watchCfg := daemon.DefaultWatcherConfig()
		watchCfg.ReconcileInterval = a.cfg.Watch.Interval
		watchCfg.ExecPath = execPath
		watcher := daemon.NewWatcher(watchCfg, a.orch, a.settings, a.launchd, &mu, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	addr := a.cfg.API.Listen
	if listenFlag != "" {
		addr = listenFlag
	}
	return server.Run(ctx, addr)
}
