package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/zayproxy/internal/config"
	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/infra"
	"github.com/eliteGoblin/zayproxy/internal/usecase"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      config.Config
	cfgPath  string
	execMode *infra.ExecModeConfig
	dataDir  string
	logger   *zap.Logger
	logs     *infra.LogBuffer

	store    domain.Store
	runner   domain.CommandRunner
	fs       domain.FileSystemManager
	adapter  domain.ProxyAdapter
	launchd  domain.LaunchAgentManager
	tester   domain.ConnectivityTester
	backups  *infra.BackupManager
	profiles *usecase.ProfileRegistry
	rules    *usecase.RuleBook
	firewall *usecase.FirewallController
	orch     *usecase.Orchestrator
	settings *usecase.SettingsService
	transfer *usecase.ConfigTransfer
}

// newApp loads config and wires every component. captureLogs tees the
// logger into an in-memory ring buffer for the API.
func newApp(captureLogs bool) (*app, error) {
	execMode := infra.DetectExecMode()
	dataDir := execMode.DataDir
	if dataDirFlag != "" {
		dataDir = dataDirFlag
	}

	path := configPath
	if path == "" {
		path = config.Path(dataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDirFlag == "" && cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	if storeFlag != "" {
		cfg.Store.Backend = storeFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a := &app{cfg: cfg, cfgPath: path, execMode: execMode, dataDir: dataDir}
	if captureLogs {
		a.logs = infra.NewLogBuffer(infra.DefaultLogCapacity)
	}
	a.logger = createLogger(cfg, dataDir, a.logs)

	store, err := openStore(cfg, dataDir)
	if err != nil {
		_ = a.logger.Sync()
		return nil, err
	}
	a.store = store

	a.runner = infra.NewCommandRunner(a.logger)
	a.fs = infra.NewFileSystemManager()
	pm := infra.NewProcessManager()
	a.adapter = infra.NewProxyAdapter(runtime.GOOS, a.runner, cfg.Proxy.CommandTimeout, a.logger)
	backend := infra.NewFirewallBackend(runtime.GOOS, infra.FirewallOptions{
		DataDir:       dataDir,
		Timeout:       cfg.Firewall.Timeout,
		RemoveTimeout: cfg.Firewall.RemoveTimeout,
	}, a.runner, a.fs, a.logger)
	a.launchd = infra.NewLaunchdManager(execMode, a.runner, a.logger)
	a.tester = infra.NewProxyChecker(cfg.ConnCheck.URL, cfg.ConnCheck.Timeout, a.logger)
	a.backups = infra.NewBackupManager(dataDir, a.logger)

	a.profiles = usecase.NewProfileRegistry(store, a.logger)
	a.rules = usecase.NewRuleBook(store, a.logger)
	a.firewall = usecase.NewFirewallController(store, backend, a.fs, pm, a.logger).
		WithExecutableResolver(func(p string) string { return infra.ResolveExecutable(a.fs, p) })
	a.orch = usecase.NewOrchestrator(store, a.profiles, a.adapter, a.logger)
	a.settings = usecase.NewSettingsService(store, a.logger)
	a.transfer = usecase.NewConfigTransfer(store, a.backups, a.orch, a.logger)
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func openStore(cfg config.Config, dataDir string) (domain.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreEncrypted:
		key, err := infra.EnsureKey(infra.NewKeyProvider(dataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		store, err := infra.NewEncryptedStore(dataDir, key)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := infra.NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func createLogger(cfg config.Config, dataDir string, logs *infra.LogBuffer) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	logFile := cfg.LogFile(dataDir)
	_ = os.MkdirAll(filepath.Dir(logFile), 0700)

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{logFile}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, "stderr")
	}
	zapConfig.EncoderConfig.TimeKey = "time"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	if logs != nil {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, logs.Core(level))
		}))
	}
	return logger
}
