package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// LaunchAgent plist that re-applies the proxy once at login.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>reconcile</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>
</dict>
</plist>`

var launchAgentTmpl = template.Must(template.New("plist").Parse(launchAgentTemplate))

const launchctlTimeout = 5 * time.Second

type plistConfig struct {
	Label          string
	ExecutablePath string
	LogPath        string
	ErrorLogPath   string
}

// LaunchdManagerImpl implements domain.LaunchAgentManager.
type LaunchdManagerImpl struct {
	plistDir  string
	plistPath string
	logDir    string
	runner    domain.CommandRunner
	logger    *zap.Logger
}

// NewLaunchdManager creates the autostart manager for an execution mode.
func NewLaunchdManager(config *ExecModeConfig, runner domain.CommandRunner, logger *zap.Logger) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		logDir:    config.DataDir,
		runner:    runner,
		logger:    logger,
	}
}

func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		LogPath:        filepath.Join(m.logDir, "autostart.log"),
		ErrorLogPath:   filepath.Join(m.logDir, "autostart.error.log"),
	}

	var buf bytes.Buffer
	if err := launchAgentTmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing plist is replaced.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}

	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}

	if m.IsInstalled() {
		_ = m.launchctl("unload")
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}

	m.logger.Info("autostart installed", zap.String("plist", m.plistPath))
	return m.launchctl("load")
}

// Uninstall unloads and removes the plist. A missing plist is not an error.
func (m *LaunchdManagerImpl) Uninstall() error {
	if !m.IsInstalled() {
		return nil
	}
	// Ignore errors if not loaded
	_ = m.launchctl("unload")

	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist: %w", err)
	}
	m.logger.Info("autostart removed", zap.String("plist", m.plistPath))
	return nil
}

func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if plist exists but has different content than expected.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// launchctl load/unload are deprecated in favour of bootstrap/bootout but
// still work for per-user agents.
func (m *LaunchdManagerImpl) launchctl(verb string) error {
	res := m.runner.Run(context.Background(), domain.Command{
		Name: "launchctl",
		Args: []string{verb, m.plistPath},
	}, launchctlTimeout)
	if !res.Succeeded() {
		return fmt.Errorf("failed to %s LaunchAgent: %s", verb, describeFailure(res))
	}
	return nil
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
