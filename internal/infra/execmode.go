package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state in the invoking user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state in a system directory (running as root).
	ExecModeSystem ExecMode = "system"
)

// LaunchdLabel is the label of the autostart LaunchAgent.
const LaunchdLabel = "com.zayproxy.reconcile"

// ExecModeConfig holds paths derived from the execution mode.
type ExecModeConfig struct {
	Mode      ExecMode
	DataDir   string // store, key, anchors, logs
	PlistDir  string
	PlistPath string
	IsRoot    bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	isRoot := runtime.GOOS != "windows" && os.Geteuid() == 0
	home := GetRealUserHome()
	cfg := &ExecModeConfig{
		Mode:      ExecModeUser,
		DataDir:   userDataDir(home),
		PlistDir:  filepath.Join(home, "Library", "LaunchAgents"),
		PlistPath: filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist"),
		IsRoot:    isRoot,
	}
	// Under sudo the state still belongs to the invoking user.
	if isRoot && os.Getenv("SUDO_USER") == "" {
		cfg.Mode = ExecModeSystem
		cfg.DataDir = "/var/lib/zayproxy"
	}
	return cfg
}

func userDataDir(home string) string {
	if runtime.GOOS == "windows" {
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "ZayProxy")
		}
	}
	return filepath.Join(home, ".zayproxy")
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
