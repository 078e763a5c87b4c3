// Package config loads the application configuration file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Store backends.
const (
	StoreFile      = "file"
	StoreEncrypted = "encrypted"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "file" (JSON) or "encrypted" (SQLCipher).
	Backend string `yaml:"backend"`
}

// ProxyConfig holds system proxy adapter settings.
type ProxyConfig struct {
	// CommandTimeout bounds each networksetup/netsh invocation.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// FirewallConfig holds firewall backend settings.
type FirewallConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RemoveTimeout time.Duration `yaml:"remove_timeout"`
}

// ConnCheckConfig configures profile connectivity tests.
type ConnCheckConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token is required as a bearer token on every request except /health.
	// serve generates and persists one when it is empty.
	Token string `yaml:"token,omitempty"`
}

// WatchConfig configures the drift watcher run by serve.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// File defaults to <data_dir>/zayproxy.log.
	File string `yaml:"file,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir,omitempty"`
	Store     StoreConfig     `yaml:"store"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Firewall  FirewallConfig  `yaml:"firewall"`
	ConnCheck ConnCheckConfig `yaml:"conncheck"`
	API       APIConfig       `yaml:"api"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Store:     StoreConfig{Backend: StoreFile},
		Proxy:     ProxyConfig{CommandTimeout: 5 * time.Second},
		Firewall:  FirewallConfig{Timeout: 10 * time.Second, RemoveTimeout: 5 * time.Second},
		ConnCheck: ConnCheckConfig{URL: "http://httpbin.org/ip", Timeout: 10 * time.Second},
		API:       APIConfig{Listen: "127.0.0.1:7788"},
		Watch:     WatchConfig{Enabled: true, Interval: 60 * time.Second},
		Log:       LogConfig{Level: "info"},
	}
}

// Path returns the config file path inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// EnsureAPIToken generates a random api.token when cfg has none and adds it
// to the file at path, leaving the rest of the file as it was. It reports
// whether a token was generated.
func EnsureAPIToken(path string, cfg *Config) (bool, error) {
	if cfg.API.Token != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("failed to generate api token: %w", err)
	}
	onDisk, err := Load(path)
	if err != nil {
		return false, err
	}
	onDisk.API.Token = hex.EncodeToString(buf)
	if err := Save(path, onDisk); err != nil {
		return false, err
	}
	cfg.API.Token = onDisk.API.Token
	return true, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreFile, StoreEncrypted:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreFile, StoreEncrypted, c.Store.Backend)
	}
	durations := map[string]time.Duration{
		"proxy.command_timeout":   c.Proxy.CommandTimeout,
		"firewall.timeout":        c.Firewall.Timeout,
		"firewall.remove_timeout": c.Firewall.RemoveTimeout,
		"conncheck.timeout":       c.ConnCheck.Timeout,
		"watch.interval":          c.Watch.Interval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
		return fmt.Errorf("api.listen: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// LogFile returns the configured log file, defaulting into dataDir.
func (c Config) LogFile(dataDir string) string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(dataDir, "zayproxy.log")
}
