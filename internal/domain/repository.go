package domain

import (
	"context"
	"time"
)

// Store is durable key-value persistence for profiles, rules, firewall rules,
// the active profile snapshot, the enabled flag and settings.
// Values are JSON-encoded. Implementations: JSON file, SQLCipher database.
type Store interface {
	// Get decodes the value under key into dst. Returns false if the key is absent.
	Get(key string, dst any) (bool, error)

	// Set replaces the value under key.
	Set(key string, value any) error

	// SetMany replaces several keys in a single durable write.
	SetMany(values map[string]any) error

	// Close releases resources.
	Close() error
}

// CommandRunner invokes external processes. A nonzero exit status is reported
// in the result, not as a Go error.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command, timeout time.Duration) CommandResult
}

// ProxyAdapter applies a profile to the system proxy settings of one platform.
// Implementations: networksetup (macOS), netsh/reg (Windows), unsupported.
type ProxyAdapter interface {
	// Platform returns the GOOS-style platform name.
	Platform() string

	// Apply configures every managed target for the profile.
	Apply(ctx context.Context, profile Profile) *ApplyResult

	// Disable turns every proxy category off on every managed target.
	Disable(ctx context.Context) *ApplyResult

	// Verify re-queries the first target and compares it with the profile.
	Verify(ctx context.Context, profile Profile) (*Verification, error)

	// ListManagedTargets returns the targets in the order they are mutated.
	ListManagedTargets(ctx context.Context) ([]string, error)
}

// FirewallBackend commits or removes a per-application block on one platform.
type FirewallBackend interface {
	Platform() string

	// Apply enforces the rule. It returns the rule with any platform artifact
	// recorded. A *RequiresManualActionError means the artifact was written but
	// is not enforced yet; a *PermissionError means elevation is needed.
	Apply(ctx context.Context, rule FirewallRule) (FirewallRule, error)

	// Remove deletes the OS rule or artifact. Missing rules are not an error.
	Remove(ctx context.Context, rule FirewallRule) error

	// Status reports whether the OS currently enforces the rule.
	Status(ctx context.Context, rule FirewallRule) FirewallStatusKind
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// FindByExecutable returns PIDs of processes whose executable is path.
	FindByExecutable(path string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// Delete removes a file or directory recursively.
	Delete(path string) error

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager handles the macOS login item that re-applies the proxy.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool
}

// ConnectivityTester issues one request through a profile.
type ConnectivityTester interface {
	Test(ctx context.Context, profile Profile) ConnectivityResult
}

// StateObserver receives state changes after they are persisted.
type StateObserver interface {
	OnStateChange(change StateChange)
}

// Reconciler is the enable/disable/switch state machine.
type Reconciler interface {
	State() (SystemState, error)
	Enable(ctx context.Context) (*ApplyResult, error)
	Disable(ctx context.Context) (*ApplyResult, error)
	SwitchProfile(ctx context.Context, id string) (*ApplyResult, error)
	Verify(ctx context.Context) (*Verification, error)
}

// SnapshotStore keeps checksummed copies of the exported configuration.
type SnapshotStore interface {
	// Save stores data as a new snapshot.
	Save(data []byte) (Snapshot, error)

	// List returns snapshots newest first.
	List() ([]Snapshot, error)

	// Load returns a snapshot's content; an empty name means the newest.
	Load(name string) ([]byte, error)
}
