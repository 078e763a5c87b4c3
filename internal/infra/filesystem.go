package infra

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// windowsEnvRef matches %VAR% references.
var windowsEnvRef = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// FileSystemManagerImpl implements domain.FileSystemManager. Paths given by
// the user (firewall rule targets, data dirs) may start with ~ and may
// reference environment variables in $VAR, ${VAR} or %VAR% form.
type FileSystemManagerImpl struct {
	homeDir   string
	lookupEnv func(string) (string, bool)
}

// NewFileSystemManager creates a filesystem manager for the real user, which
// under sudo is SUDO_USER rather than root.
func NewFileSystemManager() domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: GetRealUserHome(), lookupEnv: os.LookupEnv}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home, lookupEnv: os.LookupEnv}
}

func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// Delete removes a file or directory recursively. Missing paths are not an error.
func (fm *FileSystemManagerImpl) Delete(path string) error {
	return os.RemoveAll(fm.ExpandHome(path))
}

// ExpandHome expands a leading ~ and environment variable references.
// HOME and USERPROFILE always resolve to the real user's home.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	switch {
	case path == "~":
		return fm.homeDir
	case strings.HasPrefix(path, "~/"), strings.HasPrefix(path, `~\`):
		path = filepath.Join(fm.homeDir, path[2:])
	}
	if !strings.ContainsAny(path, "$%") {
		return path
	}

	path = windowsEnvRef.ReplaceAllStringFunc(path, func(ref string) string {
		if v, ok := fm.env(ref[1 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
	return os.Expand(path, func(name string) string {
		v, _ := fm.env(name)
		return v
	})
}

func (fm *FileSystemManagerImpl) env(name string) (string, bool) {
	if strings.EqualFold(name, "HOME") || strings.EqualFold(name, "USERPROFILE") {
		return fm.homeDir, true
	}
	if fm.lookupEnv == nil {
		return "", false
	}
	return fm.lookupEnv(name)
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
