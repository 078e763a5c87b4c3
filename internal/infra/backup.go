package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const (
	// DefaultBackupRetention is how many snapshots are kept.
	DefaultBackupRetention = 10

	backupPrefix = "config-"
	backupSuffix = ".json"
	manifestName = "manifest.json"
)

// BackupManager keeps checksummed snapshots of the configuration document,
// taken before an import overwrites it.
type BackupManager struct {
	dir       string
	retention int
	now       func() time.Time
	logger    *zap.Logger
}

// NewBackupManager creates a backup manager writing under <dataDir>/backups.
func NewBackupManager(dataDir string, logger *zap.Logger) *BackupManager {
	return NewBackupManagerWithDir(filepath.Join(dataDir, "backups"), DefaultBackupRetention, logger)
}

// NewBackupManagerWithDir creates a backup manager with a custom directory (for testing).
func NewBackupManagerWithDir(dir string, retention int, logger *zap.Logger) *BackupManager {
	if retention <= 0 {
		retention = DefaultBackupRetention
	}
	return &BackupManager{dir: dir, retention: retention, now: time.Now, logger: logger}
}

// Save writes a new snapshot and prunes the oldest beyond the retention.
func (bm *BackupManager) Save(data []byte) (domain.Snapshot, error) {
	if err := os.MkdirAll(bm.dir, 0700); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	at := bm.now().UTC()
	name := backupPrefix + at.Format("20060102T150405.000000000Z") + backupSuffix
	path := filepath.Join(bm.dir, name)
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to write snapshot: %w", err)
	}

	snap := domain.Snapshot{
		Name:      name,
		Path:      path,
		SHA256:    sha256Hex(data),
		Size:      int64(len(data)),
		CreatedAt: at,
	}

	manifest, err := bm.readManifest()
	if err != nil {
		// Manifest is rebuilt from what we can verify; the new snapshot still counts.
		bm.logger.Warn("backup manifest unreadable, starting a new one", zap.Error(err))
		manifest = nil
	}
	manifest = append(manifest, snap)
	manifest = bm.prune(manifest)
	if err := bm.writeManifest(manifest); err != nil {
		return snap, err
	}

	bm.logger.Info("configuration snapshot saved",
		zap.String("name", name),
		zap.String("sha256", snap.SHA256[:12]))
	return snap, nil
}

// List returns the snapshots newest first.
func (bm *BackupManager) List() ([]domain.Snapshot, error) {
	manifest, err := bm.readManifest()
	if err != nil {
		return nil, err
	}
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].CreatedAt.After(manifest[j].CreatedAt)
	})
	return manifest, nil
}

// Load returns a snapshot's content after verifying its checksum. An empty
// name selects the newest snapshot.
func (bm *BackupManager) Load(name string) ([]byte, error) {
	snaps, err := bm.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, &domain.NotFoundError{Kind: "backup", ID: "latest"}
	}

	var snap *domain.Snapshot
	for i := range snaps {
		if name == "" || snaps[i].Name == name {
			snap = &snaps[i]
			break
		}
	}
	if snap == nil {
		return nil, &domain.NotFoundError{Kind: "backup", ID: name}
	}

	f, err := os.Open(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if got := sha256Hex(data); got != snap.SHA256 {
		return nil, fmt.Errorf("snapshot %s is corrupt: checksum %s, want %s", snap.Name, got[:12], snap.SHA256[:12])
	}
	return data, nil
}

func (bm *BackupManager) prune(manifest []domain.Snapshot) []domain.Snapshot {
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].CreatedAt.Before(manifest[j].CreatedAt)
	})
	for len(manifest) > bm.retention {
		old := manifest[0]
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			bm.logger.Warn("failed to prune snapshot", zap.String("name", old.Name), zap.Error(err))
		}
		manifest = manifest[1:]
	}
	return manifest
}

func (bm *BackupManager) readManifest() ([]domain.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(bm.dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}
	var manifest []domain.Snapshot
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse backup manifest: %w", err)
	}
	// Drop entries whose file vanished.
	kept := manifest[:0]
	for _, s := range manifest {
		if strings.HasPrefix(s.Name, backupPrefix) {
			if _, err := os.Stat(s.Path); err == nil {
				kept = append(kept, s)
			}
		}
	}
	return kept, nil
}

func (bm *BackupManager) writeManifest(manifest []domain.Snapshot) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(bm.dir, manifestName), data, 0600); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes to a temp file in the same directory, syncs, then
// renames over dst.
func writeFileAtomic(dst string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".zayproxy-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}

// Ensure BackupManager implements domain.SnapshotStore.
var _ domain.SnapshotStore = (*BackupManager)(nil)
