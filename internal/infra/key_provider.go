package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

const (
	keyFileName = "store.key"
	keySize     = 32 // SQLCipher raw key

	// StoreKeyEnv supplies the store key (base64) instead of the key file.
	StoreKeyEnv = "ZAYPROXY_STORE_KEY"
)

// ErrKeyReadOnly is returned when storing into a key source that cannot be written.
var ErrKeyReadOnly = errors.New("key source is read-only")

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// FileKeyProvider keeps the store key base64-encoded in an owner-only file
// next to the database.
type FileKeyProvider struct {
	keyPath string
}

func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// GetKey reads the key. A key file readable by group or others is refused.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("key file %s has mode %04o, want 0600", p.keyPath, info.Mode().Perm())
	}
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := writeFileAtomic(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads the key from an environment variable, for machines
// where the key is provisioned externally. It never generates a key.
type EnvKeyProvider struct {
	name   string
	lookup func(string) (string, bool)
}

func NewEnvKeyProvider(name string) *EnvKeyProvider {
	return &EnvKeyProvider{name: name, lookup: os.LookupEnv}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	v, ok := p.lookup(p.name)
	if !ok {
		return nil, fmt.Errorf("%s is not set", p.name)
	}
	key, err := decodeKey(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return key, nil
}

func (p *EnvKeyProvider) StoreKey(key []byte) error {
	return fmt.Errorf("cannot store key in %s: %w", p.name, ErrKeyReadOnly)
}

func (p *EnvKeyProvider) KeyExists() bool {
	_, ok := p.lookup(p.name)
	return ok
}

// NewKeyProvider prefers ZAYPROXY_STORE_KEY when set and falls back to the
// key file in dataDir.
func NewKeyProvider(dataDir string) domain.KeyProvider {
	if env := NewEnvKeyProvider(StoreKeyEnv); env.KeyExists() {
		return env
	}
	return NewFileKeyProvider(dataDir)
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the existing key, generating and storing one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
