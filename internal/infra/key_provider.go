package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// The SQLCipher passphrase for applock.db lives next to the database as
// base64 text. Losing or truncating it makes every setting, locked app and
// statistic unreadable, so writes go through a temp file and a rename.
const (
	keyFileName = ".applock.key"
	keySize     = 32
)

// FileKeyProvider keeps the database passphrase in <dataDir>/.applock.key.
type FileKeyProvider struct {
	keyPath string
}

func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// Path is where the passphrase file is (or will be) written.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not base64: %w", p.keyPath, err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

// StoreKey replaces the passphrase file atomically. The file is 0600 and
// its directory 0700.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if err := checkKeySize(key); err != nil {
		return err
	}
	dir := filepath.Dir(p.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".applock-key-*")
	if err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	_, err = tmp.WriteString(base64.StdEncoding.EncodeToString(key))
	if err == nil {
		err = tmp.Chmod(0600)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, p.keyPath)
	}
	if err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists is true only for a regular file at Path.
func (p *FileKeyProvider) KeyExists() bool {
	info, err := os.Stat(p.keyPath)
	return err == nil && info.Mode().IsRegular()
}

func checkKeySize(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return nil
}

// GenerateKey returns a fresh random passphrase.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey loads the passphrase, creating one the first time applock runs
// in a data directory.
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

// OpenDataDir opens applock.db in dataDir with its passphrase.
func OpenDataDir(dataDir string) (*Database, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load database key: %w", err)
	}
	return OpenDatabase(dataDir, key)
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
