package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

const (
	backupDirName      = "backups"
	backupPrefix       = "applock-"
	backupManifestName = "manifest.json"
	backupStampLayout  = "20060102-150405"
)

// BackupManifest describes one snapshot of the data directory.
type BackupManifest struct {
	CreatedAt int64             `json:"created_at"`
	Version   string            `json:"version"`
	ExecMode  string            `json:"exec_mode"`
	Files     map[string]string `json:"files"` // file name -> sha256
}

// BackupManager snapshots the encrypted database together with its key.
// The daemon keeps a single connection in rollback-journal mode, so the
// database file is consistent whenever no write is in flight.
type BackupManager struct {
	dataDir    string
	backupRoot string
	now        func() time.Time
	logger     *zap.Logger
}

// NewBackupManager stores snapshots under <dataDir>/backups.
func NewBackupManager(dataDir string, logger *zap.Logger) *BackupManager {
	return NewBackupManagerWithClock(dataDir, filepath.Join(dataDir, backupDirName), time.Now, logger)
}

// NewBackupManagerWithClock creates a backup manager with a custom root and clock (for testing).
func NewBackupManagerWithClock(dataDir, backupRoot string, now func() time.Time, logger *zap.Logger) *BackupManager {
	return &BackupManager{
		dataDir:    dataDir,
		backupRoot: backupRoot,
		now:        now,
		logger:     logger,
	}
}

// Root returns the directory holding all snapshots.
func (bm *BackupManager) Root() string {
	return bm.backupRoot
}

func (bm *BackupManager) files() []string {
	return []string{databaseName, keyFileName}
}

// Create copies the database and key into a new timestamped directory and
// returns its path.
func (bm *BackupManager) Create(version string) (string, error) {
	created := bm.now()
	dir := filepath.Join(bm.backupRoot, backupPrefix+created.UTC().Format(backupStampLayout))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	manifest := BackupManifest{
		CreatedAt: created.UnixMilli(),
		Version:   version,
		ExecMode:  string(DetectExecMode().Mode),
		Files:     make(map[string]string),
	}

	for _, name := range bm.files() {
		src := filepath.Join(bm.dataDir, name)
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to copy %s: %w", name, err)
		}
		sum, err := computeSHA256(src)
		if err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to hash %s: %w", name, err)
		}
		manifest.Files[name] = sum
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, backupManifestName), data, 0600); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	bm.logger.Info("backup created", zap.String("path", dir), zap.String("version", version))
	return dir, nil
}

// List returns snapshot directories, newest first.
func (bm *BackupManager) List() ([]string, error) {
	entries, err := os.ReadDir(bm.backupRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			dirs = append(dirs, filepath.Join(bm.backupRoot, e.Name()))
		}
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	return dirs, nil
}

// Verify reads the manifest of dir and checks every file against it.
func (bm *BackupManager) Verify(dir string) (*BackupManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, backupManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %v", domain.ErrBackupCorrupt, err)
	}

	for _, name := range bm.files() {
		want, ok := manifest.Files[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing from manifest", domain.ErrBackupCorrupt, name)
		}
		got, err := computeSHA256(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s unreadable: %v", domain.ErrBackupCorrupt, name, err)
		}
		if got != want {
			return nil, fmt.Errorf("%w: %s checksum mismatch", domain.ErrBackupCorrupt, name)
		}
	}
	return &manifest, nil
}

// Restore verifies dir and copies its files over the data directory.
// The daemon must not be running.
func (bm *BackupManager) Restore(dir, currentVersion string) error {
	manifest, err := bm.Verify(dir)
	if err != nil {
		return err
	}
	if isNewerVersion(manifest.Version, currentVersion) {
		return fmt.Errorf("%w: %s > %s", domain.ErrBackupTooNew, manifest.Version, currentVersion)
	}

	if err := os.MkdirAll(bm.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	// Key first: a database without its key is unreadable.
	for _, name := range []string{keyFileName, databaseName} {
		if err := copyFile(filepath.Join(dir, name), filepath.Join(bm.dataDir, name)); err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}

	bm.logger.Info("backup restored",
		zap.String("path", dir),
		zap.String("version", manifest.Version),
		zap.Time("created_at", time.UnixMilli(manifest.CreatedAt)))
	return nil
}

// Prune deletes all but the newest keep snapshots.
func (bm *BackupManager) Prune(keep int) (int, error) {
	dirs, err := bm.List()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for i := keep; i < len(dirs); i++ {
		if err := os.RemoveAll(dirs[i]); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", dirs[i], err)
		}
		removed++
	}
	return removed, nil
}

// isNewerVersion reports whether a > b. Unparseable versions never compare newer.
func isNewerVersion(a, b string) bool {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return true
	}
	return va.GreaterThan(vb)
}

// computeSHA256 calculates SHA256 hash of a file
func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile copies src to dst through a synced temp file and a rename.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".applock-copy-*")
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

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}
