package infra

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// newTestBackupManager seeds a data dir with fake database and key files.
func newTestBackupManager(t *testing.T, now *time.Time) (*BackupManager, string) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, databaseName), []byte("database v1"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, keyFileName), []byte("key"), 0600))

	bm := NewBackupManagerWithClock(dataDir, filepath.Join(t.TempDir(), "backups"),
		func() time.Time { return *now }, zap.NewNop())
	return bm, dataDir
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected bool
	}{
		{name: "newer major version", a: "1.0.0", b: "0.9.9", expected: true},
		{name: "newer minor version", a: "0.2.0", b: "0.1.0", expected: true},
		{name: "newer patch version", a: "0.1.1", b: "0.1.0", expected: true},
		{name: "equal versions", a: "0.1.0", b: "0.1.0", expected: false},
		{name: "older version", a: "0.1.0", b: "0.2.0", expected: false},
		{name: "v prefix", a: "v0.2.0", b: "0.1.0", expected: true},
		{name: "unparseable a", a: "dev", b: "0.1.0", expected: false},
		{name: "unparseable b", a: "0.1.0", b: "dev", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNewerVersion(tt.a, tt.b))
		})
	}
}

func TestBackupManager_CreateAndVerify(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, _ := newTestBackupManager(t, &now)

	dir, err := bm.Create("0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "applock-20240301-090000", filepath.Base(dir))

	manifest, err := bm.Verify(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", manifest.Version)
	assert.Equal(t, now.UnixMilli(), manifest.CreatedAt)
	assert.Len(t, manifest.Files, 2)

	raw, err := os.ReadFile(filepath.Join(dir, backupManifestName))
	require.NoError(t, err)
	var decoded BackupManifest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, manifest.Files, decoded.Files)
}

func TestBackupManager_CreateMissingDatabase(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, dataDir := newTestBackupManager(t, &now)
	require.NoError(t, os.Remove(filepath.Join(dataDir, databaseName)))

	_, err := bm.Create("0.1.0")
	assert.Error(t, err)

	dirs, err := bm.List()
	require.NoError(t, err)
	assert.Empty(t, dirs, "partial backup should be removed")
}

func TestBackupManager_VerifyDetectsTampering(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, _ := newTestBackupManager(t, &now)

	dir, err := bm.Create("0.1.0")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, databaseName), []byte("tampered"), 0600))

	_, err = bm.Verify(dir)
	assert.True(t, errors.Is(err, domain.ErrBackupCorrupt))
}

func TestBackupManager_Restore(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, dataDir := newTestBackupManager(t, &now)

	dir, err := bm.Create("0.1.0")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, databaseName), []byte("database v2"), 0600))
	require.NoError(t, bm.Restore(dir, "0.1.0"))

	content, err := os.ReadFile(filepath.Join(dataDir, databaseName))
	require.NoError(t, err)
	assert.Equal(t, "database v1", string(content))
}

func TestBackupManager_RestoreRejectsNewerBackup(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, dataDir := newTestBackupManager(t, &now)

	dir, err := bm.Create("0.3.0")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, databaseName), []byte("database v2"), 0600))

	err = bm.Restore(dir, "0.1.0")
	assert.True(t, errors.Is(err, domain.ErrBackupTooNew))

	content, err := os.ReadFile(filepath.Join(dataDir, databaseName))
	require.NoError(t, err)
	assert.Equal(t, "database v2", string(content), "data dir must be untouched")
}

func TestBackupManager_ListAndPrune(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bm, _ := newTestBackupManager(t, &now)

	var created []string
	for i := 0; i < 3; i++ {
		dir, err := bm.Create("0.1.0")
		require.NoError(t, err)
		created = append(created, dir)
		now = now.Add(time.Hour)
	}

	dirs, err := bm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{created[2], created[1], created[0]}, dirs)

	removed, err := bm.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	dirs, err = bm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{created[2]}, dirs)
}

func TestBackupManager_ListNoRoot(t *testing.T) {
	bm := NewBackupManagerWithClock(t.TempDir(), filepath.Join(t.TempDir(), "missing"), time.Now, zap.NewNop())
	dirs, err := bm.List()
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestComputeSHA256(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "small content", content: "hello"},
		{name: "larger content", content: "this is a longer piece of content for testing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filePath := filepath.Join(tmpDir, "test-"+tt.name)
			require.NoError(t, os.WriteFile(filePath, []byte(tt.content), 0644))

			hash1, err := computeSHA256(filePath)
			require.NoError(t, err)
			hash2, err := computeSHA256(filePath)
			require.NoError(t, err)
			assert.Equal(t, hash1, hash2)
			assert.Len(t, hash1, 64)
		})
	}
}

func TestComputeSHA256_FileNotFound(t *testing.T) {
	_, err := computeSHA256("/nonexistent/path/to/file")
	assert.Error(t, err)
}

func TestCopyFile_AtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	srcPath := filepath.Join(tmpDir, "source")
	srcContent := []byte("test content for atomic copy")
	require.NoError(t, os.WriteFile(srcPath, srcContent, 0644))

	dstPath := filepath.Join(tmpDir, "destination")
	require.NoError(t, copyFile(srcPath, dstPath))

	dstContent, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, srcContent, dstContent)

	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".applock-copy-"),
			"temp file should be cleaned up: %s", entry.Name())
	}
}

func TestCopyFile_SourceNotFound(t *testing.T) {
	err := copyFile("/nonexistent/source", filepath.Join(t.TempDir(), "dest"))
	assert.Error(t, err)
}

func TestCopyFile_DestDirNotExist(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(srcPath, []byte("content"), 0644))

	err := copyFile(srcPath, "/nonexistent/dir/dest")
	assert.Error(t, err)
}
