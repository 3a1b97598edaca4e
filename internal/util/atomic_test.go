package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "data.yaml")

	err := AtomicWriteFile(path, []byte("hello"), 0o644)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Overwrite leaves no temp files behind
	require.NoError(t, AtomicWriteFile(path, []byte("world"), 0o644))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRotateBackupMissingSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")

	// Nothing to back up; not an error
	require.NoError(t, RotateBackup(path, 10))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRotateBackupKeepsNewestN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")

	for i := 0; i < 13; i++ {
		content := []byte{byte('a' + i)}
		require.NoError(t, AtomicWriteFile(path, content, 0o644))
		require.NoError(t, RotateBackup(path, 10))
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 10)

	// Newest backup holds the most recently rotated content
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{byte('a' + 12)}, data)
}
