package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	path := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig_NoConfigIsNoop(t *testing.T) {
	isolate(t)

	backup, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, backup)
}

func TestBackupUserConfig_CreatesTimestampedCopy(t *testing.T) {
	isolate(t)
	writeUserConfig(t, "server:\n  port: 9000\n")

	backup, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 9000")
	assert.Contains(t, filepath.Base(backup), BackupSuffix)
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	isolate(t)
	path := writeUserConfig(t, "a: 1\n")

	// Fabricate backups with distinct mtimes instead of sleeping through
	// the timestamp resolution.
	older := path + BackupSuffix + ".20240101-000000"
	newer := path + BackupSuffix + ".20240102-000000"
	require.NoError(t, os.WriteFile(older, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0])
	assert.Equal(t, older, backups[1])
}

func TestBackupUserConfig_PrunesOldBackups(t *testing.T) {
	isolate(t)
	path := writeUserConfig(t, "a: 1\n")

	for i := 0; i < MaxBackups+2; i++ {
		stale := path + BackupSuffix + ".2023010" + string(rune('0'+i)) + "-000000"
		require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))
		past := time.Now().Add(-time.Duration(MaxBackups+2-i) * time.Hour)
		require.NoError(t, os.Chtimes(stale, past, past))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig_RoundTrips(t *testing.T) {
	isolate(t)
	writeUserConfig(t, "server:\n  port: 9000\n")

	backup, err := BackupUserConfig()
	require.NoError(t, err)

	writeUserConfig(t, "server:\n  port: 1234\n")

	require.NoError(t, RestoreUserConfig(backup))

	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 9000")
}

func TestRestoreUserConfig_MissingBackupFails(t *testing.T) {
	isolate(t)

	err := RestoreUserConfig("/nonexistent/backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup file not found")
}
