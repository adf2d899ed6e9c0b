package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should use defaults without a file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

		require.NoError(t, err)
		assert.Equal(t, "primary", cfg.Google.CalendarId)
		assert.Equal(t, "@every 30m", cfg.Sync.Refresh)
		assert.True(t, cfg.Sync.ImportRemote)
		assert.Equal(t, "obsidian", cfg.Vault.Scheme)
		assert.NotEmpty(t, cfg.Vault.Name)
	})

	t.Run("should layer file and environment over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "application.yaml")
		content := "vault:\n  path: /notes/Personal\n  directory: Calendar\ngoogle:\n  calendarid: family\nsync:\n  lookbackdays: 30\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		t.Setenv("GCALSYNC_SYNC_IMPORTREMOTE", "false")
		t.Setenv("GCALSYNC_GOOGLE_CALENDARID", "work")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "/notes/Personal", cfg.Vault.Path)
		assert.Equal(t, "Personal", cfg.Vault.Name)
		assert.Equal(t, "Calendar", cfg.Vault.Directory)
		assert.Equal(t, "work", cfg.Google.CalendarId)
		assert.Equal(t, 30, cfg.Sync.LookbackDays)
		assert.False(t, cfg.Sync.ImportRemote)
	})

	t.Run("should fail on a broken file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "application.yaml")
		require.NoError(t, os.WriteFile(path, []byte("vault: [unclosed"), 0o644))

		_, err := Load(path)

		assert.Error(t, err)
	})
}
