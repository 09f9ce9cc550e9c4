package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing install root.
	err := Validate(new(Config))
	require.Error(t, err)

	// Persistent subtree must be a bare name.
	cfg := Default()
	cfg.PersistentSubtree = "nested/venv"

	err = Validate(cfg)
	require.Error(t, err)

	// Retention below 1 is rejected.
	cfg = Default()
	cfg.BackupRetention = 0

	err = Validate(cfg)
	require.Error(t, err)

	// Bad manifest URL.
	cfg = Default()
	cfg.ManifestURL = "https://%zz"

	err = Validate(cfg)
	require.Error(t, err)

	// Defaults pass and zero timeout is replaced.
	cfg = Default()
	cfg.Timeout = 0

	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultTimeout, cfg.Timeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")

	cfg := Default()
	cfg.InstallRoot = filepath.Join(dir, "opt")
	cfg.BackupRetention = 5
	cfg.Timeout = 30 * time.Second

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.InstallRoot, loaded.InstallRoot)
	require.Equal(t, 5, loaded.BackupRetention)
	require.Equal(t, 30*time.Second, loaded.Timeout)
}

// TestLoadMissingFileUsesDefaults verifies a never-configured host still works.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().InstallRoot, cfg.InstallRoot)
	require.Equal(t, DefaultBackupRetention, cfg.BackupRetention)
}

// TestEnvOverrides layers process environment and env file on top of the YAML.
func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	envFile := filepath.Join(dir, "hsparc.env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("HSPARC_MEDIA_BASE=/run/media\nHSPARC_BACKUP_RETENTION=7\n"), 0o600))

	t.Setenv("HSPARC_ENV_FILE", envFile)
	t.Setenv("HSPARC_INSTALL_ROOT", filepath.Join(dir, "install"))
	t.Setenv("HSPARC_KIOSK_MODE", "true")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "install"), cfg.InstallRoot)
	require.Equal(t, "/run/media", cfg.MediaBase)
	require.Equal(t, 7, cfg.BackupRetention)
	require.True(t, cfg.KioskMode)
}

// TestPathHelpers derives well-known paths from the configuration.
func TestPathHelpers(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, "/opt/hsparc/VERSION", cfg.MarkerPath())
	require.Equal(t, "/opt/hsparc/hsparc", cfg.EntryPointPath())
	require.Equal(t, "/etc/hsparc/installation.json", cfg.RecordPath())
}
