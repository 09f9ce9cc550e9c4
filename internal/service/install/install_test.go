package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/repository/record"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// testConfig builds a configuration rooted in temp directories with service
// control disabled, so tests exercise the file mechanics in isolation.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()

	cfg := config.Default()
	cfg.ServiceUser = ""
	cfg.ServiceName = ""
	cfg.ProcessNames = nil
	cfg.DependencyCommand = nil
	cfg.InstallRoot = filepath.Join(root, "opt", "hsparc")
	cfg.DataDir = filepath.Join(root, "data")
	cfg.ConfigDir = filepath.Join(root, "etc")
	cfg.BackupRoot = filepath.Join(root, "backups")

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))

	return cfg
}

// makeRelease assembles a release tree on disk.
func makeRelease(t *testing.T, version, requirements string, withEntryPoint bool) string {
	t.Helper()

	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "VERSION"), []byte(version+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "requirements.txt"), []byte(requirements), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "lib", "core.py"), []byte("# "+version+"\n"), 0o644))

	if withEntryPoint {
		require.NoError(t, os.WriteFile(filepath.Join(tree, "hsparc"), []byte("#!/bin/sh\n"), 0o755))
	}

	return tree
}

// seedVenv plants content into the persistent subtree of an installation.
func seedVenv(t *testing.T, cfg *config.Config) {
	t.Helper()

	venv := filepath.Join(cfg.InstallRoot, cfg.PersistentSubtree, "lib")
	require.NoError(t, os.MkdirAll(venv, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(venv, "site.pth"), []byte("preserved"), 0o644))
}

// TestFreshInstall installs onto an empty host.
func TestFreshInstall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	result, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)
	require.Equal(t, StateInstalled, result.State)
	require.Equal(t, "1.0.7", result.Version)
	require.Empty(t, result.BackupName)

	// Record and marker reflect the new installation.
	rec, err := record.NewFileRepository(cfg.RecordPath()).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.0.7", rec.Version)

	version, err := record.ReadVersionMarker(cfg.MarkerPath())
	require.NoError(t, err)
	require.Equal(t, "1.0.7", version)
}

// TestUpdatePreservesPersistentSubtree leaves the venv intact when the
// dependency declarations did not change.
func TestUpdatePreservesPersistentSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	seedVenv(t, cfg)

	result, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.8", "pyside6\n", true)})
	require.NoError(t, err)
	require.Equal(t, StateInstalled, result.State)
	require.Equal(t, "1.0.8", result.Version)
	require.Equal(t, "1.0.7", result.PreviousVersion)
	require.NotEmpty(t, result.BackupName)

	contents, err := os.ReadFile(filepath.Join(cfg.InstallRoot, "venv", "lib", "site.pth"))
	require.NoError(t, err)
	require.Equal(t, "preserved", string(contents))

	// The rest of the tree is the new release.
	core, err := os.ReadFile(filepath.Join(cfg.InstallRoot, "lib", "core.py"))
	require.NoError(t, err)
	require.Equal(t, "# 1.0.8\n", string(core))
}

// TestDependencyRefreshOnlyWhenDeclarationsChange runs the refresh command
// when requirements differ between versions and skips it otherwise.
func TestDependencyRefreshOnlyWhenDeclarationsChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.DependencyCommand = []string{"/bin/sh", "-c", "touch deps-refreshed"}
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	// Fresh install always refreshes.
	_, err = os.Stat(filepath.Join(cfg.InstallRoot, "deps-refreshed"))
	require.NoError(t, err)

	// Same declarations: no refresh. The sentinel from the previous run is
	// gone because the tree was replaced.
	_, err = svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.8", "pyside6\n", true)})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.InstallRoot, "deps-refreshed"))
	require.ErrorIs(t, err, os.ErrNotExist)

	// Changed declarations: refreshed.
	_, err = svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.9", "pyside6\nnumpy\n", true)})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.InstallRoot, "deps-refreshed"))
	require.NoError(t, err)
}

// TestVerificationFailureRollsBack restores the previous version when the
// entry point is missing after the swap.
func TestVerificationFailureRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	seedVenv(t, cfg)

	// Broken release: marker present, entry point absent.
	result, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.8", "pyside6\n", false)})
	require.ErrorIs(t, err, common.ErrVerification)
	require.True(t, result.RolledBack)
	require.False(t, result.RestoreFailed)
	require.Equal(t, StateInstalled, result.State)
	require.Equal(t, "1.0.7", result.Version)

	// The marker equals the prior version again.
	version, markerErr := record.ReadVersionMarker(cfg.MarkerPath())
	require.NoError(t, markerErr)
	require.Equal(t, "1.0.7", version)

	// The persistent subtree survived the failed update and the rollback.
	contents, readErr := os.ReadFile(filepath.Join(cfg.InstallRoot, "venv", "lib", "site.pth"))
	require.NoError(t, readErr)
	require.Equal(t, "preserved", string(contents))
}

// TestVerificationFailureWithoutBackup fails without looping when there is
// nothing to roll back to.
func TestVerificationFailureWithoutBackup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	result, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "", false)})
	require.ErrorIs(t, err, common.ErrVerification)
	require.Equal(t, StateFailed, result.State)
	require.False(t, result.RolledBack)
}

// TestUninstall removes the installation and optionally the data.
func TestUninstall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "session.json"), []byte("{}"), 0o644))

	result, err := svc.Uninstall(ctx, false)
	require.NoError(t, err)
	require.NotEmpty(t, result.BackupName)

	_, err = os.Stat(cfg.InstallRoot)
	require.ErrorIs(t, err, os.ErrNotExist)

	// Data survives without --purge-data.
	_, err = os.Stat(filepath.Join(cfg.DataDir, "session.json"))
	require.NoError(t, err)

	_, err = record.NewFileRepository(cfg.RecordPath()).Load(ctx)
	require.ErrorIs(t, err, record.ErrNotFound)
}

// TestUninstallPurgeData also removes the data directory.
func TestUninstallPurgeData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	_, err = svc.Uninstall(ctx, true)
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRollbackTo restores a named backup on operator request.
func TestRollbackTo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.7", "pyside6\n", true)})
	require.NoError(t, err)

	updateResult, err := svc.Run(ctx, &Options{Source: makeRelease(t, "1.0.8", "pyside6\n", true)})
	require.NoError(t, err)
	require.NotEmpty(t, updateResult.BackupName)

	result, err := svc.RollbackTo(ctx, updateResult.BackupName)
	require.NoError(t, err)
	require.True(t, result.RolledBack)
	require.Equal(t, "1.0.7", result.Version)

	version, err := record.ReadVersionMarker(cfg.MarkerPath())
	require.NoError(t, err)
	require.Equal(t, "1.0.7", version)
}

// TestRollbackToUnknownBackup reports a missing backup cleanly.
func TestRollbackToUnknownBackup(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	svc := NewService(cfg)

	_, err := svc.RollbackTo(context.Background(), "20200101T000000-update")
	require.Error(t, err)
}

// TestAutoLoginEnabled parses GDM configuration fragments.
func TestAutoLoginEnabled(t *testing.T) {
	t.Parallel()

	require.True(t, autoLoginEnabled("[daemon]\nAutomaticLoginEnable = true\nAutomaticLogin = hsparc\n"))
	require.False(t, autoLoginEnabled("[daemon]\nAutomaticLoginEnable = false\n"))
	require.False(t, autoLoginEnabled("[daemon]\n# AutomaticLoginEnable = true\n"))
	require.False(t, autoLoginEnabled(""))
}
