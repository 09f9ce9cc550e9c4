package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// testConfig builds a config rooted in temp directories with a populated
// data directory and application tree.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()

	cfg := config.Default()
	cfg.ServiceUser = ""
	cfg.InstallRoot = filepath.Join(root, "opt", "hsparc")
	cfg.DataDir = filepath.Join(root, "data")
	cfg.BackupRoot = filepath.Join(root, "backups")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.DataDir, "participants"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.DataDir, "participants", "p01.json"), []byte(`{"id": 1}`), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InstallRoot, "venv", "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstallRoot, "hsparc"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstallRoot, "VERSION"), []byte("1.0.7\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstallRoot, "venv", "lib", "dep"), []byte("dep"), 0o644))

	return cfg
}

// TestCreateAndRestoreRoundtrip restores a data directory byte-identical to
// the pre-backup state.
func TestCreateAndRestoreRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	manager := NewManager(cfg)

	// Keep an untouched reference copy of the data directory.
	reference := filepath.Join(t.TempDir(), "reference")
	require.NoError(t, common.CopyTree(cfg.DataDir, reference))

	b, err := manager.Create(ctx, ReasonUpdate, "1.0.7", "1.0.8")
	require.NoError(t, err)
	require.Contains(t, b.Manifest.Contents, "data")
	require.Contains(t, b.Manifest.Contents, "app")

	// Damage the live data, then restore.
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.DataDir, "participants", "p01.json"), []byte("corrupted"), 0o644))

	require.NoError(t, manager.RestoreData(ctx, b.Name))

	equal, err := common.TreesEqualIgnoring(reference, cfg.DataDir)
	require.NoError(t, err)
	require.True(t, equal)
}

// TestSnapshotSkipsPersistentSubtree keeps the venv out of app snapshots.
func TestSnapshotSkipsPersistentSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	manager := NewManager(cfg)

	b, err := manager.Create(ctx, ReasonUpdate, "1.0.7", "")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(b.Path, "app", "hsparc"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(b.Path, "app", "venv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestPartialBackupInvisible ignores directories without a manifest.
func TestPartialBackupInvisible(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	manager := NewManager(cfg)

	// Simulate a crash mid-backup: data copied, manifest never written.
	partial := filepath.Join(cfg.BackupRoot, "20250101T000000-update")
	require.NoError(t, os.MkdirAll(filepath.Join(partial, "data"), 0o755))

	backups, err := manager.List(ctx)
	require.NoError(t, err)
	require.Empty(t, backups)

	_, err = manager.Get(ctx, "20250101T000000-update")
	require.ErrorIs(t, err, ErrBackupNotFound)
}

// TestRetention keeps exactly the 3 newest routine backups after 5 runs,
// and never prunes manual or pre-uninstall backups.
func TestRetention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	manager := NewManager(cfg)

	_, err := manager.Create(ctx, ReasonManual, "1.0.7", "")
	require.NoError(t, err)

	var newest []string

	for i := 0; i < 5; i++ {
		b, createErr := manager.Create(ctx, ReasonUpdate, "1.0.7", "1.0.8")
		require.NoError(t, createErr)

		newest = append(newest, b.Name)
		require.NoError(t, manager.Prune(ctx))
	}

	backups, err := manager.List(ctx)
	require.NoError(t, err)

	var routine, manual []string

	for _, b := range backups {
		switch b.Manifest.Reason {
		case ReasonUpdate:
			routine = append(routine, b.Name)
		default:
			manual = append(manual, b.Name)
		}
	}

	require.Len(t, routine, 3)
	require.ElementsMatch(t, newest[2:], routine)
	require.Len(t, manual, 1)
}

// TestListOrder returns backups newest first.
func TestListOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	manager := NewManager(cfg)

	first, err := manager.Create(ctx, ReasonUpdate, "1.0.6", "1.0.7")
	require.NoError(t, err)

	second, err := manager.Create(ctx, ReasonUpdate, "1.0.7", "1.0.8")
	require.NoError(t, err)

	backups, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.Equal(t, second.Name, backups[0].Name)
	require.Equal(t, first.Name, backups[1].Name)
}
