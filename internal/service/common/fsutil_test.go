package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCopyTree copies nested files and preserves executable bits.
func TestCopyTree(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub", "deeper"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hsparc"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "deeper", "data.bin"), []byte{1, 2, 3}, 0o644))

	require.NoError(t, CopyTree(src, dst))

	info, err := os.Stat(filepath.Join(dst, "hsparc"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	contents, err := os.ReadFile(filepath.Join(dst, "sub", "deeper", "data.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, contents)

	equal, err := TreesEqualIgnoring(src, dst)
	require.NoError(t, err)
	require.True(t, equal)
}

// TestTreesEqualIgnoring skips the named top-level subtree on both sides.
func TestTreesEqualIgnoring(t *testing.T) {
	t.Parallel()

	a := t.TempDir()
	b := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(a, "same.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "same.txt"), []byte("x"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(a, "venv"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a, "venv", "only-here"), []byte("y"), 0o644))

	equal, err := TreesEqualIgnoring(a, b, "venv")
	require.NoError(t, err)
	require.True(t, equal)

	equal, err = TreesEqualIgnoring(a, b)
	require.NoError(t, err)
	require.False(t, equal)
}

// TestChownRecursiveBestEffort never fails for an unknown account.
func TestChownRecursiveBestEffort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))

	// Account that cannot exist: the fix is skipped with a warning.
	ChownRecursive(context.Background(), dir, "hsparc-no-such-account")
}

// TestStopResultString renders all outcomes.
func TestStopResultString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "stopped", Stopped.String())
	require.Equal(t, "was-not-running", WasNotRunning.String())
	require.Equal(t, "stop-failed", StopFailed.String())
}

// TestTerminateProcessesNoMatch is a no-op when nothing matches.
func TestTerminateProcessesNoMatch(t *testing.T) {
	t.Parallel()

	terminated, err := TerminateProcesses(context.Background(), []string{"hsparc-no-such-proc"})
	require.NoError(t, err)
	require.Zero(t, terminated)

	terminated, err = TerminateProcesses(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, terminated)
}
