package selfupdate

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// TestApplyReplacesTarget swaps the target binary after checksum verification.
func TestApplyReplacesTarget(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "hsparc-deploy")
	require.NoError(t, os.WriteFile(target, []byte("old binary"), 0o755))

	newBinary := []byte("new binary contents")
	sum := sha512.Sum512(newBinary)
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	require.NoError(t, apply(newBinary, checksum, target))

	replaced, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, newBinary, replaced)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, toolFileMode, info.Mode().Perm())

	// The previous binary must not linger next to the target.
	_, err = os.Stat(target + ".old")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestApplyRejectsChecksumMismatch leaves the target untouched.
func TestApplyRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "hsparc-deploy")
	require.NoError(t, os.WriteFile(target, []byte("old binary"), 0o755))

	sum := sha512.Sum512([]byte("something else entirely"))
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	require.Error(t, apply([]byte("new binary contents"), checksum, target))

	untouched, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("old binary"), untouched)
}

// TestApplyRequiresChecksum refuses an unverifiable release.
func TestApplyRequiresChecksum(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "hsparc-deploy")
	require.NoError(t, os.WriteFile(target, []byte("old binary"), 0o755))

	require.ErrorIs(t, apply([]byte("data"), "", target), errNoChecksum)
}

// TestDownload fetches bytes and maps failures to the download error.
func TestDownload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tool" {
			_, _ = w.Write([]byte("tool bytes"))
			return
		}

		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	data, err := download(context.Background(), server.URL+"/tool")
	require.NoError(t, err)
	require.Equal(t, []byte("tool bytes"), data)

	_, err = download(context.Background(), server.URL+"/missing")
	require.ErrorIs(t, err, common.ErrDownload)
}

// TestIsRunningNow honors a fresh marker and discards a stale one. The
// marker lives at a fixed path, so this test does not run in parallel.
func TestIsRunningNow(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, os.RemoveAll(markerPath()))
	require.False(t, isRunningNow(ctx))

	require.NoError(t, os.WriteFile(markerPath(), nil, 0o644))
	t.Cleanup(func() {
		_ = os.Remove(markerPath())
	})

	require.True(t, isRunningNow(ctx))

	stale := time.Now().Add(-2 * markerLifetime)
	require.NoError(t, os.Chtimes(markerPath(), stale, stale))
	require.False(t, isRunningNow(ctx))

	_, err := os.Stat(markerPath())
	require.ErrorIs(t, err, os.ErrNotExist)
}
