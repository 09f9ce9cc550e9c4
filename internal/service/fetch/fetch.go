package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// Result is a fetched release tree ready for installation.
type Result struct {
	// Tree is the root of the extracted release.
	Tree string
	// cleanup removes temporary state; nil for local sources.
	cleanup func()
}

// Cleanup removes any temporary directories behind the result.
func (r *Result) Cleanup() {
	if r != nil && r.cleanup != nil {
		r.cleanup()
	}
}

// Fetch retrieves a release tree from a versioned archive URL, a git
// repository reference or a local path. The returned tree always contains
// the version marker; a reachable but incomplete source fails with the
// incomplete-release error. Network work is bounded by the context and is
// never retried implicitly.
func Fetch(ctx context.Context, cfg *config.Config, source string) (*Result, error) {
	ctx = logger.WithName(ctx, "fetch")

	switch {
	case strings.HasSuffix(source, ".git") || strings.HasPrefix(source, "git@"):
		return fetchClone(ctx, cfg, source)
	case config.IsRemoteSource(source):
		return fetchArchive(ctx, cfg, source)
	default:
		return fetchLocal(cfg, source)
	}
}

// fetchLocal validates a release tree already on disk.
func fetchLocal(cfg *config.Config, source string) (*Result, error) {
	path := filepath.Clean(source)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("local source: %w", err)
	}

	if !info.IsDir() {
		// A local tarball is extracted next to the temp downloads.
		return extractToTemp(cfg, path)
	}

	if err = verifyTree(cfg, path); err != nil {
		return nil, err
	}

	return &Result{Tree: path}, nil
}

// fetchArchive downloads a release tarball to a temporary location and
// extracts it.
func fetchArchive(ctx context.Context, cfg *config.Config, source string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDownload, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", common.ErrDownload, source, response.Status)
	}

	tmpDir, err := os.MkdirTemp("", "hsparc-fetch-")
	if err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	archivePath := filepath.Join(tmpDir, "release.tar.gz")

	written, err := writeBody(archivePath, response.Body)
	if err != nil {
		cleanup()

		return nil, err
	}

	// A transfer shorter than advertised is truncated, not retried.
	if response.ContentLength > 0 && written != response.ContentLength {
		cleanup()

		return nil, fmt.Errorf("%w: truncated transfer, got %d of %d bytes",
			common.ErrDownload, written, response.ContentLength)
	}

	logger.InfoKV(ctx, "Release archive downloaded", "url", source, "bytes", written)

	tree, err := ExtractTarGz(archivePath, filepath.Join(tmpDir, "tree"))
	if err != nil {
		cleanup()

		return nil, fmt.Errorf("extract release: %w", err)
	}

	if err = verifyTree(cfg, tree); err != nil {
		cleanup()

		return nil, err
	}

	return &Result{Tree: tree, cleanup: cleanup}, nil
}

// fetchClone shallow-clones a release repository.
func fetchClone(ctx context.Context, cfg *config.Config, source string) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "hsparc-clone-")
	if err != nil {
		return nil, fmt.Errorf("create clone directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	tree := filepath.Join(tmpDir, "checkout")
	if err = common.RunCommand(ctx, "", "git", "clone", "--depth", "1", source, tree); err != nil {
		cleanup()

		return nil, fmt.Errorf("%w: %w", common.ErrConnectivity, err)
	}

	logger.InfoKV(ctx, "Repository cloned", "source", source)

	if err = verifyTree(cfg, tree); err != nil {
		cleanup()

		return nil, err
	}

	return &Result{Tree: tree, cleanup: cleanup}, nil
}

// extractToTemp handles a tarball already present on the local filesystem.
func extractToTemp(cfg *config.Config, archivePath string) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "hsparc-fetch-")
	if err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	tree, err := ExtractTarGz(archivePath, filepath.Join(tmpDir, "tree"))
	if err != nil {
		cleanup()

		return nil, fmt.Errorf("extract release: %w", err)
	}

	if err = verifyTree(cfg, tree); err != nil {
		cleanup()

		return nil, err
	}

	return &Result{Tree: tree, cleanup: cleanup}, nil
}

// verifyTree checks that the fetched tree carries the version marker.
func verifyTree(cfg *config.Config, tree string) error {
	marker := filepath.Join(tree, cfg.VersionMarker)
	if _, err := os.Stat(marker); err != nil {
		return fmt.Errorf("%w: missing %s", common.ErrIncompleteRelease, cfg.VersionMarker)
	}

	return nil
}

// writeBody streams a response body to disk.
func writeBody(path string, body io.Reader) (int64, error) {
	out, err := os.Create(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("create archive file: %w", err)
	}

	written, err := io.Copy(out, body)
	if err != nil {
		_ = out.Close()

		return written, fmt.Errorf("%w: %w", common.ErrDownload, err)
	}

	if err = out.Close(); err != nil {
		return written, fmt.Errorf("finish archive file: %w", err)
	}

	return written, nil
}
