package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// ChangelogEntry lists the changes shipped in one release.
type ChangelogEntry struct {
	// Version the changes belong to.
	Version string `json:"version"`
	// Changes is an ordered list of human-readable change lines.
	Changes []string `json:"changes"`
}

// VersionManifest describes the latest available release. It is immutable
// once fetched and exists only for the duration of a check.
type VersionManifest struct {
	// Version is the release version (required).
	Version string `json:"version"`
	// Codename is an optional release codename.
	Codename string `json:"codename,omitempty"`
	// ReleaseDate is an optional ISO date string.
	ReleaseDate string `json:"release_date,omitempty"`
	// Changelog is ordered newest first.
	Changelog []ChangelogEntry `json:"changelog,omitempty"`
	// DownloadURL points at the release archive.
	DownloadURL string `json:"download_url,omitempty"`
	// ToolURL points at the deploy tool binary for self-update.
	ToolURL string `json:"tool_url,omitempty"`
	// ToolChecksum is the base64 SHA512 of the tool binary.
	ToolChecksum string `json:"tool_checksum,omitempty"`
}

// maxManifestSize guards against an endpoint streaming garbage at the client.
const maxManifestSize = 1 << 20

// FetchManifest retrieves and decodes the release manifest from an http(s)
// URL or a local file path. There is no implicit retry: the caller decides
// whether to prompt the operator.
func FetchManifest(ctx context.Context, source string) (*VersionManifest, error) {
	var (
		data []byte
		err  error
	)

	if config.IsRemoteSource(source) {
		data, err = fetchRemote(ctx, source)
	} else {
		data, err = fetchLocal(source)
	}

	if err != nil {
		return nil, err
	}

	var manifest VersionManifest
	if err = json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %w", common.ErrManifestMissing, err)
	}

	if manifest.Version == "" {
		return nil, fmt.Errorf("%w: manifest has no version field", common.ErrManifestMissing)
	}

	return &manifest, nil
}

// fetchRemote downloads the manifest over HTTP. Transport failures map to
// the connectivity error; a reachable endpoint without the manifest maps to
// the missing-manifest error.
func fetchRemote(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConnectivity, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s: %s", common.ErrManifestMissing, source, response.Status)
	default:
		return nil, fmt.Errorf("%w: %s: %s", common.ErrConnectivity, source, response.Status)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest body: %w", common.ErrConnectivity, err)
	}

	return data, nil
}

// fetchLocal reads the manifest from a file path or a checkout directory
// containing manifest.json.
func fetchLocal(source string) ([]byte, error) {
	path := filepath.Clean(source)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "manifest.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrManifestMissing, path)
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return data, nil
}
