package checker

import (
	"context"
	"fmt"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/repository/record"
)

// UnknownVersion is reported when the installed version cannot be read.
// A missing or corrupt marker never aborts a check.
const UnknownVersion = "unknown"

// Result is the outcome of a version check.
type Result struct {
	// Current is the installed version, or UnknownVersion.
	Current string
	// Latest is the version advertised by the manifest.
	Latest string
	// IsNewer reports that the remote release is newer (update available).
	IsNewer bool
	// IsOlder reports that the installation is ahead of the remote
	// (likely a development build).
	IsOlder bool
	// IsEqual reports that the versions match.
	IsEqual bool
	// Manifest is the fetched release manifest.
	Manifest *VersionManifest
}

// Check determines the installed version, fetches the remote manifest and
// compares the two. The manifest source defaults to the configured URL.
func Check(ctx context.Context, cfg *config.Config, source string) (*Result, error) {
	ctx = logger.WithName(ctx, "checker")

	if source == "" {
		source = cfg.ManifestURL
	}

	current := InstalledVersion(ctx, cfg)

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	manifest, err := FetchManifest(fetchCtx, source)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	ordering := Compare(current, manifest.Version)

	result := &Result{
		Current:  current,
		Latest:   manifest.Version,
		IsNewer:  ordering < 0,
		IsOlder:  ordering > 0,
		IsEqual:  ordering == 0,
		Manifest: manifest,
	}

	switch {
	case result.IsEqual:
		logger.InfoKV(ctx, "Installation is up to date", "version", current)
	case result.IsOlder:
		logger.WarnKV(ctx, "Installed version is ahead of the remote, possibly a dev build",
			"current", current, "latest", manifest.Version)
	default:
		logger.InfoKV(ctx, "Update available",
			"current", current, "latest", manifest.Version)
	}

	return result, nil
}

// InstalledVersion reads the installed version from the marker file,
// softening any failure to UnknownVersion.
func InstalledVersion(ctx context.Context, cfg *config.Config) string {
	version, err := record.ReadVersionMarker(cfg.MarkerPath())
	if err != nil {
		logger.DebugKV(ctx, "Installed version not readable",
			"path", cfg.MarkerPath(), "error", err)

		return UnknownVersion
	}

	return version
}
