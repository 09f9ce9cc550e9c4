package publisher

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/repository/record"
	"github.com/hsparc-project/hsparc-deploy/internal/service/checker"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

var (
	errReleaseDirRequired = errors.New("release directory must be provided")
	errReleaseDirMissing  = errors.New("release directory does not exist")
)

const (
	// ManifestFilename is the name the checker looks for in local sources.
	ManifestFilename = "manifest.json"

	// ChecksumsFilename lists base64 SHA512 sums of published artifacts.
	ChecksumsFilename = "SHA512SUMS"

	manifestFileMode os.FileMode = 0o644
)

// Options are inputs accepted by the publish entry point.
type Options struct {
	// ReleaseDir is the application tree to publish. It must carry the
	// version marker.
	ReleaseDir string
	// OutputDir receives the archive, manifest and checksum list.
	// Defaults to the parent of ReleaseDir.
	OutputDir string
	// DownloadURL overrides the archive URL written into the manifest.
	// Defaults to the archive file name, suitable for same-directory hosting.
	DownloadURL string
	// Codename is an optional release codename.
	Codename string
	// Changes are the human-readable change lines for this release.
	Changes []string
	// ToolPath optionally points at a deploy tool binary to publish for
	// self-update. Its checksum is embedded in the manifest.
	ToolPath string
	// ToolURL overrides the tool URL written into the manifest.
	ToolURL string
	// PreviousManifest is an optional manifest (path or URL) whose changelog
	// is carried over behind the new entry.
	PreviousManifest string
}

// Publisher assembles a publishable release: archive, manifest and checksums.
type Publisher struct {
	cfg *config.Config
}

// New returns a publisher bound to the provided configuration.
func New(cfg *config.Config) *Publisher {
	return &Publisher{cfg: cfg}
}

// Run packages the release tree and writes manifest.json, the tar.gz archive
// and the checksum list into the output directory. The manifest is returned
// so callers can print it.
func (p *Publisher) Run(ctx context.Context, opts *Options) (*checker.VersionManifest, error) {
	ctx = logger.WithName(ctx, "publisher")

	if opts == nil || opts.ReleaseDir == "" {
		return nil, errReleaseDirRequired
	}

	releaseDir := filepath.Clean(opts.ReleaseDir)

	if info, err := os.Stat(releaseDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errReleaseDirMissing, releaseDir)
	}

	version, err := record.ReadVersionMarker(filepath.Join(releaseDir, p.cfg.VersionMarker))
	if err != nil {
		return nil, fmt.Errorf("%w: release has no readable version marker: %w",
			common.ErrIncompleteRelease, err)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(releaseDir)
	}

	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	archiveName := fmt.Sprintf("hsparc-%s.tar.gz", version)
	archivePath := filepath.Join(outputDir, archiveName)

	logger.InfoKV(ctx, "Packing release", "version", version, "archive", archivePath)

	if err = writeArchive(releaseDir, archivePath, "hsparc-"+version); err != nil {
		return nil, err
	}

	manifest := &checker.VersionManifest{
		Version:     version,
		Codename:    opts.Codename,
		ReleaseDate: time.Now().Format("2006-01-02"),
		DownloadURL: opts.DownloadURL,
	}

	if manifest.DownloadURL == "" {
		manifest.DownloadURL = archiveName
	}

	manifest.Changelog = buildChangelog(ctx, version, opts)

	sums := []checksumEntry{}

	archiveSum, err := fileChecksum(archivePath)
	if err != nil {
		return nil, err
	}

	sums = append(sums, checksumEntry{Name: archiveName, Checksum: archiveSum})

	if opts.ToolPath != "" {
		toolSum, toolErr := fileChecksum(opts.ToolPath)
		if toolErr != nil {
			return nil, toolErr
		}

		manifest.ToolChecksum = toolSum
		manifest.ToolURL = opts.ToolURL

		if manifest.ToolURL == "" {
			manifest.ToolURL = filepath.Base(opts.ToolPath)
		}

		sums = append(sums, checksumEntry{
			Name:     filepath.Base(opts.ToolPath),
			Checksum: toolSum,
		})
	}

	if err = writeChecksums(filepath.Join(outputDir, ChecksumsFilename), sums); err != nil {
		return nil, err
	}

	if err = writeManifest(filepath.Join(outputDir, ManifestFilename), manifest); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Release published", "version", version, "dir", outputDir)

	return manifest, nil
}

// buildChangelog prepends this release's entry to the previous changelog,
// dropping any stale entry for the same version.
func buildChangelog(ctx context.Context, version string, opts *Options) []checker.ChangelogEntry {
	entries := []checker.ChangelogEntry{{Version: version, Changes: opts.Changes}}

	if opts.PreviousManifest == "" {
		return entries
	}

	previous, err := checker.FetchManifest(ctx, opts.PreviousManifest)
	if err != nil {
		logger.WarnKV(ctx, "Previous manifest unavailable, starting changelog fresh",
			"source", opts.PreviousManifest, "error", err)

		return entries
	}

	for _, entry := range previous.Changelog {
		if entry.Version == version {
			continue
		}

		entries = append(entries, entry)
	}

	return entries
}

type checksumEntry struct {
	Name     string
	Checksum string
}

// fileChecksum returns the base64 SHA512 of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	hash := sha512.New()
	if _, err = io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

// writeChecksums writes one "<checksum>  <name>" line per artifact.
func writeChecksums(path string, sums []checksumEntry) error {
	var b strings.Builder
	for _, sum := range sums {
		fmt.Fprintf(&b, "%s  %s\n", sum.Checksum, sum.Name)
	}

	if err := os.WriteFile(path, []byte(b.String()), manifestFileMode); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}

	return nil
}

// writeManifest writes the manifest as indented JSON.
func writeManifest(path string, manifest *checker.VersionManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(path, append(data, '\n'), manifestFileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}
