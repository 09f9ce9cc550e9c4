package selfupdate

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/service/checker"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

var (
	errAlreadyRunning = errors.New("a self-update is already running")
	errNoToolRelease  = errors.New("manifest advertises no tool binary")
	errNoChecksum     = errors.New("manifest advertises no tool checksum")
)

const (
	// markerFilename marks a self-update in progress to avoid parallel runs.
	markerFilename = "hsparc-deploy-update-marker"

	// markerLifetime is the period after which a stale marker is ignored.
	markerLifetime = 30 * time.Second

	// toolFileMode is applied to the replaced binary.
	toolFileMode os.FileMode = 0o755

	// checksumFunction verifies the downloaded tool binary.
	checksumFunction = crypto.SHA512
)

// Options are inputs accepted by the self-update entry point.
type Options struct {
	// ManifestSource overrides the configured manifest URL.
	ManifestSource string
}

// Run replaces the running deploy tool with the binary advertised by the
// release manifest, verified against its SHA512 checksum. The swap is atomic:
// go-update stages the new binary and renames it over the target.
func Run(ctx context.Context, cfg *config.Config, opts *Options) error {
	ctx = logger.WithName(ctx, "self-update")

	if isRunningNow(ctx) || siblingProcessRunning(ctx) {
		return errAlreadyRunning
	}

	marker, err := os.Create(markerPath())
	if err != nil {
		return fmt.Errorf("create update marker: %w", err)
	}

	if err = marker.Close(); err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(markerPath())
	}()

	source := opts.ManifestSource
	if source == "" {
		source = cfg.ManifestURL
	}

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	manifest, err := checker.FetchManifest(fetchCtx, source)
	if err != nil {
		return err
	}

	if manifest.ToolURL == "" {
		return errNoToolRelease
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running binary: %w", err)
	}

	logger.InfoKV(ctx, "Downloading tool binary", "url", manifest.ToolURL)

	data, err := download(fetchCtx, manifest.ToolURL)
	if err != nil {
		return err
	}

	if err = apply(data, manifest.ToolChecksum, executable); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Tool updated", "target", executable, "release", manifest.Version)

	return nil
}

// apply verifies and atomically installs the new binary at targetPath.
func apply(data []byte, checksumBase64, targetPath string) error {
	if checksumBase64 == "" {
		return errNoChecksum
	}

	checksum, err := base64.StdEncoding.DecodeString(checksumBase64)
	if err != nil {
		return fmt.Errorf("decode tool checksum: %w", err)
	}

	options := goupdate.Options{
		TargetPath: targetPath,
		TargetMode: toolFileMode,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply tool update: %w", err)
	}

	// go-update leaves the previous binary behind as .old; drop it.
	oldPath := targetPath + ".old"
	if _, err = os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	return nil
}

// download fetches the tool binary into memory.
func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
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
		return nil, fmt.Errorf("%w: %s: %s", common.ErrDownload, url, response.Status)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDownload, err)
	}

	return data, nil
}

// markerPath keeps the marker in the system temp directory so unprivileged
// dry runs do not litter the working directory.
func markerPath() string {
	return filepath.Join(os.TempDir(), markerFilename)
}

// siblingProcessRunning reports whether another instance of this binary is
// alive. Swapping the binary out from under a running install would corrupt
// that run.
func siblingProcessRunning(ctx context.Context) bool {
	executable, err := os.Executable()
	if err != nil {
		return false
	}

	processes, err := ps.Processes()
	if err != nil {
		logger.WarnKV(ctx, "Process scan failed, relying on marker only", "error", err)

		return false
	}

	name := filepath.Base(executable)
	ownPID := os.Getpid()

	for _, process := range processes {
		if process.Pid() != ownPID && process.Executable() == name {
			logger.WarnKV(ctx, "Another instance is running", "pid", process.Pid())

			return true
		}
	}

	return false
}

// isRunningNow checks the marker and recovers from a stale one.
func isRunningNow(ctx context.Context) bool {
	info, err := os.Stat(markerPath())
	if err != nil {
		return false
	}

	if time.Since(info.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "Stale update marker found, removing")

	return os.Remove(markerPath()) != nil
}
