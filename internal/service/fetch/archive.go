package fetch

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// errUnsafeArchivePath is returned for entries escaping the extraction root.
var errUnsafeArchivePath = errors.New("archive entry escapes extraction root")

// ExtractTarGz unpacks a gzipped tarball under destDir and returns the tree
// root. When the archive wraps everything in a single top-level directory
// (the usual release layout), that wrapper is stripped so the returned root
// is the application root either way.
func ExtractTarGz(archivePath, destDir string) (string, error) {
	f, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("read gzip header: %w", err)
	}

	defer func() {
		_ = gz.Close()
	}()

	if err = os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create extraction root: %w", err)
	}

	reader := tar.NewReader(gz)

	for {
		header, readErr := reader.Next()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return "", fmt.Errorf("read archive entry: %w", readErr)
		}

		if err = extractEntry(reader, header, destDir); err != nil {
			return "", err
		}
	}

	return normalizeRoot(destDir)
}

// extractEntry writes a single tar entry, rejecting traversal attempts.
func extractEntry(reader *tar.Reader, header *tar.Header, destDir string) error {
	name := filepath.Clean(header.Name)
	if name == "." {
		return nil
	}

	if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: %s", errUnsafeArchivePath, header.Name)
	}

	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", errUnsafeArchivePath, header.Name)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(header.Mode).Perm())
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		return os.Symlink(header.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
		if err != nil {
			return fmt.Errorf("create extracted file: %w", err)
		}

		if _, err = io.Copy(out, reader); err != nil { //nolint:gosec // Size is bounded by the downloaded archive.
			_ = out.Close()

			return fmt.Errorf("write extracted file: %w", err)
		}

		return out.Close()
	default:
		// Hard links, devices and the like have no business in a release.
		return nil
	}
}

// normalizeRoot strips a single wrapping top-level directory when present.
func normalizeRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("inspect extraction root: %w", err)
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(destDir, entries[0].Name()), nil
	}

	return destDir, nil
}
