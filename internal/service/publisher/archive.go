package publisher

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeArchive packs the release tree into a gzipped tarball. Entries are
// placed under a single root directory so extraction never scatters files
// into the target.
func writeArchive(releaseDir, archivePath, root string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	walkErr := filepath.Walk(releaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(releaseDir, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}

		header.Name = filepath.ToSlash(filepath.Join(root, rel))
		if info.IsDir() {
			header.Name += "/"
		}

		if err = tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}

		_, err = io.Copy(tarWriter, file)
		_ = file.Close()

		return err
	})

	if walkErr != nil {
		_ = tarWriter.Close()
		_ = gzWriter.Close()
		_ = out.Close()
		_ = os.Remove(archivePath)

		return fmt.Errorf("pack release: %w", walkErr)
	}

	for _, closer := range []io.Closer{tarWriter, gzWriter, out} {
		if err = closer.Close(); err != nil {
			return fmt.Errorf("finalize archive: %w", err)
		}
	}

	return nil
}
