package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hsparc-project/hsparc-deploy/internal/logger"
)

// defaultDirPermissions is used when recreating directories during copies.
const defaultDirPermissions = 0o755

// CopyFile copies a single regular file, preserving its mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = in.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(dst), defaultDirPermissions); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)

		return fmt.Errorf("copy contents: %w", err)
	}

	if err = out.Close(); err != nil {
		_ = os.Remove(dst)

		return fmt.Errorf("close destination: %w", err)
	}

	return nil
}

// CopyTree recursively copies a directory, preserving file modes and
// recreating symlinks. The destination is created if missing; existing
// files are overwritten.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			info, statErr := entry.Info()
			if statErr != nil {
				return statErr
			}

			return os.MkdirAll(target, info.Mode().Perm())
		case entry.Type()&fs.ModeSymlink != 0:
			link, linkErr := os.Readlink(path)
			if linkErr != nil {
				return linkErr
			}

			_ = os.Remove(target)

			return os.Symlink(link, target)
		default:
			return CopyFile(path, target)
		}
	})
}

// TreesEqualIgnoring reports whether two directory trees hold identical
// regular files, skipping the named top-level entries. Used by verification
// tests and the backup round-trip check.
func TreesEqualIgnoring(a, b string, skip ...string) (bool, error) {
	skipSet := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipSet[name] = struct{}{}
	}

	listing := func(root string) (map[string][]byte, error) {
		files := make(map[string][]byte)

		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}

			first := rel
			if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
				first = rel[:idx]
			}

			if _, skipped := skipSet[first]; skipped {
				if entry.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if entry.IsDir() || entry.Type()&fs.ModeSymlink != 0 {
				return nil
			}

			contents, readErr := os.ReadFile(path)
			if readErr != nil {
				return readErr
			}

			files[rel] = contents

			return nil
		})
		if err != nil {
			return nil, err
		}

		return files, nil
	}

	filesA, err := listing(a)
	if err != nil {
		return false, err
	}

	filesB, err := listing(b)
	if err != nil {
		return false, err
	}

	if len(filesA) != len(filesB) {
		return false, nil
	}

	for rel, contents := range filesA {
		other, ok := filesB[rel]
		if !ok || string(other) != string(contents) {
			return false, nil
		}
	}

	return true, nil
}

// LookupUser resolves a username to numeric uid/gid.
func LookupUser(username string) (uid, gid int, err error) {
	account, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %s: %w", username, err)
	}

	uid, err = strconv.Atoi(account.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid: %w", err)
	}

	gid, err = strconv.Atoi(account.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid: %w", err)
	}

	return uid, gid, nil
}

// ChownRecursive sets ownership of a tree to the given service account.
// Ownership fixes are best-effort: on hosts where the account does not
// exist or the caller is unprivileged, the condition is logged and the
// operation continues, because the file swap itself already succeeded.
func ChownRecursive(ctx context.Context, path, username string) {
	if username == "" {
		return
	}

	uid, gid, err := LookupUser(username)
	if err != nil {
		logger.WarnKV(ctx, "Skipping ownership fix, account not resolvable",
			"user", username, "error", err)

		return
	}

	walkErr := filepath.WalkDir(path, func(entryPath string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err = os.Lchown(entryPath, uid, gid); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fs.ErrPermission
			}

			logger.WarnKV(ctx, "Chown failed", "path", entryPath, "error", err)
		}

		return nil
	})

	if walkErr != nil {
		logger.WarnKV(ctx, "Ownership fix incomplete",
			"path", path, "user", username, "error", walkErr)
	}
}
