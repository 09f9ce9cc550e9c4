package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// Backup reasons. Retention pruning applies to routine update backups only;
// manual and pre-uninstall backups are kept until an operator removes them.
const (
	ReasonUpdate    = "update"
	ReasonUninstall = "uninstall"
	ReasonManual    = "manual"
)

// Subtree names inside a backup directory.
const (
	appSubtree  = "app"
	dataSubtree = "data"

	manifestFilename = "manifest.json"

	// stampLayout names backup directories by creation time.
	stampLayout = "20060102T150405"
)

// Manifest records what a backup captured. It is written last: a backup
// directory without a manifest is a partial write and is never listed or
// restored.
type Manifest struct {
	// CreatedAt is the backup creation time.
	CreatedAt time.Time `json:"created_at"`
	// FromVersion is the version installed when the backup was taken.
	FromVersion string `json:"from_version"`
	// ToVersion is the version being installed, when known.
	ToVersion string `json:"to_version,omitempty"`
	// Reason tags why the backup was taken (update, uninstall, manual).
	Reason string `json:"reason"`
	// Contents lists the captured subtrees.
	Contents []string `json:"contents"`
}

// Backup is a snapshot on disk together with its manifest.
type Backup struct {
	// Name is the backup directory name.
	Name string
	// Path is the absolute backup directory.
	Path string
	// Manifest describes what was captured.
	Manifest Manifest
}

var (
	// ErrBackupNotFound is returned when the named backup does not exist
	// or is a partial write without a manifest.
	ErrBackupNotFound = errors.New("backup not found")

	// errNoAppSnapshot is returned when a rollback needs the application
	// snapshot but the backup captured only data.
	errNoAppSnapshot = errors.New("backup holds no application snapshot")
)

// Manager creates, lists, restores and prunes backups under the configured
// backup root.
type Manager struct {
	cfg *config.Config
}

// NewManager returns a backup manager for the provided configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Create snapshots the data directory, the application tree (minus the
// persistent subtree) and the version marker before any mutating operation.
// The manifest is written only after every copy succeeded.
func (m *Manager) Create(ctx context.Context, reason, fromVersion, toVersion string) (*Backup, error) {
	ctx = logger.WithName(ctx, "backup")

	name, path, err := m.allocateDirectory(reason)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		CreatedAt:   time.Now().UTC(),
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Reason:      reason,
	}

	if _, statErr := os.Stat(m.cfg.DataDir); statErr == nil {
		if err = common.CopyTree(m.cfg.DataDir, filepath.Join(path, dataSubtree)); err != nil {
			return nil, fmt.Errorf("snapshot data directory: %w", err)
		}

		manifest.Contents = append(manifest.Contents, dataSubtree)
	}

	if _, statErr := os.Stat(m.cfg.InstallRoot); statErr == nil {
		if err = m.snapshotApp(path); err != nil {
			return nil, fmt.Errorf("snapshot application tree: %w", err)
		}

		manifest.Contents = append(manifest.Contents, appSubtree)
	}

	if err = writeManifest(path, &manifest); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Backup created",
		"name", name, "reason", reason, "contents", manifest.Contents)

	return &Backup{Name: name, Path: path, Manifest: manifest}, nil
}

// snapshotApp copies the application tree, skipping the persistent subtree:
// it is preserved in place during updates and would only bloat the snapshot.
func (m *Manager) snapshotApp(backupPath string) error {
	dst := filepath.Join(backupPath, appSubtree)

	entries, err := os.ReadDir(m.cfg.InstallRoot)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name() == m.cfg.PersistentSubtree {
			continue
		}

		src := filepath.Join(m.cfg.InstallRoot, entry.Name())
		target := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err = common.CopyTree(src, target); err != nil {
				return err
			}

			continue
		}

		if err = common.CopyFile(src, target); err != nil {
			return err
		}
	}

	return nil
}

// List enumerates valid backups, newest first. Directories without a
// manifest are partial writes and are skipped.
func (m *Manager) List(ctx context.Context) ([]*Backup, error) {
	entries, err := os.ReadDir(m.cfg.BackupRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read backup root: %w", err)
	}

	backups := make([]*Backup, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(m.cfg.BackupRoot, entry.Name())

		manifest, readErr := readManifest(path)
		if readErr != nil {
			logger.DebugKV(ctx, "Skipping backup without valid manifest",
				"name", entry.Name(), "error", readErr)

			continue
		}

		backups = append(backups, &Backup{
			Name:     entry.Name(),
			Path:     path,
			Manifest: *manifest,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Manifest.CreatedAt.Equal(backups[j].Manifest.CreatedAt) {
			return backups[i].Manifest.CreatedAt.After(backups[j].Manifest.CreatedAt)
		}

		return backups[i].Name > backups[j].Name
	})

	return backups, nil
}

// Get returns the named backup, or ErrBackupNotFound.
func (m *Manager) Get(ctx context.Context, name string) (*Backup, error) {
	path := filepath.Join(m.cfg.BackupRoot, filepath.Base(name))

	manifest, err := readManifest(path)
	if err != nil {
		logger.DebugKV(ctx, "Backup lookup failed", "name", name, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}

	return &Backup{Name: filepath.Base(name), Path: path, Manifest: *manifest}, nil
}

// RestoreData copies the backup's data subtree back into place and fixes
// ownership. Application binaries are not touched; that is the rollback
// handler's job.
func (m *Manager) RestoreData(ctx context.Context, name string) error {
	ctx = logger.WithName(ctx, "backup")

	b, err := m.Get(ctx, name)
	if err != nil {
		return err
	}

	src := filepath.Join(b.Path, dataSubtree)
	if _, err = os.Stat(src); err != nil {
		return fmt.Errorf("backup %s captured no data subtree: %w", name, err)
	}

	if err = common.CopyTree(src, m.cfg.DataDir); err != nil {
		return fmt.Errorf("restore data: %w", err)
	}

	common.ChownRecursive(ctx, m.cfg.DataDir, m.cfg.ServiceUser)
	logger.InfoKV(ctx, "Data restored from backup", "name", name)

	return nil
}

// RestoreApp copies the backup's application snapshot into the install root.
// Only the rollback handler calls this.
func (m *Manager) RestoreApp(ctx context.Context, b *Backup) error {
	src := filepath.Join(b.Path, appSubtree)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %s", errNoAppSnapshot, b.Name)
	}

	if err := common.CopyTree(src, m.cfg.InstallRoot); err != nil {
		return fmt.Errorf("restore application tree: %w", err)
	}

	return nil
}

// Prune keeps the most recent retention-cap routine update backups and
// deletes the rest. Manual and pre-uninstall backups are never touched.
func (m *Manager) Prune(ctx context.Context) error {
	ctx = logger.WithName(ctx, "backup")

	backups, err := m.List(ctx)
	if err != nil {
		return err
	}

	var routine []*Backup

	for _, b := range backups {
		if b.Manifest.Reason == ReasonUpdate {
			routine = append(routine, b)
		}
	}

	if len(routine) <= m.cfg.BackupRetention {
		return nil
	}

	for _, b := range routine[m.cfg.BackupRetention:] {
		if err = os.RemoveAll(b.Path); err != nil {
			return fmt.Errorf("prune backup %s: %w", b.Name, err)
		}

		logger.InfoKV(ctx, "Pruned backup", "name", b.Name)
	}

	return nil
}

// allocateDirectory creates a uniquely named backup directory. Names embed
// the creation stamp and the reason; a same-second collision gets a numeric
// suffix instead of overwriting.
func (m *Manager) allocateDirectory(reason string) (string, string, error) {
	if err := os.MkdirAll(m.cfg.BackupRoot, 0o755); err != nil {
		return "", "", fmt.Errorf("create backup root: %w", err)
	}

	base := fmt.Sprintf("%s-%s", time.Now().UTC().Format(stampLayout), reason)

	for attempt := 0; ; attempt++ {
		name := base
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d", base, attempt+1)
		}

		path := filepath.Join(m.cfg.BackupRoot, name)

		err := os.Mkdir(path, 0o755)
		if err == nil {
			return name, path, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("create backup directory: %w", err)
		}
	}
}

// writeManifest finalizes a backup. Its presence is what marks the backup valid.
func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Join(path, manifestFilename), data, 0o644); err != nil {
		return fmt.Errorf("write backup manifest: %w", err)
	}

	return nil
}

// readManifest loads and validates a backup manifest.
func readManifest(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Join(path, manifestFilename))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err = json.Unmarshal(contents, &manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}
