package install

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/repository/record"
	"github.com/hsparc-project/hsparc-deploy/internal/service/backup"
	"github.com/hsparc-project/hsparc-deploy/internal/service/checker"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
	"github.com/hsparc-project/hsparc-deploy/internal/service/fetch"

	// Ensure SHA512 is available for dependency-file comparison.
	_ "crypto/sha512"
)

// Mode selects the installation behavior.
type Mode string

const (
	// ModeFresh installs onto a host without a prior installation.
	ModeFresh Mode = "fresh"
	// ModeUpdate replaces an existing installation with a newer release.
	ModeUpdate Mode = "update"
	// ModeReinstall replaces an installation with the same release.
	ModeReinstall Mode = "reinstall"
)

// State tracks the installer through its lifecycle.
type State string

const (
	StateNotInstalled State = "not-installed"
	StateInstalling   State = "installing"
	StateVerifying    State = "verifying"
	StateInstalled    State = "installed"
	StateRollingBack  State = "rolling-back"
	StateFailed       State = "failed"
)

// dependencyChecksum is the hash used to detect dependency-set changes.
const dependencyChecksum = crypto.SHA512

// Options are inputs accepted by the installer entry point.
type Options struct {
	// Source is a release archive URL, a git reference or a local path.
	// Empty means: resolve via the manifest's download_url.
	Source string
	// Mode forces the installation mode; empty selects fresh or update
	// based on the installation record.
	Mode Mode
}

// Result reports what the installer did.
type Result struct {
	// State is the terminal state of the run.
	State State
	// Version is the version now installed (after rollback, the previous one).
	Version string
	// PreviousVersion is the version present before the run.
	PreviousVersion string
	// Stop is the outcome of stopping the service before mutation.
	Stop common.StopResult
	// BackupName names the backup taken before mutation, if any.
	BackupName string
	// RolledBack reports that verification failed and the backup was restored.
	RolledBack bool
	// RestoreFailed reports that the rollback itself failed; the host needs
	// operator attention.
	RestoreFailed bool
	// StartErr carries a failed service restart. The files are correctly
	// installed; operational recovery is a separate concern.
	StartErr error
}

// Service orchestrates installs, updates, uninstalls and rollbacks.
type Service struct {
	cfg     *config.Config
	backups *backup.Manager
	records record.Repository
}

// NewService wires the installer against the provided configuration.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:     cfg,
		backups: backup.NewManager(cfg),
		records: record.NewFileRepository(cfg.RecordPath()),
	}
}

var (
	// errNoDownloadURL is returned when neither a source nor a manifest
	// download URL is available.
	errNoDownloadURL = errors.New("no release source: manifest has no download_url")
	// errVersionUnreadable is returned when the fetched tree's marker
	// cannot be parsed.
	errVersionUnreadable = errors.New("fetched release has an unreadable version marker")
)

// Run executes an install or update. The sequence follows the lifecycle:
// resolve source, snapshot, stop, swap files around the persistent subtree,
// refresh dependencies, fix ownership, verify, then restart.
func (s *Service) Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "install")

	rec, err := s.records.Load(ctx)
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return nil, fmt.Errorf("load installation record: %w", err)
	}

	mode := opts.Mode
	if mode == "" {
		if rec == nil {
			mode = ModeFresh
		} else {
			mode = ModeUpdate
		}
	}

	result := &Result{
		State:           StateNotInstalled,
		PreviousVersion: checker.InstalledVersion(ctx, s.cfg),
	}

	source, err := s.resolveSource(ctx, opts.Source)
	if err != nil {
		return result, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	fetched, err := fetch.Fetch(fetchCtx, s.cfg, source)
	if err != nil {
		return result, err
	}

	defer fetched.Cleanup()

	newVersion, err := record.ReadVersionMarker(filepath.Join(fetched.Tree, s.cfg.VersionMarker))
	if err != nil {
		return result, fmt.Errorf("%w: %w", errVersionUnreadable, err)
	}

	result.Version = newVersion
	logger.InfoKV(ctx, "Installing release",
		"mode", string(mode), "version", newVersion, "previous", result.PreviousVersion)

	// Snapshot before any mutation when something exists to snapshot.
	if _, statErr := os.Stat(s.cfg.InstallRoot); statErr == nil || rec != nil {
		b, backupErr := s.backups.Create(ctx, backup.ReasonUpdate, result.PreviousVersion, newVersion)
		if backupErr != nil {
			return result, fmt.Errorf("pre-install backup: %w", backupErr)
		}

		result.BackupName = b.Name
	}

	result.Stop = common.StopService(ctx, s.cfg.ServiceName, s.cfg.ProcessNames)
	logger.InfoKV(ctx, "Service stop attempted", "result", result.Stop.String())

	result.State = StateInstalling

	// Ownership must be fixed even on partial failure paths, otherwise the
	// service account loses access to whatever state is left behind.
	defer common.ChownRecursive(ctx, s.cfg.InstallRoot, s.cfg.ServiceUser)

	refreshDeps, err := s.swapFiles(ctx, fetched.Tree, mode)
	if err != nil {
		return result, err
	}

	if refreshDeps {
		s.refreshDependencies(ctx)
	}

	result.State = StateVerifying

	if err = s.verify(); err != nil {
		return s.handleVerificationFailure(ctx, result, err)
	}

	if err = s.finishInstall(ctx, result, newVersion); err != nil {
		return result, err
	}

	return result, nil
}

// resolveSource falls back to the manifest's download URL when no explicit
// source was given.
func (s *Service) resolveSource(ctx context.Context, source string) (string, error) {
	if source != "" {
		return source, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	manifest, err := checker.FetchManifest(fetchCtx, s.cfg.ManifestURL)
	if err != nil {
		return "", fmt.Errorf("resolve release source: %w", err)
	}

	if manifest.DownloadURL == "" {
		return "", errNoDownloadURL
	}

	return manifest.DownloadURL, nil
}

// swapFiles replaces the application tree while preserving the persistent
// subtree. It reports whether the dependency set changed and a refresh is due.
func (s *Service) swapFiles(ctx context.Context, tree string, mode Mode) (bool, error) {
	oldDepsSum := s.dependencyFileChecksum(s.cfg.InstallRoot)
	newDepsSum := s.dependencyFileChecksum(tree)

	asidePath, err := s.movePersistentAside(ctx)
	if err != nil {
		return false, err
	}

	if err = os.RemoveAll(s.cfg.InstallRoot); err != nil {
		return false, s.permissionOr(err, "remove prior application files")
	}

	if err = os.MkdirAll(s.cfg.InstallRoot, 0o755); err != nil {
		return false, s.permissionOr(err, "recreate install root")
	}

	if err = common.CopyTree(tree, s.cfg.InstallRoot); err != nil {
		return false, fmt.Errorf("place new application tree: %w", err)
	}

	if err = s.movePersistentBack(ctx, asidePath); err != nil {
		return false, err
	}

	fresh := mode == ModeFresh || oldDepsSum == ""

	return fresh || oldDepsSum != newDepsSum, nil
}

// movePersistentAside parks the persistent subtree next to the install root
// so the wholesale tree removal cannot touch it.
func (s *Service) movePersistentAside(ctx context.Context) (string, error) {
	src := filepath.Join(s.cfg.InstallRoot, s.cfg.PersistentSubtree)
	if _, err := os.Stat(src); err != nil {
		return "", nil
	}

	asidePath := filepath.Join(filepath.Dir(s.cfg.InstallRoot),
		".hsparc-keep-"+s.cfg.PersistentSubtree)

	// A leftover from an interrupted run would block the rename.
	if err := os.RemoveAll(asidePath); err != nil {
		return "", fmt.Errorf("clear stale persistent subtree: %w", err)
	}

	if err := os.Rename(src, asidePath); err != nil {
		return "", s.permissionOr(err, "move persistent subtree aside")
	}

	logger.DebugKV(ctx, "Persistent subtree parked", "path", asidePath)

	return asidePath, nil
}

// movePersistentBack returns the parked subtree into the new tree.
func (s *Service) movePersistentBack(ctx context.Context, asidePath string) error {
	if asidePath == "" {
		return nil
	}

	target := filepath.Join(s.cfg.InstallRoot, s.cfg.PersistentSubtree)

	// The release may ship a placeholder; the preserved subtree wins.
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clear shipped persistent subtree: %w", err)
	}

	if err := os.Rename(asidePath, target); err != nil {
		return fmt.Errorf("restore persistent subtree: %w", err)
	}

	logger.DebugKV(ctx, "Persistent subtree restored", "path", target)

	return nil
}

// refreshDependencies re-resolves the declared dependency set into the
// persistent subtree. A failure is logged, not fatal: the entry-point
// verification decides whether the installation stands.
func (s *Service) refreshDependencies(ctx context.Context) {
	if len(s.cfg.DependencyCommand) == 0 {
		return
	}

	logger.InfoKV(ctx, "Refreshing dependencies", "command", s.cfg.DependencyCommand)

	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	name := s.cfg.DependencyCommand[0]
	args := s.cfg.DependencyCommand[1:]

	if err := common.RunCommand(cmdCtx, s.cfg.InstallRoot, name, args...); err != nil {
		logger.ErrorKV(ctx, "Dependency refresh failed", "error", err)
	}
}

// verify checks that the entry-point artifact exists and is executable.
func (s *Service) verify() error {
	info, err := os.Stat(s.cfg.EntryPointPath())
	if err != nil {
		return fmt.Errorf("%w: %s missing", common.ErrVerification, s.cfg.EntryPoint)
	}

	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", common.ErrVerification, s.cfg.EntryPoint)
	}

	return nil
}

// handleVerificationFailure rolls back to the pre-install backup and shapes
// the failure result. The returned error always carries ErrVerification;
// when the restore also failed it additionally carries ErrRestore.
func (s *Service) handleVerificationFailure(ctx context.Context, result *Result, verifyErr error) (*Result, error) {
	logger.ErrorKV(ctx, "Verification failed, rolling back", "error", verifyErr)

	result.State = StateRollingBack

	if result.BackupName == "" {
		result.State = StateFailed

		return result, fmt.Errorf("%w (no backup to roll back to)", verifyErr)
	}

	b, err := s.backups.Get(ctx, result.BackupName)
	if err != nil {
		result.State = StateFailed
		result.RestoreFailed = true

		return result, fmt.Errorf("%w: %w: %w", verifyErr, common.ErrRestore, err)
	}

	outcome, restoreErr := s.Rollback(ctx, b)
	if outcome != Restored {
		result.State = StateFailed
		result.RestoreFailed = true

		return result, fmt.Errorf("%w: %w", verifyErr, restoreErr)
	}

	result.RolledBack = true
	result.State = StateInstalled
	result.Version = result.PreviousVersion

	if err = s.restoreRecord(ctx, result.PreviousVersion); err != nil {
		logger.WarnKV(ctx, "Installation record not restored", "error", err)
	}

	return result, fmt.Errorf("%w (rolled back to %s)", verifyErr, result.PreviousVersion)
}

// finishInstall persists the record, prunes old backups and restarts the
// service.
func (s *Service) finishInstall(ctx context.Context, result *Result, newVersion string) error {
	if err := s.records.Save(ctx, &record.InstallationRecord{
		Version:     newVersion,
		InstallPath: s.cfg.InstallRoot,
		DataPath:    s.cfg.DataDir,
		ConfigPath:  s.cfg.ConfigDir,
	}); err != nil {
		return fmt.Errorf("save installation record: %w", err)
	}

	if err := s.backups.Prune(ctx); err != nil {
		logger.WarnKV(ctx, "Backup pruning failed", "error", err)
	}

	result.State = StateInstalled

	warnIfKioskDegraded(ctx, s.cfg)

	if err := common.StartService(ctx, s.cfg.ServiceName); err != nil {
		// Files are correctly installed; a restart failure is operational.
		logger.ErrorKV(ctx, "Service restart failed", "error", err)
		result.StartErr = err
	}

	logger.InfoKV(ctx, "Installation complete", "version", newVersion)

	return nil
}

// restoreRecord rewrites the installation record after a rollback.
func (s *Service) restoreRecord(ctx context.Context, version string) error {
	if version == checker.UnknownVersion {
		return s.records.Remove(ctx)
	}

	return s.records.Save(ctx, &record.InstallationRecord{
		Version:     version,
		InstallPath: s.cfg.InstallRoot,
		DataPath:    s.cfg.DataDir,
		ConfigPath:  s.cfg.ConfigDir,
	})
}

// Uninstall removes the installation after a pre-uninstall backup.
// Data is preserved unless purgeData is set.
func (s *Service) Uninstall(ctx context.Context, purgeData bool) (*Result, error) {
	ctx = logger.WithName(ctx, "uninstall")

	result := &Result{
		State:           StateNotInstalled,
		PreviousVersion: checker.InstalledVersion(ctx, s.cfg),
	}

	if _, err := os.Stat(s.cfg.InstallRoot); err == nil {
		b, backupErr := s.backups.Create(ctx, backup.ReasonUninstall, result.PreviousVersion, "")
		if backupErr != nil {
			return result, fmt.Errorf("pre-uninstall backup: %w", backupErr)
		}

		result.BackupName = b.Name
	}

	result.Stop = common.StopService(ctx, s.cfg.ServiceName, s.cfg.ProcessNames)

	if err := os.RemoveAll(s.cfg.InstallRoot); err != nil {
		return result, s.permissionOr(err, "remove installation")
	}

	if purgeData {
		if err := os.RemoveAll(s.cfg.DataDir); err != nil {
			return result, s.permissionOr(err, "purge data directory")
		}

		logger.Info(ctx, "Data directory purged")
	}

	if err := s.records.Remove(ctx); err != nil {
		return result, err
	}

	logger.InfoKV(ctx, "Uninstalled", "version", result.PreviousVersion)

	return result, nil
}

// dependencyFileChecksum hashes the declared dependency file under root.
// Empty means the file is absent or unreadable.
func (s *Service) dependencyFileChecksum(root string) string {
	if s.cfg.DependencyFile == "" {
		return ""
	}

	contents, err := os.ReadFile(filepath.Join(root, s.cfg.DependencyFile))
	if err != nil {
		return ""
	}

	hasher := dependencyChecksum.New()
	_, _ = hasher.Write(contents)

	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// permissionOr maps privilege problems onto the taxonomy and wraps the rest.
func (s *Service) permissionOr(err error, action string) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s: %w", common.ErrPermission, action, err)
	}

	return fmt.Errorf("%s: %w", action, err)
}
