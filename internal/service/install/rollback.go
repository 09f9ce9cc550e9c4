package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/repository/record"
	"github.com/hsparc-project/hsparc-deploy/internal/service/backup"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// RestoreOutcome is the result of a rollback attempt.
type RestoreOutcome int

const (
	// Restored means the backup's application snapshot is back in place and
	// the entry point is present.
	Restored RestoreOutcome = iota
	// RestoreFailed means the host is left in a diagnosable broken state.
	// The tool makes exactly one attempt and never loops.
	RestoreFailed
)

// String renders the outcome for logs and CLI messages.
func (o RestoreOutcome) String() string {
	if o == Restored {
		return "restored"
	}

	return "restore-failed"
}

// Rollback removes the half-installed application root and restores the
// backup's application snapshot. The persistent subtree, if it was parked
// aside by an interrupted swap, is brought back first.
func (s *Service) Rollback(ctx context.Context, b *backup.Backup) (RestoreOutcome, error) {
	ctx = logger.WithName(ctx, "rollback")
	logger.InfoKV(ctx, "Restoring from backup", "name", b.Name)

	asidePath := filepath.Join(filepath.Dir(s.cfg.InstallRoot),
		".hsparc-keep-"+s.cfg.PersistentSubtree)

	// The persistent subtree may already be inside the broken tree; park it
	// before clearing so it is never deleted.
	inTree := filepath.Join(s.cfg.InstallRoot, s.cfg.PersistentSubtree)
	if _, err := os.Stat(inTree); err == nil {
		if _, asideErr := os.Stat(asidePath); asideErr != nil {
			if err = os.Rename(inTree, asidePath); err != nil {
				return RestoreFailed, fmt.Errorf("%w: park persistent subtree: %w", common.ErrRestore, err)
			}
		}
	}

	if err := os.RemoveAll(s.cfg.InstallRoot); err != nil {
		return RestoreFailed, fmt.Errorf("%w: clear broken installation: %w", common.ErrRestore, err)
	}

	if err := os.MkdirAll(s.cfg.InstallRoot, 0o755); err != nil {
		return RestoreFailed, fmt.Errorf("%w: recreate install root: %w", common.ErrRestore, err)
	}

	if err := s.backups.RestoreApp(ctx, b); err != nil {
		return RestoreFailed, fmt.Errorf("%w: %w", common.ErrRestore, err)
	}

	if _, err := os.Stat(asidePath); err == nil {
		target := filepath.Join(s.cfg.InstallRoot, s.cfg.PersistentSubtree)
		if err = os.Rename(asidePath, target); err != nil {
			logger.WarnKV(ctx, "Parked persistent subtree not recovered", "error", err)
		}
	}

	common.ChownRecursive(ctx, s.cfg.InstallRoot, s.cfg.ServiceUser)

	if err := s.verify(); err != nil {
		return RestoreFailed, fmt.Errorf("%w: entry point still absent after restore", common.ErrRestore)
	}

	logger.InfoKV(ctx, "Rollback complete", "version", b.Manifest.FromVersion)

	return Restored, nil
}

// RollbackTo is the explicit operator-facing rollback: it stops the service,
// restores the named backup's application snapshot and data subtree, rewrites
// the installation record and restarts the service.
func (s *Service) RollbackTo(ctx context.Context, name string) (*Result, error) {
	ctx = logger.WithName(ctx, "rollback")

	b, err := s.backups.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	result := &Result{
		State:           StateRollingBack,
		PreviousVersion: b.Manifest.FromVersion,
		BackupName:      b.Name,
	}

	result.Stop = common.StopService(ctx, s.cfg.ServiceName, s.cfg.ProcessNames)

	outcome, err := s.Rollback(ctx, b)
	if outcome != Restored {
		result.State = StateFailed
		result.RestoreFailed = true

		return result, err
	}

	if restoreErr := s.backups.RestoreData(ctx, b.Name); restoreErr != nil {
		logger.WarnKV(ctx, "Data subtree not restored", "error", restoreErr)
	}

	restoredVersion, err := record.ReadVersionMarker(s.cfg.MarkerPath())
	if err != nil {
		restoredVersion = b.Manifest.FromVersion
	}

	result.RolledBack = true
	result.State = StateInstalled
	result.Version = restoredVersion

	if err = s.restoreRecord(ctx, restoredVersion); err != nil {
		logger.WarnKV(ctx, "Installation record not rewritten", "error", err)
	}

	if err = common.StartService(ctx, s.cfg.ServiceName); err != nil {
		logger.ErrorKV(ctx, "Service restart failed", "error", err)
		result.StartErr = err
	}

	return result, nil
}
