package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
	"github.com/hsparc-project/hsparc-deploy/internal/service/install"
)

var (
	// installSource overrides the manifest's download URL.
	installSource string

	// installCmd performs a fresh installation.
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the application on this host",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return runInstaller(command, &install.Options{
				Source: installSource,
				Mode:   install.ModeFresh,
			})
		},
	}
)

// runInstaller executes an install or update and renders the outcome. It is
// shared by the install and update subcommands.
func runInstaller(command *cobra.Command, opts *install.Options) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	result, err := install.NewService(cfg).Run(ctx, opts)
	if err != nil {
		return describeFailure(result, err)
	}

	if result.BackupName != "" {
		command.Printf("Backup taken: %s\n", result.BackupName)
	}

	command.Printf("Installed version %s\n", result.Version)

	if result.StartErr != nil {
		command.Printf("Warning: service did not restart cleanly: %v\n", result.StartErr)
	}

	return nil
}

// describeFailure folds the rollback outcome into the returned error so the
// operator can tell a recovered host from one needing manual repair.
func describeFailure(result *install.Result, err error) error {
	switch {
	case result == nil:
		return err
	case result.RestoreFailed:
		return fmt.Errorf("%w; rollback failed, manual intervention required", err)
	case result.RolledBack:
		return fmt.Errorf("%w; previous version %s was restored",
			err, result.Version)
	case errors.Is(err, common.ErrConnectivity):
		return fmt.Errorf("%w; check the network connection and retry", err)
	default:
		return err
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	installCmd.Flags().StringVar(&installSource, "source", "",
		"release source: archive URL, git reference or local path")
	rootCmd.AddCommand(installCmd)
}
