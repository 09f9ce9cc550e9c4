package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/install"
)

// rollbackCmd restores a named backup.
var rollbackCmd = &cobra.Command{
	Use:   "rollback <backup-name>",
	Short: "Restore the application and data from a named backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		result, err := install.NewService(cfg).RollbackTo(ctx, args[0])
		if err != nil {
			return describeFailure(result, err)
		}

		command.Printf("Restored version %s from %s\n", result.Version, args[0])

		if result.StartErr != nil {
			command.Printf("Warning: service did not restart cleanly: %v\n", result.StartErr)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(rollbackCmd)
}
