package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/install"
)

var (
	// uninstallPurgeData also removes the user-data directory.
	uninstallPurgeData bool

	// uninstallCmd removes the installation after a final backup.
	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installation after taking a final backup",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			result, err := install.NewService(cfg).Uninstall(ctx, uninstallPurgeData)
			if err != nil {
				return err
			}

			if result.BackupName != "" {
				command.Printf("Final backup: %s\n", result.BackupName)
			}

			command.Printf("Uninstalled version %s\n", result.PreviousVersion)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	uninstallCmd.Flags().BoolVar(&uninstallPurgeData, "purge-data", false,
		"also remove the user-data directory")
	rootCmd.AddCommand(uninstallCmd)
}
