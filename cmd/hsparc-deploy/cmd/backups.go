package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/backup"
)

// listBackupsCmd prints available backups, newest first.
var listBackupsCmd = &cobra.Command{
	Use:   "list-backups",
	Short: "List restorable backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(command *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		backups, err := backup.NewManager(cfg).List(ctx)
		if err != nil {
			return err
		}

		if len(backups) == 0 {
			command.Println("No backups found")
			return nil
		}

		writer := tabwriter.NewWriter(command.OutOrStdout(), 0, 0, 2, ' ', 0)

		fmt.Fprintln(writer, "NAME\tCREATED\tREASON\tFROM\tTO")

		for _, b := range backups {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
				b.Name,
				b.Manifest.CreatedAt.Format(time.RFC3339),
				b.Manifest.Reason,
				b.Manifest.FromVersion,
				orDash(b.Manifest.ToVersion))
		}

		return writer.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(listBackupsCmd)
}
