package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/selfupdate"
)

var (
	// selfUpdateSource overrides the configured manifest URL.
	selfUpdateSource string

	// selfUpdateCmd replaces the running deploy tool.
	selfUpdateCmd = &cobra.Command{
		Use:   "self-update",
		Short: "Replace this tool with the binary advertised by the manifest",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			err := selfupdate.Run(ctx, cfg, &selfupdate.Options{
				ManifestSource: selfUpdateSource,
			})
			if err != nil {
				return err
			}

			command.Println("Tool updated")

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	selfUpdateCmd.Flags().StringVar(&selfUpdateSource, "source", "",
		"manifest source: http(s) URL or local path")
	rootCmd.AddCommand(selfUpdateCmd)
}
