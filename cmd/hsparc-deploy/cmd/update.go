package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/checker"
	"github.com/hsparc-project/hsparc-deploy/internal/service/install"
)

var (
	// updateSource overrides the manifest's download URL.
	updateSource string

	// updateCheckOnly reports availability without applying anything.
	updateCheckOnly bool

	// updateForce reapplies the current release even when up to date.
	updateForce bool

	// updateCmd brings the installation to the latest release.
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Update the installation to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// An explicit source bypasses the manifest check: the operator
			// already decided what to apply.
			if updateSource != "" && !updateCheckOnly {
				return runInstaller(command, &install.Options{
					Source: updateSource,
					Mode:   install.ModeUpdate,
				})
			}

			result, err := checker.Check(ctx, cfg, "")
			if err != nil {
				return err
			}

			printCheck(command, result)

			if updateCheckOnly {
				return nil
			}

			if result.IsEqual && !updateForce {
				return nil
			}

			if result.IsOlder && !updateForce {
				command.Println("Installation is ahead of the remote; pass --force to downgrade")
				return nil
			}

			mode := install.ModeUpdate
			if result.IsEqual {
				mode = install.ModeReinstall
			}

			return runInstaller(command, &install.Options{
				Source: updateSource,
				Mode:   mode,
			})
		},
	}
)

// printCheck renders a check result for the operator.
func printCheck(command *cobra.Command, result *checker.Result) {
	switch {
	case result.IsEqual:
		command.Printf("Up to date: %s\n", result.Current)
	case result.IsOlder:
		command.Printf("Installed %s is ahead of remote %s\n", result.Current, result.Latest)
	default:
		command.Printf("Update available: %s -> %s\n", result.Current, result.Latest)
	}

	if !updateCheckOnly || len(result.Manifest.Changelog) == 0 {
		return
	}

	entry := result.Manifest.Changelog[0]

	command.Printf("Changes in %s:\n", entry.Version)

	for _, change := range entry.Changes {
		command.Printf("  - %s\n", change)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	updateCmd.Flags().StringVar(&updateSource, "source", "",
		"release source: archive URL, git reference or local path")
	updateCmd.Flags().BoolVar(&updateCheckOnly, "check-only", false,
		"report whether an update is available without applying it")
	updateCmd.Flags().BoolVar(&updateForce, "force", false,
		"apply the release even when already up to date or ahead")
	rootCmd.AddCommand(updateCmd)
}
