package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/service/mount"
	"github.com/hsparc-project/hsparc-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel selects the logging verbosity.
	logLevel string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config

	// rootCmd represents the base command for removable-storage handling.
	// The add and remove subcommands are invoked by udev rules; they log
	// failures and always exit zero so a bad device never breaks the rule.
	rootCmd = &cobra.Command{
		Use:          "hsparc-mount",
		Short:        "Mount and unmount removable storage for the kiosk user",
		SilenceUsage: true,
		PersistentPreRun: func(command *cobra.Command, _ []string) {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			var err error

			cfg, err = config.Load(configPath)
			if err != nil {
				// A broken config file must not break the udev rule.
				logger.WarnKV(command.Context(), "Settings unreadable, using defaults",
					"path", configPath, "error", err)

				cfg = config.Default()
			}
		},
	}

	// addCmd mounts a freshly plugged-in partition.
	addCmd = &cobra.Command{
		Use:   "add <device> [label]",
		Short: "Mount a partition under the per-user media base",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(command *cobra.Command, args []string) {
			label := ""
			if len(args) > 1 {
				label = args[1]
			}

			mount.NewManager(cfg).OnDeviceAdd(command.Context(), args[0], label)
		},
	}

	// removeCmd cleans up after a partition disappears.
	removeCmd = &cobra.Command{
		Use:   "remove <device>",
		Short: "Unmount everything under the per-user media base",
		Args:  cobra.ExactArgs(1),
		Run: func(command *cobra.Command, args []string) {
			mount.NewManager(cfg).OnDeviceRemove(command.Context(), args[0])
		},
	}

	// watchCmd follows /dev for partition hot-plug events.
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch for partition hot-plug events and mount them",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return mount.NewManager(cfg).Watch(ctx)
		},
	}
)

// Execute runs the hsparc-mount CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.DefaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"logging level (debug, info, warn, error)")

	rootCmd.AddCommand(addCmd, removeCmd, watchCmd)
}
