package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel selects the logging verbosity.
	logLevel string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config

	// rootCmd represents the base command for managing HSPARC deployments.
	rootCmd = &cobra.Command{
		Use:          "hsparc-deploy",
		Short:        "Install, update and maintain HSPARC deployments",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			var err error

			cfg, err = config.Load(configPath)

			return err
		},
	}
)

// Execute runs the hsparc-deploy CLI and exits with non-zero status on error.
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
}
