package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsparc-project/hsparc-deploy/internal/service/publisher"
)

var (
	// publishOutputDir receives the archive, manifest and checksums.
	publishOutputDir string

	// publishDownloadURL overrides the archive URL in the manifest.
	publishDownloadURL string

	// publishCodename is an optional release codename.
	publishCodename string

	// publishChanges are the changelog lines for this release.
	publishChanges []string

	// publishToolPath points at a deploy tool binary to ship for self-update.
	publishToolPath string

	// publishToolURL overrides the tool URL in the manifest.
	publishToolURL string

	// publishPrevious is a manifest whose changelog is carried over.
	publishPrevious string

	// publishCmd packages a built release tree for distribution.
	publishCmd = &cobra.Command{
		Use:   "publish <release-dir>",
		Short: "Package a release tree into an archive, manifest and checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			manifest, err := publisher.New(cfg).Run(ctx, &publisher.Options{
				ReleaseDir:       args[0],
				OutputDir:        publishOutputDir,
				DownloadURL:      publishDownloadURL,
				Codename:         publishCodename,
				Changes:          publishChanges,
				ToolPath:         publishToolPath,
				ToolURL:          publishToolURL,
				PreviousManifest: publishPrevious,
			})
			if err != nil {
				return err
			}

			command.Printf("Published version %s\n", manifest.Version)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	publishCmd.Flags().StringVarP(&publishOutputDir, "output", "o", "",
		"output directory (defaults to the release parent)")
	publishCmd.Flags().StringVar(&publishDownloadURL, "download-url", "",
		"archive URL written into the manifest")
	publishCmd.Flags().StringVar(&publishCodename, "codename", "",
		"release codename")
	publishCmd.Flags().StringArrayVar(&publishChanges, "change", nil,
		"changelog line, repeatable")
	publishCmd.Flags().StringVar(&publishToolPath, "tool", "",
		"deploy tool binary to publish for self-update")
	publishCmd.Flags().StringVar(&publishToolURL, "tool-url", "",
		"tool URL written into the manifest")
	publishCmd.Flags().StringVar(&publishPrevious, "previous-manifest", "",
		"manifest whose changelog is carried over")
	rootCmd.AddCommand(publishCmd)
}
