package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/datallboy/gotubedl/internal/platform"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download the latest yt-dlp binary into the tool directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			path := appCtx.Config.Config().Download.ToolPath()
			if err := platform.NewInstaller(true).EnsurePresent(ctx, path); err != nil {
				return fmt.Errorf("update failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "yt-dlp installed at %s\n", path)
			return nil
		},
	}
}
