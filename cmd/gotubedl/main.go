package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/infra/config"
	"github.com/datallboy/gotubedl/internal/infra/logger"
	"github.com/datallboy/gotubedl/internal/platform"
	"github.com/datallboy/gotubedl/internal/store"
)

var cfgPath string

func main() {
	// .env is optional, real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Could not read .env: %v", err)
	}

	root := &cobra.Command{
		Use:           "gotubedl",
		Short:         "Concurrent yt-dlp download manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(
		newDownloadCmd(),
		newServeCmd(),
		newUpdateCmd(),
		newHistoryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads config, opens the logger and, when withStore is set, the history store.
// The returned cleanup func must be called once the command is done.
func bootstrap(withStore bool) (*app.Context, func(), error) {
	var appLog *logger.Logger

	live, err := config.Watch(cfgPath, func(err error) {
		if appLog != nil {
			appLog.Warn("Config reload failed, keeping previous config: %v", err)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	cfg := live.Config()

	appLog, err = logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(live, appLog)
	cleanup := func() {}

	if withStore {
		s, err := store.NewPersistentStore(cfg.Store)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history store: %w", err)
		}
		appCtx.Store = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				appLog.Warn("Closing history store: %v", err)
			}
		}
	}

	if cfg.Download.AutoInstall {
		appCtx.Installer = platform.NewInstaller(false)
	}

	for _, name := range platform.MissingOptional() {
		appLog.Warn("%s not found in PATH, merging and audio extraction may fail", name)
	}

	return appCtx, cleanup, nil
}
