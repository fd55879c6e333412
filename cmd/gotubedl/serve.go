package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/datallboy/gotubedl/internal/api"
	"github.com/datallboy/gotubedl/internal/downloader"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer cleanup()

			if port == "" {
				port = appCtx.Config.Config().Port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := downloader.NewService(ctx, appCtx, nil)

			e := echo.New()
			api.RegisterRoutes(e, appCtx, svc)

			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				appCtx.Logger.Info("API listening on :%s", port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			appCtx.Logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := svc.Shutdown(shutdownCtx); err != nil {
				appCtx.Logger.Warn("Active run did not stop cleanly: %v", err)
			}
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (defaults to config port)")
	return cmd
}
