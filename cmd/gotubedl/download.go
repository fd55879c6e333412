package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datallboy/gotubedl/internal/downloader"
)

func newDownloadCmd() *cobra.Command {
	var listFile string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "download [urls...]",
		Short: "Download a batch of URLs and exit when done",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := collectURLs(args)
			if listFile != "" {
				fromFile, err := readURLFile(listFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no urls given")
			}

			appCtx, cleanup, err := bootstrap(!noHistory)
			if err != nil {
				return err
			}
			defer cleanup()

			// Ctrl+C stops in-flight downloads, the run then winds down as closed
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := downloader.NewService(ctx, appCtx, nil, downloader.NewProgressPrinter(cmd.OutOrStdout()))

			runID, items, err := svc.Submit(ctx, urls)
			if err != nil {
				return err
			}
			appCtx.Logger.Info("[Run %s] Queued %d items", runID, len(items))

			waitErr := svc.Wait(context.Background())

			st := svc.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "Successful downloads: %d/%d (elapsed %s)\n",
				st.Successful, len(items), st.Elapsed)

			return waitErr
		},
	}

	cmd.Flags().StringVarP(&listFile, "file", "f", "", "read urls from a file, one per line")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history store")
	return cmd
}

func collectURLs(lines []string) []string {
	urls := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		urls = append(urls, l)
	}
	return urls
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open url list: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read url list: %w", err)
	}
	return collectURLs(lines), nil
}
