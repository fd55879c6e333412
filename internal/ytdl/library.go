package ytdl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lrstanley/go-ytdlp"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/engine"
	"github.com/datallboy/gotubedl/internal/infra/logger"
)

const progressInterval = 500 * time.Millisecond

// LibraryDownloader drives yt-dlp through go-ytdlp and converts its structured
// progress updates into StatusEvents.
type LibraryDownloader struct {
	path string
	hook engine.ProgressHook
	log  engine.Sink

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLibraryFactory returns an engine.ExecutorFactory producing LibraryDownloaders.
// An empty path lets go-ytdlp resolve the binary itself.
func NewLibraryFactory(path string, log engine.Sink) engine.ExecutorFactory {
	if log == nil {
		log = logger.Nop()
	}
	return func(hook engine.ProgressHook) engine.TaskExecutor {
		return &LibraryDownloader{path: path, hook: hook, log: log}
	}
}

func (d *LibraryDownloader) Download(ctx context.Context, url string, args []string) domain.Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
	}()

	dl := ytdlp.New()
	if d.path != "" {
		dl.SetExecutable(d.path)
	}
	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		d.hook(progressEvent(&update))
	})

	result, err := dl.Run(ctx, append(append([]string(nil), args...), url)...)
	stopped := ctx.Err() != nil

	// The captured output still carries the markers the structured progress lacks
	var p outputParser
	if result != nil {
		for _, line := range strings.Split(result.Stdout, "\n") {
			p.feed(line, false)
		}
		for _, line := range strings.Split(result.Stderr, "\n") {
			p.feed(line, true)
		}
	}

	outcome := p.outcome(err == nil, stopped)
	if outcome == domain.OutcomeError {
		d.log.Error("[go-ytdlp] %s: %v", url, err)
	}

	final := p.event(outcome.FinalStatus())
	if outcome == domain.OutcomeOK {
		final.Percent = "100%"
	}
	d.hook(final)

	return outcome
}

// Stop cancels the running command, if any.
func (d *LibraryDownloader) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func progressEvent(u *ytdlp.ProgressUpdate) domain.StatusEvent {
	ev := domain.StatusEvent{Status: domain.StatusDownloading}

	if string(u.Status) == "post_processing" {
		ev.Status = domain.StatusPostProcessing
	}

	if u.Filename != "" {
		base := filepath.Base(u.Filename)
		ext := filepath.Ext(base)
		ev.Filename, ev.Extension = strings.TrimSuffix(base, ext), ext
	}

	if u.TotalBytes > 0 {
		ev.Filesize = humanize.IBytes(uint64(u.TotalBytes))
		ev.Percent = fmt.Sprintf("%.1f%%", float64(u.DownloadedBytes)/float64(u.TotalBytes)*100)
	}

	if !u.Started.IsZero() {
		if elapsed := time.Since(u.Started).Seconds(); elapsed > 0 && u.DownloadedBytes > 0 {
			ev.Speed = humanize.IBytes(uint64(float64(u.DownloadedBytes)/elapsed)) + "/s"
		}
	}

	if eta := u.ETA(); eta > 0 {
		ev.ETA = eta.Truncate(time.Second).String()
	}

	return ev
}
