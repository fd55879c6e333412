package engine

import (
	"context"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/infra/config"
)

// ProgressHook receives the StatusEvents an executor produces while downloading.
type ProgressHook func(domain.StatusEvent)

// TaskExecutor performs one download at a time.
// Download blocks until the task finishes or is cancelled through ctx or Stop.
type TaskExecutor interface {
	Download(ctx context.Context, url string, args []string) domain.Outcome
	Stop()
}

// ExecutorFactory builds the executor owned by a single worker.
type ExecutorFactory func(hook ProgressHook) TaskExecutor

// OptionsParser turns user options into downloader arguments.
type OptionsParser interface {
	Parse(opts config.DownloadOptions) []string
}

// OptionsView exposes the current downloader options. It is read once per item.
type OptionsView interface {
	DownloadOptions() config.DownloadOptions
}

// Updater installs the downloader binary at path, blocking until it is present.
type Updater interface {
	EnsurePresent(ctx context.Context, path string) error
}

// Observer receives per item progress and pool lifecycle signals.
// Implementations must not call back into Manager.Wait.
type Observer interface {
	OnStatus(ev domain.StatusEvent)
	OnSignal(runID string, sig domain.Signal)
}

// Sink receives diagnostics. *logger.Logger satisfies it.
type Sink interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// safeSink keeps a misbehaving sink from taking down the goroutine that logs.
type safeSink struct {
	next Sink
}

func (s safeSink) call(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func (s safeSink) Debug(f string, v ...any) { s.call(func() { s.next.Debug(f, v...) }) }
func (s safeSink) Info(f string, v ...any)  { s.call(func() { s.next.Info(f, v...) }) }
func (s safeSink) Warn(f string, v ...any)  { s.call(func() { s.next.Warn(f, v...) }) }
func (s safeSink) Error(f string, v ...any) { s.call(func() { s.next.Error(f, v...) }) }
