package ytdl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/engine"
	"github.com/datallboy/gotubedl/internal/infra/logger"
)

// killGrace is how long a cancelled process gets to exit before its pipes are closed.
const killGrace = 5 * time.Second

// ExecDownloader runs the yt-dlp binary once per download and reports its
// progress by scanning the process output.
type ExecDownloader struct {
	path string
	hook engine.ProgressHook
	log  engine.Sink

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecFactory returns an engine.ExecutorFactory producing ExecDownloaders for path.
func NewExecFactory(path string, log engine.Sink) engine.ExecutorFactory {
	if log == nil {
		log = logger.Nop()
	}
	return func(hook engine.ProgressHook) engine.TaskExecutor {
		return &ExecDownloader{path: path, hook: hook, log: log}
	}
}

type outputLine struct {
	text   string
	stderr bool
}

func (d *ExecDownloader) Download(ctx context.Context, url string, args []string) domain.Outcome {
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

	cmdArgs := append(append([]string(nil), args...), url)
	cmd := exec.CommandContext(ctx, d.path, cmdArgs...)
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.fail(url, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.fail(url, err)
	}

	if err := cmd.Start(); err != nil {
		return d.fail(url, err)
	}

	lines := make(chan outputLine)
	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(stdout, false, lines, &wg)
	go scanLines(stderr, true, lines, &wg)
	go func() {
		wg.Wait()
		close(lines)
	}()

	var p outputParser
	for l := range lines {
		if !l.stderr {
			d.log.Debug("[yt-dlp] %s", l.text)
		} else {
			d.log.Warn("[yt-dlp] %s", l.text)
		}
		if ev, ok := p.feed(l.text, l.stderr); ok {
			d.hook(ev)
		}
	}

	waitErr := cmd.Wait()
	stopped := ctx.Err() != nil

	var exitErr *exec.ExitError
	if waitErr != nil && !stopped && !errors.As(waitErr, &exitErr) {
		d.log.Error("[yt-dlp] %s: %v", url, waitErr)
	}

	outcome := p.outcome(waitErr == nil, stopped)
	if outcome == domain.OutcomeError && p.lastError != "" {
		d.log.Error("[yt-dlp] %s: %s", url, p.lastError)
	}

	final := p.event(outcome.FinalStatus())
	if outcome == domain.OutcomeOK {
		final.Percent = "100%"
		final.ETA = ""
	}
	d.hook(final)

	return outcome
}

func (d *ExecDownloader) fail(url string, err error) domain.Outcome {
	d.log.Error("[yt-dlp] failed to start %s: %v", url, err)
	d.hook(domain.StatusEvent{Status: domain.StatusError})
	return domain.OutcomeError
}

// Stop kills the running process, if any.
func (d *ExecDownloader) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func scanLines(r io.Reader, stderr bool, out chan<- outputLine, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- outputLine{text: scanner.Text(), stderr: stderr}
	}
	// Keep the pipe drained if the scanner gave up on an oversized line
	_, _ = io.Copy(io.Discard, r)
}
