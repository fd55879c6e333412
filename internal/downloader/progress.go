package downloader

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
)

const barWidth = 20

// ProgressPrinter renders status events as a terminal progress line per item.
// In-place updates only happen while the same row keeps reporting; a different
// row or a final status starts a new line.
type ProgressPrinter struct {
	w io.Writer

	mu      sync.Mutex
	lastRow int
	open    bool
	started time.Time
}

func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	return &ProgressPrinter{w: w, lastRow: -1, started: time.Now()}
}

func (p *ProgressPrinter) OnStatus(ev domain.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open && ev.RowIndex != p.lastRow {
		fmt.Fprintln(p.w)
		p.open = false
	}
	p.lastRow = ev.RowIndex

	line := renderLine(ev)
	if isFinal(ev.Status) {
		fmt.Fprintf(p.w, "\r%s\n", line)
		p.open = false
		return
	}

	// Pad so a shorter line fully overwrites the previous one
	fmt.Fprintf(p.w, "\r%s      ", line)
	p.open = true
}

func (p *ProgressPrinter) OnSignal(runID string, sig domain.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
	}

	switch sig {
	case domain.SignalClosing:
		fmt.Fprintln(p.w, "Stopping downloads...")
	case domain.SignalClosed:
		fmt.Fprintf(p.w, "Run %s stopped after %s\n", runID, time.Since(p.started).Truncate(time.Second))
	case domain.SignalFinished:
		fmt.Fprintf(p.w, "Run %s finished in %s\n", runID, time.Since(p.started).Truncate(time.Second))
	}
}

func isFinal(status string) bool {
	switch status {
	case domain.StatusFinished, domain.StatusWarning, domain.StatusError,
		domain.StatusFilesizeAbort, domain.StatusAlready, domain.StatusStopped:
		return true
	}
	return false
}

// renderLine formats: #0 [=====>     ]  45.2% | Speed: 1.20MiB/s | ETA: 00:31 | title.mp4 (Downloading)
func renderLine(ev domain.StatusEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", ev.RowIndex)

	if percent, ok := parsePercent(ev.Percent); ok {
		completed := int(percent / 100 * barWidth)
		if completed > barWidth {
			completed = barWidth
		}
		bar := strings.Repeat("=", completed)
		if completed < barWidth {
			bar += ">" + strings.Repeat(" ", barWidth-completed-1)
		}
		fmt.Fprintf(&b, "[%s] %5.1f%%", bar, percent)
	}

	if ev.Speed != "" {
		fmt.Fprintf(&b, " | Speed: %s", ev.Speed)
	}
	if ev.ETA != "" {
		fmt.Fprintf(&b, " | ETA: %s", ev.ETA)
	}
	if ev.Filesize != "" {
		fmt.Fprintf(&b, " | %s", ev.Filesize)
	}
	if name := ev.Filename + ev.Extension; name != "" {
		fmt.Fprintf(&b, " | %s", name)
	}
	if ev.Status != "" {
		fmt.Fprintf(&b, " (%s)", ev.Status)
	}
	return b.String()
}

func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
