package store

import (
	"context"
	"sync"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/infra/logger"
)

const writeTimeout = 5 * time.Second

// Recorder is an engine observer that writes status transitions of one run to
// the history tables. Progress ticks that only move the percentage are skipped.
type Recorder struct {
	store *PersistentStore
	runID string
	log   *logger.Logger

	mu   sync.Mutex
	last map[int]itemState
}

type itemState struct {
	status   string
	filename string
}

func NewRecorder(store *PersistentStore, runID string, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		store: store,
		runID: runID,
		log:   log,
		last:  make(map[int]itemState),
	}
}

// Begin creates the run row and its initial items.
func (r *Recorder) Begin(ctx context.Context, items []domain.WorkItem) error {
	run := &domain.Run{
		ID:        r.runID,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return err
	}
	return r.Track(ctx, items)
}

// Track records items added to the run after it started.
func (r *Recorder) Track(ctx context.Context, items []domain.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.store.AddItems(ctx, r.runID, items)
}

// Untrack drops items that were tracked but rejected by the manager.
func (r *Recorder) Untrack(ctx context.Context, items []domain.WorkItem) error {
	return r.store.DeleteItems(ctx, r.runID, items)
}

func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) OnStatus(ev domain.StatusEvent) {
	if ev.Status == "" && ev.Filename == "" {
		return
	}

	name := ev.Filename
	if name != "" {
		name += ev.Extension
	}

	r.mu.Lock()
	prev := r.last[ev.RowIndex]
	next := prev
	if ev.Status != "" {
		next.status = ev.Status
	}
	if name != "" {
		next.filename = name
	}
	if next == prev {
		r.mu.Unlock()
		return
	}
	r.last[ev.RowIndex] = next
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.UpdateItem(ctx, r.runID, ev.RowIndex, next.status, next.filename); err != nil {
		r.log.Warn("[History] failed to update row %d of run %s: %v", ev.RowIndex, r.runID, err)
	}
}

func (r *Recorder) OnSignal(runID string, sig domain.Signal) {
	if runID != r.runID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.UpdateRunStatus(ctx, runID, domain.RunStatusFor(sig)); err != nil {
		r.log.Warn("[History] failed to record %s for run %s: %v", sig, runID, err)
	}
}

// Finish stores the final counters once the manager has returned.
func (r *Recorder) Finish(ctx context.Context, status domain.RunStatus, successful int, elapsed time.Duration) error {
	return r.store.FinishRun(ctx, r.runID, status, successful, elapsed, time.Now())
}
