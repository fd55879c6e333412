package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/engine"
	"github.com/datallboy/gotubedl/internal/store"
	"github.com/datallboy/gotubedl/internal/ytdl"
)

// Status is a snapshot of the current or most recent run.
type Status struct {
	RunID      string        `json:"run_id,omitempty"`
	Running    bool          `json:"running"`
	Workers    int           `json:"workers"`
	Active     int           `json:"active"`
	Dispatched int           `json:"dispatched"`
	Successful int           `json:"successful"`
	Elapsed    time.Duration `json:"elapsed"`
	NextRow    int           `json:"next_row"`
}

// Service owns at most one running Manager. Submitting while a run is active
// adds to it; otherwise a new run is started. Row indexes keep counting across runs.
type Service struct {
	app     *app.Context
	factory engine.ExecutorFactory
	extra   []engine.Observer

	// ctx outlives individual requests; cancelling it stops the active run
	ctx context.Context

	mu      sync.Mutex
	current *session
	nextRow int
}

type session struct {
	manager  *engine.Manager
	recorder *store.Recorder
	done     chan struct{}
	err      error
}

// finished reports whether the run and its history bookkeeping are complete.
func (sess *session) finished() bool {
	select {
	case <-sess.done:
		return true
	default:
		return false
	}
}

// NewService builds the session service. A nil factory uses the executor
// configured by download.engine. Extra observers receive every run's events.
func NewService(ctx context.Context, appCtx *app.Context, factory engine.ExecutorFactory, extra ...engine.Observer) *Service {
	return &Service{
		app:     appCtx,
		factory: factory,
		extra:   extra,
		ctx:     ctx,
	}
}

// Submit queues urls and returns the run they were added to along with their row indexes.
// While a stopped run is still winding down, Submit waits for it to finish before
// starting the next one, so runs never overlap.
func (s *Service) Submit(ctx context.Context, urls []string) (string, []domain.WorkItem, error) {
	if len(urls) == 0 {
		return "", nil, errors.New("no urls given")
	}

	var queued []domain.WorkItem
	remaining := urls

	for {
		s.mu.Lock()
		cur := s.current

		if cur != nil && !cur.finished() {
			if cur.manager.Running() {
				items := domain.NewWorkItems(remaining, s.nextRow)
				n := s.addTo(ctx, cur, items)
				s.nextRow += n
				queued = append(queued, items[:n]...)
				remaining = remaining[n:]

				if len(remaining) == 0 {
					s.mu.Unlock()
					return cur.manager.RunID(), queued, nil
				}
			}

			// The run is closing; its workers still hold items
			s.mu.Unlock()
			select {
			case <-cur.done:
			case <-ctx.Done():
				return "", queued, ctx.Err()
			}
			continue
		}

		if err := s.ctx.Err(); err != nil {
			s.mu.Unlock()
			return "", queued, fmt.Errorf("download service is shutting down: %w", err)
		}

		items := domain.NewWorkItems(remaining, s.nextRow)
		sess, err := s.start(ctx, items)
		if err != nil {
			s.mu.Unlock()
			return "", queued, err
		}
		s.current = sess
		s.nextRow += len(items)
		s.mu.Unlock()

		return sess.manager.RunID(), append(queued, items...), nil
	}
}

// addTo appends items to a running session and returns how many it accepted.
func (s *Service) addTo(ctx context.Context, sess *session, items []domain.WorkItem) int {
	runID := sess.manager.RunID()
	if sess.recorder != nil {
		if err := sess.recorder.Track(ctx, items); err != nil {
			s.app.Logger.Warn("[Run %s] failed to record new items: %v", runID, err)
		}
	}

	for i, item := range items {
		if err := sess.manager.AddItem(item); err != nil {
			// Once closed the manager rejects everything that follows
			if sess.recorder != nil {
				if err := sess.recorder.Untrack(ctx, items[i:]); err != nil {
					s.app.Logger.Warn("[Run %s] failed to drop rejected items: %v", runID, err)
				}
			}
			s.app.Logger.Debug("[Run %s] Accepted %d of %d items before closing", runID, i, len(items))
			return i
		}
	}

	s.app.Logger.Info("[Run %s] Added %d items", runID, len(items))
	return len(items)
}

func (s *Service) start(ctx context.Context, items []domain.WorkItem) (*session, error) {
	cfg := s.app.Config.Config()
	runID := ksuid.New().String()

	factory := s.factory
	if factory == nil {
		factory = ytdl.NewFactory(cfg.Download, s.app.Logger)
	}

	observers := engine.MultiObserver{}
	sess := &session{done: make(chan struct{})}

	if s.app.Store != nil {
		sess.recorder = store.NewRecorder(s.app.Store, runID, s.app.Logger)
		if err := sess.recorder.Begin(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		observers = append(observers, sess.recorder)
	}
	if s.app.Events != nil {
		observers = append(observers, s.app.Events.ForRun(runID))
	}
	observers = append(observers, s.extra...)

	var updater engine.Updater
	if cfg.Download.AutoInstall {
		updater = s.app.Installer
	}

	m, err := engine.NewManager(items, engine.Options{
		Workers:     cfg.Download.Workers,
		ToolPath:    cfg.Download.ToolPath(),
		Updater:     updater,
		NewExecutor: factory,
		Parser:      ytdl.OptionsParser{},
		View:        s.app.Config,
		Observer:    observers,
		Log:         s.app.Logger,
		RunID:       runID,
	})
	if err != nil {
		return nil, err
	}
	sess.manager = m

	m.Start(s.ctx)
	go s.finish(sess)

	s.app.Logger.Info("[Run %s] Started with %d items on %d workers", runID, len(items), m.Workers())
	return sess, nil
}

func (s *Service) finish(sess *session) {
	defer close(sess.done)

	m := sess.manager
	sess.err = m.Wait()

	status := domain.RunStatusFinished
	if sess.err != nil || m.Stopped() {
		status = domain.RunStatusClosed
	}

	if sess.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.recorder.Finish(ctx, status, m.SuccessCount(), m.Elapsed()); err != nil {
			s.app.Logger.Warn("[Run %s] failed to record result: %v", m.RunID(), err)
		}
	}

	if sess.err != nil {
		s.app.Logger.Error("[Run %s] %v", m.RunID(), sess.err)
		return
	}
	s.app.Logger.Info("[Run %s] %s: %d/%d successful in %s",
		m.RunID(), status, m.SuccessCount(), m.Dispatched(), m.Elapsed().Truncate(time.Millisecond))
}

// Stop requests the active run to stop. It does not wait for it.
func (s *Service) Stop() error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil || !cur.manager.Running() {
		return domain.ErrNoActiveRun
	}
	cur.manager.StopDownloads()
	return nil
}

// Wait blocks until the current run and its bookkeeping are complete and
// returns the run error. It returns nil immediately when nothing was started.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil {
		return nil
	}

	select {
	case <-cur.done:
		return cur.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{NextRow: s.nextRow}
	if s.current == nil {
		return st
	}

	m := s.current.manager
	st.RunID = m.RunID()
	st.Running = m.Running()
	st.Workers = m.Workers()
	st.Active = m.ActiveCount()
	st.Dispatched = m.Dispatched()
	st.Successful = m.SuccessCount()
	st.Elapsed = m.Elapsed()
	return st
}

// Shutdown stops the active run and waits for it to wind down.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.Stop(); err != nil && !errors.Is(err, domain.ErrNoActiveRun) {
		return err
	}
	return s.Wait(ctx)
}
