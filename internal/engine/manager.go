package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/infra/logger"
	"github.com/datallboy/gotubedl/internal/platform"
	"github.com/segmentio/ksuid"
)

// DefaultWorkers is the pool size used when Options.Workers is not set.
const DefaultWorkers = 3

type Options struct {
	// Workers is the fixed pool size.
	Workers int

	// ToolPath is the downloader binary checked before the first dispatch.
	// An empty path skips the check.
	ToolPath string

	// ToolExists reports whether the binary is present. Defaults to platform.ToolExists.
	ToolExists func(path string) bool

	// Updater installs the binary when it is missing. Without one a missing
	// binary fails the run with domain.ErrToolMissing.
	Updater Updater

	NewExecutor ExecutorFactory
	Parser      OptionsParser
	View        OptionsView

	// Observer receives progress and lifecycle signals on a separate goroutine.
	Observer Observer

	// Log is the optional diagnostic sink.
	Log Sink

	// RunID identifies this manager in signals and history. Defaults to a new KSUID.
	RunID string
}

// Manager dispatches queued items to a fixed pool of workers.
type Manager struct {
	opts     Options
	runID    string
	log      Sink
	observer *AsyncObserver
	workers  []*Worker

	mu        sync.Mutex
	queue     []domain.WorkItem
	accepting bool

	// sigMu orders the closing signal before the terminal one
	sigMu      sync.Mutex
	terminated bool

	wake      chan struct{}
	idle      chan *Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}

	running    atomic.Bool
	stopped    atomic.Bool
	successful atomic.Int64
	dispatched atomic.Int64
	elapsed    atomic.Int64

	err error
}

// NewManager builds a manager for the initial batch. Nothing runs until Start.
func NewManager(items []domain.WorkItem, opts Options) (*Manager, error) {
	if opts.NewExecutor == nil {
		return nil, errors.New("engine: NewExecutor is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ToolExists == nil {
		opts.ToolExists = platform.ToolExists
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFuncs{}
	}
	if opts.RunID == "" {
		opts.RunID = ksuid.New().String()
	}

	var log Sink = logger.Nop()
	if opts.Log != nil {
		log = safeSink{next: opts.Log}
	}

	m := &Manager{
		opts:      opts,
		runID:     opts.RunID,
		log:       log,
		queue:     append([]domain.WorkItem(nil), items...),
		accepting: true,
		wake:      make(chan struct{}, 1),
		idle:      make(chan *Worker, opts.Workers),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.running.Store(true)
	m.observer = NewAsyncObserver(opts.Observer, log)

	for i := 1; i <= opts.Workers; i++ {
		m.workers = append(m.workers, newWorker(workerConfig{
			id:        i,
			factory:   opts.NewExecutor,
			parser:    opts.Parser,
			view:      opts.View,
			observer:  m.observer,
			log:       log,
			onSuccess: m.increaseSuccessful,
			onIdle:    m.workerIdle,
		}))
	}

	return m, nil
}

// Start launches the workers and the dispatch loop. Cancelling ctx has the
// same effect as StopDownloads. Calling Start again does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		for _, w := range m.workers {
			w.start(runCtx)
		}

		unregister := context.AfterFunc(ctx, m.StopDownloads)
		go func() {
			defer cancel()
			defer unregister()
			m.run(runCtx)
		}()
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.log.Info("[Run %s] Starting %d workers with %d queued items", m.runID, len(m.workers), m.pending())

	err := m.ensureTool(ctx)

	// Elapsed covers the dispatch loop only, not the tool install
	started := time.Now()
	if err != nil {
		m.err = err
		m.log.Error("[Run %s] %v", m.runID, err)
	} else {
		m.dispatch()
	}

	// Clean up
	for _, w := range m.workers {
		w.Close()
	}
	for _, w := range m.workers {
		<-w.Done()
	}

	m.elapsed.Store(int64(time.Since(started)))
	m.running.Store(false)

	m.sigMu.Lock()
	m.terminated = true
	sig := domain.SignalFinished
	if m.stopped.Load() || m.err != nil {
		sig = domain.SignalClosed
	}
	m.observer.OnSignal(m.runID, sig)
	m.sigMu.Unlock()

	m.log.Info("[Run %s] %s: %d successful, %d dispatched in %s",
		m.runID, sig, m.SuccessCount(), m.Dispatched(), m.Elapsed().Truncate(time.Millisecond))

	// Flush pending notifications before Wait returns
	m.observer.Close()
}

func (m *Manager) ensureTool(ctx context.Context) error {
	path := m.opts.ToolPath
	if path == "" || m.opts.ToolExists(path) {
		return nil
	}

	if m.opts.Updater == nil {
		return fmt.Errorf("%w: %s", domain.ErrToolMissing, path)
	}

	m.log.Info("[Run %s] Downloader not found at %s, installing...", m.runID, path)
	if err := m.opts.Updater.EnsurePresent(ctx, path); err != nil {
		return fmt.Errorf("failed to install downloader: %w", err)
	}
	return nil
}

// dispatch pairs queued items with idle workers until the queue is drained and
// every worker is idle, or until a stop is requested.
func (m *Manager) dispatch() {
	idle := make([]*Worker, len(m.workers))
	copy(idle, m.workers)

	for {
		select {
		case <-m.stopCh:
			m.closeQueue()
			return
		default:
		}

		m.mu.Lock()
		for len(idle) > 0 && len(m.queue) > 0 && m.running.Load() {
			item := m.queue[0]
			m.queue = m.queue[1:]

			w := idle[0]
			if err := w.Download(item); err != nil {
				// Put it back at the head so FIFO order holds
				m.queue = append([]domain.WorkItem{item}, m.queue...)
				m.log.Error("[Run %s] Worker %d rejected %s: %v", m.runID, w.ID(), item, err)
				break
			}
			idle = idle[1:]
			m.dispatched.Add(1)
			m.log.Debug("[Run %s] Worker %d <- %s", m.runID, w.ID(), item)
		}

		if len(m.queue) == 0 && len(idle) == len(m.workers) {
			// Natural completion: from here on AddItem is rejected
			m.accepting = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		select {
		case w := <-m.idle:
			idle = append(idle, w)
		case <-m.wake:
		case <-m.stopCh:
			m.closeQueue()
			return
		}
	}
}

func (m *Manager) closeQueue() {
	m.mu.Lock()
	m.accepting = false
	m.mu.Unlock()
}

func (m *Manager) workerIdle(w *Worker) {
	// Capacity equals the pool size and each worker reports once per item
	m.idle <- w
}

func (m *Manager) increaseSuccessful() {
	m.successful.Add(1)
}

// AddItem appends item to the pending queue. It fails with
// domain.ErrManagerClosed once a stop was requested or the loop has exited.
func (m *Manager) AddItem(item domain.WorkItem) error {
	m.mu.Lock()
	if !m.accepting || m.stopped.Load() {
		m.mu.Unlock()
		return domain.ErrManagerClosed
	}
	m.queue = append(m.queue, item)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}
	return nil
}

// StopDownloads requests shutdown. The first call emits closing and cancels
// every worker's current task; the dispatch loop then closes and joins the
// workers and emits closed. Later calls do nothing.
func (m *Manager) StopDownloads() {
	m.stopOnce.Do(func() {
		m.sigMu.Lock()
		if m.terminated {
			m.sigMu.Unlock()
			return
		}
		m.stopped.Store(true)
		m.running.Store(false)
		m.observer.OnSignal(m.runID, domain.SignalClosing)
		m.sigMu.Unlock()

		close(m.stopCh)
		for _, w := range m.workers {
			w.StopDownload()
		}
	})
}

// ActiveCount returns busy workers plus pending items. It is an advisory
// snapshot, not an exact count.
func (m *Manager) ActiveCount() int {
	count := 0
	for _, w := range m.workers {
		if !w.Available() {
			count++
		}
	}
	return count + m.pending()
}

func (m *Manager) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// SuccessCount returns the number of items that finished with OK or ALREADY_EXISTS.
func (m *Manager) SuccessCount() int {
	return int(m.successful.Load())
}

// Dispatched returns how many items were handed to workers.
func (m *Manager) Dispatched() int {
	return int(m.dispatched.Load())
}

// Elapsed is the wall-clock duration of the run, set once the terminal signal fired.
func (m *Manager) Elapsed() time.Duration {
	return time.Duration(m.elapsed.Load())
}

// Running reports whether the manager has neither been stopped nor finished.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Stopped reports whether StopDownloads took effect before the run ended.
func (m *Manager) Stopped() bool {
	return m.stopped.Load()
}

func (m *Manager) RunID() string {
	return m.runID
}

func (m *Manager) Workers() int {
	return len(m.workers)
}

// Done is closed after the terminal signal has been delivered.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the run has ended and returns the startup error, if any.
// The manager must have been started.
func (m *Manager) Wait() error {
	<-m.done
	return m.err
}
