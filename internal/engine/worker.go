package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/datallboy/gotubedl/internal/domain"
)

// Worker owns one TaskExecutor and runs at most one item at a time.
type Worker struct {
	id       int
	executor TaskExecutor
	parser   OptionsParser
	view     OptionsView
	observer Observer
	log      Sink

	onSuccess func()
	onIdle    func(*Worker)

	current atomic.Pointer[domain.WorkItem]
	index   atomic.Int64
	running atomic.Bool

	// mu guards the cancellation state of the item in flight
	mu          sync.Mutex
	cancelTask  context.CancelFunc
	stopPending bool

	ctx       context.Context
	cancelAll context.CancelFunc

	assign    chan domain.WorkItem
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type workerConfig struct {
	id        int
	factory   ExecutorFactory
	parser    OptionsParser
	view      OptionsView
	observer  Observer
	log       Sink
	onSuccess func()
	onIdle    func(*Worker)
}

func newWorker(c workerConfig) *Worker {
	w := &Worker{
		id:        c.id,
		parser:    c.parser,
		view:      c.view,
		observer:  c.observer,
		log:       c.log,
		onSuccess: c.onSuccess,
		onIdle:    c.onIdle,
		assign:    make(chan domain.WorkItem, 1),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.index.Store(-1)
	w.running.Store(true)
	w.executor = c.factory(w.dataHook)
	return w
}

// start launches the worker loop. Cancelling ctx cancels any task in flight.
func (w *Worker) start(ctx context.Context) {
	w.ctx, w.cancelAll = context.WithCancel(ctx)
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancelAll()

	for {
		select {
		case <-w.closeCh:
			return
		case item := <-w.assign:
			w.process(item)

			w.mu.Lock()
			w.stopPending = false
			w.current.Store(nil)
			w.mu.Unlock()

			if w.onIdle != nil {
				w.onIdle(w)
			}
		}
	}
}

func (w *Worker) process(item domain.WorkItem) {
	taskCtx, cancel := context.WithCancel(w.ctx)

	w.mu.Lock()
	w.cancelTask = cancel
	if w.stopPending {
		// StopDownload arrived between assignment and start
		cancel()
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancelTask = nil
		w.mu.Unlock()
		cancel()
	}()

	outcome := w.execute(taskCtx, item)
	w.log.Debug("[Worker %d] %s returned %s", w.id, item, outcome)

	if outcome.Successful() && w.onSuccess != nil {
		w.onSuccess()
	}
}

func (w *Worker) execute(ctx context.Context, item domain.WorkItem) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("[Worker %d] downloader panicked on %s: %v", w.id, item, r)
			outcome = domain.OutcomeError
		}
	}()

	var args []string
	if w.parser != nil && w.view != nil {
		args = w.parser.Parse(w.view.DownloadOptions())
	}

	return w.executor.Download(ctx, item.URL, args)
}

// Download assigns item to the worker. The caller must only assign when
// Available reports true; a busy worker returns domain.ErrWorkerBusy.
func (w *Worker) Download(item domain.WorkItem) error {
	if !w.running.Load() {
		return domain.ErrWorkerClosed
	}

	if !w.current.CompareAndSwap(nil, &item) {
		return domain.ErrWorkerBusy
	}
	w.index.Store(int64(item.RowIndex))

	// current was nil, so the previous assignment has been consumed and the
	// buffered channel is empty
	w.assign <- item
	return nil
}

// StopDownload cancels the item in flight. The worker stays alive and can
// take new items once the cancelled task unwinds.
func (w *Worker) StopDownload() {
	w.mu.Lock()
	if w.cancelTask != nil {
		w.cancelTask()
	} else if w.current.Load() != nil {
		w.stopPending = true
	}
	w.mu.Unlock()

	w.executor.Stop()
}

// Close terminates the worker loop and cancels any task in flight. It is
// safe to call more than once.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.running.Store(false)
		close(w.closeCh)
		if w.cancelAll != nil {
			w.cancelAll()
		}
		w.executor.Stop()
	})
}

// Available reports whether the worker has no item assigned. The value is a
// snapshot and may be stale by the time the caller acts on it.
func (w *Worker) Available() bool {
	return w.current.Load() == nil
}

// Done is closed once the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) ID() int {
	return w.id
}

// dataHook tags executor progress with the owning row and forwards it.
func (w *Worker) dataHook(ev domain.StatusEvent) {
	if ev.Status != "" && ev.HasPlaylistInfo() {
		ev.Status += " " + ev.PlaylistIndex + "/" + ev.PlaylistSize
	}
	ev.RowIndex = int(w.index.Load())

	if w.observer != nil {
		w.observer.OnStatus(ev)
	}
}
