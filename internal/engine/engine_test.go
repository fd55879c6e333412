package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/infra/config"
)

const testTimeout = 5 * time.Second

// fakeExecutor blocks each download until released or cancelled.
type fakeExecutor struct {
	hook    ProgressHook
	pool    *fakePool
	stopped atomic.Int32
}

func (f *fakeExecutor) Download(ctx context.Context, url string, args []string) domain.Outcome {
	return f.pool.download(ctx, f, url, args)
}

func (f *fakeExecutor) Stop() {
	f.stopped.Add(1)
}

// fakePool records what every executor built for a manager did.
type fakePool struct {
	mu       sync.Mutex
	order    []string
	args     [][]string
	outcomes map[string]domain.Outcome

	// block makes each download wait for release or cancellation
	block   bool
	release chan struct{}
	started chan string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	cancelled   atomic.Int32
	executors   []*fakeExecutor
}

func newFakePool(block bool) *fakePool {
	return &fakePool{
		outcomes: map[string]domain.Outcome{},
		block:    block,
		release:  make(chan struct{}),
		started:  make(chan string, 128),
	}
}

func (p *fakePool) factory(hook ProgressHook) TaskExecutor {
	e := &fakeExecutor{hook: hook, pool: p}
	p.mu.Lock()
	p.executors = append(p.executors, e)
	p.mu.Unlock()
	return e
}

func (p *fakePool) download(ctx context.Context, e *fakeExecutor, url string, args []string) domain.Outcome {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	p.mu.Lock()
	p.order = append(p.order, url)
	p.args = append(p.args, args)
	outcome, ok := p.outcomes[url]
	p.mu.Unlock()
	if !ok {
		outcome = domain.OutcomeOK
	}

	e.hook(domain.StatusEvent{Status: domain.StatusDownloading, Percent: "50.0%"})
	p.started <- url

	if p.block {
		select {
		case <-p.release:
		case <-ctx.Done():
			p.cancelled.Add(1)
			e.hook(domain.StatusEvent{Status: domain.StatusStopped})
			return domain.OutcomeStopped
		}
	}

	e.hook(domain.StatusEvent{Status: outcome.FinalStatus()})
	return outcome
}

func (p *fakePool) dispatchOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// recorder is a thread-safe Observer.
type recorder struct {
	mu      sync.Mutex
	events  []domain.StatusEvent
	signals []domain.Signal
}

func (r *recorder) OnStatus(ev domain.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnSignal(runID string, sig domain.Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, sig)
	r.mu.Unlock()
}

func (r *recorder) Signals() []domain.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Signal(nil), r.signals...)
}

func (r *recorder) Events() []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusEvent(nil), r.events...)
}

func items(urls ...string) []domain.WorkItem {
	return domain.NewWorkItems(urls, 0)
}

func newTestManager(t *testing.T, work []domain.WorkItem, workers int, pool *fakePool, rec *recorder) *Manager {
	t.Helper()
	m, err := NewManager(work, Options{
		Workers:     workers,
		NewExecutor: pool.factory,
		Observer:    rec,
		RunID:       "test-run",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func waitDone(t *testing.T, m *Manager) error {
	t.Helper()
	select {
	case <-m.Done():
		return m.Wait()
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for manager to finish")
		return nil
	}
}

func waitStarted(t *testing.T, p *fakePool, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case url := <-p.started:
			got = append(got, url)
		case <-time.After(testTimeout):
			t.Fatalf("Timed out waiting for %d downloads to start, got %v", n, got)
		}
	}
	return got
}

func TestNewManagerRequiresExecutor(t *testing.T) {
	if _, err := NewManager(nil, Options{}); err == nil {
		t.Error("Expected error without an executor factory")
	}
}

func TestNewManagerDefaults(t *testing.T) {
	pool := newFakePool(false)
	m, err := NewManager(nil, Options{NewExecutor: pool.factory})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.Workers() != DefaultWorkers {
		t.Errorf("Expected %d workers, got %d", DefaultWorkers, m.Workers())
	}
	if len(pool.executors) != DefaultWorkers {
		t.Errorf("Expected one executor per worker, got %d", len(pool.executors))
	}
	if m.RunID() == "" {
		t.Error("Expected generated run id")
	}
	if !m.Running() {
		t.Error("Expected a new manager to report running")
	}
}

func TestEmptyQueueFinishes(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	m := newTestManager(t, nil, 3, pool, rec)
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	sigs := rec.Signals()
	if len(sigs) != 1 || sigs[0] != domain.SignalFinished {
		t.Errorf("Expected [finished], got %v", sigs)
	}
	if m.Dispatched() != 0 {
		t.Errorf("Expected 0 dispatches, got %d", m.Dispatched())
	}
	if m.Running() {
		t.Error("Expected running=false after finish")
	}
}

func TestBoundedConcurrency(t *testing.T) {
	pool := newFakePool(true)
	rec := &recorder{}
	urls := []string{"a", "b", "c", "d", "e", "f", "g"}
	m := newTestManager(t, items(urls...), 2, pool, rec)
	m.Start(context.Background())

	waitStarted(t, pool, 2)
	if got := m.ActiveCount(); got > 2+len(urls) {
		t.Errorf("Expected ActiveCount <= N + pending, got %d", got)
	}

	// Release one at a time and make sure we never exceed the pool size
	for i := 0; i < len(urls); i++ {
		pool.release <- struct{}{}
		if i < len(urls)-2 {
			waitStarted(t, pool, 1)
		}
	}

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := pool.maxInFlight.Load(); got > 2 {
		t.Errorf("Expected at most 2 in flight, got %d", got)
	}
	if m.SuccessCount() != len(urls) {
		t.Errorf("Expected %d successes, got %d", len(urls), m.SuccessCount())
	}
	if m.Dispatched() != len(urls) {
		t.Errorf("Expected %d dispatched, got %d", len(urls), m.Dispatched())
	}
}

func TestSingleWorkerIsFIFO(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	urls := []string{"one", "two", "three", "four"}
	m := newTestManager(t, items(urls...), 1, pool, rec)
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got := pool.dispatchOrder()
	if len(got) != len(urls) {
		t.Fatalf("Expected %d downloads, got %v", len(urls), got)
	}
	for i := range urls {
		if got[i] != urls[i] {
			t.Errorf("Expected %s at position %d, got %s", urls[i], i, got[i])
		}
	}
}

func TestSuccessAccounting(t *testing.T) {
	pool := newFakePool(false)
	pool.outcomes = map[string]domain.Outcome{
		"ok":      domain.OutcomeOK,
		"err1":    domain.OutcomeError,
		"already": domain.OutcomeAlreadyExists,
		"err2":    domain.OutcomeError,
	}
	rec := &recorder{}
	m := newTestManager(t, items("ok", "err1", "already", "err2"), 2, pool, rec)
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.SuccessCount() != 2 {
		t.Errorf("Expected 2 successes, got %d", m.SuccessCount())
	}
	if m.Dispatched() != 4 {
		t.Errorf("Expected every item dispatched once, got %d", m.Dispatched())
	}
	if sigs := rec.Signals(); len(sigs) != 1 || sigs[0] != domain.SignalFinished {
		t.Errorf("Expected [finished], got %v", sigs)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pool := newFakePool(true)
	rec := &recorder{}
	m := newTestManager(t, items("a", "b", "c", "d"), 2, pool, rec)
	m.Start(context.Background())
	waitStarted(t, pool, 2)

	m.StopDownloads()
	m.StopDownloads()
	if m.Running() {
		t.Error("Expected running=false right after StopDownloads")
	}

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	m.StopDownloads()

	sigs := rec.Signals()
	if len(sigs) != 2 || sigs[0] != domain.SignalClosing || sigs[1] != domain.SignalClosed {
		t.Errorf("Expected [closing closed], got %v", sigs)
	}

	// Both in-flight tasks were cancelled and joined before closed
	if got := pool.cancelled.Load(); got != 2 {
		t.Errorf("Expected 2 cancelled tasks, got %d", got)
	}
	if got := pool.inFlight.Load(); got != 0 {
		t.Errorf("Expected nothing in flight after closed, got %d", got)
	}
	if m.Dispatched() != 2 {
		t.Errorf("Expected queued items to stay undispatched, got %d dispatched", m.Dispatched())
	}
	for _, e := range pool.executors {
		if e.stopped.Load() == 0 {
			t.Error("Expected Stop on every executor")
		}
	}
}

func TestStopAfterFinishEmitsNothing(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	m := newTestManager(t, items("a"), 1, pool, rec)
	m.Start(context.Background())
	waitDone(t, m)

	m.StopDownloads()

	if sigs := rec.Signals(); len(sigs) != 1 || sigs[0] != domain.SignalFinished {
		t.Errorf("Expected [finished] only, got %v", sigs)
	}
}

func TestContextCancelStops(t *testing.T) {
	pool := newFakePool(true)
	rec := &recorder{}
	m := newTestManager(t, items("a", "b"), 2, pool, rec)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	waitStarted(t, pool, 2)
	cancel()

	waitDone(t, m)
	sigs := rec.Signals()
	if len(sigs) != 2 || sigs[1] != domain.SignalClosed {
		t.Errorf("Expected [closing closed], got %v", sigs)
	}
}

func TestAddItemAtRuntime(t *testing.T) {
	pool := newFakePool(true)
	rec := &recorder{}
	m := newTestManager(t, items("first"), 2, pool, rec)
	m.Start(context.Background())
	waitStarted(t, pool, 1)

	if err := m.AddItem(domain.WorkItem{URL: "added", RowIndex: 1}); err != nil {
		t.Fatalf("Expected AddItem to succeed, got %v", err)
	}
	waitStarted(t, pool, 1)

	pool.release <- struct{}{}
	pool.release <- struct{}{}

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	count := 0
	for _, url := range pool.dispatchOrder() {
		if url == "added" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected added item to run exactly once, ran %d times", count)
	}
	if m.SuccessCount() != 2 {
		t.Errorf("Expected 2 successes, got %d", m.SuccessCount())
	}
}

func TestAddItemAfterCloseFails(t *testing.T) {
	pool := newFakePool(false)
	m := newTestManager(t, nil, 1, pool, &recorder{})
	m.Start(context.Background())
	waitDone(t, m)

	if err := m.AddItem(domain.WorkItem{URL: "late"}); !errors.Is(err, domain.ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestAddItemAfterStopFails(t *testing.T) {
	pool := newFakePool(true)
	m := newTestManager(t, items("a"), 1, pool, &recorder{})
	m.Start(context.Background())
	waitStarted(t, pool, 1)

	m.StopDownloads()
	if err := m.AddItem(domain.WorkItem{URL: "late"}); !errors.Is(err, domain.ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
	waitDone(t, m)
}

func TestStartTwiceIsNoop(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	m := newTestManager(t, items("a", "b"), 1, pool, rec)
	m.Start(context.Background())
	m.Start(context.Background())
	waitDone(t, m)

	if len(pool.dispatchOrder()) != 2 {
		t.Errorf("Expected 2 downloads, got %v", pool.dispatchOrder())
	}
	if len(rec.Signals()) != 1 {
		t.Errorf("Expected a single terminal signal, got %v", rec.Signals())
	}
}

type fakeUpdater struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (u *fakeUpdater) EnsurePresent(ctx context.Context, path string) error {
	u.calls.Add(1)
	time.Sleep(u.delay)
	return u.err
}

func TestUpdaterCalledWhenToolMissing(t *testing.T) {
	pool := newFakePool(false)
	upd := &fakeUpdater{}
	m, _ := NewManager(items("a"), Options{
		Workers:     1,
		ToolPath:    "/opt/yt-dlp",
		ToolExists:  func(string) bool { return false },
		Updater:     upd,
		NewExecutor: pool.factory,
	})
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if upd.calls.Load() != 1 {
		t.Errorf("Expected 1 updater call, got %d", upd.calls.Load())
	}
	if m.SuccessCount() != 1 {
		t.Errorf("Expected item to run after install, got %d successes", m.SuccessCount())
	}
}

func TestUpdaterSkippedWhenToolPresent(t *testing.T) {
	pool := newFakePool(false)
	upd := &fakeUpdater{}
	m, _ := NewManager(nil, Options{
		ToolPath:    "/opt/yt-dlp",
		ToolExists:  func(string) bool { return true },
		Updater:     upd,
		NewExecutor: pool.factory,
	})
	m.Start(context.Background())
	waitDone(t, m)

	if upd.calls.Load() != 0 {
		t.Errorf("Expected no updater call, got %d", upd.calls.Load())
	}
}

func TestUpdaterFailureIsFatal(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	boom := errors.New("network down")
	m, _ := NewManager(items("a", "b"), Options{
		ToolPath:    "/opt/yt-dlp",
		ToolExists:  func(string) bool { return false },
		Updater:     &fakeUpdater{err: boom},
		NewExecutor: pool.factory,
		Observer:    rec,
	})
	m.Start(context.Background())

	err := waitDone(t, m)
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped updater error, got %v", err)
	}
	if len(pool.dispatchOrder()) != 0 {
		t.Errorf("Expected no downloads, got %v", pool.dispatchOrder())
	}
	if sigs := rec.Signals(); len(sigs) != 1 || sigs[0] != domain.SignalClosed {
		t.Errorf("Expected [closed], got %v", sigs)
	}
}

func TestMissingToolWithoutUpdater(t *testing.T) {
	pool := newFakePool(false)
	m, _ := NewManager(items("a"), Options{
		ToolPath:    "/opt/yt-dlp",
		ToolExists:  func(string) bool { return false },
		NewExecutor: pool.factory,
	})
	m.Start(context.Background())

	if err := waitDone(t, m); !errors.Is(err, domain.ErrToolMissing) {
		t.Errorf("Expected ErrToolMissing, got %v", err)
	}
}

type staticParser struct{}

func (staticParser) Parse(opts config.DownloadOptions) []string {
	return []string{"-o", opts.OutputTemplate}
}

func TestWorkerBuildsArgsPerItem(t *testing.T) {
	pool := newFakePool(false)
	view := &mutableView{}
	view.set("first.%(ext)s")

	m, _ := NewManager(items("a"), Options{
		Workers:     1,
		NewExecutor: pool.factory,
		Parser:      staticParser{},
		View:        view,
	})
	m.Start(context.Background())
	waitDone(t, m)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.args) != 1 || len(pool.args[0]) != 2 || pool.args[0][1] != "first.%(ext)s" {
		t.Errorf("Expected args from the options view, got %v", pool.args)
	}
}

type panickingSink struct{}

func (panickingSink) Debug(string, ...any) { panic("debug") }
func (panickingSink) Info(string, ...any)  { panic("info") }
func (panickingSink) Warn(string, ...any)  { panic("warn") }
func (panickingSink) Error(string, ...any) { panic("error") }

func TestPanickingSinkDoesNotBreakScheduling(t *testing.T) {
	pool := newFakePool(false)
	m, _ := NewManager(items("a", "b"), Options{
		Workers:     1,
		NewExecutor: pool.factory,
		Log:         panickingSink{},
	})
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.SuccessCount() != 2 {
		t.Errorf("Expected 2 successes, got %d", m.SuccessCount())
	}
}

func TestElapsedSetAtShutdown(t *testing.T) {
	pool := newFakePool(false)
	m := newTestManager(t, items("a"), 1, pool, &recorder{})
	if m.Elapsed() != 0 {
		t.Errorf("Expected zero elapsed before start, got %s", m.Elapsed())
	}
	m.Start(context.Background())
	waitDone(t, m)
	if m.Elapsed() <= 0 {
		t.Errorf("Expected positive elapsed, got %s", m.Elapsed())
	}
}

func TestElapsedExcludesToolInstall(t *testing.T) {
	pool := newFakePool(false)
	install := 300 * time.Millisecond
	m, _ := NewManager(items("a"), Options{
		Workers:     1,
		ToolPath:    "/opt/yt-dlp",
		ToolExists:  func(string) bool { return false },
		Updater:     &fakeUpdater{delay: install},
		NewExecutor: pool.factory,
	})
	m.Start(context.Background())

	if err := waitDone(t, m); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.Elapsed() <= 0 || m.Elapsed() >= install {
		t.Errorf("Expected elapsed to exclude the %s install, got %s", install, m.Elapsed())
	}
}

func TestAddItemWhileRunWindsDown(t *testing.T) {
	for round := 0; round < 300; round++ {
		pool := newFakePool(false)
		m := newTestManager(t, items("seed"), 2, pool, &recorder{})

		var accepted, rejected []string
		m.Start(context.Background())

		// Adds race the manager draining its queue and closing it
		for i := 0; i < 20; i++ {
			url := fmt.Sprintf("late-%d", i)
			if err := m.AddItem(domain.WorkItem{URL: url, RowIndex: i + 1}); err != nil {
				if !errors.Is(err, domain.ErrManagerClosed) {
					t.Fatalf("Round %d: expected ErrManagerClosed, got %v", round, err)
				}
				rejected = append(rejected, url)
				continue
			}
			accepted = append(accepted, url)
			runtime.Gosched()
		}
		if err := waitDone(t, m); err != nil {
			t.Fatalf("Round %d: %v", round, err)
		}

		runs := map[string]int{}
		for _, url := range pool.dispatchOrder() {
			runs[url]++
		}
		for _, url := range accepted {
			if runs[url] != 1 {
				t.Fatalf("Round %d: accepted %s ran %d times", round, url, runs[url])
			}
		}
		for _, url := range rejected {
			if runs[url] != 0 {
				t.Fatalf("Round %d: rejected %s ran %d times", round, url, runs[url])
			}
		}
		if got := len(pool.dispatchOrder()); got != len(accepted)+1 {
			t.Fatalf("Round %d: expected %d downloads, got %d", round, len(accepted)+1, got)
		}
	}
}

func TestStatusEventsCarryRowIndex(t *testing.T) {
	pool := newFakePool(false)
	rec := &recorder{}
	m := newTestManager(t, domain.NewWorkItems([]string{"a", "b"}, 10), 1, pool, rec)
	m.Start(context.Background())
	waitDone(t, m)

	seen := map[int]bool{}
	for _, ev := range rec.Events() {
		seen[ev.RowIndex] = true
	}
	if !seen[10] || !seen[11] || len(seen) != 2 {
		t.Errorf("Expected events for rows 10 and 11, got %v", seen)
	}
}
