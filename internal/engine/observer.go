package engine

import (
	"sync"

	"github.com/datallboy/gotubedl/internal/domain"
)

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status func(domain.StatusEvent)
	Signal func(runID string, sig domain.Signal)
}

func (o ObserverFuncs) OnStatus(ev domain.StatusEvent) {
	if o.Status != nil {
		o.Status(ev)
	}
}

func (o ObserverFuncs) OnSignal(runID string, sig domain.Signal) {
	if o.Signal != nil {
		o.Signal(runID, sig)
	}
}

// MultiObserver fans every notification out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnStatus(ev domain.StatusEvent) {
	for _, o := range m {
		o.OnStatus(ev)
	}
}

func (m MultiObserver) OnSignal(runID string, sig domain.Signal) {
	for _, o := range m {
		o.OnSignal(runID, sig)
	}
}

// AsyncObserver delivers notifications to the wrapped observer on its own
// goroutine, in the order they were produced. The queue is unbounded so
// producers never wait on a slow observer.
type AsyncObserver struct {
	next Observer
	log  Sink

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewAsyncObserver(next Observer, log Sink) *AsyncObserver {
	a := &AsyncObserver{
		next: next,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncObserver) OnStatus(ev domain.StatusEvent) {
	a.push(func() { a.next.OnStatus(ev) })
}

func (a *AsyncObserver) OnSignal(runID string, sig domain.Signal) {
	a.push(func() { a.next.OnSignal(runID, sig) })
}

// Close delivers everything already queued, then stops the delivery goroutine.
// Notifications pushed after Close are dropped.
func (a *AsyncObserver) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.signal()
	<-a.done
}

func (a *AsyncObserver) push(fn func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()

	a.signal()
}

func (a *AsyncObserver) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
		// Wake-up already pending
	}
}

func (a *AsyncObserver) run() {
	defer close(a.done)

	for {
		a.mu.Lock()
		batch := a.queue
		a.queue = nil
		closed := a.closed
		a.mu.Unlock()

		for _, fn := range batch {
			a.deliver(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-a.wake
	}
}

func (a *AsyncObserver) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil && a.log != nil {
			a.log.Error("observer panicked: %v", r)
		}
	}()
	fn()
}
