package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/datallboy/gotubedl/internal/domain"
)

const (
	TypeStatus = "status"
	TypeSignal = "signal"
)

// DefaultBuffer is the per subscriber queue length.
const DefaultBuffer = 64

// Event is one message pushed to subscribers.
type Event struct {
	Type   string              `json:"type"`
	RunID  string              `json:"run_id,omitempty"`
	Status *domain.StatusEvent `json:"status,omitempty"`
	Signal domain.Signal       `json:"signal,omitempty"`
}

// Hub fans engine notifications out to any number of subscribers. A slow
// subscriber loses events instead of stalling the others.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan Event

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a new listener. The returned cancel func removes it and
// closes the channel.
func (h *Hub) Subscribe(buffer int) (uuid.UUID, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	id := uuid.New()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ForRun returns an observer that publishes one run's events. Status events
// carry no run id of their own, so they are tagged with runID.
func (h *Hub) ForRun(runID string) *RunObserver {
	return &RunObserver{hub: h, runID: runID}
}

// RunObserver forwards a single run's notifications to the hub.
type RunObserver struct {
	hub   *Hub
	runID string
}

func (o *RunObserver) OnStatus(ev domain.StatusEvent) {
	o.hub.Publish(Event{Type: TypeStatus, RunID: o.runID, Status: &ev})
}

func (o *RunObserver) OnSignal(runID string, sig domain.Signal) {
	o.hub.Publish(Event{Type: TypeSignal, RunID: runID, Signal: sig})
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}
