package stream

import (
	"sync"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

// Snapshot is what a BroadcastSlot subscriber observes.
type Snapshot struct {
	Event      core.Event // nil until the first non-heartbeat event
	ReceivedAt time.Time
	Seq        uint64 // increments on every publish
	Status     core.ConnectionStatus
}

// BroadcastSlot stores the latest non-heartbeat event of the event feed.
// Subscribers are told that something changed; they read the current value,
// so intermediate events may be skipped by slow readers (latest wins).
type BroadcastSlot struct {
	mu         sync.RWMutex
	event      core.Event
	receivedAt time.Time
	seq        uint64
	status     *StatusTracker
	w          watchers
	now        func() time.Time
}

// NewBroadcastSlot creates a slot that reports status from the given tracker.
func NewBroadcastSlot(status *StatusTracker) *BroadcastSlot {
	if status == nil {
		status = NewStatusTracker()
	}
	return &BroadcastSlot{status: status, now: time.Now}
}

// Publish overwrites the stored event and notifies subscribers. Heartbeats
// and nil events are ignored.
func (s *BroadcastSlot) Publish(e core.Event) {
	if e == nil || core.IsHeartbeat(e) {
		return
	}
	s.mu.Lock()
	s.event = e
	s.receivedAt = s.now()
	s.seq++
	s.mu.Unlock()
	s.w.notify()
}

// Deliver implements Sink.
func (s *BroadcastSlot) Deliver(e core.Event) { s.Publish(e) }

// Snapshot returns the current value.
func (s *BroadcastSlot) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Event:      s.event,
		ReceivedAt: s.receivedAt,
		Seq:        s.seq,
		Status:     s.status.Get(),
	}
}

// Subscribe returns the current snapshot and a channel signalled whenever the
// event or the connection status changes. Call cancel to unsubscribe.
func (s *BroadcastSlot) Subscribe() (Snapshot, <-chan struct{}, func()) {
	out := make(chan struct{}, 1)
	evCh, evCancel := s.w.add()
	stCh, stCancel := s.status.Watch()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-evCh:
			case <-stCh:
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			evCancel()
			stCancel()
			close(done)
		})
	}
	return s.Snapshot(), out, cancel
}

// Subscribers returns the number of active subscriptions.
func (s *BroadcastSlot) Subscribers() int {
	return s.w.len()
}
