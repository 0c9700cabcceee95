package stream

import (
	"sync"

	"github.com/modoterra/hearth/pkg/core"
)

// StatusTracker holds the connection status of one feed. Only the feed's
// Reconnect Loop writes it.
type StatusTracker struct {
	mu      sync.RWMutex
	status  core.ConnectionStatus
	changes int
	w       watchers
}

// NewStatusTracker returns a tracker starting at Disconnected.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{status: core.StatusDisconnected}
}

// Get returns the current status.
func (t *StatusTracker) Get() core.ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Set updates the status and notifies watchers if it changed.
func (t *StatusTracker) Set(s core.ConnectionStatus) {
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.changes++
	t.mu.Unlock()
	t.w.notify()
}

// Changes returns how many transitions have happened.
func (t *StatusTracker) Changes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changes
}

// Watch returns a channel signalled after each status change and a func to
// stop watching.
func (t *StatusTracker) Watch() (<-chan struct{}, func()) {
	return t.w.add()
}
