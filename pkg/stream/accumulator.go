package stream

import (
	"slices"
	"sync"

	"github.com/modoterra/hearth/pkg/core"
)

const defaultPageSize = 50

// AccumulatorOptions configures an Accumulator.
type AccumulatorOptions struct {
	// InitialPage is the reveal limit applied by Reset.
	//
	// Default: 50
	InitialPage int
	// Capacity bounds the buffer; the oldest entries are evicted first.
	// Zero means unbounded.
	Capacity int
}

// Accumulator is the deduplicating log buffer of the log feed together with
// its reveal window. Entries are kept most-recent-first and are unique by key.
//
// The reveal window counts entries that match the current filter:
// 0 <= Limit() <= VisibleLen() <= Len().
type Accumulator struct {
	mu      sync.RWMutex
	entries []core.LogEntry
	keys    map[string]struct{}
	filter  Filter
	visible int
	limit   int
	opts    AccumulatorOptions
	w       watchers
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(opts AccumulatorOptions) *Accumulator {
	if opts.InitialPage <= 0 {
		opts.InitialPage = defaultPageSize
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &Accumulator{
		keys: make(map[string]struct{}),
		opts: opts,
	}
}

// IngestLive adds a line from the live tail. It returns false if an entry with
// the same key is already buffered. A new entry lands at the top; if the
// window is showing anything (or there is nothing to show yet) it grows by one
// so the new line stays visible.
func (a *Accumulator) IngestLive(line core.LogLine) bool {
	e := core.NewLogEntry(line)

	a.mu.Lock()
	if _, ok := a.keys[e.Key]; ok {
		a.mu.Unlock()
		return false
	}
	a.keys[e.Key] = struct{}{}
	a.entries = append(a.entries, core.LogEntry{})
	copy(a.entries[1:], a.entries)
	a.entries[0] = e

	if a.filter.Match(e) {
		if a.limit > 0 || a.visible == 0 {
			a.limit++
		}
		a.visible++
	}
	a.evictLocked()
	a.mu.Unlock()

	a.w.notify()
	return true
}

// SeedHistory merges historical lines into the buffer, skipping keys already
// present. Each new entry is placed before the first buffered entry that is
// older than it, so existing entries keep their relative order. It returns the
// number of entries added.
func (a *Accumulator) SeedHistory(lines []core.LogLine) int {
	a.mu.Lock()
	fresh := make([]core.LogEntry, 0, len(lines))
	for _, line := range lines {
		e := core.NewLogEntry(line)
		if _, ok := a.keys[e.Key]; ok {
			continue
		}
		a.keys[e.Key] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		a.mu.Unlock()
		return 0
	}

	// Newest first; equal timestamps keep batch order. One pass over the
	// buffer then places every new entry.
	slices.SortStableFunc(fresh, func(x, y core.LogEntry) int {
		return y.Timestamp.Compare(x.Timestamp)
	})
	merged := make([]core.LogEntry, 0, len(a.entries)+len(fresh))
	shown := 0
	next := 0
	insert := func(e core.LogEntry) {
		if a.filter.Match(e) {
			if shown < a.limit {
				a.limit++
			}
			shown++
			a.visible++
		}
		merged = append(merged, e)
	}
	for _, cur := range a.entries {
		for next < len(fresh) && cur.Timestamp.Before(fresh[next].Timestamp) {
			insert(fresh[next])
			next++
		}
		if a.filter.Match(cur) {
			shown++
		}
		merged = append(merged, cur)
	}
	for ; next < len(fresh); next++ {
		insert(fresh[next])
	}
	a.entries = merged
	a.evictLocked()
	a.mu.Unlock()

	a.w.notify()
	return len(fresh)
}

// RevealMore grows the window by up to pageSize entries, capped at the number
// of entries matching the filter.
func (a *Accumulator) RevealMore(pageSize int) int {
	if pageSize <= 0 {
		return a.Limit()
	}
	a.mu.Lock()
	grow := min(pageSize, a.visible-a.limit)
	if grow <= 0 {
		limit := a.limit
		a.mu.Unlock()
		return limit
	}
	a.limit += grow
	limit := a.limit
	a.mu.Unlock()

	a.w.notify()
	return limit
}

// Reset installs a new filter and shrinks the window to the initial page. The
// buffer itself is kept.
func (a *Accumulator) Reset(f Filter) {
	a.mu.Lock()
	a.filter = f
	a.visible = 0
	for _, e := range a.entries {
		if f.Match(e) {
			a.visible++
		}
	}
	a.limit = min(a.opts.InitialPage, a.visible)
	a.mu.Unlock()

	a.w.notify()
}

// Deliver implements Sink; only log lines are accepted.
func (a *Accumulator) Deliver(e core.Event) {
	if l, ok := e.(core.LogLine); ok {
		a.IngestLive(l)
	}
}

// Visible returns the revealed entries that match the filter, newest first.
func (a *Accumulator) Visible() []core.LogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]core.LogEntry, 0, a.limit)
	for _, e := range a.entries {
		if len(out) == a.limit {
			break
		}
		if a.filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of the whole buffer, newest first.
func (a *Accumulator) Entries() []core.LogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]core.LogEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Contains reports whether an entry with key is buffered.
func (a *Accumulator) Contains(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok
}

// Len returns the buffer length.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// VisibleLen returns how many buffered entries match the filter.
func (a *Accumulator) VisibleLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.visible
}

// Limit returns the reveal window size.
func (a *Accumulator) Limit() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.limit
}

// HasMore reports whether RevealMore would reveal anything.
func (a *Accumulator) HasMore() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.limit < a.visible
}

// Filter returns the active filter.
func (a *Accumulator) Filter() Filter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.filter
}

// PageSize returns the initial page size.
func (a *Accumulator) PageSize() int {
	return a.opts.InitialPage
}

// Watch returns a channel signalled after every change to the buffer or the
// window.
func (a *Accumulator) Watch() (<-chan struct{}, func()) {
	return a.w.add()
}

func (a *Accumulator) evictLocked() {
	if a.opts.Capacity == 0 {
		return
	}
	for len(a.entries) > a.opts.Capacity {
		last := a.entries[len(a.entries)-1]
		a.entries = a.entries[:len(a.entries)-1]
		delete(a.keys, last.Key)
		if a.filter.Match(last) {
			a.visible--
		}
	}
	if a.limit > a.visible {
		a.limit = a.visible
	}
}
