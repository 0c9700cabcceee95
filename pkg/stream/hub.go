package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrHubStopped is returned when acquiring a feed from a stopped Hub.
var ErrHubStopped = errors.New("hub stopped")

// Options configures a Hub.
type Options struct {
	Delay  DelayFunc
	Logger *slog.Logger
	// SinceSeconds bounds the historical log query.
	//
	// Default: 300
	SinceSeconds int
	Accumulator  AccumulatorOptions
}

const defaultSinceSeconds = 300

// Hub is the feed service shared by every UI consumer. Each feed is a
// reference-counted singleton: the first acquirer starts its Reconnect Loop,
// the last release stops it, so overlapping consumers share one connection.
type Hub struct {
	opener  Opener
	history HistoryQuery
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	events  *EventFeed
	logs    *LogFeed
}

// NewHub creates a Hub. history may be nil if the log feed is not used.
func NewHub(opener Opener, history HistoryQuery, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SinceSeconds <= 0 {
		opts.SinceSeconds = defaultSinceSeconds
	}
	h := &Hub{
		opener:  opener,
		history: history,
		opts:    opts,
		logger:  opts.Logger,
	}

	evStatus := NewStatusTracker()
	h.events = &EventFeed{
		feedRef: feedRef{hub: h, feed: FeedEvents, status: evStatus},
		slot:    NewBroadcastSlot(evStatus),
	}
	h.events.sink = h.events.slot

	logStatus := NewStatusTracker()
	h.logs = &LogFeed{
		feedRef:      feedRef{hub: h, feed: FeedLogs, status: logStatus},
		acc:          NewAccumulator(opts.Accumulator),
		history:      history,
		sinceSeconds: opts.SinceSeconds,
	}
	h.logs.sink = h.logs.acc
	return h
}

// Start binds the Hub to ctx. Feeds acquired afterwards run under it; Start
// is optional and defaults to context.Background on first acquire.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		h.ctx, h.cancel = context.WithCancel(ctx)
	}
}

// Stop tears down every running feed and waits for the loops to exit. The Hub
// cannot be reused.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	if h.cancel != nil {
		h.cancel()
	}
	h.events.cancel = nil
	h.logs.cancel = nil
	h.mu.Unlock()

	h.events.wait()
	h.logs.wait()
}

// Events acquires the event feed. Call release when done; the feed stops when
// the last holder releases it.
func (h *Hub) Events() (*EventFeed, func(), error) {
	release, err := h.acquire(&h.events.feedRef)
	if err != nil {
		return nil, nil, err
	}
	return h.events, release, nil
}

// Logs acquires the log feed.
func (h *Hub) Logs() (*LogFeed, func(), error) {
	release, err := h.acquire(&h.logs.feedRef)
	if err != nil {
		return nil, nil, err
	}
	return h.logs, release, nil
}

// Running reports whether the feed's loop is running.
func (h *Hub) Running(f Feed) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch f {
	case FeedEvents:
		return h.events.cancel != nil
	case FeedLogs:
		return h.logs.cancel != nil
	}
	return false
}

func (h *Hub) acquire(r *feedRef) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, ErrHubStopped
	}
	if h.ctx == nil {
		h.ctx, h.cancel = context.WithCancel(context.Background())
	}

	r.refs++
	if r.refs == 1 {
		r.start(h.ctx)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.release(r) })
	}, nil
}

func (h *Hub) release(r *feedRef) {
	h.mu.Lock()
	r.refs--
	var done chan struct{}
	if r.refs == 0 && r.cancel != nil {
		r.cancel()
		r.cancel = nil
		done = r.done
	}
	h.mu.Unlock()

	if done != nil {
		<-done
	}
}

// feedRef is the reference-counted run state of one feed. Fields other than
// status and sink are guarded by the Hub's mutex.
type feedRef struct {
	hub    *Hub
	feed   Feed
	status *StatusTracker
	sink   Sink

	refs   int
	cancel context.CancelFunc
	done   chan struct{}
	loop   *Loop
}

// start launches a new loop. A loop still winding down from the last release
// is waited for first, so a feed never holds two connections and the old
// loop's final Disconnected cannot overwrite the new loop's status.
func (r *feedRef) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	prev := r.done
	done := make(chan struct{})
	loop := NewLoop(r.feed, r.hub.opener, r.sink, r.status, LoopOptions{
		Delay:  r.hub.opts.Delay,
		Logger: r.hub.logger,
	})
	r.cancel = cancel
	r.done = done
	r.loop = loop

	r.hub.logger.Debug("feed started", "feed", r.feed.String())
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		loop.Run(ctx)
		r.hub.logger.Debug("feed stopped", "feed", r.feed.String())
	}()
}

func (r *feedRef) wait() {
	r.hub.mu.Lock()
	done := r.done
	r.hub.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the feed's connection status tracker.
func (r *feedRef) Status() *StatusTracker {
	return r.status
}

// Attempts returns the connection attempts made by the current loop.
func (r *feedRef) Attempts() int {
	r.hub.mu.Lock()
	loop := r.loop
	r.hub.mu.Unlock()
	if loop == nil {
		return 0
	}
	return loop.Attempts()
}

// EventFeed is the server event feed as seen by consumers.
type EventFeed struct {
	feedRef
	slot *BroadcastSlot
}

// Slot returns the feed's broadcast slot.
func (f *EventFeed) Slot() *BroadcastSlot {
	return f.slot
}

// LogFeed is the log feed as seen by consumers.
type LogFeed struct {
	feedRef
	acc          *Accumulator
	history      HistoryQuery
	sinceSeconds int

	facetsMu sync.RWMutex
	facets   Facets
}

// Facets is the filter vocabulary from the last historical query.
type Facets struct {
	Domains    []string
	Namespaces []string
	Sources    []string
}

// Accumulator returns the feed's log buffer.
func (f *LogFeed) Accumulator() *Accumulator {
	return f.acc
}

// Facets returns the vocabulary from the last successful Refresh.
func (f *LogFeed) Facets() Facets {
	f.facetsMu.RLock()
	defer f.facetsMu.RUnlock()
	return f.facets
}
