package daemon

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

// SlowPolicy decides what happens to a subscriber whose buffer is full.
type SlowPolicy int

const (
	// DropFrames skips the frame for that subscriber only.
	DropFrames SlowPolicy = iota
	// EvictSubscriber closes the subscriber's channel, ending its stream so
	// the client reconnects and catches up from the store.
	EvictSubscriber
)

// Broadcaster fans encoded frames out to every subscriber of one feed. A
// subscriber that is not keeping up never stalls the publisher; policy says
// whether it misses the frame or is dropped.
type Broadcaster struct {
	name   string
	policy SlowPolicy
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]chan []byte
	closed bool
}

// NewBroadcaster creates an empty registry for the named feed.
func NewBroadcaster(name string, policy SlowPolicy, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		name:   name,
		policy: policy,
		logger: logger.With("feed", name),
		subs:   make(map[uuid.UUID]chan []byte),
	}
}

// Subscribe registers a new subscriber. The channel is closed by the returned
// cancel func or by Close.
func (b *Broadcaster) Subscribe() (uuid.UUID, <-chan []byte, func()) {
	id := uuid.New()
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("subscriber added", "id", id, "subscribers", n)

	var once sync.Once
	return id, ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		b.logger.Debug("subscriber removed", "id", id, "subscribers", n)
	}
}

// Publish sends frame to every subscriber and returns how many received it.
func (b *Broadcaster) Publish(frame []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- frame:
			delivered++
		default:
			if b.policy == EvictSubscriber {
				b.logger.Warn("subscriber too slow, evicting", "id", id)
				delete(b.subs, id)
				close(ch)
				continue
			}
			b.logger.Warn("subscriber too slow, dropping frame", "id", id)
		}
	}
	return delivered
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
