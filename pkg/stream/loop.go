package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

// State is the Reconnect Loop's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDisconnected
	StateErroring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateErroring:
		return "erroring"
	default:
		return "unknown"
	}
}

// DelayFunc waits before reconnect attempt number attempt+1. It returns early
// with ctx.Err() when ctx is cancelled.
type DelayFunc func(ctx context.Context, attempt int) error

const (
	defaultReconnectDelay  = time.Second
	defaultReconnectJitter = 250 * time.Millisecond
)

// JitteredDelay waits base plus a uniform random duration in [0, jitter).
func JitteredDelay(base, jitter time.Duration) DelayFunc {
	return func(ctx context.Context, _ int) error {
		d := base
		if jitter > 0 {
			d += rand.N(jitter)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

// NoDelay reconnects immediately. Intended for tests.
func NoDelay(ctx context.Context, _ int) error {
	return ctx.Err()
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	// Delay is called between attempts.
	//
	// Default: 1s plus up to 250ms of jitter
	Delay  DelayFunc
	Logger *slog.Logger
	// OnState, if set, is called on every state transition from the loop's
	// goroutine.
	OnState func(State)
}

// Loop keeps one feed connected forever. It opens a stream, forwards every
// non-heartbeat event to its sink, and on any termination waits and
// reconnects. It never reports failure to its caller; failures are only
// visible through the status tracker.
type Loop struct {
	feed     Feed
	opener   Opener
	sink     Sink
	status   *StatusTracker
	opts     LoopOptions
	logger   *slog.Logger
	attempts atomic.Int64
	state    atomic.Int32

	mu     sync.Mutex
	active Stream
}

// NewLoop creates a Reconnect Loop for feed. status may be shared with the
// feed's consumers.
func NewLoop(feed Feed, opener Opener, sink Sink, status *StatusTracker, opts LoopOptions) *Loop {
	if opts.Delay == nil {
		opts.Delay = JitteredDelay(defaultReconnectDelay, defaultReconnectJitter)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if status == nil {
		status = NewStatusTracker()
	}
	return &Loop{
		feed:   feed,
		opener: opener,
		sink:   sink,
		status: status,
		opts:   opts,
		logger: opts.Logger.With("feed", feed.String()),
	}
}

// Attempts returns how many times Open has been called.
func (l *Loop) Attempts() int {
	return int(l.attempts.Load())
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Status returns the loop's status tracker.
func (l *Loop) Status() *StatusTracker {
	return l.status
}

// Run drives the state machine until ctx is cancelled. It always returns nil
// after leaving status at Disconnected.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.status.Set(core.StatusDisconnected)
		l.setState(StateIdle)
	}()

	// Close the in-flight stream on teardown so a blocked Recv returns.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		s := l.active
		l.mu.Unlock()
		if s != nil {
			s.Close()
		}
	})
	defer stop()

	for ctx.Err() == nil {
		err := l.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		attempt := l.Attempts()
		if err == nil || errors.Is(err, io.EOF) {
			l.setState(StateDisconnected)
			l.status.Set(core.StatusDisconnected)
			l.logger.Info("stream ended", "attempt", attempt)
		} else {
			l.setState(StateErroring)
			l.status.Set(core.StatusErroring)
			l.logger.Warn("stream failed", "attempt", attempt, "err", err)
		}

		if err := l.opts.Delay(ctx, attempt); err != nil {
			return nil
		}
	}
	return nil
}

// connectOnce performs one Connecting → Streaming → end cycle.
func (l *Loop) connectOnce(ctx context.Context) error {
	l.setState(StateConnecting)
	l.status.Set(core.StatusConnecting)
	attempt := l.attempts.Add(1)
	l.logger.Debug("connecting", "attempt", attempt)

	s, err := l.opener.Open(ctx, l.feed)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.active = s
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.active = nil
		l.mu.Unlock()
		s.Close()
	}()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	streaming := false
	for {
		e, err := s.Recv()
		if err != nil {
			if errors.Is(err, core.ErrMalformed) {
				l.logger.Warn("dropping malformed message", "err", err)
				continue
			}
			return err
		}
		if e == nil {
			continue
		}

		if !streaming {
			streaming = true
			l.setState(StateStreaming)
			l.logger.Info("stream established", "attempt", attempt)
		}
		l.status.Set(core.StatusConnected)

		switch ev := e.(type) {
		case core.Heartbeat:
			continue
		case core.AppInstalled, core.FileUploaded, core.LogLine, core.ErrorEvent:
			if l.sink != nil {
				l.sink.Deliver(ev)
			}
		default:
			l.logger.Warn("dropping unknown event", "kind", ev.Kind())
		}
	}
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	if l.opts.OnState != nil {
		l.opts.OnState(s)
	}
}
