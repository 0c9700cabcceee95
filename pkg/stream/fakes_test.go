package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

var errClosed = errors.New("stream closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recvResult struct {
	e   core.Event
	err error
}

// fakeStream delivers scripted results, then blocks until closed. If ended
// is set it returns io.EOF once the script is exhausted.
type fakeStream struct {
	script chan recvResult
	closed chan struct{}
	once   sync.Once
	onEnd  func()
	// closeDelay holds Close before the stream counts as ended.
	closeDelay time.Duration
}

func newFakeStream(results []recvResult, eof bool) *fakeStream {
	ch := make(chan recvResult, len(results))
	for _, r := range results {
		ch <- r
	}
	if eof {
		close(ch)
	}
	return &fakeStream{script: ch, closed: make(chan struct{})}
}

func events(es ...core.Event) []recvResult {
	out := make([]recvResult, len(es))
	for i, e := range es {
		out[i] = recvResult{e: e}
	}
	return out
}

func (s *fakeStream) Recv() (core.Event, error) {
	select {
	case <-s.closed:
		return nil, errClosed
	default:
	}
	select {
	case r, ok := <-s.script:
		if !ok {
			return nil, io.EOF
		}
		return r.e, r.err
	case <-s.closed:
		return nil, errClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		time.Sleep(s.closeDelay)
		if s.onEnd != nil {
			s.onEnd()
		}
	})
	return nil
}

// fakeOpener hands out streams from plan, keyed by 1-based attempt number.
type fakeOpener struct {
	mu         sync.Mutex
	plan       func(attempt int) (*fakeStream, error)
	closeDelay time.Duration
	opens      int
	active     int
	maxActive  int
	streams    []*fakeStream
}

func (o *fakeOpener) Open(_ context.Context, _ Feed) (Stream, error) {
	o.mu.Lock()
	o.opens++
	attempt := o.opens
	o.mu.Unlock()

	s, err := o.plan(attempt)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.active++
	if o.active > o.maxActive {
		o.maxActive = o.active
	}
	o.streams = append(o.streams, s)
	s.closeDelay = o.closeDelay
	o.mu.Unlock()

	s.onEnd = func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}
	return s, nil
}

func (o *fakeOpener) counts() (opens, active, maxActive int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.active, o.maxActive
}

// captureSink records delivered events and signals each one.
type captureSink struct {
	mu     sync.Mutex
	events []core.Event
	ch     chan core.Event
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan core.Event, 64)}
}

func (c *captureSink) Deliver(e core.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.ch <- e
}

func (c *captureSink) wait(t *testing.T, n int) []core.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Event, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func logLine(source, msg string, sec int64) core.LogLine {
	return core.LogLine{
		Source:    source,
		Namespace: "default",
		Domain:    "apps",
		Message:   msg,
		Timestamp: time.Unix(sec, 0).UTC(),
	}
}
