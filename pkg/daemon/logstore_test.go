package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

func newTestStore(t *testing.T) *LogStore {
	t.Helper()
	s, err := OpenLogStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogStoreSince(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	origin := core.LogOrigin{Source: "immich", Namespace: "media", Domain: "apps"}
	err := s.Append(ctx,
		origin.Line("ancient", now.Add(-time.Hour)),
		origin.Line("recent", now.Add(-2*time.Minute)),
		origin.Line("latest", now.Add(-time.Second)),
	)
	if err != nil {
		t.Fatal(err)
	}

	lines, err := s.Since(ctx, 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Message != "recent" || lines[1].Message != "latest" {
		t.Errorf("order: got %q, %q", lines[0].Message, lines[1].Message)
	}
	if lines[0].Source != "immich" || lines[0].Namespace != "media" || lines[0].Domain != "apps" {
		t.Errorf("labels lost: %+v", lines[0])
	}
	if !lines[1].Timestamp.Equal(now.Add(-time.Second)) {
		t.Errorf("timestamp: got %v", lines[1].Timestamp)
	}
}

func TestLogStoreEmpty(t *testing.T) {
	s := newTestStore(t)
	lines, err := s.Since(context.Background(), 60)
	if err != nil {
		t.Fatal(err)
	}
	if lines == nil || len(lines) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", lines)
	}
	if err := s.Append(context.Background()); err != nil {
		t.Errorf("empty append: %v", err)
	}
}

func TestLogStorePrune(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	o := core.LogOrigin{Source: "db"}
	s.Append(ctx, o.Line("old", now.Add(-48*time.Hour)), o.Line("new", now.Add(-time.Hour)))

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Errorf("remaining %d, want 1", c)
	}
}

func TestRetentionLoop(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	o := core.LogOrigin{Source: "db"}
	s.Append(context.Background(), o.Line("old", now.Add(-2*time.Hour)), o.Line("new", now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rl := NewRetentionLoop(s, time.Hour, 10*time.Millisecond, discardLogger())
	go func() {
		rl.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := s.Count(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("count: got %d, want 1", c)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
