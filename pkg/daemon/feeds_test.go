package daemon

import "testing"

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster("events", DropFrames, discardLogger())
	id1, ch1, cancel1 := b.Subscribe()
	id2, ch2, cancel2 := b.Subscribe()
	defer cancel2()
	if id1 == id2 {
		t.Fatal("subscriber ids collide")
	}

	if n := b.Publish([]byte("a")); n != 2 {
		t.Errorf("delivered to %d, want 2", n)
	}
	if got := string(<-ch1); got != "a" {
		t.Errorf("ch1: got %q", got)
	}
	if got := string(<-ch2); got != "a" {
		t.Errorf("ch2: got %q", got)
	}

	cancel1()
	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("ch1 still open after cancel")
	}
	if n := b.Len(); n != 1 {
		t.Errorf("len: got %d, want 1", n)
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster("events", DropFrames, discardLogger())
	_, ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish([]byte("x"))
	}
	if n := b.Publish([]byte("overflow")); n != 0 {
		t.Errorf("delivered %d to a full subscriber", n)
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestBroadcasterEvictsSlowSubscriber(t *testing.T) {
	b := NewBroadcaster("logs", EvictSubscriber, discardLogger())
	_, slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	_, fast, cancelFast := b.Subscribe()
	defer cancelFast()

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish([]byte("x"))
		<-fast
	}
	if n := b.Publish([]byte("overflow")); n != 1 {
		t.Errorf("delivered to %d, want only the keeping-up subscriber", n)
	}
	if got := string(<-fast); got != "overflow" {
		t.Errorf("fast: got %q", got)
	}
	if n := b.Len(); n != 1 {
		t.Errorf("len: got %d, want 1 after eviction", n)
	}

	// The evicted channel drains what it had, then reports closed.
	for i := 0; i < subscriberBuffer; i++ {
		<-slow
	}
	if _, ok := <-slow; ok {
		t.Error("evicted subscriber still open")
	}
	cancelSlow()
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster("events", DropFrames, discardLogger())
	_, ch, cancel := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	cancel()
	b.Close()

	_, late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
}
