package stream

import (
	"math/rand/v2"
	"testing"

	"github.com/modoterra/hearth/pkg/core"
)

func messages(entries []core.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkWindow(t *testing.T, a *Accumulator) {
	t.Helper()
	limit, visible, n := a.Limit(), a.VisibleLen(), a.Len()
	if limit < 0 || limit > visible || visible > n {
		t.Fatalf("window out of bounds: limit=%d visible=%d len=%d", limit, visible, n)
	}
}

func TestAccumulatorLiveOrder(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{})
	for i, msg := range []string{"L1", "L2", "L3"} {
		if !a.IngestLive(logLine("api", msg, int64(i+1))) {
			t.Fatalf("%s rejected", msg)
		}
	}

	want := []string{"L3", "L2", "L1"}
	if got := messages(a.Entries()); !equalStrings(got, want) {
		t.Errorf("entries: got %v, want %v", got, want)
	}
	if got := messages(a.Visible()); !equalStrings(got, want) {
		t.Errorf("visible: got %v, want %v", got, want)
	}
	checkWindow(t, a)
}

func TestAccumulatorRedeliveryIsDeduplicated(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{})
	l1, l2, l3, l4 := logLine("api", "L1", 1), logLine("api", "L2", 2), logLine("api", "L3", 3), logLine("api", "L4", 4)
	a.IngestLive(l1)
	a.IngestLive(l2)
	a.IngestLive(l3)

	if a.IngestLive(l3) {
		t.Error("redelivered L3 was accepted")
	}
	a.IngestLive(l4)

	want := []string{"L4", "L3", "L2", "L1"}
	if got := messages(a.Entries()); !equalStrings(got, want) {
		t.Errorf("entries: got %v, want %v", got, want)
	}
	if n := a.Len(); n != 4 {
		t.Errorf("len: got %d, want 4", n)
	}
	checkWindow(t, a)
}

func TestAccumulatorSameMessageDifferentSource(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{})
	a.IngestLive(logLine("api", "started", 1))
	if !a.IngestLive(logLine("worker", "started", 1)) {
		t.Error("line from a different source was treated as a duplicate")
	}
	if !a.IngestLive(logLine("api", "started", 2)) {
		t.Error("line with a different timestamp was treated as a duplicate")
	}
}

func TestAccumulatorRevealMoreIsCapped(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{InitialPage: 2})
	for i := 1; i <= 4; i++ {
		a.IngestLive(logLine("api", "line", int64(i)))
	}
	a.Reset(Filter{})
	if got := a.Limit(); got != 2 {
		t.Fatalf("limit after reset: got %d, want 2", got)
	}

	if got := a.RevealMore(10); got != 4 {
		t.Errorf("limit after RevealMore(10): got %d, want 4", got)
	}
	if a.HasMore() {
		t.Error("HasMore after revealing everything")
	}
	if got := a.RevealMore(10); got != 4 {
		t.Errorf("second RevealMore: got %d, want 4", got)
	}
	if got := a.RevealMore(0); got != 4 {
		t.Errorf("RevealMore(0): got %d, want 4", got)
	}
	checkWindow(t, a)
}

func TestAccumulatorSeedHistory(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{InitialPage: 10})
	a.IngestLive(logLine("api", "live", 100))

	added := a.SeedHistory([]core.LogLine{
		logLine("api", "h1", 10),
		logLine("api", "h3", 30),
		logLine("api", "h2", 20),
		logLine("api", "live", 100),
	})
	if added != 3 {
		t.Errorf("added: got %d, want 3", added)
	}

	want := []string{"live", "h3", "h2", "h1"}
	if got := messages(a.Entries()); !equalStrings(got, want) {
		t.Errorf("entries: got %v, want %v", got, want)
	}
	if a.SeedHistory([]core.LogLine{logLine("api", "h1", 10)}) != 0 {
		t.Error("duplicate history line was added")
	}
	checkWindow(t, a)
}

func TestAccumulatorSeedBeyondWindowStaysHidden(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{InitialPage: 1})
	a.IngestLive(logLine("api", "new", 100))
	a.IngestLive(logLine("api", "newer", 200))
	a.Reset(Filter{})

	a.SeedHistory([]core.LogLine{logLine("api", "old", 1)})
	if got := a.Limit(); got != 1 {
		t.Errorf("limit: got %d, want 1", got)
	}
	if got := messages(a.Visible()); !equalStrings(got, []string{"newer"}) {
		t.Errorf("visible: got %v", got)
	}

	a.SeedHistory([]core.LogLine{logLine("api", "newest", 300)})
	if got := messages(a.Visible()); !equalStrings(got, []string{"newest", "newer"}) {
		t.Errorf("visible after seeding inside window: got %v", got)
	}
	checkWindow(t, a)
}

func TestAccumulatorFilterAndReset(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{InitialPage: 50})
	a.IngestLive(core.LogLine{Source: "api", Domain: "apps", Message: "GET /health", Timestamp: logLine("", "", 1).Timestamp})
	a.IngestLive(core.LogLine{Source: "db", Domain: "storage", Message: "checkpoint", Timestamp: logLine("", "", 2).Timestamp})
	a.IngestLive(core.LogLine{Source: "api", Domain: "apps", Message: "POST /upload", Timestamp: logLine("", "", 3).Timestamp})

	a.Reset(Filter{Sources: []string{"api"}})
	if got := a.VisibleLen(); got != 2 {
		t.Errorf("visible len: got %d, want 2", got)
	}
	if got := messages(a.Visible()); !equalStrings(got, []string{"POST /upload", "GET /health"}) {
		t.Errorf("visible: got %v", got)
	}

	a.Reset(Filter{Text: "UPLOAD"})
	if got := messages(a.Visible()); !equalStrings(got, []string{"POST /upload"}) {
		t.Errorf("text filter: got %v", got)
	}

	a.IngestLive(core.LogLine{Source: "db", Domain: "storage", Message: "vacuum", Timestamp: logLine("", "", 4).Timestamp})
	if got := a.VisibleLen(); got != 1 {
		t.Errorf("non-matching live line changed visible len: %d", got)
	}
	if got := a.Len(); got != 4 {
		t.Errorf("len: got %d, want 4", got)
	}

	a.Reset(Filter{})
	if got := a.Limit(); got != 4 {
		t.Errorf("limit after clearing filter: got %d, want 4", got)
	}
	checkWindow(t, a)
}

func TestAccumulatorCapacity(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{Capacity: 3})
	for i := 1; i <= 5; i++ {
		a.IngestLive(logLine("api", string(rune('a'+i-1)), int64(i)))
	}

	if got := messages(a.Entries()); !equalStrings(got, []string{"e", "d", "c"}) {
		t.Errorf("entries: got %v", got)
	}
	if a.Contains(core.EntryKey("api", logLine("", "", 1).Timestamp, "a")) {
		t.Error("evicted key still indexed")
	}
	checkWindow(t, a)
}

func TestAccumulatorWatch(t *testing.T) {
	a := NewAccumulator(AccumulatorOptions{})
	ch, cancel := a.Watch()
	defer cancel()

	a.IngestLive(logLine("api", "x", 1))
	select {
	case <-ch:
	default:
		t.Fatal("no notification after ingest")
	}

	a.IngestLive(logLine("api", "x", 1))
	select {
	case <-ch:
		t.Fatal("notification after duplicate")
	default:
	}
}

func TestAccumulatorWindowInvariant(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	a := NewAccumulator(AccumulatorOptions{InitialPage: 5, Capacity: 40})
	sources := []string{"api", "db", "web"}

	for i := 0; i < 2000; i++ {
		line := logLine(sources[r.IntN(len(sources))], "m", int64(r.IntN(200)))
		switch r.IntN(5) {
		case 0, 1:
			a.IngestLive(line)
		case 2:
			a.SeedHistory([]core.LogLine{line, logLine("api", "m", int64(r.IntN(200)))})
		case 3:
			a.RevealMore(r.IntN(8))
		case 4:
			if r.IntN(2) == 0 {
				a.Reset(Filter{Sources: []string{sources[r.IntN(len(sources))]}})
			} else {
				a.Reset(Filter{})
			}
		}
		checkWindow(t, a)
		if got := len(a.Visible()); got != a.Limit() {
			t.Fatalf("step %d: visible slice %d != limit %d", i, got, a.Limit())
		}
	}

	seen := make(map[string]bool)
	for _, e := range a.Entries() {
		if seen[e.Key] {
			t.Fatalf("duplicate key %s", e.Key)
		}
		seen[e.Key] = true
	}
}

func TestAccumulatorSeedBatchMatchesOneByOne(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	sources := []string{"api", "db", "web"}
	opts := AccumulatorOptions{InitialPage: 25}
	filter := Filter{Sources: []string{"api", "web"}}

	batch := NewAccumulator(opts)
	single := NewAccumulator(opts)
	for _, a := range []*Accumulator{batch, single} {
		a.Reset(filter)
	}
	for i := 0; i < 400; i++ {
		line := logLine(sources[r.IntN(len(sources))], "live", int64(r.IntN(5000)))
		batch.IngestLive(line)
		single.IngestLive(line)
	}

	history := make([]core.LogLine, 0, 5000)
	for i := 0; i < 5000; i++ {
		history = append(history, logLine(sources[r.IntN(len(sources))], "hist", int64(r.IntN(5000))))
	}

	added := batch.SeedHistory(history)
	total := 0
	for _, line := range history {
		total += single.SeedHistory([]core.LogLine{line})
	}
	if added != total {
		t.Fatalf("added: batch %d, one by one %d", added, total)
	}

	got, want := batch.Entries(), single.Entries()
	if len(got) != len(want) {
		t.Fatalf("len: batch %d, one by one %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Key != want[i].Key {
			t.Fatalf("entry %d: batch %s, one by one %s", i, got[i].Key, want[i].Key)
		}
	}
	if batch.Limit() != single.Limit() || batch.VisibleLen() != single.VisibleLen() {
		t.Errorf("window: batch %d/%d, one by one %d/%d",
			batch.Limit(), batch.VisibleLen(), single.Limit(), single.VisibleLen())
	}
	checkWindow(t, batch)
}
