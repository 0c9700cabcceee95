package journald

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/modoterra/hearth/pkg/core"
)

// Provider follows the journal of systemd units.
type Provider struct {
	subs   map[string]*subscription
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

type subscription struct {
	cancel context.CancelFunc
	ch     chan core.LogLine
}

// New creates a new journald log provider.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		subs:   make(map[string]*subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe follows the journal of unit from now on. Entries keep their
// journal timestamp.
func (p *Provider) Subscribe(ctx context.Context, origin core.LogOrigin, unit string) (<-chan core.LogLine, error) {
	if unit == "" {
		return nil, errors.New("journald: empty unit")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, ok := p.subs[unit]; ok {
		return sub.ch, nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan core.LogLine, 100)

	cmd := exec.CommandContext(subCtx, "journalctl", "-f", "-u", unit, "-o", "json", "-n", "0")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl start: %w", err)
	}

	go func() {
		var parser fastjson.Parser
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line, err := parseJournalEntry(&parser, origin, scanner.Bytes(), p.now)
			if err != nil {
				p.logger.Debug("skipping journal entry", "unit", unit, "err", err)
				continue
			}
			select {
			case ch <- line:
			case <-subCtx.Done():
			}
		}
		_ = cmd.Wait()
		close(ch)
		p.mu.Lock()
		if sub, ok := p.subs[unit]; ok && sub.ch == ch {
			delete(p.subs, unit)
		}
		p.mu.Unlock()
	}()

	p.subs[unit] = &subscription{cancel: cancel, ch: ch}
	p.logger.Info("subscribed to journal", "unit", unit, "source", origin.Source)
	return ch, nil
}

// Unsubscribe stops following unit.
func (p *Provider) Unsubscribe(unit string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[unit]
	if !ok {
		return nil
	}
	sub.cancel()
	delete(p.subs, unit)
	return nil
}

// parseJournalEntry turns one line of `journalctl -o json` into a log line.
// MESSAGE is either a string or, for non UTF-8 payloads, an array of bytes.
// A missing or invalid __REALTIME_TIMESTAMP falls back to now.
func parseJournalEntry(p *fastjson.Parser, origin core.LogOrigin, data []byte, now func() time.Time) (core.LogLine, error) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return core.LogLine{}, err
	}
	if v.Type() != fastjson.TypeObject {
		return core.LogLine{}, errors.New("journal entry is not an object")
	}

	var msg string
	m := v.Get("MESSAGE")
	switch {
	case m == nil:
		return core.LogLine{}, errors.New("journal entry has no MESSAGE")
	case m.Type() == fastjson.TypeString:
		msg = string(m.GetStringBytes())
	case m.Type() == fastjson.TypeArray:
		items := m.GetArray()
		buf := make([]byte, 0, len(items))
		for _, b := range items {
			n, err := b.Int()
			if err != nil || n < 0 || n > 255 {
				return core.LogLine{}, errors.New("invalid MESSAGE byte")
			}
			buf = append(buf, byte(n))
		}
		msg = string(buf)
	default:
		return core.LogLine{}, fmt.Errorf("unexpected MESSAGE type %s", m.Type())
	}

	ts := now().UTC()
	if raw := v.GetStringBytes("__REALTIME_TIMESTAMP"); raw != nil {
		if us, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			ts = time.UnixMicro(us).UTC()
		}
	}
	return origin.Line(msg, ts), nil
}
