package filetail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

const defaultPoll = 250 * time.Millisecond

// Provider tails log files and labels each new line with its origin.
type Provider struct {
	subs   map[string]*subscription
	mu     sync.Mutex
	logger *slog.Logger
	poll   time.Duration
	now    func() time.Time
}

type subscription struct {
	cancel context.CancelFunc
	ch     chan core.LogLine
}

// New creates a new file tail log provider.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		subs:   make(map[string]*subscription),
		logger: logger,
		poll:   defaultPoll,
		now:    time.Now,
	}
}

func key(origin core.LogOrigin, path string) string {
	return origin.Source + ":" + path
}

// Subscribe starts tailing path from its current end. Subscribing twice to
// the same source and path returns the existing channel.
func (p *Provider) Subscribe(ctx context.Context, origin core.LogOrigin, path string) (<-chan core.LogLine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(origin, path)
	if sub, ok := p.subs[k]; ok {
		return sub.ch, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan core.LogLine, 100)
	go p.tail(subCtx, f, origin, ch)

	p.subs[k] = &subscription{cancel: cancel, ch: ch}
	p.logger.Info("tailing file", "path", path, "source", origin.Source)
	return ch, nil
}

func (p *Provider) tail(ctx context.Context, f *os.File, origin core.LogOrigin, ch chan<- core.LogLine) {
	defer f.Close()
	defer close(ch)

	reader := bufio.NewReader(f)
	var partial strings.Builder
	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.poll):
			}
			// Truncated or rotated in place: start over from the top.
			info, serr := f.Stat()
			if serr != nil {
				continue
			}
			pos, _ := f.Seek(0, io.SeekCurrent)
			if info.Size() < pos {
				f.Seek(0, io.SeekStart)
				reader.Reset(f)
				partial.Reset()
			}
			continue
		}

		line := strings.TrimRight(partial.String(), "\r\n")
		partial.Reset()
		if line == "" {
			continue
		}
		select {
		case ch <- origin.Line(line, p.now().UTC()):
		case <-ctx.Done():
			return
		}
	}
}

// Unsubscribe stops tailing path for the given source.
func (p *Provider) Unsubscribe(origin core.LogOrigin, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(origin, path)
	sub, ok := p.subs[k]
	if !ok {
		return nil
	}
	sub.cancel()
	delete(p.subs, k)
	return nil
}
