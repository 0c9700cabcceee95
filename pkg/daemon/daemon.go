package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
	"github.com/modoterra/hearth/pkg/transport/uds"
)

const defaultHeartbeat = 5 * time.Second

var heartbeatFrame, _ = core.EncodeEvent(core.Heartbeat{})

// Options configures a Daemon.
type Options struct {
	SocketPath string
	// Heartbeat is the interval between heartbeats on the event feed.
	//
	// Default: 5s
	Heartbeat time.Duration
	Version   string
	Logger    *slog.Logger
}

// Daemon is the hearthd process: it serves the event and log feeds, answers
// historical log queries from its store, and accepts published events.
type Daemon struct {
	server    *uds.Server
	store     *LogStore
	events    *Broadcaster
	logs      *Broadcaster
	heartbeat time.Duration
	version   string
	logger    *slog.Logger
}

// New creates a new daemon instance backed by store.
func New(store *LogStore, opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	d := &Daemon{
		server:    uds.NewServer(opts.SocketPath, opts.Logger),
		store:     store,
		events:    NewBroadcaster("events", DropFrames, opts.Logger),
		logs:      NewBroadcaster("logs", EvictSubscriber, opts.Logger),
		heartbeat: opts.Heartbeat,
		version:   opts.Version,
		logger:    opts.Logger,
	}
	d.registerHandlers()
	return d
}

// Run serves the socket and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown ends every open feed and stops the server.
func (d *Daemon) Shutdown() {
	d.events.Close()
	d.logs.Close()
	d.server.Shutdown()
}

// Publish fans a server event out to every event subscriber.
func (d *Daemon) Publish(e core.Event) (int, error) {
	if e == nil || core.IsHeartbeat(e) {
		return 0, errors.New("only non-heartbeat events can be published")
	}
	if _, ok := e.(core.LogLine); ok {
		return 0, errors.New("log lines are published through the log feed")
	}
	frame, err := core.EncodeEvent(e)
	if err != nil {
		return 0, err
	}
	n := d.events.Publish(frame)
	d.logger.Info("event published", "kind", e.Kind(), "delivered", n)
	return n, nil
}

// Ingest stores a collected line and broadcasts it on the log feed.
func (d *Daemon) Ingest(ctx context.Context, line core.LogLine) error {
	if err := d.store.Append(ctx, line); err != nil {
		return err
	}
	frame, err := core.EncodeLogLine(line)
	if err != nil {
		return err
	}
	d.logs.Publish(frame)
	return nil
}

// Pump ingests lines until the channel is closed or ctx is done.
func (d *Daemon) Pump(ctx context.Context, lines <-chan core.LogLine) {
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			if err := d.Ingest(ctx, l); err != nil && ctx.Err() == nil {
				d.logger.Error("ingest log line", "source", l.Source, "err", err)
			}
		}
	}
}

// History answers a historical log query.
func (d *Daemon) History(ctx context.Context, sinceSeconds int) (core.LogHistory, error) {
	lines, err := d.store.Since(ctx, sinceSeconds)
	if err != nil {
		return core.LogHistory{}, err
	}
	return core.NewLogHistory(lines), nil
}

// Subscribe returns the encoded frames of feed. The event feed starts with a
// heartbeat and repeats one every heartbeat interval.
func (d *Daemon) Subscribe(feed stream.Feed) (<-chan []byte, func()) {
	switch feed {
	case stream.FeedEvents:
		return d.withHeartbeat(d.events.Subscribe())
	case stream.FeedLogs:
		_, ch, cancel := d.logs.Subscribe()
		return ch, cancel
	}
	ch := make(chan []byte)
	close(ch)
	return ch, func() {}
}

func (d *Daemon) withHeartbeat(id uuid.UUID, in <-chan []byte, cancel func()) (<-chan []byte, func()) {
	out := make(chan []byte)
	done := make(chan struct{})

	go func() {
		defer close(out)
		t := time.NewTicker(d.heartbeat)
		defer t.Stop()

		send := func(frame []byte) bool {
			select {
			case out <- frame:
				return true
			case <-done:
				return false
			}
		}
		if !send(heartbeatFrame) {
			return
		}
		for {
			select {
			case <-done:
				return
			case frame, ok := <-in:
				if !ok || !send(frame) {
					return
				}
			case <-t.C:
				d.logger.Debug("heartbeat", "id", id)
				if !send(heartbeatFrame) {
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			close(done)
		})
	}
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodGetSystemLogs, d.handleGetSystemLogs)
	d.server.Handle(uds.MethodPublish, d.handlePublish)
	d.server.HandleStream(uds.MethodSubscribe, d.handleSubscribe)
	d.server.HandleStream(uds.MethodLogs, d.handleLogs)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: d.version}, nil
}

func (d *Daemon) handleGetSystemLogs(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.LogsRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	d.logger.Info("getting system logs", "since_seconds", req.SinceSeconds)

	res, err := d.History(ctx, req.SinceSeconds)
	if err != nil {
		d.logger.Error("get system logs", "err", err)
		return nil, errors.New("failed to get logs")
	}
	return res, nil
}

func (d *Daemon) handlePublish(_ context.Context, msg uds.Message) (any, error) {
	e, err := core.DecodeServerEvent(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	n, err := d.Publish(e)
	if err != nil {
		return nil, err
	}
	return uds.PublishResponse{Delivered: n}, nil
}

func (d *Daemon) handleSubscribe(ctx context.Context, _ uds.Message, w *uds.StreamWriter) error {
	d.logger.Info("establishing client stream", "feed", "events")
	frames, cancel := d.Subscribe(stream.FeedEvents)
	defer cancel()
	return forward(ctx, frames, w, uds.EventServer)
}

func (d *Daemon) handleLogs(ctx context.Context, msg uds.Message, w *uds.StreamWriter) error {
	var req uds.LogsRequest
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
	}
	d.logger.Info("establishing client stream", "feed", "logs", "since_seconds", req.SinceSeconds)

	// Subscribe first so no line falls between the backlog and the live tail.
	frames, cancel := d.Subscribe(stream.FeedLogs)
	defer cancel()

	if req.SinceSeconds > 0 {
		lines, err := d.store.Since(ctx, req.SinceSeconds)
		if err != nil {
			return err
		}
		for _, l := range lines {
			frame, err := core.EncodeLogLine(l)
			if err != nil {
				return err
			}
			if err := w.Send(uds.EventLogsLine, json.RawMessage(frame)); err != nil {
				return err
			}
		}
	}
	return forward(ctx, frames, w, uds.EventLogsLine)
}

func forward(ctx context.Context, frames <-chan []byte, w *uds.StreamWriter, event string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := w.Send(event, json.RawMessage(frame)); err != nil {
				return err
			}
		}
	}
}
