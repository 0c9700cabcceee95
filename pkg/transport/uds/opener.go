package uds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
)

// Opener opens feed streams against a hearthd socket. Every Open dials a
// fresh connection so closing the stream also tears the connection down.
type Opener struct {
	SocketPath string
	// SinceSeconds is passed to the Logs stream.
	SinceSeconds int
}

var (
	_ stream.Opener       = (*Opener)(nil)
	_ stream.HistoryQuery = (*HistoryClient)(nil)
)

// NewOpener returns an Opener for socketPath.
func NewOpener(socketPath string) *Opener {
	return &Opener{SocketPath: socketPath}
}

// Open dials the daemon and starts the streaming call backing feed.
func (o *Opener) Open(ctx context.Context, feed stream.Feed) (stream.Stream, error) {
	var (
		method string
		data   any
	)
	switch feed {
	case stream.FeedEvents:
		method = MethodSubscribe
	case stream.FeedLogs:
		method = MethodLogs
		data = LogsRequest{SinceSeconds: o.SinceSeconds}
	default:
		return nil, fmt.Errorf("open %s: unsupported feed", feed)
	}

	c, err := DialContext(ctx, o.SocketPath)
	if err != nil {
		return nil, err
	}
	sub, err := c.OpenStream(ctx, method, data)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open %s: %w", feed, err)
	}
	return &feedStream{c: c, sub: sub}, nil
}

type feedStream struct {
	c   *Client
	sub *Subscription
}

func (s *feedStream) Recv() (core.Event, error) {
	msg, err := s.sub.Next()
	if err != nil {
		return nil, err
	}
	return DecodeStreamEvent(msg)
}

func (s *feedStream) Close() error {
	return s.c.Close()
}

// HistoryClient runs one-shot queries against the daemon.
type HistoryClient struct {
	SocketPath string
}

// NewHistoryClient returns a HistoryClient for socketPath.
func NewHistoryClient(socketPath string) *HistoryClient {
	return &HistoryClient{SocketPath: socketPath}
}

func (h *HistoryClient) call(ctx context.Context, method string, data any) (Message, error) {
	c, err := DialContext(ctx, h.SocketPath)
	if err != nil {
		return Message{}, err
	}
	defer c.Close()
	return c.Request(ctx, method, data)
}

// FetchLogs implements stream.HistoryQuery with GetSystemLogs.
func (h *HistoryClient) FetchLogs(ctx context.Context, sinceSeconds int) (core.LogHistory, error) {
	resp, err := h.call(ctx, MethodGetSystemLogs, LogsRequest{SinceSeconds: sinceSeconds})
	if err != nil {
		return core.LogHistory{}, err
	}
	var res core.LogHistory
	if err := resp.UnmarshalData(&res); err != nil {
		return core.LogHistory{}, err
	}
	return res, nil
}

// Ping checks that the daemon is reachable and returns its version.
func (h *HistoryClient) Ping(ctx context.Context) (PingResponse, error) {
	resp, err := h.call(ctx, MethodPing, nil)
	if err != nil {
		return PingResponse{}, err
	}
	var pong PingResponse
	if err := resp.UnmarshalData(&pong); err != nil {
		return PingResponse{}, err
	}
	return pong, nil
}

// Publish asks the daemon to fan e out to every event subscriber.
func (h *HistoryClient) Publish(ctx context.Context, e core.Event) (int, error) {
	raw, err := core.EncodeEvent(e)
	if err != nil {
		return 0, err
	}
	resp, err := h.call(ctx, MethodPublish, json.RawMessage(raw))
	if err != nil {
		return 0, err
	}
	var res PublishResponse
	if err := resp.UnmarshalData(&res); err != nil {
		return 0, err
	}
	return res.Delivered, nil
}
