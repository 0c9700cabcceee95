package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
)

var (
	_ stream.Opener       = (*Opener)(nil)
	_ stream.HistoryQuery = (*HistoryClient)(nil)
)

// Opener dials the websocket feeds under BaseURL (ws:// or wss://).
type Opener struct {
	BaseURL string
	Dialer  *websocket.Dialer
	// PongWait bounds the silence tolerated from the server. Every frame or
	// ping extends it.
	//
	// Default: 30s
	PongWait time.Duration
	// SinceSeconds asks the log feed to replay stored lines from that window
	// before the live tail. Zero means live only.
	SinceSeconds int
}

// NewOpener returns an Opener for baseURL.
func NewOpener(baseURL string) *Opener {
	return &Opener{BaseURL: baseURL}
}

func feedPath(feed stream.Feed) (string, error) {
	switch feed {
	case stream.FeedEvents:
		return "/v1/events", nil
	case stream.FeedLogs:
		return "/v1/logs", nil
	default:
		return "", fmt.Errorf("unsupported feed %s", feed)
	}
}

// Open dials the feed's websocket endpoint.
func (o *Opener) Open(ctx context.Context, feed stream.Feed) (stream.Stream, error) {
	path, err := feedPath(feed)
	if err != nil {
		return nil, err
	}
	u, err := joinURL(o.BaseURL, path)
	if err != nil {
		return nil, err
	}
	if feed == stream.FeedLogs && o.SinceSeconds > 0 {
		u += "?since=" + strconv.Itoa(o.SinceSeconds)
	}

	d := o.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, resp, err := d.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	wait := o.PongWait
	if wait <= 0 {
		wait = defaultPong
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return &feedStream{conn: conn, feed: feed, wait: wait}, nil
}

type feedStream struct {
	conn *websocket.Conn
	feed stream.Feed
	wait time.Duration
	once sync.Once
}

func (s *feedStream) Recv() (core.Event, error) {
	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	s.conn.SetReadDeadline(time.Now().Add(s.wait))
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected frame type %d", core.ErrMalformed, typ)
	}
	if s.feed == stream.FeedLogs {
		return core.DecodeLogLine(data)
	}
	return core.DecodeServerEvent(data)
}

func (s *feedStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// HistoryClient queries /v1/history on the same host as the feeds.
type HistoryClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHistoryClient returns a HistoryClient for a ws:// or http:// base URL.
func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{BaseURL: baseURL}
}

// FetchLogs implements stream.HistoryQuery.
func (h *HistoryClient) FetchLogs(ctx context.Context, sinceSeconds int) (core.LogHistory, error) {
	base, err := httpBase(h.BaseURL)
	if err != nil {
		return core.LogHistory{}, err
	}
	u, err := joinURL(base, "/v1/history")
	if err != nil {
		return core.LogHistory{}, err
	}
	u += "?since=" + strconv.Itoa(sinceSeconds)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return core.LogHistory{}, err
	}
	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return core.LogHistory{}, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.LogHistory{}, fmt.Errorf("history: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var res core.LogHistory
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return core.LogHistory{}, fmt.Errorf("history: decode: %w", err)
	}
	return res, nil
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// httpBase maps a websocket base URL to its HTTP equivalent.
func httpBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
