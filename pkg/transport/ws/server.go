// Package ws serves and consumes the hearth feeds over websocket, one text
// frame per encoded event.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
)

const (
	writeWait      = 10 * time.Second
	defaultPong    = 30 * time.Second
	maxMessageSize = 1024 * 1024
	defaultSince   = 300
)

// Source supplies the frames served over websocket. Subscribe returns
// already encoded payloads for feed; the channel is closed when the source
// ends the feed.
type Source interface {
	Subscribe(feed stream.Feed) (<-chan []byte, func())
	History(ctx context.Context, sinceSeconds int) (core.LogHistory, error)
}

// Config tunes the server side keepalive.
type Config struct {
	// PongWait is how long the server waits for a pong before dropping a
	// client. Pings are sent at 9/10 of it.
	//
	// Default: 30s
	PongWait time.Duration
}

// Server exposes a Source over HTTP.
type Server struct {
	src      Source
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server for src.
func NewServer(src Source, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPong
	}
	return &Server{
		src:    src,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events", func(w http.ResponseWriter, r *http.Request) {
		s.serveFeed(w, r, stream.FeedEvents)
	})
	mux.HandleFunc("GET /v1/logs", func(w http.ResponseWriter, r *http.Request) {
		s.serveFeed(w, r, stream.FeedLogs)
	})
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	return mux
}

func sinceParam(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	since, ok := sinceParam(r, defaultSince)
	if !ok {
		http.Error(w, "invalid since", http.StatusBadRequest)
		return
	}

	res, err := s.src.History(r.Context(), since)
	if err != nil {
		s.logger.Warn("history query failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// serveFeed streams feed to one websocket client. On the log feed a since
// query replays stored lines before the live tail; the subscription is taken
// first so no line falls in between.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, feed stream.Feed) {
	since := 0
	if feed == stream.FeedLogs {
		var ok bool
		if since, ok = sinceParam(r, 0); !ok {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.src.Subscribe(feed)
	defer unsubscribe()

	logger := s.logger.With("feed", feed.String(), "remote", r.RemoteAddr)
	logger.Debug("websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only control frames are expected. It ends the stream when the
	// peer goes away or stops answering pings.
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if since > 0 {
		if err := s.replay(ctx, conn, since); err != nil {
			logger.Warn("log backlog failed", "since_seconds", since, "err", err)
			return
		}
	}

	ping := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket client gone")
			return
		case frame, ok := <-frames:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed ended"),
					time.Now().Add(writeWait))
				return
			}
			if err := s.write(conn, frame); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Server) replay(ctx context.Context, conn *websocket.Conn, since int) error {
	res, err := s.src.History(ctx, since)
	if err != nil {
		return err
	}
	for _, l := range res.Entries {
		frame, err := core.EncodeLogLine(l)
		if err != nil {
			return err
		}
		if err := s.write(conn, frame); err != nil {
			return err
		}
	}
	return nil
}
