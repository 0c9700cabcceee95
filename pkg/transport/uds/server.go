package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

const maxLineSize = 1024 * 1024

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// StreamHandlerFunc serves a streaming call. It sends events through w until
// it returns or ctx is cancelled because the client went away. Returning nil
// ends the stream cleanly.
type StreamHandlerFunc func(ctx context.Context, req Message, w *StreamWriter) error

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	streams    map[string]StreamHandlerFunc
	clients    map[net.Conn]struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		streams:    make(map[string]StreamHandlerFunc),
		clients:    make(map[net.Conn]struct{}),
		logger:     logger,
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// HandleStream registers a streaming handler for a method.
func (s *Server) HandleStream(method string, h StreamHandlerFunc) {
	s.streams[method] = h
}

// Start begins listening. It removes any stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

// connWriter serialises writes from request handlers and streams sharing one
// connection.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}
	data = append(data, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Method, err)
	}
	return nil
}

// StreamWriter sends the events of one streaming call.
type StreamWriter struct {
	id string
	w  *connWriter
}

// Send writes one event. data may be a json.RawMessage to skip re-encoding.
func (sw *StreamWriter) Send(event string, data any) error {
	msg, err := NewEvent(sw.id, event, data)
	if err != nil {
		return err
	}
	return sw.w.write(msg)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	w := &connWriter{conn: conn}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		if sh, ok := s.streams[msg.Method]; ok {
			ack, _ := NewResponse(msg.ID, msg.Method, nil)
			if err := w.write(ack); err != nil {
				s.logger.Error("write response error", "err", err)
				return
			}
			wg.Add(1)
			go func(msg Message) {
				defer wg.Done()
				s.serveStream(ctx, msg, sh, w)
			}(msg)
			continue
		}

		handler, ok := s.handlers[msg.Method]
		if !ok {
			s.reply(w, NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method)))
			continue
		}

		result, err := handler(ctx, msg)
		var resp Message
		if err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		} else if resp, err = NewResponse(msg.ID, msg.Method, result); err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		}
		s.reply(w, resp)
	}
}

func (s *Server) serveStream(ctx context.Context, req Message, h StreamHandlerFunc, w *connWriter) {
	s.logger.Debug("stream opened", "method", req.Method, "id", req.ID)
	err := h(ctx, req, &StreamWriter{id: req.ID, w: w})
	if ctx.Err() != nil {
		s.logger.Debug("stream closed by client", "method", req.Method, "id", req.ID)
		return
	}

	var errMsg string
	if err != nil {
		errMsg = err.Error()
		s.logger.Warn("stream failed", "method", req.Method, "id", req.ID, "err", err)
	}
	if werr := w.write(NewEnd(req.ID, req.Method, errMsg)); werr != nil {
		s.logger.Debug("write stream end", "err", werr)
	}
}

func (s *Server) reply(w *connWriter, msg Message) {
	if err := w.write(msg); err != nil {
		s.logger.Error("write response error", "err", err)
	}
}
