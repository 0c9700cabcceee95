package uds

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
)

func startServer(t *testing.T, register func(*Server)) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewServer(sock, logger)
	register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})

	// Wait for socket to appear
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return sock
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPingRoundTrip(t *testing.T) {
	sock := startServer(t, func(s *Server) {
		s.Handle(MethodPing, func(_ context.Context, _ Message) (any, error) {
			return PingResponse{Pong: true, Version: "test"}, nil
		})
	})

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Request(testContext(t), MethodPing, nil)
	if err != nil {
		t.Fatalf("ping request: %v", err)
	}

	var pong PingResponse
	if err := resp.UnmarshalData(&pong); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if !pong.Pong || pong.Version != "test" {
		t.Errorf("unexpected pong %+v", pong)
	}
}

func TestUnknownMethod(t *testing.T) {
	sock := startServer(t, func(*Server) {})

	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Request(testContext(t), "NoSuchMethod", nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestUnmarshalDataEmpty(t *testing.T) {
	var v PingResponse
	if err := (Message{Method: MethodPing}).UnmarshalData(&v); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestStreamEndsCleanly(t *testing.T) {
	sock := startServer(t, func(s *Server) {
		s.HandleStream(MethodSubscribe, func(_ context.Context, _ Message, w *StreamWriter) error {
			for _, name := range []string{"immich", "jellyfin"} {
				raw, _ := core.EncodeEvent(core.AppInstalled{Name: name})
				if err := w.Send(EventServer, json.RawMessage(raw)); err != nil {
					return err
				}
			}
			return nil
		})
	})

	client, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	sub, err := client.OpenStream(testContext(t), MethodSubscribe, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"immich", "jellyfin"} {
		msg, err := sub.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		e, err := DecodeStreamEvent(msg)
		if err != nil {
			t.Fatal(err)
		}
		if e != (core.AppInstalled{Name: want}) {
			t.Errorf("got %#v, want %s", e, want)
		}
	}
	if _, err := sub.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("after end: got %v, want io.EOF", err)
	}
}

func TestStreamServerError(t *testing.T) {
	sock := startServer(t, func(s *Server) {
		s.HandleStream(MethodLogs, func(context.Context, Message, *StreamWriter) error {
			return errors.New("store unavailable")
		})
	})

	client, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	sub, err := client.OpenStream(testContext(t), MethodLogs, LogsRequest{SinceSeconds: 10})
	if err != nil {
		t.Fatal(err)
	}
	_, err = sub.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("got %v, want server error", err)
	}
}

func TestOpenerFeeds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gotSince := make(chan int, 1)
	sock := startServer(t, func(s *Server) {
		s.HandleStream(MethodSubscribe, func(ctx context.Context, _ Message, w *StreamWriter) error {
			w.Send(EventServer, json.RawMessage(`{"heartbeat":{}}`))
			w.Send(EventServer, json.RawMessage(`{"bogus":1}`))
			w.Send(EventServer, json.RawMessage(`{"error":{"message":"disk full"}}`))
			<-ctx.Done()
			return nil
		})
		s.HandleStream(MethodLogs, func(ctx context.Context, req Message, w *StreamWriter) error {
			var lr LogsRequest
			req.UnmarshalData(&lr)
			gotSince <- lr.SinceSeconds
			raw, _ := core.EncodeLogLine(core.LogLine{Source: "api", Message: "hello", Timestamp: ts})
			w.Send(EventLogsLine, json.RawMessage(raw))
			return nil
		})
	})

	o := &Opener{SocketPath: sock, SinceSeconds: 42}

	events, err := o.Open(testContext(t), stream.FeedEvents)
	if err != nil {
		t.Fatal(err)
	}
	if e, err := events.Recv(); err != nil || !core.IsHeartbeat(e) {
		t.Errorf("first: got %#v, %v", e, err)
	}
	if _, err := events.Recv(); !errors.Is(err, core.ErrMalformed) {
		t.Errorf("bogus event: got %v, want ErrMalformed", err)
	}
	if e, err := events.Recv(); err != nil || e != (core.ErrorEvent{Message: "disk full"}) {
		t.Errorf("third: got %#v, %v", e, err)
	}
	events.Close()
	if err := events.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := events.Recv(); err == nil {
		t.Error("recv after close succeeded")
	}

	logs, err := o.Open(testContext(t), stream.FeedLogs)
	if err != nil {
		t.Fatal(err)
	}
	defer logs.Close()
	if since := <-gotSince; since != 42 {
		t.Errorf("since_seconds: got %d, want 42", since)
	}
	e, err := logs.Recv()
	if err != nil {
		t.Fatal(err)
	}
	line, ok := e.(core.LogLine)
	if !ok || line.Message != "hello" || !line.Timestamp.Equal(ts) {
		t.Errorf("log line: got %#v", e)
	}
	if _, err := logs.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("after end: got %v, want io.EOF", err)
	}
}

func TestOpenerDialFailure(t *testing.T) {
	o := NewOpener(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := o.Open(testContext(t), stream.FeedEvents); err == nil {
		t.Error("expected dial error")
	}
}

func TestHistoryClient(t *testing.T) {
	published := make(chan core.Event, 1)
	sock := startServer(t, func(s *Server) {
		s.Handle(MethodGetSystemLogs, func(_ context.Context, req Message) (any, error) {
			var lr LogsRequest
			if err := req.UnmarshalData(&lr); err != nil {
				return nil, err
			}
			if lr.SinceSeconds != 300 {
				return nil, errors.New("unexpected window")
			}
			return core.NewLogHistory([]core.LogLine{
				{Source: "api", Namespace: "media", Domain: "apps", Message: "a", Timestamp: time.Unix(1, 0).UTC()},
			}), nil
		})
		s.Handle(MethodPublish, func(_ context.Context, req Message) (any, error) {
			e, err := core.DecodeServerEvent(req.Data)
			if err != nil {
				return nil, err
			}
			published <- e
			return PublishResponse{Delivered: 3}, nil
		})
	})

	h := NewHistoryClient(sock)
	res, err := h.FetchLogs(testContext(t), 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Message != "a" {
		t.Errorf("entries: %+v", res.Entries)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "api" {
		t.Errorf("sources: %v", res.Sources)
	}

	if _, err := h.FetchLogs(testContext(t), 5); err == nil {
		t.Error("expected server error")
	}

	n, err := h.Publish(testContext(t), core.FileUploaded{ID: "f1", Success: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("delivered: got %d", n)
	}
	if e := <-published; e != (core.FileUploaded{ID: "f1", Success: true}) {
		t.Errorf("published: got %#v", e)
	}
}
