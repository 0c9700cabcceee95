package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by calls on a client whose connection is gone.
var ErrClosed = errors.New("connection closed")

const streamBuffer = 256

// Client connects to a hearthd server over a Unix domain socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	streams map[string]*Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	return DialContext(context.Background(), socketPath)
}

// DialContext connects to the daemon socket, giving up when ctx is done or
// after five seconds.
func DialContext(ctx context.Context, socketPath string) (*Client, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		pending: make(map[string]chan Message),
		streams: make(map[string]*Subscription),
		done:    make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)
	go c.readLoop()
	return c, nil
}

// Request sends a request and waits for the correlated response.
func (c *Client) Request(ctx context.Context, method string, data any) (Message, error) {
	msg, err := NewRequest(method, data)
	if err != nil {
		return Message{}, err
	}
	return c.roundTrip(ctx, msg)
}

func (c *Client) roundTrip(ctx context.Context, msg Message) (Message, error) {
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("server error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	}
}

// OpenStream starts a streaming call. The returned Subscription yields the
// events the server sends for it.
func (c *Client) OpenStream(ctx context.Context, method string, data any) (*Subscription, error) {
	msg, err := NewRequest(method, data)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		c:      c,
		id:     msg.ID,
		method: method,
		events: make(chan Message, streamBuffer),
		end:    make(chan struct{}),
	}
	c.mu.Lock()
	c.streams[msg.ID] = sub
	c.mu.Unlock()

	if _, err := c.roundTrip(ctx, msg); err != nil {
		c.mu.Lock()
		delete(c.streams, msg.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection has been lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) write(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for c.scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MsgTypeRes:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case MsgTypeEvt:
			c.mu.Lock()
			sub, ok := c.streams[msg.ID]
			c.mu.Unlock()
			if ok {
				sub.push(msg)
			}
		case MsgTypeEnd:
			c.mu.Lock()
			sub, ok := c.streams[msg.ID]
			delete(c.streams, msg.ID)
			c.mu.Unlock()
			if ok {
				sub.finish(msg.Error)
			}
		}
	}
}

// Subscription is the client side of one streaming call.
type Subscription struct {
	c      *Client
	id     string
	method string
	events chan Message

	endOnce sync.Once
	end     chan struct{}
	endErr  error
}

// push hands msg to the reader. It blocks while the buffer is full so a slow
// reader applies backpressure rather than losing events.
func (s *Subscription) push(msg Message) {
	select {
	case s.events <- msg:
	case <-s.end:
	case <-s.c.done:
	}
}

func (s *Subscription) finish(errMsg string) {
	s.endOnce.Do(func() {
		if errMsg != "" {
			s.endErr = fmt.Errorf("%s: server error: %s", s.method, errMsg)
		} else {
			s.endErr = io.EOF
		}
		close(s.end)
	})
}

// Next returns the next event. It returns io.EOF after the server ended the
// stream cleanly, and ErrClosed once the connection is gone.
func (s *Subscription) Next() (Message, error) {
	select {
	case msg := <-s.events:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.events:
		return msg, nil
	case <-s.end:
		// drain anything queued before the end marker
		select {
		case msg := <-s.events:
			return msg, nil
		default:
		}
		return Message{}, s.endErr
	case <-s.c.done:
		select {
		case msg := <-s.events:
			return msg, nil
		default:
		}
		return Message{}, ErrClosed
	}
}
