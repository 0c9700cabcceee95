// Package stream keeps server-streaming feeds alive and turns their messages
// into state that any number of UI consumers can observe.
//
// A Hub owns one Reconnect Loop per feed. The event feed publishes into a
// BroadcastSlot; the log feed feeds an Accumulator that deduplicates
// redelivered lines and exposes a reveal window for incremental display.
package stream

import (
	"context"

	"github.com/modoterra/hearth/pkg/core"
)

// Feed identifies one logical server-streaming channel.
type Feed int

const (
	FeedEvents Feed = iota
	FeedLogs
)

func (f Feed) String() string {
	switch f {
	case FeedEvents:
		return "events"
	case FeedLogs:
		return "logs"
	default:
		return "unknown"
	}
}

// Stream is one live server-streaming call. Recv returns io.EOF when the
// server ends the stream cleanly. An error wrapping core.ErrMalformed reports
// a single undecodable message; the stream remains usable after it.
type Stream interface {
	Recv() (core.Event, error)
	Close() error
}

// Opener establishes streams. Each Open is exactly one connection attempt;
// retrying is the caller's job.
type Opener interface {
	Open(ctx context.Context, feed Feed) (Stream, error)
}

// Sink receives the non-heartbeat events of a feed, in delivery order.
type Sink interface {
	Deliver(e core.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e core.Event)

func (f SinkFunc) Deliver(e core.Event) { f(e) }

// HistoryQuery fetches log lines newer than sinceSeconds ago.
type HistoryQuery interface {
	FetchLogs(ctx context.Context, sinceSeconds int) (core.LogHistory, error)
}
