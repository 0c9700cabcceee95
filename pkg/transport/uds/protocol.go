package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/hearth/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
	// MsgTypeEnd closes a streaming call. An empty Error means the server
	// ended the stream cleanly.
	MsgTypeEnd MsgType = "end"
)

// Message is the NDJSON envelope for all communication. Streamed events carry
// the ID of the request that opened the stream.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Method, err)
	}
	return nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(data)
	}
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     fmt.Sprintf("req-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event belonging to the stream opened by
// request streamID.
func NewEvent(streamID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeEvt,
		ID:     streamID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewEnd creates the terminal message of a stream.
func NewEnd(streamID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeEnd,
		ID:     streamID,
		Method: method,
		Error:  errMsg,
	}
}

// Methods
const (
	MethodPing          = "Ping"
	MethodGetSystemLogs = "GetSystemLogs"
	MethodPublish       = "Publish"

	// Streaming methods.
	MethodSubscribe = "Subscribe"
	MethodLogs      = "Logs"

	EventServer   = "server.event"
	EventLogsLine = "logs.line"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// LogsRequest is the payload of GetSystemLogs and Logs.
type LogsRequest struct {
	SinceSeconds int `json:"since_seconds"`
}

// PublishResponse reports how many subscribers an event reached.
type PublishResponse struct {
	Delivered int `json:"delivered"`
}

// DecodeStreamEvent decodes the payload of a streamed event by its method.
// Errors wrap core.ErrMalformed.
func DecodeStreamEvent(msg Message) (core.Event, error) {
	switch msg.Method {
	case EventServer:
		return core.DecodeServerEvent(msg.Data)
	case EventLogsLine:
		return core.DecodeLogLine(msg.Data)
	default:
		return nil, fmt.Errorf("%w: unknown stream event %q", core.ErrMalformed, msg.Method)
	}
}
