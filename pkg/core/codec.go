package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fastjson"
)

// ErrMalformed marks a message that could not be decoded into an Event.
var ErrMalformed = errors.New("malformed message")

var parsers fastjson.ParserPool

// EncodeEvent renders a server event in its single-key wire form, e.g.
// {"appInstalled":{"name":"immich"}}.
func EncodeEvent(e Event) ([]byte, error) {
	switch e := e.(type) {
	case Heartbeat:
		return json.Marshal(map[string]any{string(KindHeartbeat): struct{}{}})
	case AppInstalled:
		return json.Marshal(map[string]any{string(KindAppInstalled): e})
	case FileUploaded:
		return json.Marshal(map[string]any{string(KindFileUploaded): e})
	case ErrorEvent:
		return json.Marshal(map[string]any{string(KindError): e})
	case LogLine:
		return EncodeLogLine(e)
	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", e)
	}
}

// EncodeLogLine renders a log line as a bare object.
func EncodeLogLine(l LogLine) ([]byte, error) {
	return json.Marshal(l)
}

// DecodeServerEvent parses an event feed message. Exactly one known case key
// must be present; unknown keys are ignored.
func DecodeServerEvent(data []byte) (Event, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%w: event is not an object", ErrMalformed)
	}

	var (
		found Event
		n     int
		perr  error
	)
	obj.Visit(func(key []byte, val *fastjson.Value) {
		var e Event
		var err error
		switch Kind(key) {
		case KindHeartbeat:
			e, err = Heartbeat{}, expectObject(val, key)
		case KindAppInstalled:
			e, err = decodeAppInstalled(val)
		case KindFileUploaded:
			e, err = decodeFileUploaded(val)
		case KindError:
			e, err = decodeError(val)
		default:
			return
		}
		n++
		if err != nil && perr == nil {
			perr = err
		}
		found = e
	})

	switch {
	case perr != nil:
		return nil, perr
	case n == 0:
		return nil, fmt.Errorf("%w: no known event case", ErrMalformed)
	case n > 1:
		return nil, fmt.Errorf("%w: %d event cases set", ErrMalformed, n)
	}
	return found, nil
}

// DecodeLogLine parses a log feed message.
func DecodeLogLine(data []byte) (LogLine, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return LogLine{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return logLineFromValue(v)
}

func logLineFromValue(v *fastjson.Value) (LogLine, error) {
	if v.Type() != fastjson.TypeObject {
		return LogLine{}, fmt.Errorf("%w: log line is not an object", ErrMalformed)
	}
	var l LogLine
	var err error
	if l.Source, err = stringField(v, "source"); err != nil {
		return LogLine{}, err
	}
	if l.Namespace, err = stringField(v, "namespace"); err != nil {
		return LogLine{}, err
	}
	if l.Domain, err = stringField(v, "domain"); err != nil {
		return LogLine{}, err
	}
	if l.Message, err = stringField(v, "log"); err != nil {
		return LogLine{}, err
	}
	ts, err := stringField(v, "timestamp")
	if err != nil {
		return LogLine{}, err
	}
	if ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return LogLine{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		l.Timestamp = t
	}
	return l, nil
}

func decodeAppInstalled(v *fastjson.Value) (Event, error) {
	if err := expectObject(v, []byte(KindAppInstalled)); err != nil {
		return nil, err
	}
	name, err := stringField(v, "name")
	if err != nil {
		return nil, err
	}
	return AppInstalled{Name: name}, nil
}

func decodeFileUploaded(v *fastjson.Value) (Event, error) {
	if err := expectObject(v, []byte(KindFileUploaded)); err != nil {
		return nil, err
	}
	id, err := stringField(v, "id")
	if err != nil {
		return nil, err
	}
	var ok bool
	if f := v.Get("success"); f != nil {
		if ok, err = f.Bool(); err != nil {
			return nil, fmt.Errorf("%w: success: %v", ErrMalformed, err)
		}
	}
	return FileUploaded{ID: id, Success: ok}, nil
}

func decodeError(v *fastjson.Value) (Event, error) {
	if err := expectObject(v, []byte(KindError)); err != nil {
		return nil, err
	}
	msg, err := stringField(v, "message")
	if err != nil {
		return nil, err
	}
	return ErrorEvent{Message: msg}, nil
}

func expectObject(v *fastjson.Value, key []byte) error {
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("%w: %s must be an object", ErrMalformed, key)
	}
	return nil
}

// stringField returns "" for a missing or null field.
func stringField(v *fastjson.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return "", nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return string(b), nil
}
