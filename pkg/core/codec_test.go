package core

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeServerEvent(t *testing.T) {
	tests := []struct {
		input string
		want  Event
	}{
		{`{"heartbeat":{}}`, Heartbeat{}},
		{`{"appInstalled":{"name":"immich"}}`, AppInstalled{Name: "immich"}},
		{`{"appInstalled":{}}`, AppInstalled{}},
		{`{"fileUploaded":{"id":"f1","success":true}}`, FileUploaded{ID: "f1", Success: true}},
		{`{"fileUploaded":{"id":"f2"}}`, FileUploaded{ID: "f2"}},
		{`{"error":{"message":"disk full"}}`, ErrorEvent{Message: "disk full"}},
		{`{"future":{"x":1},"heartbeat":{}}`, Heartbeat{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := DecodeServerEvent([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeServerEventMalformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"unknown":{}}`,
		`{"heartbeat":{},"error":{"message":"x"}}`,
		`{"heartbeat":1}`,
		`{"appInstalled":{"name":42}}`,
		`{"fileUploaded":{"id":"x","success":"yes"}}`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := DecodeServerEvent([]byte(in))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestEventEncodeDecode(t *testing.T) {
	events := []Event{
		Heartbeat{},
		AppInstalled{Name: "jellyfin"},
		FileUploaded{ID: "abc", Success: true},
		ErrorEvent{Message: "boom"},
	}
	for _, e := range events {
		data, err := EncodeEvent(e)
		if err != nil {
			t.Fatalf("encode %T: %v", e, err)
		}
		got, err := DecodeServerEvent(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if got != e {
			t.Errorf("got %#v, want %#v", got, e)
		}
	}
}

func TestDecodeLogLine(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := LogLine{Source: "immich-server", Namespace: "immich", Domain: "apps", Message: "ready", Timestamp: ts}

	data, err := EncodeLogLine(in)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeLogLine(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, ts)
	}
	got.Timestamp = ts
	if got != in {
		t.Errorf("got %#v, want %#v", got, in)
	}
}

func TestDecodeLogLineMalformed(t *testing.T) {
	inputs := []string{
		`{"source":1}`,
		`{"timestamp":"yesterday"}`,
		`"line"`,
	}
	for _, in := range inputs {
		if _, err := DecodeLogLine([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", in, err)
		}
	}
}
