package core

import (
	"fmt"
	"time"
)

// Kind names an event case on the wire and in logs.
type Kind string

const (
	KindHeartbeat    Kind = "heartbeat"
	KindAppInstalled Kind = "appInstalled"
	KindFileUploaded Kind = "fileUploaded"
	KindLog          Kind = "log"
	KindError        Kind = "error"
)

// Event is a message received on a feed. The set of cases is closed: only the
// types in this package implement it.
type Event interface {
	Kind() Kind
	isEvent()
}

// Heartbeat signals that a feed is alive. It carries no payload.
type Heartbeat struct{}

// AppInstalled reports that an app finished installing on the host.
type AppInstalled struct {
	Name string `json:"name"`
}

// FileUploaded reports the outcome of a file upload.
type FileUploaded struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// LogLine is a single line from the host's log feed.
type LogLine struct {
	Source    string    `json:"source"`
	Namespace string    `json:"namespace"`
	Domain    string    `json:"domain"`
	Message   string    `json:"log"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is a server-side failure pushed on the event feed.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (Heartbeat) Kind() Kind    { return KindHeartbeat }
func (AppInstalled) Kind() Kind { return KindAppInstalled }
func (FileUploaded) Kind() Kind { return KindFileUploaded }
func (LogLine) Kind() Kind      { return KindLog }
func (ErrorEvent) Kind() Kind   { return KindError }

func (Heartbeat) isEvent()    {}
func (AppInstalled) isEvent() {}
func (FileUploaded) isEvent() {}
func (LogLine) isEvent()      {}
func (ErrorEvent) isEvent()   {}

// IsHeartbeat reports whether e is a liveness-only message.
func IsHeartbeat(e Event) bool {
	_, ok := e.(Heartbeat)
	return ok
}

// Describe renders a one-line human summary of an event.
func Describe(e Event) string {
	switch e := e.(type) {
	case Heartbeat:
		return "heartbeat"
	case AppInstalled:
		return fmt.Sprintf("app installed: %s", e.Name)
	case FileUploaded:
		if e.Success {
			return fmt.Sprintf("file uploaded: %s", e.ID)
		}
		return fmt.Sprintf("file upload failed: %s", e.ID)
	case LogLine:
		return fmt.Sprintf("[%s/%s] %s", e.Namespace, e.Source, e.Message)
	case ErrorEvent:
		return "error: " + e.Message
	default:
		return fmt.Sprintf("unknown event %T", e)
	}
}
