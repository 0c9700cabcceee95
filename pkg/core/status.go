package core

// ConnectionStatus reflects whether a feed is currently live.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusErroring
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusErroring:
		return "erroring"
	default:
		return "unknown"
	}
}

// Live reports whether the feed is delivering messages.
func (s ConnectionStatus) Live() bool {
	return s == StatusConnected
}

// Label is the short user-facing name for the status.
func (s ConnectionStatus) Label() string {
	switch s {
	case StatusConnected:
		return "Live"
	case StatusConnecting:
		return "Connecting"
	case StatusErroring:
		return "Erroring"
	default:
		return "Offline"
	}
}
