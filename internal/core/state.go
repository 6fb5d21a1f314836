package core

// ConnectionState is the lifecycle state of one client session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Negotiating
	Connecting
	Connected
	Reconnecting
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Negotiating:
		return "negotiating"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Label is the short status text shown to a person.
func (s ConnectionState) Label() string {
	switch s {
	case Negotiating, Connecting:
		return "Connecting..."
	case Connected:
		return "Connected!"
	case Reconnecting:
		return "Reconnecting..."
	case Closing:
		return "Disconnecting..."
	default:
		return "Disconnected."
	}
}

// Active reports whether a session in this state owns (or is acquiring) a channel.
func (s ConnectionState) Active() bool {
	return s != Disconnected
}

// StatusChange is delivered to status listeners once per transition.
// Err is set when the transition was caused by a failure.
type StatusChange struct {
	State ConnectionState
	Err   error
}
