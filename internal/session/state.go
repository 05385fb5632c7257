package session

// State of the messaging-UI session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLaunching
	StateAwaitingLogin
	StateAuthenticated
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAuthenticated:
		return "authenticated"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Usable reports whether the dispatcher may drive the session.
func (s State) Usable() bool {
	return s == StateAuthenticated || s == StateDegraded
}
