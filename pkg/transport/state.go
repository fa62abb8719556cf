package transport

// ConnState is the lifecycle state of a server-side connection handler.
type ConnState int32

const (
	// StateAwaitingFrame waits for the next request header.
	StateAwaitingFrame ConnState = iota

	// StateDispatching executes a request and writes its response.
	StateDispatching

	// StateClosedClean is reached when the peer closes between frames.
	StateClosedClean

	// StateClosedError is reached on any read or write failure.
	StateClosedError
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateAwaitingFrame:
		return "AWAITING_FRAME"
	case StateDispatching:
		return "DISPATCHING"
	case StateClosedClean:
		return "CLOSED_CLEAN"
	case StateClosedError:
		return "CLOSED_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the handler has finished.
func (s ConnState) Terminal() bool {
	return s == StateClosedClean || s == StateClosedError
}
