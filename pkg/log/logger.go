package log

import "sync"

// Logger receives capture events from the transport, dispatch and discovery
// layers. A nil Logger disables capture. Log is called on the goroutine
// serving the connection or datagram, so implementations must be safe for
// concurrent use and must not block.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// Recorder keeps capture events in memory, in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Log appends event.
func (r *Recorder) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events matching filter.
func (r *Recorder) Events(filter Filter) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Logger = LoggerFunc(nil)
	_ Logger = (*Recorder)(nil)
)
