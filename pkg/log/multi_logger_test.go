package log

import (
	"testing"
	"time"
)

type countingLogger struct {
	count int
}

func (c *countingLogger) Log(Event) { c.count++ }

func TestMultiLoggerFansOut(t *testing.T) {
	a := &countingLogger{}
	b := &countingLogger{}
	var c int
	m := NewMultiLogger(a, nil, b, LoggerFunc(func(Event) { c++ }))

	if m.Len() != 3 {
		t.Errorf("Len: got %d, want 3", m.Len())
	}

	m.Log(Event{Timestamp: time.Now()})
	m.Log(Event{Timestamp: time.Now()})

	if a.count != 2 || b.count != 2 || c != 2 {
		t.Errorf("counts: a=%d b=%d c=%d, want 2 each", a.count, b.count, c)
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	m := NewMultiLogger()
	m.Log(Event{})
}

func TestRecorderFilters(t *testing.T) {
	r := &Recorder{}
	r.Log(Event{ConnectionID: "a", Layer: LayerTransport})
	r.Log(Event{ConnectionID: "b", Layer: LayerDiscovery})
	r.Log(Event{ConnectionID: "a", Layer: LayerDispatch})

	if got := len(r.Events(Filter{})); got != 3 {
		t.Fatalf("got %d events, want 3", got)
	}

	events := r.Events(Filter{ConnectionID: "a"})
	if len(events) != 2 {
		t.Fatalf("got %d events for conn a, want 2", len(events))
	}
	if events[0].Layer != LayerTransport || events[1].Layer != LayerDispatch {
		t.Errorf("events out of order: %v, %v", events[0].Layer, events[1].Layer)
	}

	events[0].ConnectionID = "changed"
	if r.Events(Filter{})[0].ConnectionID != "a" {
		t.Error("Events returned a view of the recorder's storage")
	}
}
