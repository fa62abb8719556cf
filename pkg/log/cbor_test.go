package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeFrameEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp:    ts,
		ConnectionID: "2b1c7c3e-0000-4000-8000-000000000001",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		RemoteAddr:   "127.0.0.1:40000",
		Frame: &FrameEvent{
			Type: 0x14,
			Size: 14,
			Data: []byte{0, 0, 0, 1, 0x41, 0xB4, 0, 0, 85, 1},
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.Direction != DirectionOut || decoded.Layer != LayerTransport {
		t.Errorf("unexpected direction/layer %s/%s", decoded.Direction, decoded.Layer)
	}
	if decoded.RemoteAddr != event.RemoteAddr {
		t.Errorf("RemoteAddr: got %q", decoded.RemoteAddr)
	}
	if decoded.Frame == nil {
		t.Fatal("Frame is nil")
	}
	if decoded.Frame.Type != 0x14 || decoded.Frame.Size != 14 {
		t.Errorf("Frame: got %+v", decoded.Frame)
	}
	if !bytes.Equal(decoded.Frame.Data, event.Frame.Data) {
		t.Errorf("Frame.Data mismatch")
	}
	if decoded.StateChange != nil || decoded.Error != nil {
		t.Errorf("unexpected payloads set")
	}
}

func TestEncodeDecodeStateAndErrorEvents(t *testing.T) {
	events := []Event{
		{
			Timestamp: time.Now(),
			Layer:     LayerTransport,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityConnection,
				OldState: "AWAITING_FRAME",
				NewState: "CLOSED_ERROR",
				Reason:   "tlv: frame too large",
			},
		},
		{
			Timestamp: time.Now(),
			Layer:     LayerDiscovery,
			Category:  CategoryError,
			Error: &ErrorEventData{
				Layer:   LayerDiscovery,
				Message: "tlv: malformed frame",
				Context: "decode datagram",
			},
		},
	}

	for _, event := range events {
		data, err := EncodeEvent(event)
		if err != nil {
			t.Fatalf("EncodeEvent failed: %v", err)
		}
		decoded, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent failed: %v", err)
		}
		if event.StateChange != nil {
			if decoded.StateChange == nil || *decoded.StateChange != *event.StateChange {
				t.Errorf("StateChange: got %+v, want %+v", decoded.StateChange, event.StateChange)
			}
		}
		if event.Error != nil {
			if decoded.Error == nil || *decoded.Error != *event.Error {
				t.Errorf("Error: got %+v, want %+v", decoded.Error, event.Error)
			}
		}
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	event := Event{
		Timestamp:    time.Unix(1700000000, 0).UTC(),
		ConnectionID: "c",
		Frame:        &FrameEvent{Type: 1, Size: 4},
	}
	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeEventInvalid(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xFF, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerDispatch.String(), "DISPATCH"},
		{LayerDiscovery.String(), "DISCOVERY"},
		{CategoryState.String(), "STATE"},
		{Category(1).String(), "UNKNOWN"},
		{RoleClient.String(), "CLIENT"},
		{StateEntityResponder.String(), "RESPONDER"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
