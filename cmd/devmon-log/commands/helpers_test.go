package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
)

var testBase = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

// createTestLogFile writes events to a fresh capture file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func frameEvent(offset time.Duration, connID string, dir log.Direction, typ tlv.Type, value []byte) log.Event {
	return log.Event{
		Timestamp:    testBase.Add(offset),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Type: uint16(typ),
			Size: tlv.HeaderSize + len(value),
			Data: value,
		},
	}
}

// sessionEvents is a short capture: one LIST exchange on conn-1, a
// discovery exchange and a clean close.
func sessionEvents() []log.Event {
	list := device.EncodeRecords(device.DefaultSeed()[:2])
	return []log.Event{
		{
			Timestamp:    testBase,
			ConnectionID: "conn-1-aaaaaaaa",
			RemoteAddr:   "127.0.0.1:40000",
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				NewState: "AWAITING_FRAME",
			},
		},
		frameEvent(time.Millisecond, "conn-1-aaaaaaaa", log.DirectionIn, tlv.TypeListRequest, nil),
		frameEvent(2*time.Millisecond, "conn-1-aaaaaaaa", log.DirectionOut, tlv.TypeListResponse, list),
		{
			Timestamp:  testBase.Add(3 * time.Millisecond),
			RemoteAddr: "192.168.1.9:5000",
			Direction:  log.DirectionIn,
			Layer:      log.LayerDiscovery,
			Category:   log.CategoryMessage,
			Frame:      &log.FrameEvent{Type: uint16(tlv.TypeDiscoverRequest), Size: tlv.HeaderSize},
		},
		{
			Timestamp:  testBase.Add(4 * time.Millisecond),
			RemoteAddr: "192.168.1.9:5000",
			Layer:      log.LayerDiscovery,
			Category:   log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerDiscovery,
				Message: "tlv: truncated frame",
				Context: "decode datagram",
			},
		},
		{
			Timestamp:    testBase.Add(2 * time.Second),
			ConnectionID: "conn-1-aaaaaaaa",
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: "AWAITING_FRAME",
				NewState: "CLOSED_CLEAN",
			},
		},
	}
}
