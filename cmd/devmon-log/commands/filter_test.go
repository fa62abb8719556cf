package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
)

func TestFilterOptionsBuild(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		f, err := FilterOptions{}.Build()
		if err != nil {
			t.Fatal(err)
		}
		if f.Layer != nil || f.Direction != nil || f.Category != nil || f.FrameType != nil || f.TimeStart != nil {
			t.Errorf("empty options produced criteria: %+v", f)
		}
	})

	t.Run("AllFields", func(t *testing.T) {
		f, err := FilterOptions{
			ConnID:    "conn-1",
			TimeStart: "2026-01-28T10:00:00Z",
			TimeEnd:   "2026-01-28T11:00:00Z",
			Layer:     "Dispatch",
			Direction: "OUT",
			Category:  "error",
			FrameType: "set_response",
		}.Build()
		if err != nil {
			t.Fatal(err)
		}
		if f.ConnectionID != "conn-1" {
			t.Errorf("ConnectionID = %q", f.ConnectionID)
		}
		if *f.Layer != log.LayerDispatch || *f.Direction != log.DirectionOut || *f.Category != log.CategoryError {
			t.Errorf("layer/direction/category = %v/%v/%v", *f.Layer, *f.Direction, *f.Category)
		}
		if *f.FrameType != uint16(tlv.TypeSetResponse) {
			t.Errorf("FrameType = %#x", *f.FrameType)
		}
		if !f.TimeEnd.After(*f.TimeStart) {
			t.Errorf("time range %v..%v", f.TimeStart, f.TimeEnd)
		}
	})

	errCases := []struct {
		name string
		opts FilterOptions
	}{
		{"BadTimeStart", FilterOptions{TimeStart: "yesterday"}},
		{"BadTimeEnd", FilterOptions{TimeEnd: "2026-13-01"}},
		{"BadLayer", FilterOptions{Layer: "session"}},
		{"BadDirection", FilterOptions{Direction: "sideways"}},
		{"BadCategory", FilterOptions{Category: "control"}},
		{"BadFrameType", FilterOptions{FrameType: "subscribe"}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.opts.Build(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFrameType(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"LIST_REQUEST", 0x10},
		{"get_response", 0x14},
		{"0x15", 0x15},
		{"2", 0x02},
		{"0x99", 0x99},
	}
	for _, tt := range tests {
		got, err := parseFrameType(tt.in)
		if err != nil {
			t.Errorf("parseFrameType(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseFrameType(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
	if _, err := parseFrameType("0x10000"); err == nil {
		t.Error("expected error for out-of-range code")
	}
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	output := filepath.Join(t.TempDir(), "filtered.dlog")

	filter, err := FilterOptions{ConnID: "conn-1", Category: "message"}.Build()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := RunFilter(path, output, filter, &buf); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 2 events") {
		t.Errorf("output = %q", buf.String())
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	events, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("filtered file has %d events, want 2", len(events))
	}
	if events[0].Frame.Type != uint16(tlv.TypeListRequest) || events[1].Frame.Type != uint16(tlv.TypeListResponse) {
		t.Errorf("unexpected frames: %#x %#x", events[0].Frame.Type, events[1].Frame.Type)
	}
}

func TestRunFilterByTime(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	output := filepath.Join(t.TempDir(), "late.dlog")

	filter, err := FilterOptions{TimeStart: "2026-01-28T10:15:33Z"}.Build()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := RunFilter(path, output, filter, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Filtered 1 events") {
		t.Errorf("output = %q", buf.String())
	}
}
