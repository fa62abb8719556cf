package log

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("capture file was not created")
	}
	if logger.Path() != path {
		t.Errorf("Path: got %q, want %q", logger.Path(), path)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dlog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), ConnectionID: fmt.Sprintf("conn-%d", i)})
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ConnectionID != "conn-0" || events[1].ConnectionID != "conn-1" {
		t.Errorf("events out of order: %q, %q", events[0].ConnectionID, events[1].ConnectionID)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const goroutines = 10
	const perGoroutine = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: fmt.Sprintf("conn-%d", n),
					Frame:        &FrameEvent{Type: 0x10, Size: 4},
				})
			}
		}(i)
	}
	wg.Wait()

	if logger.Written() != goroutines*perGoroutine {
		t.Errorf("Written: got %d, want %d", logger.Written(), goroutines*perGoroutine)
	}
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != goroutines*perGoroutine {
		t.Errorf("got %d events, want %d", len(events), goroutines*perGoroutine)
	}
}

func TestFileLoggerLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	logger.Log(Event{Timestamp: time.Now()})
	if logger.Written() != 0 {
		t.Errorf("event written after Close")
	}
}

func TestNewFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "dir", "x.dlog"))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFileLoggerWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dlog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now()})
		logger.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.HasPrefix(data, captureHeader()) {
		t.Fatalf("file does not start with capture header: % x", data[:CaptureHeaderSize])
	}
	if n := bytes.Count(data, []byte(captureMagic)); n != 1 {
		t.Errorf("capture magic appears %d times, want 1", n)
	}
}

func TestNewFileLoggerRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not a capture file"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := NewFileLogger(path); !errors.Is(err, ErrNotCapture) {
		t.Errorf("got %v, want ErrNotCapture", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "not a capture file" {
		t.Errorf("foreign file was modified: %q", data)
	}
}

func TestNewReaderCaptureHeader(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{name: "empty", content: nil, want: ErrNotCapture},
		{name: "short", content: []byte("DEVMON"), want: ErrNotCapture},
		{name: "wrong magic", content: []byte("CAPDEVMON\x01"), want: ErrNotCapture},
		{name: "future version", content: append([]byte(captureMagic), CaptureVersion+1), want: ErrCaptureVersion},
		{name: "header only", content: captureHeader(), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.dlog")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			reader, err := NewReader(path)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("got %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			defer reader.Close()
			events, err := reader.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(events) != 0 {
				t.Errorf("got %d events, want 0", len(events))
			}
		})
	}
}
