// Package commands implements the devmon-log CLI commands.
package commands

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
)

// RunView writes every event of path matching filter in human-readable
// form.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	if connID == "" {
		connID = "-"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		ts, connID, event.Direction.String(), event.Layer.String(), eventLabel(event))
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// eventLabel names the event: the frame type for frames.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return tlv.Type(event.Frame.Type).String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatFrameDetails writes the frame size, its raw value and, for complete
// frames, the decoded payload.
func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) == 0 {
		return
	}
	fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
	if frame.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)

	if !frame.Truncated {
		for _, line := range describePayload(tlv.Type(frame.Type), frame.Data) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// describePayload decodes a frame value into display lines. Values that do
// not have the expected length are left undecoded.
func describePayload(typ tlv.Type, value []byte) []string {
	switch typ {
	case tlv.TypeDiscoverResponse:
		if len(value) >= 2 {
			return []string{fmt.Sprintf("Port: %d", binary.BigEndian.Uint16(value))}
		}
	case tlv.TypeGetRequest:
		if len(value) == 4 {
			return []string{fmt.Sprintf("Device: %d", binary.BigEndian.Uint32(value))}
		}
	case tlv.TypeSetRequest:
		if len(value) == 8 {
			id := binary.BigEndian.Uint32(value[:4])
			temp := math.Float32frombits(binary.BigEndian.Uint32(value[4:]))
			return []string{fmt.Sprintf("Device: %d  Temperature: %.2f", id, temp)}
		}
	case tlv.TypeSetResponse:
		if len(value) == 1 {
			return []string{fmt.Sprintf("Result: %s", device.SetResult(value[0]))}
		}
	case tlv.TypeListResponse, tlv.TypeGetResponse:
		records, err := device.DecodeRecords(value)
		if err != nil {
			return nil
		}
		lines := make([]string, len(records))
		for i, rec := range records {
			lines[i] = rec.String()
		}
		return lines
	}
	return nil
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}
