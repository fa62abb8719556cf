package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/tlv"
)

// FilterOptions holds the filter flags shared by all commands. Empty fields
// match every event.
type FilterOptions struct {
	ConnID    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
	FrameType string
}

// Build converts the options to a log.Filter.
func (opts FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{ConnectionID: opts.ConnID}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}

	if opts.FrameType != "" {
		ft, err := parseFrameType(opts.FrameType)
		if err != nil {
			return log.Filter{}, err
		}
		filter.FrameType = &ft
	}

	return filter, nil
}

// RunFilter copies the events of path matching filter to output, a new
// capture file.
func RunFilter(path, output string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "dispatch":
		return log.LayerDispatch, nil
	case "discovery":
		return log.LayerDiscovery, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, dispatch, or discovery)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// parseFrameType accepts a frame type name (e.g. "list_request") or a
// numeric code ("0x10", "16").
func parseFrameType(s string) (uint16, error) {
	name := strings.ToUpper(s)
	for _, t := range frameTypes {
		if t.String() == name {
			return uint16(t), nil
		}
	}
	code, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid frame type: %s", s)
	}
	return uint16(code), nil
}

var frameTypes = []tlv.Type{
	tlv.TypeDiscoverRequest,
	tlv.TypeDiscoverResponse,
	tlv.TypeListRequest,
	tlv.TypeListResponse,
	tlv.TypeGetRequest,
	tlv.TypeGetResponse,
	tlv.TypeSetRequest,
	tlv.TypeSetResponse,
}
