// Command devmon-log is a tool for viewing and analyzing devmon protocol
// capture files.
//
// Capture files are written by devmon-server and devmon-client when run with
// the -protocol-log flag.
//
// Usage:
//
//	devmon-log <command> [flags] <file.dlog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View only discovery traffic
//	devmon-log view -layer discovery server.dlog
//
//	# View SET exchanges
//	devmon-log view -frame-type set_request server.dlog
//
//	# Export to CSV
//	devmon-log export -format csv -o server.csv server.dlog
//
//	# Keep one connection
//	devmon-log filter -conn-id abc12345 -o conn.dlog server.dlog
//
//	# Show statistics
//	devmon-log stats server.dlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/devmon-project/devmon-go/cmd/devmon-log/commands"
	"github.com/devmon-project/devmon-go/pkg/log"
)

const usage = `devmon-log - devmon Protocol Capture Analyzer

Usage:
  devmon-log <command> [flags] <file.dlog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "devmon-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set for cmd with the shared filter flags bound
// to opts.
func newFlagSet(cmd, summary string, opts *commands.FilterOptions) *flag.FlagSet {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "devmon-log %s - %s\n\nUsage:\n  devmon-log %s [flags] <file.dlog>\n\nFlags:\n", cmd, summary, cmd)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID prefix")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter events at or after this time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter events before this time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, dispatch, discovery)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, state, error)")
	fs.StringVar(&opts.FrameType, "frame-type", "", "Filter by frame type name or code (e.g. list_request, 0x15)")
	return fs
}

// parseArgs parses args and returns the capture path and the filter.
func parseArgs(fs *flag.FlagSet, opts *commands.FilterOptions, args []string) (string, log.Filter, error) {
	if err := fs.Parse(args); err != nil {
		return "", log.Filter{}, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", log.Filter{}, fmt.Errorf("capture file path required")
	}
	filter, err := opts.Build()
	if err != nil {
		return "", log.Filter{}, err
	}
	return fs.Arg(0), filter, nil
}

func runView(args []string) error {
	var opts commands.FilterOptions
	fs := newFlagSet("view", "View capture file in human-readable format", &opts)

	path, filter, err := parseArgs(fs, &opts, args)
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	var opts commands.FilterOptions
	fs := newFlagSet("export", "Export capture file to JSONL or CSV format", &opts)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, filter, err := parseArgs(fs, &opts, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output, filter)
}

func runFilter(args []string) error {
	var opts commands.FilterOptions
	fs := newFlagSet("filter", "Filter capture file and write to new file", &opts)
	output := fs.String("o", "", "Output file (required)")

	path, filter, err := parseArgs(fs, &opts, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file required (-o)")
	}
	return commands.RunFilter(path, *output, filter, os.Stdout)
}

func runStats(args []string) error {
	var opts commands.FilterOptions
	fs := newFlagSet("stats", "Show statistics about the capture file", &opts)

	path, filter, err := parseArgs(fs, &opts, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, filter, os.Stdout)
}
