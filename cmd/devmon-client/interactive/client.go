// Package interactive provides the interactive command-line interface
// for the devmon client.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/devmon-project/devmon-go/pkg/device"
)

// Requester is the request surface used by the prompt.
// Implemented by connection.Connector and transport.Client.
type Requester interface {
	List(ctx context.Context) ([]device.Record, error)
	Get(ctx context.Context, id uint32) (device.Record, bool, error)
	Set(ctx context.Context, id uint32, temperature float32) (device.SetResult, error)
}

// Client handles interactive mode for devmon-client.
type Client struct {
	req Requester
	rl  *readline.Instance
	out io.Writer
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("list"),
	readline.PcItem("get"),
	readline.PcItem("set"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

// New creates an interactive client reading commands from the terminal.
func New(req Requester) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Client{req: req, rl: rl, out: rl.Stdout()}, nil
}

// NewWithWriter creates a client without a terminal. Commands are passed
// to Execute directly; Run must not be called.
func NewWithWriter(req Requester, out io.Writer) *Client {
	return &Client{req: req, out: out}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Client) Stdout() io.Writer {
	if c.rl == nil {
		return c.out
	}
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	if c.rl == nil {
		return c.out
	}
	return c.rl.Stderr()
}

// Run starts the interactive command loop. It returns on exit/quit, on
// end of input, or when ctx is cancelled.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "EOF on stdin, exiting")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to
// quit. Request failures are printed and never end the session.
func (c *Client) Execute(ctx context.Context, line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "list", "ls":
		c.cmdList(ctx)

	case "get":
		c.cmdGet(ctx, args)

	case "set":
		c.cmdSet(ctx, args)

	case "exit", "quit", "q":
		fmt.Fprintln(c.out, "Exiting on user request")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Client) printHelp() {
	fmt.Fprintln(c.out, `Available commands:
  list             - show all devices
  get <id>         - show details of selected device
  set <id> <temp>  - set temperature of selected device
  help             - show this help
  exit / quit      - close connection and exit`)
}

// cmdList handles the list command.
func (c *Client) cmdList(ctx context.Context) {
	records, err := c.req.List(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "List failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "Received %d devices:\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(c.out, "  %s\n", rec)
	}
}

// cmdGet handles the get command.
func (c *Client) cmdGet(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: get <id>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid device id: %v\n", err)
		return
	}

	rec, found, err := c.req.Get(ctx, id)
	if err != nil {
		fmt.Fprintf(c.out, "Get failed: %v\n", err)
		return
	}
	if !found {
		fmt.Fprintf(c.out, "Device %d not found\n", id)
		return
	}
	fmt.Fprintln(c.out, "Device details:")
	fmt.Fprintf(c.out, "  %s\n", rec)
}

// cmdSet handles the set command.
func (c *Client) cmdSet(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: set <id> <temp>")
		fmt.Fprintln(c.out, "  Example: set 1 30.0")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid device id: %v\n", err)
		return
	}
	temp, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid temperature: %v\n", err)
		return
	}

	result, err := c.req.Set(ctx, id, float32(temp))
	if err != nil {
		fmt.Fprintf(c.out, "Set failed: %v\n", err)
		return
	}

	switch result {
	case device.SetOK:
		fmt.Fprintf(c.out, "SET successful for device %d\n", id)
	case device.SetNotFound:
		fmt.Fprintf(c.out, "SET failed: device %d not found\n", id)
	case device.SetBadRequest:
		fmt.Fprintln(c.out, "SET failed: bad request")
	default:
		fmt.Fprintf(c.out, "SET failed: unknown error code %d\n", uint8(result))
	}
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}
