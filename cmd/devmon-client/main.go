// Command devmon-client is an interactive client for a devmon server.
//
// The server is located by a UDP multicast discovery request unless an
// address is given. The connection is reopened with backoff when the
// server restarts.
//
// Usage:
//
//	devmon-client [flags]
//
// Flags:
//
//	-server string        Server address host:port (skips discovery)
//	-group string         Discovery multicast group (default "239.0.0.1")
//	-port int             Discovery UDP port (default 5000)
//	-interface string     Network interface for discovery
//	-timeout duration     Discovery timeout (default 5s)
//	-mdns                 Fall back to DNS-SD when multicast discovery fails
//	-request-timeout d    Per-request timeout (default 10s)
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-log-level string     Log level: debug, info, warn, error (default "warn")
//
// Interactive Commands:
//
//	list             - show all devices
//	get <id>         - show details of selected device
//	set <id> <temp>  - set temperature of selected device
//	help             - show this help
//	exit / quit      - close connection and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devmon-project/devmon-go/cmd/devmon-client/interactive"
	"github.com/devmon-project/devmon-go/pkg/connection"
	"github.com/devmon-project/devmon-go/pkg/discovery"
	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/transport"
)

// Config holds the client configuration.
type Config struct {
	Server         string
	Group          string
	Port           int
	Interface      string
	Timeout        time.Duration
	MDNS           bool
	RequestTimeout time.Duration
	ProtocolLog    string
	LogLevel       string
}

var config Config

func init() {
	flag.StringVar(&config.Server, "server", "", "Server address host:port (skips discovery)")
	flag.StringVar(&config.Group, "group", discovery.DefaultGroup, "Discovery multicast group")
	flag.IntVar(&config.Port, "port", discovery.DefaultPort, "Discovery UDP port")
	flag.StringVar(&config.Interface, "interface", "", "Network interface for discovery")
	flag.DurationVar(&config.Timeout, "timeout", discovery.DefaultTimeout, "Discovery timeout")
	flag.BoolVar(&config.MDNS, "mdns", false, "Fall back to DNS-SD when multicast discovery fails")
	flag.DurationVar(&config.RequestTimeout, "request-timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	flag.StringVar(&config.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, &config); err != nil {
		fmt.Fprintf(os.Stderr, "devmon-client: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var protoLogger log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		protoLogger = fl
	}

	addr, err := locate(ctx, cfg, protoLogger, os.Stdout)
	if err != nil {
		return err
	}

	conn := connection.NewConnector(func(ctx context.Context) (*transport.Client, error) {
		return transport.Dial(ctx, addr, transport.ClientConfig{
			RequestTimeout: cfg.RequestTimeout,
			ProtocolLogger: protoLogger,
		})
	}, connection.ConnectorConfig{
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("connect failed, retrying",
				slog.String("server", addr),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err))
		},
		OnStateChange: func(oldState, newState connection.State) {
			logger.Debug("connection state",
				slog.String("old", oldState.String()),
				slog.String("new", newState.String()))
		},
	})
	defer conn.Close()

	// Connect eagerly so an unreachable server is reported before the prompt.
	if _, err := conn.List(ctx); err != nil {
		return err
	}
	fmt.Println("Connected to server")

	cli, err := interactive.New(conn)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(cli.Stderr(), &slog.HandlerOptions{Level: level}))
	cli.Run(ctx, cancel)
	return nil
}

// locate returns the server address: the -server flag if given, otherwise
// the result of multicast discovery, otherwise (with -mdns) of a DNS-SD
// browse.
func locate(ctx context.Context, cfg *Config, protoLogger log.Logger, out io.Writer) (string, error) {
	if cfg.Server != "" {
		return cfg.Server, nil
	}

	fmt.Fprintln(out, "Searching for server...")
	srv, err := discovery.Discover(ctx, discovery.DiscoverConfig{
		Group:          cfg.Group,
		Port:           cfg.Port,
		Interface:      cfg.Interface,
		Timeout:        cfg.Timeout,
		ProtocolLogger: protoLogger,
	})
	if err != nil && cfg.MDNS && errors.Is(err, discovery.ErrNoServer) {
		fmt.Fprintln(out, "No multicast response, browsing DNS-SD...")
		srv, err = discovery.NewMDNSBrowser(discovery.BrowserConfig{
			Interface: cfg.Interface,
			Timeout:   cfg.Timeout,
		}).Find(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("server discovery failed: %w", err)
	}

	fmt.Fprintf(out, "Server found at %s\n", srv.Address())
	return srv.Address(), nil
}
