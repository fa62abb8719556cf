// Command devmon-server serves the in-memory device registry over the TLV
// protocol on TCP and answers discovery requests on a UDP multicast group.
//
// Usage:
//
//	devmon-server [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-address string       TCP listen address (default ":5001")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-log-format string    Log format: text, json (default "text")
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-metrics string       Serve Prometheus metrics on this address
//	-no-discovery         Disable the multicast discovery responder
//	-mdns                 Also advertise the service over DNS-SD
//	-redis string         Publish temperature changes to this Redis server
//
// Flags override values from the configuration file.
//
// Examples:
//
//	# Start with the default device set
//	devmon-server
//
//	# Start from a config file with metrics and a protocol capture
//	devmon-server -config /etc/devmon/server.yaml -metrics :9100 -protocol-log /tmp/devmon.dlog
//
//	# Machine-readable logs for a process supervisor
//	devmon-server -log-format json -log-level debug
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
	"syscall"

	"github.com/devmon-project/devmon-go/pkg/config"
	"github.com/devmon-project/devmon-go/pkg/discovery"
	"github.com/devmon-project/devmon-go/pkg/dispatch"
	"github.com/devmon-project/devmon-go/pkg/log"
	"github.com/devmon-project/devmon-go/pkg/metrics"
	"github.com/devmon-project/devmon-go/pkg/notify"
	"github.com/devmon-project/devmon-go/pkg/registry"
	"github.com/devmon-project/devmon-go/pkg/transport"
	"github.com/devmon-project/devmon-go/pkg/version"
	"golang.org/x/sync/errgroup"
)

// Flags holds the command-line options.
type Flags struct {
	ConfigFile  string
	Address     string
	LogLevel    string
	LogFormat   string
	ProtocolLog string
	Metrics     string
	NoDiscovery bool
	MDNS        bool
	Redis       string
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "devmon-server: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into Flags. Zero values mean "not given" and leave
// the configuration untouched.
func parseFlags(fs *flag.FlagSet, args []string) (*Flags, error) {
	f := &Flags{}
	fs.StringVar(&f.ConfigFile, "config", "", "Configuration file path")
	fs.StringVar(&f.Address, "address", "", "TCP listen address (default \":5001\")")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format: text, json (default \"text\")")
	fs.StringVar(&f.ProtocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	fs.StringVar(&f.Metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&f.NoDiscovery, "no-discovery", false, "Disable the multicast discovery responder")
	fs.BoolVar(&f.MDNS, "mdns", false, "Also advertise the service over DNS-SD")
	fs.StringVar(&f.Redis, "redis", "", "Publish temperature changes to this Redis server")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides on top.
func loadConfig(f *Flags) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		loaded, err := config.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.Address != "" {
		cfg.Server.Address = f.Address
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.LogFormat != "" {
		cfg.Logging.Format = f.LogFormat
	}
	if f.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = f.ProtocolLog
	}
	if f.Metrics != "" {
		cfg.Metrics.Address = f.Metrics
	}
	if f.NoDiscovery {
		cfg.Discovery.Enabled = false
	}
	if f.MDNS {
		cfg.Discovery.MDNS = true
	}
	if f.Redis != "" {
		cfg.Notify.Enabled = true
		cfg.Notify.Addr = f.Redis
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the operational logger for cfg.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

// newProtocolLogger combines the capture file and the debug mirror. It
// returns nil when neither is active.
func newProtocolLogger(cfg config.LoggingConfig, logger *slog.Logger) (log.Logger, io.Closer, error) {
	var loggers []log.Logger
	var closer io.Closer = nopCloser{}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closer = fl
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger.With(slog.String("component", "protocol"))))
	}

	switch len(loggers) {
	case 0:
		return nil, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// run starts every component and blocks until ctx is cancelled or one of
// them fails. Errors binding the TCP listener or the discovery socket are
// returned before anything is served.
func run(ctx context.Context, f *Flags, stderr io.Writer) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	logger.Info("devmon server starting", slog.String("version", version.Version))

	protoLogger, protoCloser, err := newProtocolLogger(cfg.Logging, logger)
	if err != nil {
		return err
	}
	defer protoCloser.Close()

	seed, err := cfg.SeedRecords()
	if err != nil {
		return err
	}
	reg, err := registry.New(seed)
	if err != nil {
		return err
	}
	logger.Info("registry loaded", slog.Int("devices", reg.Len()))

	port, err := cfg.Server.Port()
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(reg, dispatch.Config{Port: port, Logger: logger})

	serverCfg := transport.ServerConfig{
		Address:        cfg.Server.Address,
		Handler:        dispatcher,
		MaxFrameSize:   cfg.Server.MaxFrameSize,
		Logger:         logger,
		ProtocolLogger: protoLogger,
	}

	var m *metrics.Metrics
	if cfg.Metrics.Address != "" {
		m = metrics.New()
		m.InstrumentServer(&serverCfg)
		m.ObserveRegistry(reg)
		m.ObserveDispatcher(dispatcher)
	}

	server, err := transport.NewServer(serverCfg)
	if err != nil {
		return err
	}

	var responder *discovery.Responder
	if cfg.Discovery.Enabled {
		responder, err = discovery.NewResponder(discovery.ResponderConfig{
			Group:          cfg.Discovery.Group,
			Port:           cfg.Discovery.Port,
			Interface:      cfg.Discovery.Interface,
			Handler:        dispatcher,
			Logger:         logger,
			ProtocolLogger: protoLogger,
		})
		if err != nil {
			return err
		}
		if m != nil {
			m.ObserveResponder(responder)
		}
	}

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		pub, err := notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Addr:     cfg.Notify.Addr,
			Password: cfg.Notify.Password,
			DB:       cfg.Notify.DB,
			PoolSize: cfg.Notify.PoolSize,
			Channel:  cfg.Notify.Channel,
		})
		if err != nil {
			return err
		}
		notifier = notify.New(pub, cfg.Notify.QueueSize, logger)
		notifier.Attach(reg)
	}

	// Bind everything before serving so a busy port is a startup error.
	if err := server.Start(ctx); err != nil {
		return err
	}
	if responder != nil {
		if err := responder.Listen(); err != nil {
			server.Stop()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return server.Stop()
	})
	if responder != nil {
		g.Go(func() error {
			return responder.Serve(gctx)
		})
	}
	if cfg.Discovery.MDNS {
		announcer := discovery.NewAnnouncer(
			discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Interface: cfg.Discovery.Interface}),
			discovery.ServiceInfo{Instance: cfg.Discovery.Instance, Port: port, Devices: reg.Len()},
			logger,
		)
		g.Go(func() error {
			// DNS-SD is a convenience; the server keeps running without it.
			if err := announcer.Run(gctx); err != nil {
				logger.Warn("mDNS advertisement unavailable", slog.Any("error", err))
			}
			return nil
		})
	}
	if m != nil {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Address, logger)
		})
	}
	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", slog.Any("error", err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
