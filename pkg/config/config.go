// Package config loads the devmon server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/devmon-project/devmon-go/pkg/device"
	"github.com/devmon-project/devmon-go/pkg/discovery"
	"github.com/devmon-project/devmon-go/pkg/tlv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// ServerConfig contains TCP listener configuration.
type ServerConfig struct {
	Address      string `yaml:"address"`
	MaxFrameSize int    `yaml:"max_frame_size"`
}

// DiscoveryConfig contains multicast and DNS-SD discovery configuration.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Group     string `yaml:"group"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
	MDNS      bool   `yaml:"mdns"`
	Instance  string `yaml:"instance"`
}

// MetricsConfig contains the Prometheus endpoint configuration. An empty
// address disables the endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// NotifyConfig contains the Redis change publisher configuration.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	Channel   string `yaml:"channel"`
	QueueSize int    `yaml:"queue_size"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ProtocolLog string `yaml:"protocol_log"`
}

// DeviceConfig is one entry of the seed device set.
type DeviceConfig struct {
	ID          uint32  `yaml:"id"`
	Temperature float32 `yaml:"temperature"`
	Battery     uint8   `yaml:"battery"`
	Status      string  `yaml:"status"`
}

// Default returns the built-in configuration: TCP on :5001, discovery on
// 239.0.0.1:5000 and the five default devices.
func Default() *Config {
	seed := device.DefaultSeed()
	devices := make([]DeviceConfig, len(seed))
	for i, rec := range seed {
		devices[i] = DeviceConfig{
			ID:          rec.ID,
			Temperature: rec.Temperature,
			Battery:     rec.Battery,
			Status:      rec.Status.String(),
		}
	}

	return &Config{
		Server: ServerConfig{
			Address:      ":5001",
			MaxFrameSize: tlv.DefaultMaxFrameSize,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Group:   discovery.DefaultGroup,
			Port:    discovery.DefaultPort,
		},
		Notify: NotifyConfig{
			Addr:      "localhost:6379",
			PoolSize:  4,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Devices: devices,
	}
}

// Load reads the configuration file at path. Values absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server: %w", ErrInvalid, err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("%w: discovery: %w", ErrInvalid, err)
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("%w: notify: %w", ErrInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalid, err)
	}
	if _, err := c.SeedRecords(); err != nil {
		return fmt.Errorf("%w: devices: %w", ErrInvalid, err)
	}
	return nil
}

// Validate validates the listener configuration.
func (s *ServerConfig) Validate() error {
	if _, err := s.Port(); err != nil {
		return err
	}
	if s.MaxFrameSize < 1 || s.MaxFrameSize > tlv.MaxValueSize {
		return fmt.Errorf("max_frame_size must be between 1 and %d, got %d", tlv.MaxValueSize, s.MaxFrameSize)
	}
	return nil
}

// Port returns the TCP port from Address.
func (s *ServerConfig) Port() (uint16, error) {
	_, portStr, err := net.SplitHostPort(s.Address)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s.Address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("address %q: port must be between 1 and 65535", s.Address)
	}
	return uint16(port), nil
}

// Validate validates discovery configuration.
func (d *DiscoveryConfig) Validate() error {
	if !d.Enabled && !d.MDNS {
		return nil
	}
	if ip := net.ParseIP(d.Group).To4(); ip == nil {
		return fmt.Errorf("group %q is not an IPv4 address", d.Group)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	return nil
}

// Validate validates notify configuration.
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if n.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", n.QueueSize)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	if _, err := l.SlogLevel(); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
}

// SlogLevel returns the configured level.
func (l *LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("level %q: %w", l.Level, err)
	}
	return level, nil
}

// SeedRecords converts the device list to registry records. IDs must be
// unique, battery levels at most 100 and the list no longer than
// device.MaxRecords.
func (c *Config) SeedRecords() ([]device.Record, error) {
	if len(c.Devices) > device.MaxRecords {
		return nil, fmt.Errorf("%d devices exceed the limit of %d", len(c.Devices), device.MaxRecords)
	}
	seen := make(map[uint32]bool, len(c.Devices))
	records := make([]device.Record, 0, len(c.Devices))
	for i, d := range c.Devices {
		if seen[d.ID] {
			return nil, fmt.Errorf("device %d: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if d.Battery > 100 {
			return nil, fmt.Errorf("device %d: battery must be at most 100, got %d", d.ID, d.Battery)
		}
		status, err := device.ParseStatus(d.Status)
		if err != nil {
			return nil, fmt.Errorf("device %d (entry %d): %w", d.ID, i, err)
		}
		records = append(records, device.Record{
			ID:          d.ID,
			Temperature: d.Temperature,
			Battery:     d.Battery,
			Status:      status,
		})
	}
	return records, nil
}
