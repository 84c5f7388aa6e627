package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mbocsi/ipcpipe/broker"
	"github.com/mbocsi/ipcpipe/pipe"
	"github.com/mbocsi/ipcpipe/wifi"
)

const EnvLogLevel = "IPCPIPE_LOG_LEVEL"

var ErrInvalid = errors.New("config: invalid")

type Link struct {
	Mode     string // loopback, ws or tcp
	Listen   string // Address to accept the peer on; empty means dial
	Peer     string // Address or URL to dial
	Discover bool   // Find the peer over mDNS when Peer is empty
}

type Monitor struct {
	Addr string // Empty disables the HTTP monitor
}

type Config struct {
	Pipe        pipe.Config
	Link        Link
	Wifi        wifi.Config
	ScanPacing  time.Duration // Pause between scan result frames
	Bus         broker.Config
	Policies    map[string]broker.Policy // Bus channel policy overrides by channel name
	Monitor     Monitor
	MCP         bool
	LogLevel    slog.Level
	SimulateAPs bool          // Net core uses the simulated radio
	Sensors     time.Duration // Simulated gyro interval on the net core, zero disables
}

func Default() Config {
	p := pipe.DefaultConfig()
	return Config{
		Pipe:        p,
		Link:        Link{Mode: "loopback"},
		Wifi:        wifi.DefaultConfig(),
		ScanPacing:  2 * time.Millisecond,
		Bus:         broker.DefaultConfig(),
		Monitor:     Monitor{Addr: ":8080"},
		LogLevel:    slog.LevelInfo,
		SimulateAPs: true,
	}
}

type fileConfig struct {
	Pipe struct {
		OriginID          uint16 `toml:"origin_id"`
		QueueSize         int    `toml:"queue_size"`
		RingSize          int    `toml:"ring_size"`
		MaxRetries        int    `toml:"max_retries"`
		RetryDelay        string `toml:"retry_delay"`
		HeartbeatInterval string `toml:"heartbeat_interval"`
		Pacing            string `toml:"pacing"`
	} `toml:"pipe"`
	Link struct {
		Mode     string `toml:"mode"`
		Listen   string `toml:"listen"`
		Peer     string `toml:"peer"`
		Discover bool   `toml:"discover"`
	} `toml:"link"`
	Wifi struct {
		ReconnectInterval  string `toml:"reconnect_interval"`
		StatusPollInterval string `toml:"status_poll_interval"`
		ScanItemDelay      string `toml:"scan_item_delay"`
		CommandQueue       int    `toml:"command_queue"`
		Simulate           bool   `toml:"simulate"`
	} `toml:"wifi"`
	Bus struct {
		MaxChannels    int               `toml:"max_channels"`
		MaxSubscribers int               `toml:"max_subscribers"`
		EventPool      int               `toml:"event_pool"`
		MaxPayload     int               `toml:"max_payload"`
		ISRReserve     int               `toml:"isr_reserve"`
		DefaultTimeout string            `toml:"default_timeout"`
		Policies       map[string]string `toml:"policies"`
	} `toml:"bus"`
	Sensors struct {
		GyroInterval string `toml:"gyro_interval"`
	} `toml:"sensors"`
	Monitor struct {
		Addr string `toml:"addr"`
	} `toml:"monitor"`
	MCP struct {
		Enabled bool `toml:"enabled"`
	} `toml:"mcp"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := apply(&cfg, &raw, meta); err != nil {
			return Config{}, err
		}
	}

	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		l, err := ParseLevel(lvl)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = l
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw *fileConfig, meta toml.MetaData) error {
	var err error
	duration := func(key, value string, dst *time.Duration) {
		if err != nil || !meta.IsDefined(strings.Split(key, ".")...) {
			return
		}
		d, perr := time.ParseDuration(strings.TrimSpace(value))
		if perr != nil {
			err = fmt.Errorf("parse %s: %w", key, perr)
			return
		}
		*dst = d
	}

	if meta.IsDefined("pipe", "origin_id") {
		cfg.Pipe.OriginID = raw.Pipe.OriginID
	}
	if meta.IsDefined("pipe", "queue_size") {
		cfg.Pipe.QueueSize = raw.Pipe.QueueSize
	}
	if meta.IsDefined("pipe", "ring_size") {
		cfg.Pipe.RingSize = raw.Pipe.RingSize
	}
	if meta.IsDefined("pipe", "max_retries") {
		cfg.Pipe.MaxAttempts = raw.Pipe.MaxRetries
	}
	duration("pipe.retry_delay", raw.Pipe.RetryDelay, &cfg.Pipe.RetryDelay)
	duration("pipe.heartbeat_interval", raw.Pipe.HeartbeatInterval, &cfg.Pipe.HeartbeatInterval)
	duration("pipe.pacing", raw.Pipe.Pacing, &cfg.Pipe.Pacing)

	if meta.IsDefined("link", "mode") {
		cfg.Link.Mode = strings.ToLower(strings.TrimSpace(raw.Link.Mode))
	}
	if meta.IsDefined("link", "listen") {
		cfg.Link.Listen = strings.TrimSpace(raw.Link.Listen)
	}
	if meta.IsDefined("link", "peer") {
		cfg.Link.Peer = strings.TrimSpace(raw.Link.Peer)
	}
	if meta.IsDefined("link", "discover") {
		cfg.Link.Discover = raw.Link.Discover
	}

	duration("wifi.reconnect_interval", raw.Wifi.ReconnectInterval, &cfg.Wifi.ReconnectInterval)
	duration("wifi.status_poll_interval", raw.Wifi.StatusPollInterval, &cfg.Wifi.StatusPollInterval)
	duration("wifi.scan_item_delay", raw.Wifi.ScanItemDelay, &cfg.ScanPacing)
	if meta.IsDefined("wifi", "command_queue") {
		cfg.Wifi.QueueSize = raw.Wifi.CommandQueue
	}
	if meta.IsDefined("wifi", "simulate") {
		cfg.SimulateAPs = raw.Wifi.Simulate
	}

	if meta.IsDefined("bus", "max_channels") {
		cfg.Bus.MaxChannels = raw.Bus.MaxChannels
	}
	if meta.IsDefined("bus", "max_subscribers") {
		cfg.Bus.MaxSubscribers = raw.Bus.MaxSubscribers
	}
	if meta.IsDefined("bus", "event_pool") {
		cfg.Bus.EventPoolSize = raw.Bus.EventPool
	}
	if meta.IsDefined("bus", "max_payload") {
		cfg.Bus.MaxPayload = raw.Bus.MaxPayload
	}
	if meta.IsDefined("bus", "isr_reserve") {
		cfg.Bus.ISRReserve = raw.Bus.ISRReserve
	}
	duration("bus.default_timeout", raw.Bus.DefaultTimeout, &cfg.Bus.DefaultTimeout)
	for name, value := range raw.Bus.Policies {
		p, perr := broker.ParsePolicy(strings.ToLower(strings.TrimSpace(value)))
		if perr != nil {
			if err == nil {
				err = fmt.Errorf("%w: bus.policies.%s: %w", ErrInvalid, name, perr)
			}
			continue
		}
		if cfg.Policies == nil {
			cfg.Policies = make(map[string]broker.Policy)
		}
		cfg.Policies[name] = p
	}

	duration("sensors.gyro_interval", raw.Sensors.GyroInterval, &cfg.Sensors)

	if meta.IsDefined("monitor", "addr") {
		cfg.Monitor.Addr = strings.TrimSpace(raw.Monitor.Addr)
	}
	if meta.IsDefined("mcp", "enabled") {
		cfg.MCP = raw.MCP.Enabled
	}
	if meta.IsDefined("log", "level") && err == nil {
		cfg.LogLevel, err = ParseLevel(raw.Log.Level)
	}
	return err
}

func (c Config) Validate() error {
	switch c.Link.Mode {
	case "loopback":
	case "ws", "tcp":
		if c.Link.Listen == "" && c.Link.Peer == "" && !c.Link.Discover {
			return fmt.Errorf("%w: link mode %s needs listen, peer or discover", ErrInvalid, c.Link.Mode)
		}
	default:
		return fmt.Errorf("%w: unknown link mode %q", ErrInvalid, c.Link.Mode)
	}
	if c.Pipe.QueueSize <= 0 || c.Pipe.RingSize <= 0 || c.Pipe.MaxAttempts <= 0 {
		return fmt.Errorf("%w: pipe queue, ring and retries must be positive", ErrInvalid)
	}
	if c.Pipe.RetryDelay < 0 || c.Pipe.HeartbeatInterval < 0 || c.Pipe.Pacing < 0 {
		return fmt.Errorf("%w: negative pipe duration", ErrInvalid)
	}
	if c.Wifi.ReconnectInterval < 0 || c.Wifi.StatusPollInterval < 0 || c.ScanPacing < 0 {
		return fmt.Errorf("%w: negative wifi duration", ErrInvalid)
	}
	if c.Sensors < 0 {
		return fmt.Errorf("%w: negative sensor interval", ErrInvalid)
	}
	if c.Wifi.QueueSize <= 0 {
		return fmt.Errorf("%w: wifi command queue must be positive", ErrInvalid)
	}
	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}
