package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/smira/go-statsd/v2"
)

// Config holds statsd-emit settings after flags and config file are merged.
type Config struct {
	Addr          string
	Prefix        string
	DNSServer     string
	Timeout       time.Duration
	MaxPacketSize int
}

// DefaultConfig returns settings used when neither flags nor file set a value.
func DefaultConfig() Config {
	return Config{
		Addr:          fmt.Sprintf("%s:%d", statsd.DefaultHost, statsd.DefaultPort),
		Timeout:       2 * time.Second,
		MaxPacketSize: statsd.DefaultMaxPacketSize,
	}
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Addr          string `toml:"addr"`
	Prefix        string `toml:"prefix"`
	DNSServer     string `toml:"dns_server"`
	Timeout       string `toml:"timeout"`
	MaxPacketSize int    `toml:"max_packet_size"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.statsd-emit.toml, or empty string if home is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".statsd-emit.toml")
	}
	return ""
}

// ApplyFileConfig copies file values into cfg unless the matching flag was set explicitly.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	if fc.Addr != "" && !changed["addr"] {
		cfg.Addr = fc.Addr
	}
	if fc.Prefix != "" && !changed["prefix"] {
		cfg.Prefix = fc.Prefix
	}
	if fc.DNSServer != "" && !changed["dns-server"] {
		cfg.DNSServer = fc.DNSServer
	}
	if fc.MaxPacketSize > 0 && !changed["max-packet-size"] {
		cfg.MaxPacketSize = fc.MaxPacketSize
	}
	if fc.Timeout != "" && !changed["timeout"] {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	return nil
}

// ClientOptions converts settings into statsd client options.
func (c Config) ClientOptions(log zerolog.Logger) []statsd.Option {
	opts := []statsd.Option{
		statsd.MetricPrefix(c.Prefix),
		statsd.MaxPacketSize(c.MaxPacketSize),
		statsd.ReportInterval(0),
		statsd.Logger(statsd.ZerologLogger(log)),
	}
	if c.DNSServer != "" {
		opts = append(opts, statsd.DNSServer(c.DNSServer))
	}
	if c.Timeout > 0 {
		opts = append(opts, statsd.ResolveTimeout(c.Timeout))
	}
	return opts
}
