// Package config loads and validates the LabLink streaming daemon
// configuration from a JSON file, with environment overrides for
// deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/errors"
	"github.com/X9X0/LabLink-sub003/recorder"
	"github.com/X9X0/LabLink-sub003/stream"
)

// Config is the full daemon configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Metrics   MetricsConfig   `json:"metrics"`
	Stream    StreamConfig    `json:"stream"`
	Recording RecordingConfig `json:"recording"`
	NATS      NATSConfig      `json:"nats"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig configures the WebSocket gateway
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Path is the WebSocket endpoint path
	Path string `json:"path"`
	// WriteTimeoutSeconds bounds each frame write
	WriteTimeoutSeconds int `json:"write_timeout_seconds"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// StreamConfig configures per-connection backpressure and the send loop
type StreamConfig struct {
	Backpressure    stream.BackpressureConfig `json:"backpressure"`
	RetryIntervalMS int                       `json:"retry_interval_ms"`
}

// RecordingConfig configures the stream recorder
type RecordingConfig struct {
	Directory         string `json:"directory"`
	Format            string `json:"format"`
	Compress          bool   `json:"compress"`
	IncludeTimestamps bool   `json:"include_timestamps"`
	MaxFileSizeMB     int    `json:"max_file_size_mb"`
}

// NATSConfig configures the optional NATS ingest bridge
type NATSConfig struct {
	Enabled              bool     `json:"enabled"`
	URL                  string   `json:"url"`
	Name                 string   `json:"name"`
	Subjects             []string `json:"subjects"`
	Priority             string   `json:"priority"`
	Compression          string   `json:"compression"`
	MaxReconnects        int      `json:"max_reconnects"`
	ReconnectWaitSeconds int      `json:"reconnect_wait_seconds"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level"`
	// Format is json or text
	Format string `json:"format"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			Path:                "/ws",
			WriteTimeoutSeconds: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9090,
		},
		Stream: StreamConfig{
			Backpressure:    stream.DefaultBackpressureConfig(),
			RetryIntervalMS: 10,
		},
		Recording: RecordingConfig{
			Directory:         "recordings",
			Format:            "jsonl",
			IncludeTimestamps: true,
			MaxFileSizeMB:     100,
		},
		NATS: NATSConfig{
			Enabled:              false,
			URL:                  "nats://localhost:4222",
			Name:                 "lablink",
			Subjects:             []string{"lab.equipment.>"},
			Priority:             "normal",
			Compression:          "none",
			MaxReconnects:        -1,
			ReconnectWaitSeconds: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile reads a JSON config file over the defaults and applies
// environment overrides. An empty path returns defaults plus overrides.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapFatal(err, "config", "LoadFile", "read config file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "LoadFile", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific fields from the environment
func (c *Config) applyEnv() {
	if url := os.Getenv("LABLINK_NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	if dir := os.Getenv("LABLINK_RECORDING_DIR"); dir != "" {
		c.Recording.Directory = dir
	}
	if level := os.Getenv("LABLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks all sections for usable values
func (c *Config) Validate() error {
	if err := validPort(c.Server.Port); err != nil {
		return errors.WrapInvalid(err, "config", "Validate", "server port")
	}
	if c.Server.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "server path")
	}
	if c.Metrics.Enabled {
		if err := validPort(c.Metrics.Port); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", "metrics port")
		}
		if c.Metrics.Port == c.Server.Port {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "metrics port equals server port")
		}
	}

	bp := c.Stream.Backpressure
	if bp.MaxQueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "max_queue_size must be positive")
	}
	if bp.WarningThreshold < 0 || bp.WarningThreshold > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "warning_threshold must be in [0,1]")
	}
	if bp.RateLimitEnabled {
		if bp.MessagesPerSecond <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "messages_per_second must be positive")
		}
		if bp.BurstSize < 1 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "burst_size must be at least 1")
		}
	}
	if c.Stream.RetryIntervalMS <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "retry_interval_ms must be positive")
	}

	if _, err := recorder.ParseFormat(c.Recording.Format); err != nil {
		return err
	}
	if c.Recording.MaxFileSizeMB < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "max_file_size_mb must not be negative")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats url")
		}
		if len(c.NATS.Subjects) == 0 {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats subjects")
		}
		if _, err := stream.ParsePriority(c.NATS.Priority); err != nil {
			return err
		}
		if _, err := compress.ParseKind(c.NATS.Compression); err != nil {
			return err
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "unknown log level "+c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "unknown log format "+c.Logging.Format)
	}

	return nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range: %w", port, errors.ErrInvalidConfig)
	}
	return nil
}

// RecorderOptions converts the recording section for the recorder package
func (c *Config) RecorderOptions() recorder.Options {
	format, _ := recorder.ParseFormat(c.Recording.Format)
	return recorder.Options{
		Directory:         c.Recording.Directory,
		Format:            format,
		Compress:          c.Recording.Compress,
		IncludeTimestamps: c.Recording.IncludeTimestamps,
		MaxFileSizeMB:     c.Recording.MaxFileSizeMB,
	}
}

// RetryInterval returns the send loop retry interval as a duration
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Stream.RetryIntervalMS) * time.Millisecond
}

// ServerAddr returns the gateway listen address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MetricsAddr returns the metrics listen address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Metrics.Host, c.Metrics.Port)
}
