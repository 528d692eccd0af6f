// Package config loads the echoapp YAML configuration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-echoq/internal/constants"
)

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Exercise ExerciseConfig `yaml:"exercise"`
}

type DeviceConfig struct {
	TimerPeriod    time.Duration `yaml:"timer_period"`
	MaxWriteLength int           `yaml:"max_write_length"`
	RejectBusy     bool          `yaml:"reject_busy"`
	Dispatch       string        `yaml:"dispatch"`
	Backlog        int           `yaml:"backlog"`
	Allocator      string        `yaml:"allocator"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server
	Addr string `yaml:"addr"`
}

type ExerciseConfig struct {
	Async          bool          `yaml:"async"`
	Count          int           `yaml:"count"` // 0 runs until interrupted
	Outstanding    int           `yaml:"outstanding"`
	BufferSize     int           `yaml:"buffer_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 means three timer periods
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.TimerPeriod == 0 {
		c.Device.TimerPeriod = constants.TimerPeriod
	}
	if c.Device.MaxWriteLength == 0 {
		c.Device.MaxWriteLength = constants.MaxWriteLength
	}
	if c.Device.Dispatch == "" {
		c.Device.Dispatch = "sequential"
	}
	if c.Device.Backlog == 0 {
		c.Device.Backlog = constants.DefaultPendingBacklog
	}
	if c.Device.Allocator == "" {
		c.Device.Allocator = "heap"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Exercise.Outstanding == 0 {
		c.Exercise.Outstanding = 100
	}
	if c.Exercise.BufferSize == 0 {
		c.Exercise.BufferSize = constants.MaxWriteLength
	}
}

// Validate checks values that flags or the YAML file may have set
func (c *Config) Validate() error {
	if c.Device.TimerPeriod <= 0 {
		return fmt.Errorf("device.timer_period must be positive, got %s", c.Device.TimerPeriod)
	}
	if c.Device.MaxWriteLength <= 0 {
		return fmt.Errorf("device.max_write_length must be positive, got %d", c.Device.MaxWriteLength)
	}
	switch c.Device.Dispatch {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("device.dispatch must be sequential or parallel, got %q", c.Device.Dispatch)
	}
	if c.Device.Backlog < 0 {
		return fmt.Errorf("device.backlog must not be negative, got %d", c.Device.Backlog)
	}
	switch c.Device.Allocator {
	case "heap", "locked":
	default:
		return fmt.Errorf("device.allocator must be heap or locked, got %q", c.Device.Allocator)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Exercise.Count < 0 {
		return fmt.Errorf("exercise.count must not be negative, got %d", c.Exercise.Count)
	}
	if c.Exercise.Outstanding <= 0 {
		return fmt.Errorf("exercise.outstanding must be positive, got %d", c.Exercise.Outstanding)
	}
	if c.Exercise.BufferSize <= 0 {
		return fmt.Errorf("exercise.buffer_size must be positive, got %d", c.Exercise.BufferSize)
	}
	if c.Exercise.RequestTimeout < 0 {
		return fmt.Errorf("exercise.request_timeout must not be negative, got %s", c.Exercise.RequestTimeout)
	}
	return nil
}
