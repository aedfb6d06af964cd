// Package config loads the engine configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/systolic/internal/backend/cpu"
	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/parallel"
	"github.com/born-ml/systolic/internal/protocol"
)

// Backends.
const (
	BackendSim    = "sim"
	BackendWebGPU = "webgpu"
)

// Config is the engine configuration.
//
// Example:
//
//	backend: sim
//	devices: 4
//	poll:
//	  timeout: 500ms
//	  max_attempts: 100000
//	sim:
//	  latency: 2
type Config struct {
	Backend   string             `yaml:"backend"`   // "sim" or "webgpu"
	Images    []string           `yaml:"images"`    // One configuration image per device
	Devices   int                `yaml:"devices"`   // Simulated device count when Images is empty
	Arch      device.Arch        `yaml:"arch"`      // Datapath of simulated devices without images
	Registers device.RegisterMap `yaml:"registers"` // Register map of simulated devices without images
	Poll      Poll               `yaml:"poll"`
	Probe     Probe              `yaml:"probe"`
	Workers   int                `yaml:"workers"` // Concurrent device workers (0 = one per device)
	LogLevel  string             `yaml:"log_level"`
	Sim       Sim                `yaml:"sim"`
}

// Poll bounds the STATUS poll of one tile pass.
type Poll struct {
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`     // 0 = yield between reads
	MaxAttempts int           `yaml:"max_attempts"` // 0 = bounded by Timeout only
}

// Probe bounds the device probe at open and after a timeout.
type Probe struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// Sim configures simulated arrays.
type Sim struct {
	Latency int   `yaml:"latency"` // STATUS reads before done
	Stuck   []int `yaml:"stuck"`   // Ordinals of devices that never finish a pass
}

// Default returns the configuration used when no file is given:
// two simulated devices of the reference build.
func Default() *Config {
	return &Config{
		Backend:   BackendSim,
		Devices:   2,
		Arch:      device.DefaultArch(),
		Registers: device.DefaultRegisterMap(),
		Poll: Poll{
			Timeout: time.Second,
		},
		Probe: Probe{
			Timeout:  time.Second,
			Interval: 10 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	//nolint:gosec // G304: config path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSim:
		if len(c.Images) == 0 && c.Devices <= 0 {
			return fmt.Errorf("sim backend needs images or a positive device count")
		}
	case BackendWebGPU:
		if len(c.Images) == 0 {
			return fmt.Errorf("webgpu backend needs one image per device")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendSim, BackendWebGPU)
	}

	if err := c.Arch.Validate(); err != nil {
		return fmt.Errorf("arch: %w", err)
	}
	if err := c.Registers.Validate(); err != nil {
		return err
	}
	if c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %v", c.Poll.Timeout)
	}
	if c.Poll.Interval < 0 || c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll interval and max attempts must not be negative")
	}
	if c.Probe.Timeout <= 0 || c.Probe.Interval < 0 {
		return fmt.Errorf("probe timeout must be positive and interval not negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// DeviceCount returns the number of devices the configuration opens.
func (c *Config) DeviceCount() int {
	if len(c.Images) > 0 {
		return len(c.Images)
	}
	return c.Devices
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Protocol returns the poll bounds for tile passes.
func (c *Config) Protocol() protocol.Protocol {
	return protocol.Protocol{
		PollTimeout:     c.Poll.Timeout,
		PollInterval:    c.Poll.Interval,
		MaxPollAttempts: c.Poll.MaxAttempts,
	}
}

// Parallel returns the per-device fan-out configuration.
func (c *Config) Parallel() parallel.Config {
	cfg := parallel.DeviceConfig()
	cfg.NumWorkers = c.Workers
	return cfg
}

// DeviceOptions returns the open options for device ordinal i.
func (c *Config) DeviceOptions(i int, logger *slog.Logger) device.Options {
	return device.Options{
		Ordinal:       i,
		ProbeTimeout:  c.Probe.Timeout,
		ProbeInterval: c.Probe.Interval,
		Logger:        logger,
	}
}

// SimArray returns the simulated array configuration for device ordinal i.
func (c *Config) SimArray(i int) cpu.Config {
	return cpu.Config{
		Latency: c.Sim.Latency,
		Stuck:   slices.Contains(c.Sim.Stuck, i),
	}
}
