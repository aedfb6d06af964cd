package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/born-ml/systolic/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendSim, cfg.Backend)
	assert.Equal(t, 2, cfg.DeviceCount())
	assert.Equal(t, device.DefaultArch(), cfg.Arch)
	assert.Equal(t, time.Second, cfg.Protocol().PollTimeout)
	assert.Equal(t, 0, cfg.Parallel().NumWorkers)
	assert.True(t, cfg.Parallel().Enabled)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: sim
devices: 4
arch:
  tile_size: 8
  operand_bits: 8
  accumulator_bits: 32
poll:
  timeout: 250ms
  interval: 1ms
  max_attempts: 5000
probe:
  timeout: 2s
workers: 2
log_level: debug
sim:
  latency: 3
  stuck: [1]
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.DeviceCount())
	assert.Equal(t, 8, cfg.Arch.TileSize)

	p := cfg.Protocol()
	assert.Equal(t, 250*time.Millisecond, p.PollTimeout)
	assert.Equal(t, time.Millisecond, p.PollInterval)
	assert.Equal(t, 5000, p.MaxPollAttempts)

	opts := cfg.DeviceOptions(3, nil)
	assert.Equal(t, 3, opts.Ordinal)
	assert.Equal(t, 2*time.Second, opts.ProbeTimeout)
	assert.Equal(t, 10*time.Millisecond, opts.ProbeInterval, "unset keys keep defaults")

	assert.Equal(t, 2, cfg.Parallel().NumWorkers)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	assert.False(t, cfg.SimArray(0).Stuck)
	assert.True(t, cfg.SimArray(1).Stuck)
	assert.Equal(t, 3, cfg.SimArray(1).Latency)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "backend: sim\nturbo: true\n"},
		{"unknown backend", "backend: fpga\n"},
		{"webgpu without images", "backend: webgpu\n"},
		{"no devices", "devices: 0\n"},
		{"bad arch", "arch: {tile_size: 4, operand_bits: 12, accumulator_bits: 32}\n"},
		{"aliased registers", "registers: {control: 0, status: 0, weights: 16, activations: 16, result: 48, start_value: 1, done_mask: 2}\n"},
		{"zero poll timeout", "poll: {timeout: 0s}\n"},
		{"negative workers", "workers: -1\n"},
		{"bad log level", "log_level: loud\n"},
		{"bad duration", "poll: {timeout: soon}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: sim\nimages: [a.img, b.img, c.img]\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DeviceCount())

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
