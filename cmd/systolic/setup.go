package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/born-ml/systolic/internal/backend/cpu"
	"github.com/born-ml/systolic/internal/backend/webgpu"
	"github.com/born-ml/systolic/internal/config"
	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/matmul"
	"github.com/tebeka/atexit"
)

// session is everything a command needs to multiply on devices.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	images  []*device.Image
	devices []*device.Handle
	engine  *matmul.Engine
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// openSession opens every configured device and builds the engine.
// Devices and images are closed by an exit hook.
func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger}
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	atexit.Register(s.Close)

	s.engine, err = matmul.New(s.devices,
		matmul.WithLogger(logger),
		matmul.WithProtocol(cfg.Protocol()),
		matmul.WithParallel(cfg.Parallel()))
	if err != nil {
		return nil, err
	}
	logger.Info("devices ready",
		"backend", cfg.Backend,
		"devices", len(s.devices),
		"tile_size", s.engine.Arch().TileSize,
		"operand_limit", s.engine.OperandLimit())
	return s, nil
}

func (s *session) open(ctx context.Context) error {
	if err := s.loadImages(); err != nil {
		return err
	}

	for i := 0; i < s.cfg.DeviceCount(); i++ {
		img := s.images[min(i, len(s.images)-1)]
		opts := s.cfg.DeviceOptions(i, s.logger)

		var (
			h   *device.Handle
			err error
		)
		switch s.cfg.Backend {
		case config.BackendSim:
			h, _, err = cpu.Open(ctx, img, s.cfg.SimArray(i), opts)
		case config.BackendWebGPU:
			h, err = openWebGPU(ctx, img, opts)
		default:
			err = fmt.Errorf("unknown backend %q", s.cfg.Backend)
		}
		if err != nil {
			return err
		}
		s.devices = append(s.devices, h)
	}
	return nil
}

// loadImages loads one image per configured path. A simulated backend
// without paths shares a single in-memory image built from the config.
func (s *session) loadImages() error {
	if len(s.cfg.Images) == 0 {
		img, err := cpu.NewImageWithRegisters(s.cfg.Arch, s.cfg.Registers)
		if err != nil {
			return err
		}
		s.images = []*device.Image{img}
		return nil
	}

	for _, path := range s.cfg.Images {
		img, err := device.LoadImage(path)
		if err != nil {
			return err
		}
		s.images = append(s.images, img)
	}
	return nil
}

func openWebGPU(ctx context.Context, img *device.Image, opts device.Options) (*device.Handle, error) {
	bus, err := webgpu.New()
	if err != nil {
		return nil, &device.Error{Ordinal: opts.Ordinal, Op: "open", Err: fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)}
	}
	return device.Open(ctx, img, bus, opts)
}

// Close releases devices and images. It is safe to call more than once.
func (s *session) Close() {
	var errs []error
	for _, h := range s.devices {
		errs = append(errs, h.Close())
	}
	for _, img := range s.images {
		errs = append(errs, img.Close())
	}
	s.devices, s.images = nil, nil
	if err := errors.Join(errs...); err != nil && s.logger != nil {
		s.logger.Warn("shutdown", "error", err)
	}
}

// logStats reports per-device counters at debug level.
func (s *session) logStats() {
	for _, h := range s.devices {
		st := h.Stats()
		s.logger.Debug("device stats",
			"device", h.Ordinal(),
			"healthy", h.Healthy(),
			"passes", st.Passes,
			"poll_reads", st.PollReads,
			"timeouts", st.Timeouts,
			"reprobes", st.Reprobes)
	}
}
