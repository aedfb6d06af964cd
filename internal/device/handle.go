package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures how a device is opened.
type Options struct {
	Ordinal       int           // Index of the device (0..N-1)
	ProbeTimeout  time.Duration // Bound on the open/re-probe window
	ProbeInterval time.Duration // Wait between failed probe reads
	Logger        *slog.Logger  // nil = slog.Default()
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:  time.Second,
		ProbeInterval: 10 * time.Millisecond,
	}
}

// Stats counts the work done by one device.
type Stats struct {
	Passes    uint64 // Completed tile passes
	PollReads uint64 // STATUS reads across all passes
	Timeouts  uint64 // Passes that exceeded the poll bound
	Reprobes  uint64 // Probes after a timeout
}

// Handle represents one accelerator attached to the host.
//
// A Handle is created once by Open and lives for the process lifetime.
// Tile passes are serialised with Acquire/Release: the register protocol
// is a hard state machine and two overlapping passes would corrupt the
// operand registers.
type Handle struct {
	ordinal int
	session uuid.UUID
	arch    Arch
	regs    RegisterMap
	image   *Image
	bus     Bus
	buffers *BufferPool
	opts    Options
	logger  *slog.Logger

	sem chan struct{} // capacity 1: exclusive ownership of the register window

	healthy atomic.Bool
	errMu   sync.Mutex
	lastErr error

	passes    atomic.Uint64
	pollReads atomic.Uint64
	timeouts  atomic.Uint64
	reprobes  atomic.Uint64
}

// Open binds bus to one accelerator: it loads img onto the device and
// probes the STATUS register until it answers or opts.ProbeTimeout elapses.
//
// Failures wrap ErrDeviceUnavailable.
func Open(ctx context.Context, img *Image, bus Bus, opts Options) (*Handle, error) {
	if img == nil {
		return nil, &Error{Ordinal: opts.Ordinal, Op: "open", Err: fmt.Errorf("%w: no configuration image", ErrDeviceUnavailable)}
	}
	defaults := DefaultOptions()
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaults.ProbeTimeout
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaults.ProbeInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handle{
		ordinal: opts.Ordinal,
		session: uuid.New(),
		arch:    img.Arch(),
		regs:    img.Registers(),
		image:   img,
		bus:     bus,
		buffers: NewBufferPool(),
		opts:    opts,
		sem:     make(chan struct{}, 1),
	}
	h.logger = logger.With("device", h.ordinal, "session", h.session.String())

	if err := bus.Configure(img); err != nil {
		_ = bus.Close()
		return nil, &Error{Ordinal: h.ordinal, Op: "configure", Err: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)}
	}
	if err := h.probe(ctx); err != nil {
		_ = bus.Close()
		return nil, err
	}

	h.healthy.Store(true)
	h.logger.Debug("device opened",
		"image", img.Header.Name,
		"tile_size", h.arch.TileSize,
		"operand_bits", h.arch.OperandBits)
	return h, nil
}

// Ordinal returns the device index.
func (h *Handle) Ordinal() int {
	return h.ordinal
}

// Session returns the identifier assigned when the device was opened.
func (h *Handle) Session() uuid.UUID {
	return h.session
}

// Arch returns the datapath of the loaded build.
func (h *Handle) Arch() Arch {
	return h.arch
}

// Registers returns the register address table of the loaded build.
func (h *Handle) Registers() RegisterMap {
	return h.regs
}

// Image returns the configuration image loaded onto the device.
func (h *Handle) Image() *Image {
	return h.image
}

// Buffers returns the device's transfer buffer pool.
func (h *Handle) Buffers() *BufferPool {
	return h.buffers
}

// Logger returns the device-scoped logger.
func (h *Handle) Logger() *slog.Logger {
	return h.logger
}

// Acquire takes exclusive ownership of the register window, waiting
// until the current owner releases it or ctx is done.
func (h *Handle) Acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up ownership taken by Acquire.
func (h *Handle) Release() {
	<-h.sem
}

// WriteRegister writes data at the register offset.
func (h *Handle) WriteRegister(offset uint32, data []byte) error {
	return h.bus.WriteRegister(offset, data)
}

// ReadRegister reads n bytes from the register offset.
func (h *Handle) ReadRegister(offset uint32, n int) ([]byte, error) {
	dst := make([]byte, n)
	if err := h.bus.ReadRegister(offset, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// ReadRegisterInto fills dst from the register offset.
func (h *Handle) ReadRegisterInto(offset uint32, dst []byte) error {
	return h.bus.ReadRegister(offset, dst)
}

// WriteControl writes a 32-bit little-endian value to CONTROL.
func (h *Handle) WriteControl(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return h.bus.WriteRegister(h.regs.Control, buf[:])
}

// ReadStatus reads the 32-bit little-endian STATUS register.
func (h *Handle) ReadStatus() (uint32, error) {
	var buf [4]byte
	if err := h.bus.ReadRegister(h.regs.Status, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Probe checks that the device answers within the probe window and
// restores it to the healthy set on success. It holds the register window
// like a pass does, so it never reads STATUS in the middle of another pass.
func (h *Handle) Probe(ctx context.Context) error {
	if err := h.Acquire(ctx); err != nil {
		return err
	}
	defer h.Release()

	h.reprobes.Add(1)
	if err := h.probe(ctx); err != nil {
		h.MarkUnhealthy(err)
		return err
	}
	h.healthy.Store(true)
	return nil
}

func (h *Handle) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.ProbeTimeout)
	defer cancel()

	var lastErr error
	for {
		_, err := h.ReadStatus()
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return &Error{Ordinal: h.ordinal, Op: "probe",
				Err: fmt.Errorf("%w: no response within %v: %w", ErrDeviceUnavailable, h.opts.ProbeTimeout, lastErr)}
		case <-time.After(h.opts.ProbeInterval):
		}
	}
}

// Healthy reports whether the device may be scheduled.
func (h *Handle) Healthy() bool {
	return h.healthy.Load()
}

// MarkUnhealthy excludes the device from scheduling until a successful Probe.
func (h *Handle) MarkUnhealthy(err error) {
	h.errMu.Lock()
	h.lastErr = err
	h.errMu.Unlock()

	if h.healthy.Swap(false) {
		h.logger.Warn("device marked unhealthy", "err", err)
	}
}

// Err returns the error that last marked the device unhealthy.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.lastErr
}

// RecordPass counts one completed tile pass and the STATUS reads it took.
func (h *Handle) RecordPass(pollReads int) {
	h.passes.Add(1)
	h.pollReads.Add(uint64(pollReads)) //nolint:gosec // G115: poll count is non-negative
}

// RecordTimeout counts one pass that exceeded the poll bound.
func (h *Handle) RecordTimeout(pollReads int) {
	h.timeouts.Add(1)
	h.pollReads.Add(uint64(pollReads)) //nolint:gosec // G115: poll count is non-negative
}

// Stats returns a snapshot of the device counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Passes:    h.passes.Load(),
		PollReads: h.pollReads.Load(),
		Timeouts:  h.timeouts.Load(),
		Reprobes:  h.reprobes.Load(),
	}
}

// Close releases the bus and drops pooled buffers. The image stays
// owned by the caller.
func (h *Handle) Close() error {
	h.healthy.Store(false)
	h.buffers.Clear()
	return h.bus.Close()
}
