package device

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus answers STATUS reads with a fixed value and records writes.
type fakeBus struct {
	mu           sync.Mutex
	status       uint32
	failReads    bool
	failConfig   bool
	reads        int
	writes       map[uint32][]byte
	closed       bool
	configuredAs string
}

func newFakeBus() *fakeBus {
	return &fakeBus{writes: make(map[uint32][]byte)}
}

func (b *fakeBus) Configure(img *Image) error {
	if b.failConfig {
		return errors.New("bitstream rejected")
	}
	b.configuredAs = img.Header.Name
	return nil
}

func (b *fakeBus) WriteRegister(offset uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes[offset] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBus) ReadRegister(_ uint32, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.failReads {
		return errors.New("no response")
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], b.status)
	copy(dst, buf[:])
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func testImage(t *testing.T) *Image {
	t.Helper()
	img, err := NewImage(ImageHeader{
		Name:      "systolic_array",
		Arch:      DefaultArch(),
		Registers: DefaultRegisterMap(),
	}, []byte("bitstream"))
	require.NoError(t, err)
	return img
}

func fastOptions() Options {
	return Options{ProbeTimeout: 50 * time.Millisecond, ProbeInterval: time.Millisecond}
}

func TestArch(t *testing.T) {
	a := DefaultArch()
	require.NoError(t, a.Validate())
	assert.Equal(t, 2, a.OperandBytes())
	assert.Equal(t, 32, a.OperandTileBytes())
	assert.Equal(t, 64, a.ResultTileBytes())

	tests := []struct {
		name string
		arch Arch
	}{
		{"zero tile", Arch{TileSize: 0, OperandBits: 16, AccumulatorBits: 32}},
		{"odd operand width", Arch{TileSize: 4, OperandBits: 12, AccumulatorBits: 32}},
		{"wide accumulator", Arch{TileSize: 4, OperandBits: 16, AccumulatorBits: 64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.arch.Validate())
		})
	}
}

func TestRegisterMap_Validate(t *testing.T) {
	regs := DefaultRegisterMap()
	require.NoError(t, regs.Validate())
	assert.Equal(t, regs.Control, regs.Status, "control and status share an offset in the reference build")

	aliased := regs
	aliased.Activations = aliased.Weights
	assert.Error(t, aliased.Validate())

	overControl := regs
	overControl.Result = overControl.Control
	assert.Error(t, overControl.Validate())
}

func TestImage_WriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "array.img")
	header := ImageHeader{
		Name:      "systolic_array",
		Build:     "rev-b",
		Arch:      DefaultArch(),
		Registers: DefaultRegisterMap(),
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, WriteImage(path, header, payload))

	img, err := LoadImage(path)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, "rev-b", img.Header.Build)
	assert.Equal(t, payload, img.Payload())
	assert.Equal(t, DefaultArch(), img.Arch())
	assert.Equal(t, DefaultRegisterMap(), img.Registers())
	assert.Equal(t, int64(4), img.Header.PayloadSize)

	require.NoError(t, img.Close())
	require.NoError(t, img.Close())
}

func TestLoadImage_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadImage(filepath.Join(dir, "absent.img"))
		assert.ErrorIs(t, err, ErrDeviceUnavailable)
	})

	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(dir, "magic.img")
		require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))
		_, err := LoadImage(path)
		assert.ErrorIs(t, err, ErrDeviceUnavailable)

		var imgErr *ImageError
		require.ErrorAs(t, err, &imgErr)
		assert.Equal(t, "bad_magic", imgErr.Type)
	})

	t.Run("corrupted payload", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.img")
		require.NoError(t, WriteImage(path, ImageHeader{
			Name: "systolic_array", Arch: DefaultArch(), Registers: DefaultRegisterMap(),
		}, []byte("bitstream")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)-1] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0o600))

		_, err = LoadImage(path)
		var imgErr *ImageError
		require.ErrorAs(t, err, &imgErr)
		assert.Equal(t, "checksum_mismatch", imgErr.Type)
	})
}

func TestNewImage_RejectsBadArch(t *testing.T) {
	_, err := NewImage(ImageHeader{Arch: Arch{TileSize: 4, OperandBits: 7, AccumulatorBits: 32}, Registers: DefaultRegisterMap()}, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool()

	b1 := p.Acquire(32)
	assert.Len(t, b1.Bytes(), 32)
	b1.Bytes()[0] = 7
	assert.Equal(t, 1, p.Outstanding())

	b1.Release()
	b1.Release()
	assert.Equal(t, 0, p.Outstanding())

	b2 := p.Acquire(32)
	assert.Equal(t, byte(0), b2.Bytes()[0], "reused buffer must be zeroed")
	b2.Release()

	allocated, released, hits, misses, pooled := p.Stats()
	assert.Equal(t, uint64(1), allocated)
	assert.Equal(t, uint64(2), released)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, pooled)

	p.Clear()
	_, _, _, _, pooled = p.Stats()
	assert.Equal(t, 0, pooled)
}

func TestOpen(t *testing.T) {
	bus := newFakeBus()
	opts := fastOptions()
	opts.Ordinal = 3

	h, err := Open(context.Background(), testImage(t), bus, opts)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 3, h.Ordinal())
	assert.True(t, h.Healthy())
	assert.NotEqual(t, h.Session().String(), "")
	assert.Equal(t, "systolic_array", bus.configuredAs)
	assert.Equal(t, DefaultTileSize, h.Arch().TileSize)
}

func TestOpen_Failures(t *testing.T) {
	t.Run("no image", func(t *testing.T) {
		_, err := Open(context.Background(), nil, newFakeBus(), fastOptions())
		assert.ErrorIs(t, err, ErrDeviceUnavailable)
	})

	t.Run("configure rejected", func(t *testing.T) {
		bus := newFakeBus()
		bus.failConfig = true
		_, err := Open(context.Background(), testImage(t), bus, fastOptions())
		assert.ErrorIs(t, err, ErrDeviceUnavailable)
		assert.True(t, bus.closed)
	})

	t.Run("probe times out", func(t *testing.T) {
		bus := newFakeBus()
		bus.failReads = true
		_, err := Open(context.Background(), testImage(t), bus, fastOptions())
		assert.ErrorIs(t, err, ErrDeviceUnavailable)

		var devErr *Error
		require.ErrorAs(t, err, &devErr)
		assert.Equal(t, "probe", devErr.Op)
		assert.True(t, bus.closed)
	})
}

func TestHandle_Health(t *testing.T) {
	bus := newFakeBus()
	h, err := Open(context.Background(), testImage(t), bus, fastOptions())
	require.NoError(t, err)

	h.MarkUnhealthy(ErrDeviceTimeout)
	assert.False(t, h.Healthy())
	assert.ErrorIs(t, h.Err(), ErrDeviceTimeout)

	bus.mu.Lock()
	bus.failReads = true
	bus.mu.Unlock()
	assert.Error(t, h.Probe(context.Background()))
	assert.False(t, h.Healthy())

	bus.mu.Lock()
	bus.failReads = false
	bus.mu.Unlock()
	require.NoError(t, h.Probe(context.Background()))
	assert.True(t, h.Healthy())
	assert.Equal(t, uint64(2), h.Stats().Reprobes)
}

func TestHandle_AcquireRespectsContext(t *testing.T) {
	h, err := Open(context.Background(), testImage(t), newFakeBus(), fastOptions())
	require.NoError(t, err)

	require.NoError(t, h.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Acquire(ctx), context.DeadlineExceeded)

	h.Release()
	require.NoError(t, h.Acquire(context.Background()))
	h.Release()
}

func TestHandle_ProbeWaitsForOwner(t *testing.T) {
	bus := newFakeBus()
	h, err := Open(context.Background(), testImage(t), bus, fastOptions())
	require.NoError(t, err)

	readCount := func() int {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.reads
	}
	opened := readCount()

	require.NoError(t, h.Acquire(context.Background()))
	done := make(chan error, 1)
	go func() {
		done <- h.Probe(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("Probe returned %v while another owner held the device", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, opened, readCount(), "no STATUS read while the device is owned")

	h.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Probe did not resume after Release")
	}
	assert.Greater(t, readCount(), opened)
	assert.True(t, h.Healthy())

	// Probe gives the window back.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Acquire(ctx))
	h.Release()
}

func TestHandle_ProbeCancelledWhileOwned(t *testing.T) {
	h, err := Open(context.Background(), testImage(t), newFakeBus(), fastOptions())
	require.NoError(t, err)
	require.NoError(t, h.Acquire(context.Background()))
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Probe(ctx), context.DeadlineExceeded)
	assert.True(t, h.Healthy(), "a cancelled probe does not change health")
}

func TestHandle_ControlAndStatus(t *testing.T) {
	bus := newFakeBus()
	bus.status = 0x2
	h, err := Open(context.Background(), testImage(t), bus, fastOptions())
	require.NoError(t, err)

	require.NoError(t, h.WriteControl(1))
	assert.Equal(t, []byte{1, 0, 0, 0}, bus.writes[h.Registers().Control])

	status, err := h.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2), status)

	h.RecordPass(3)
	h.RecordTimeout(10)
	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.Passes)
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, uint64(13), stats.PollReads)
}

func TestError_Format(t *testing.T) {
	err := &Error{Ordinal: 1, Op: "poll", Tile: "(0,4)", Err: ErrDeviceTimeout}
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Contains(t, err.Error(), "device 1")
	assert.Contains(t, err.Error(), "tile (0,4)")
}
