package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/systolic/internal/backend/cpu"
	"github.com/born-ml/systolic/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSim(t *testing.T, cfg cpu.Config) (*device.Handle, *cpu.Array) {
	t.Helper()
	img, err := cpu.NewImage(device.DefaultArch())
	require.NoError(t, err)
	h, arr, err := cpu.Open(context.Background(), img, cfg, device.Options{
		ProbeTimeout:  50 * time.Millisecond,
		ProbeInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, arr
}

func fill(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPass(t *testing.T) {
	h, arr := openSim(t, cpu.Config{Latency: 2})

	w := fill(16, 0)
	for i := 0; i < 4; i++ {
		w[i*4+i] = 3 // 3·I
	}
	x := make([]int16, 16)
	for i := range x {
		x[i] = int16(i - 8)
	}

	got, err := Default().Pass(context.Background(), h, w, x)
	require.NoError(t, err)

	// C[r][c] = 3 * X[r][c] = 3 * x[c*4+r].
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			assert.Equal(t, int32(3*x[c*4+r]), got[r*4+c], "C[%d][%d]", r, c)
		}
	}

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.Passes)
	assert.Equal(t, uint64(3), stats.PollReads)
	assert.Equal(t, 1, arr.Passes())
	assert.Equal(t, 0, arr.Violations())
	assert.Equal(t, 0, h.Buffers().Outstanding())
}

func TestPass_Timeout(t *testing.T) {
	h, _ := openSim(t, cpu.Config{Stuck: true})
	p := Protocol{PollTimeout: time.Second, MaxPollAttempts: 25}

	_, err := p.Pass(context.Background(), h, fill(16, 1), fill(16, 1))
	require.ErrorIs(t, err, device.ErrDeviceTimeout)

	var devErr *device.Error
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "poll", devErr.Op)

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, uint64(25), stats.PollReads)
	assert.Equal(t, uint64(0), stats.Passes)
	assert.Equal(t, 0, h.Buffers().Outstanding(), "buffers must be released on failure")
}

func TestPass_DeadlineWithInterval(t *testing.T) {
	h, _ := openSim(t, cpu.Config{Stuck: true})
	p := Protocol{PollTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond}

	start := time.Now()
	_, err := p.Pass(context.Background(), h, fill(16, 1), fill(16, 1))
	assert.ErrorIs(t, err, device.ErrDeviceTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPass_ContextCancelled(t *testing.T) {
	h, _ := openSim(t, cpu.Config{Stuck: true})
	p := Protocol{PollTimeout: time.Minute, PollInterval: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Pass(ctx, h, fill(16, 1), fill(16, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.Buffers().Outstanding())
}

func TestPass_OverflowRejectedBeforeWrite(t *testing.T) {
	h, arr := openSim(t, cpu.Config{})

	_, err := Default().Pass(context.Background(), h, fill(16, 23171), fill(16, 1))
	assert.ErrorIs(t, err, ErrOverflowRisk)
	assert.Equal(t, 0, arr.Passes())

	_, err = Default().Pass(context.Background(), h, fill(16, 23170), fill(16, -23170))
	require.NoError(t, err)
}

func TestPass_WrongTileSize(t *testing.T) {
	h, _ := openSim(t, cpu.Config{})
	_, err := Default().Pass(context.Background(), h, fill(9, 1), fill(16, 1))
	assert.Error(t, err)
}

func TestPass_ReadFailure(t *testing.T) {
	h, arr := openSim(t, cpu.Config{})
	arr.SetUnresponsive(true)

	_, err := Default().Pass(context.Background(), h, fill(16, 1), fill(16, 1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, device.ErrDeviceTimeout)
	assert.Equal(t, 0, h.Buffers().Outstanding())
}

func TestPass_SerialisedOnOneDevice(t *testing.T) {
	h, arr := openSim(t, cpu.Config{Latency: 3})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v int16) {
			defer wg.Done()
			got, err := Default().Pass(context.Background(), h, fill(16, v), fill(16, 1))
			if assert.NoError(t, err) {
				assert.Equal(t, int32(4*v), got[0])
			}
		}(int16(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 8, arr.Passes())
	assert.Equal(t, 0, arr.Violations(), "overlapping passes corrupt operand registers")
}

func TestCheckOperands(t *testing.T) {
	arch := device.DefaultArch()
	assert.NoError(t, CheckOperands(arch, []int16{23170, -23170, 0}))
	assert.ErrorIs(t, CheckOperands(arch, []int16{-23171}), ErrOverflowRisk)

	narrow := device.Arch{TileSize: 4, OperandBits: 8, AccumulatorBits: 32}
	assert.NoError(t, CheckOperands(narrow, []int16{127, -127}))
	assert.ErrorIs(t, CheckOperands(narrow, []int16{128}), ErrOverflowRisk)
}
