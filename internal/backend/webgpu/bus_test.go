package webgpu

import (
	"context"
	"testing"
	"time"

	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ device.Bus = (*Bus)(nil)

func TestBus_Pass(t *testing.T) {
	if !IsAvailable() {
		t.Skip("WebGPU not available")
	}

	bus, err := New()
	require.NoError(t, err)

	img, err := device.NewImage(device.ImageHeader{
		Name:      "systolic_array",
		Build:     "webgpu",
		Arch:      device.DefaultArch(),
		Registers: device.DefaultRegisterMap(),
	}, nil)
	require.NoError(t, err)

	h, err := device.Open(context.Background(), img, bus, device.Options{ProbeTimeout: time.Second})
	require.NoError(t, err)
	defer h.Close()

	w := make([]int16, 16)
	x := make([]int16, 16)
	for i := range w {
		w[i] = int16(i - 8)
		x[i] = 2
	}
	got, err := protocol.Default().Pass(context.Background(), h, w, x)
	require.NoError(t, err)

	for r := 0; r < 4; r++ {
		var rowSum int32
		for k := 0; k < 4; k++ {
			rowSum += int32(w[r*4+k]) * 2
		}
		for c := 0; c < 4; c++ {
			assert.Equal(t, rowSum, got[r*4+c], "C[%d][%d]", r, c)
		}
	}
}

func TestNew_Unavailable(t *testing.T) {
	if IsAvailable() {
		t.Skip("WebGPU available")
	}
	_, err := New()
	assert.ErrorIs(t, err, ErrUnavailable)
}
