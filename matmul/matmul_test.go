// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package matmul_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/born-ml/systolic/backend/cpu"
	"github.com/born-ml/systolic/device"
	"github.com/born-ml/systolic/matmul"
	"github.com/born-ml/systolic/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEngine(t *testing.T, n int, opts ...matmul.Option) *matmul.Engine {
	t.Helper()
	img, err := cpu.NewImage(device.DefaultArch())
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	devices := make([]*device.Handle, n)
	for i := range devices {
		h, _, err := cpu.Open(context.Background(), img, cpu.Config{}, device.Options{Ordinal: i, Logger: quiet})
		require.NoError(t, err)
		t.Cleanup(func() { _ = h.Close() })
		devices[i] = h
	}

	engine, err := matmul.New(devices, append([]matmul.Option{matmul.WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	return engine
}

func TestEngine_Facade(t *testing.T) {
	tests := []struct {
		name string
		opts []matmul.Option
	}{
		{"concurrent", nil},
		{"sequential", []matmul.Option{matmul.WithSequential()}},
		{"bounded poll", []matmul.Option{matmul.WithPollTimeout(0, 16)}},
	}

	a := make([]int16, 6*5)
	b := make([]int16, 5*3)
	for i := range a {
		a[i] = int16(i%7 - 3)
	}
	for i := range b {
		b[i] = int16(i%5 - 2)
	}
	left, err := tensor.FromSlice(a, 6, 5)
	require.NoError(t, err)
	right, err := tensor.FromSlice(b, 5, 3)
	require.NoError(t, err)
	want, err := tensor.MatMulReference(left, right)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := openEngine(t, 3, tt.opts...)
			got, err := engine.MultiplyInt(context.Background(), left, right)
			require.NoError(t, err)
			assert.Equal(t, want.AsInt64(), got.AsInt64())
		})
	}
}

func TestEngine_FacadeErrors(t *testing.T) {
	engine := openEngine(t, 1)

	left, err := tensor.New(2, 3, tensor.Int16)
	require.NoError(t, err)
	right, err := tensor.New(4, 2, tensor.Int16)
	require.NoError(t, err)

	_, err = engine.MultiplyInt(context.Background(), left, right)
	assert.ErrorIs(t, err, matmul.ErrDimensionMismatch)

	_, err = matmul.New(nil)
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}

func TestPartition_Facade(t *testing.T) {
	parts := matmul.Partition(10, 4)
	require.Len(t, parts, 4)
	assert.Equal(t, 3, parts[0].Len())
	assert.Equal(t, 2, parts[3].Len())
	assert.Equal(t, 10, parts[3].End)
}
