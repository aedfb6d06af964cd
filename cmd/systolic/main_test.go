package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/born-ml/systolic/internal/config"
	"github.com/born-ml/systolic/internal/device"
	"github.com/born-ml/systolic/internal/tensor"
	"github.com/born-ml/systolic/internal/weights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietSession(t *testing.T) *session {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "error"
	s, err := openSession(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestParseWidths(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "1024,512,512,10", want: []int{1024, 512, 512, 10}},
		{in: "4, 2", want: []int{4, 2}},
		{in: "8", wantErr: true},
		{in: "8,x", wantErr: true},
		{in: "8,0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWidths(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenSession(t *testing.T) {
	s := quietSession(t)

	require.Len(t, s.devices, 2)
	for i, h := range s.devices {
		assert.Equal(t, i, h.Ordinal())
		assert.True(t, h.Healthy())
	}
	assert.Equal(t, device.DefaultArch(), s.engine.Arch())
}

func TestOpenSession_BadImage(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.Images = []string{filepath.Join(t.TempDir(), "missing.img")}

	_, err := openSession(context.Background(), cfg)
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}

func TestBench_Check(t *testing.T) {
	s := quietSession(t)

	res, err := bench(context.Background(), s, benchOptions{
		Batch:  5,
		Widths: []int{9, 6, 3},
		Seed:   7,
		Check:  true,
	})
	require.NoError(t, err)

	// Rows split 3+2 over two devices, one tile row each.
	// Layer 0: 2 tile columns, 3 k-steps. Layer 1: 1 tile column, 2 k-steps.
	assert.Equal(t, uint64(2*(2*3)+2*(1*2)), res.Passes)
	assert.Less(t, res.MaxDiff, 1e-2)
}

func TestEvaluateFile(t *testing.T) {
	s := quietSession(t)

	w0, err := tensor.FromSlice([]float32{1, 0, 0, -1}, 2, 2)
	require.NoError(t, err)
	w1, err := tensor.FromSlice([]float32{2, 1}, 2, 1)
	require.NoError(t, err)
	input, err := tensor.FromSlice([]float32{3, -2, -1, 4}, 2, 2)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, weights.WriteTensors(path, map[string]*tensor.Matrix{
		weights.WeightName(0): w0,
		weights.WeightName(1): w1,
		weights.InputName:     input,
	}, nil))

	out, err := evaluateFile(context.Background(), s, path, path)
	require.NoError(t, err)

	// relu([3,2; 0,0]) · [2; 1] = [8; 0]
	want, err := tensor.FromSlice([]float32{8, 0}, 2, 1)
	require.NoError(t, err)
	if !tensor.AllClose(out, want, 1e-2) {
		t.Errorf("got %v, want %v", out.AsFloat32(), want.AsFloat32())
	}
}

func TestEvaluateFile_NoInput(t *testing.T) {
	s := quietSession(t)

	w0, err := tensor.Identity(2, tensor.Float32)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, weights.Save(path, weights.NewSet(w0)))

	_, err = evaluateFile(context.Background(), s, path, path)
	assert.ErrorContains(t, err, `no "input" tensor`)
}

func TestImageCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.img")
	require.NoError(t, imageCmd([]string{"-o", path, "-build", "test"}))

	img, err := device.LoadImage(path)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, "test", img.Header.Build)
	assert.Equal(t, device.DefaultArch(), img.Arch())
	assert.Equal(t, device.DefaultRegisterMap(), img.Registers())

	assert.Error(t, imageCmd(nil))
}
