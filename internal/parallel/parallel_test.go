package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestFor_SmallChunk(t *testing.T) {
	// Small work units fall back to sequential.
	cfg := DefaultConfig()

	var counter int64
	n := cfg.MinChunkSize - 1

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestForEach_RunsAll(t *testing.T) {
	results := make([]bool, 4)
	err := ForEach(context.Background(), len(results), func(_ context.Context, i int) error {
		results[i] = true
		return nil
	}, DeviceConfig())

	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, results)
}

func TestForEach_Concurrent(t *testing.T) {
	// Every worker blocks until all have started; this only finishes
	// if the workers really run at the same time.
	const n = 4
	var started atomic.Int32
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- ForEach(context.Background(), n, func(_ context.Context, _ int) error {
			if started.Add(1) == n {
				close(release)
			}
			<-release
			return nil
		}, DeviceConfig())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not run concurrently")
	}
}

func TestForEach_FirstErrorCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32

	err := ForEach(context.Background(), 3, func(ctx context.Context, i int) error {
		if i == 0 {
			return boom
		}
		<-ctx.Done()
		cancelled.Add(1)
		return ctx.Err()
	}, DeviceConfig())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), cancelled.Load(), "barrier must wait for cancelled workers")
}

func TestForEach_SequentialStopsAtError(t *testing.T) {
	boom := errors.New("boom")
	var calls int

	err := ForEach(context.Background(), 5, func(_ context.Context, i int) error {
		calls++
		if i == 1 {
			return boom
		}
		return nil
	}, Config{Enabled: false})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestForEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ForEach(ctx, 3, func(context.Context, int) error { return nil }, Config{Enabled: false})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}
