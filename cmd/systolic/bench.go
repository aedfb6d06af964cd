package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/systolic/internal/nn"
	"github.com/born-ml/systolic/internal/tensor"
)

// benchOptions describes the random network timed by bench.
type benchOptions struct {
	Batch  int
	Widths []int // Input width followed by each layer's output width
	Seed   uint64
	Check  bool // Compare against a host evaluation
}

// benchResult is what one bench run measured.
type benchResult struct {
	Elapsed time.Duration
	Passes  uint64
	MaxDiff float64 // Largest deviation from the host result; NaN if not checked
}

func benchCmd(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file (default: two simulated devices)")
	batch := fs.Int("batch", 32, "input batch size")
	widths := fs.String("layers", "1024,512,512,10", "input width followed by layer widths")
	seed := fs.Uint64("seed", 1, "random seed")
	check := fs.Bool("check", false, "compare with a host evaluation")
	timeout := fs.Duration("timeout", 0, "abort after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := benchOptions{Batch: *batch, Seed: *seed, Check: *check}
	var err error
	if opts.Widths, err = parseWidths(*widths); err != nil {
		return err
	}
	if opts.Batch <= 0 {
		return fmt.Errorf("batch must be positive, got %d", opts.Batch)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(*timeout)
	defer cancel()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.logStats()

	res, err := bench(ctx, s, opts)
	if err != nil {
		return err
	}
	printBench(os.Stdout, s, opts, res)
	return nil
}

// parseWidths parses a comma separated list of at least two positive widths.
func parseWidths(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("layers %q: need an input width and at least one layer", s)
	}
	widths := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("layers %q: %w", s, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("layers %q: width %d must be positive", s, n)
		}
		widths[i] = n
	}
	return widths, nil
}

// bench evaluates a random network on the session's devices.
func bench(ctx context.Context, s *session, opts benchOptions) (benchResult, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	input := randomMatrix(rng, opts.Batch, opts.Widths[0])
	layers := make([]*tensor.Matrix, len(opts.Widths)-1)
	for i := range layers {
		layers[i] = randomMatrix(rng, opts.Widths[i], opts.Widths[i+1])
	}

	before := totalPasses(s)
	start := time.Now()
	out, err := nn.Evaluate(ctx, s.engine, input, layers)
	if err != nil {
		return benchResult{}, err
	}
	res := benchResult{
		Elapsed: time.Since(start),
		Passes:  totalPasses(s) - before,
		MaxDiff: math.NaN(),
	}

	if opts.Check {
		want, err := nn.Evaluate(ctx, hostMultiplier{}, input, layers)
		if err != nil {
			return benchResult{}, err
		}
		res.MaxDiff = maxDiff(out, want)
	}
	return res, nil
}

// randomMatrix returns a Float32 matrix uniform in [-1, 1).
func randomMatrix(rng *rand.Rand, rows, cols int) *tensor.Matrix {
	m := tensor.MustNew(rows, cols, tensor.Float32)
	data := m.AsFloat32()
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return m
}

func totalPasses(s *session) uint64 {
	var n uint64
	for _, h := range s.devices {
		n += h.Stats().Passes
	}
	return n
}

func maxDiff(a, b *tensor.Matrix) float64 {
	var worst float64
	for i := 0; i < a.Rows(); i++ {
		for j := 0; j < a.Cols(); j++ {
			worst = max(worst, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return worst
}

func printBench(w io.Writer, s *session, opts benchOptions, res benchResult) {
	fmt.Fprintf(w, "network:  batch %d, widths %v\n", opts.Batch, opts.Widths)
	fmt.Fprintf(w, "devices:  %d (%s)\n", len(s.devices), s.cfg.Backend)
	fmt.Fprintf(w, "passes:   %d\n", res.Passes)
	fmt.Fprintf(w, "elapsed:  %v\n", res.Elapsed)
	if !math.IsNaN(res.MaxDiff) {
		fmt.Fprintf(w, "max diff: %g\n", res.MaxDiff)
	}
	for _, h := range s.devices {
		st := h.Stats()
		fmt.Fprintf(w, "  device %d: %d passes, %d poll reads, %d timeouts\n",
			h.Ordinal(), st.Passes, st.PollReads, st.Timeouts)
	}
}

// hostMultiplier multiplies on the host for -check.
type hostMultiplier struct{}

func (hostMultiplier) Multiply(_ context.Context, l, r *tensor.Matrix) (*tensor.Matrix, error) {
	return tensor.MatMulReference(l, r)
}
