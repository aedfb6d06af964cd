package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/born-ml/systolic/internal/nn"
	"github.com/born-ml/systolic/internal/tensor"
	"github.com/born-ml/systolic/internal/weights"
)

// OutputName is the tensor name of the result written by run.
const OutputName = "output"

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file (default: two simulated devices)")
	weightsPath := fs.String("weights", "", "safetensors file with layers.<i>.weight tensors (required)")
	inputPath := fs.String("input", "", "safetensors file with an \"input\" tensor (default: the weights file)")
	outPath := fs.String("out", "", "write the result to this safetensors file instead of stdout")
	timeout := fs.Duration("timeout", 0, "abort the evaluation after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *weightsPath == "" {
		return errors.New("-weights is required")
	}
	if *inputPath == "" {
		*inputPath = *weightsPath
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

	out, err := evaluateFile(ctx, s, *weightsPath, *inputPath)
	if err != nil {
		return err
	}
	if *outPath != "" {
		return weights.WriteTensors(*outPath, map[string]*tensor.Matrix{OutputName: out}, nil)
	}
	printMatrix(os.Stdout, out)
	return nil
}

// evaluateFile runs the network stored at weightsPath on the input batch
// stored at inputPath.
func evaluateFile(ctx context.Context, s *session, weightsPath, inputPath string) (*tensor.Matrix, error) {
	set, err := weights.Load(weightsPath)
	if err != nil {
		return nil, err
	}
	model, err := nn.NewFeedForward(s.engine, set)
	if err != nil {
		return nil, err
	}

	tensors, _, err := weights.ReadTensors(inputPath)
	if err != nil {
		return nil, err
	}
	input, ok := tensors[weights.InputName]
	if !ok {
		return nil, fmt.Errorf("%s: no %q tensor", inputPath, weights.InputName)
	}

	start := time.Now()
	out, err := model.Forward(ctx, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("evaluated",
		"layers", len(set.Layers),
		"batch", input.Rows(),
		"elapsed", time.Since(start))
	return out, nil
}

// commandContext returns a context cancelled on interrupt and, when
// timeout is positive, after timeout.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printMatrix(w io.Writer, m *tensor.Matrix) {
	fmt.Fprintln(w, m)
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			if j > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%g", m.At(i, j))
		}
		fmt.Fprintln(w)
	}
}
