package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/born-ml/systolic/internal/device"
)

func imageCmd(args []string) error {
	fs := flag.NewFlagSet("image", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file supplying arch and registers")
	out := fs.String("o", "", "output path (required)")
	name := fs.String("name", "systolic_array", "build name")
	build := fs.String("build", "", "build identifier")
	payloadPath := fs.String("payload", "", "bitstream file to embed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("-o is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var payload []byte
	if *payloadPath != "" {
		//nolint:gosec // G304: payload path comes from the command line
		if payload, err = os.ReadFile(*payloadPath); err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
	}

	header := device.ImageHeader{
		Name:      *name,
		Build:     *build,
		CreatedAt: time.Now().UTC(),
		Arch:      cfg.Arch,
		Registers: cfg.Registers,
	}
	if err := device.WriteImage(*out, header, payload); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d array, %d-bit operands, %d byte payload)\n",
		*out, cfg.Arch.TileSize, cfg.Arch.TileSize, cfg.Arch.OperandBits, len(payload))
	return nil
}
