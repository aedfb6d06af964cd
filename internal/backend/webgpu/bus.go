//go:build windows

// Package webgpu runs systolic tile passes on a GPU through WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The Bus presents the accelerator register window: operand writes are
// staged on the host, a CONTROL trigger dispatches one compute pass and
// waits for it, and STATUS reports done once the result has been read back.
package webgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/systolic/internal/device"
)

// Bus is a device.Bus backed by a WebGPU compute pipeline.
type Bus struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline

	// Result-side buffers, created by Configure. Operand buffers are
	// created per pass with their contents mapped in.
	resultBuf  *wgpu.Buffer
	stagingBuf *wgpu.Buffer
	paramsBuf  *wgpu.Buffer

	arch        device.Arch
	regs        device.RegisterMap
	weights     []byte // operand registers widened to i32
	activations []byte
	result      []byte
	done        bool
	configured  bool
}

// New opens the default GPU adapter.
func New() (bus *Bus, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			bus = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %w", ErrUnavailable, err)
	}

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request device: %w", ErrUnavailable, err)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to get queue", ErrUnavailable)
	}

	return &Bus{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    queue,
	}, nil
}

// IsAvailable checks if a WebGPU adapter can be opened on this machine.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Configure compiles the tile shader for the image's datapath and
// allocates the per-tile GPU buffers.
func (b *Bus) Configure(img *device.Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	arch := img.Arch()
	if err := arch.Validate(); err != nil {
		return fmt.Errorf("webgpu: %w", err)
	}
	b.releaseBuffers()

	n := arch.TileSize * arch.TileSize
	size := uint64(n * 4) //nolint:gosec // G115: tile size bounded by Arch.Validate

	if b.shader == nil {
		b.shader = b.device.CreateShaderModuleWGSL(tileShader)
		b.pipeline = b.device.CreateComputePipelineSimple(nil, b.shader, "main")
	}

	b.resultBuf = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  size,
	})
	b.stagingBuf = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})

	params := make([]byte, 16) // 16-byte aligned
	binary.LittleEndian.PutUint32(params[0:4], uint32(arch.TileSize)) //nolint:gosec // G115: bounded by Arch.Validate
	b.paramsBuf = b.createBuffer(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)

	b.arch = arch
	b.regs = img.Registers()
	b.weights = make([]byte, size)
	b.activations = make([]byte, size)
	b.result = make([]byte, arch.ResultTileBytes())
	b.done = false
	b.configured = true
	return nil
}

// WriteRegister implements device.Bus.
func (b *Bus) WriteRegister(offset uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.configured {
		return errors.New("webgpu: bus not configured")
	}
	switch offset {
	case b.regs.Control:
		if len(data) < 4 {
			return fmt.Errorf("webgpu: control write of %d bytes", len(data))
		}
		switch v := binary.LittleEndian.Uint32(data); v {
		case 0:
			return nil
		case b.regs.StartValue:
			return b.dispatch()
		default:
			return fmt.Errorf("webgpu: unsupported control value 0x%x", v)
		}
	case b.regs.Weights:
		return b.stage(b.weights, data)
	case b.regs.Activations:
		return b.stage(b.activations, data)
	default:
		return fmt.Errorf("webgpu: write to unmapped register 0x%02x", offset)
	}
}

// ReadRegister implements device.Bus.
func (b *Bus) ReadRegister(offset uint32, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.configured {
		return errors.New("webgpu: bus not configured")
	}
	switch offset {
	case b.regs.Status:
		var status uint32
		if b.done {
			status = b.regs.DoneMask
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], status)
		copy(dst, buf[:])
		return nil
	case b.regs.Result:
		if len(dst) > len(b.result) {
			return fmt.Errorf("webgpu: result read of %d bytes exceeds %d", len(dst), len(b.result))
		}
		copy(dst, b.result)
		return nil
	default:
		return fmt.Errorf("webgpu: read from unmapped register 0x%02x", offset)
	}
}

// Close releases all GPU resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseBuffers()
	if b.pipeline != nil {
		b.pipeline.Release()
		b.pipeline = nil
	}
	if b.shader != nil {
		b.shader.Release()
		b.shader = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
	b.configured = false
	return nil
}

// stage widens little-endian operands of the configured width to i32.
func (b *Bus) stage(dst, data []byte) error {
	width := b.arch.OperandBytes()
	if len(data) != b.arch.OperandTileBytes() {
		return fmt.Errorf("webgpu: operand write of %d bytes, want %d", len(data), b.arch.OperandTileBytes())
	}
	for i := 0; i < len(data)/width; i++ {
		var v int32
		if width == 1 {
			v = int32(int8(data[i])) //nolint:gosec // G115: two's complement reinterpretation
		} else {
			v = int32(int16(binary.LittleEndian.Uint16(data[i*2:]))) //nolint:gosec // G115: two's complement reinterpretation
		}
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(v)) //nolint:gosec // G115: two's complement reinterpretation
	}
	b.done = false
	return nil
}

// dispatch uploads the staged operands, runs the tile shader and reads
// the result back. It blocks until the GPU has finished.
func (b *Bus) dispatch() error {
	size := uint64(len(b.weights))

	weightsBuf := b.createBuffer(b.weights, wgpu.BufferUsageStorage)
	defer weightsBuf.Release()
	activationsBuf := b.createBuffer(b.activations, wgpu.BufferUsageStorage)
	defer activationsBuf.Release()

	bindGroup := b.device.CreateBindGroupSimple(b.pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, weightsBuf, 0, size),
		wgpu.BufferBindingEntry(1, activationsBuf, 0, size),
		wgpu.BufferBindingEntry(2, b.resultBuf, 0, size),
		wgpu.BufferBindingEntry(3, b.paramsBuf, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(b.pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	groups := uint32((b.arch.TileSize + workgroupSize - 1) / workgroupSize) //nolint:gosec // G115: bounded by Arch.Validate
	computePass.DispatchWorkgroups(groups, groups, 1)
	computePass.End()
	encoder.CopyBufferToBuffer(b.resultBuf, 0, b.stagingBuf, 0, size)

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	if err := b.stagingBuf.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := b.stagingBuf.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(b.result, unsafe.Slice((*byte)(mappedPtr), size))
	b.stagingBuf.Unmap()

	b.done = true
	return nil
}

// createBuffer creates a GPU buffer with initial contents.
func (b *Bus) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()
	return buffer
}

func (b *Bus) releaseBuffers() {
	for _, buf := range []**wgpu.Buffer{&b.resultBuf, &b.stagingBuf, &b.paramsBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}
