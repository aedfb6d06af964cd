package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/systolic/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

const maxHeaderSize = 100 * 1024 * 1024

// DType is a SafeTensors element type name.
type DType string

// Supported SafeTensors dtypes.
const (
	F16 DType = "F16"
	F32 DType = "F32"
	I16 DType = "I16"
	I32 DType = "I32"
	I64 DType = "I64"
)

// TensorInfo describes one tensor in a SafeTensors header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end]
}

// Header is the JSON header of a SafeTensors file.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits the flat header object into metadata and tensors.
func (h *Header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// ReadTensors reads every tensor of a SafeTensors file as a matrix.
// 1-D tensors are returned as 1×n matrices.
func ReadTensors(path string) (map[string]*tensor.Matrix, map[string]string, error) {
	//nolint:gosec // G304: weight path comes from configuration
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		return nil, nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by maxHeaderSize
	out := make(map[string]*tensor.Matrix, len(header.Tensors))
	for name, info := range header.Tensors {
		m, err := readTensor(file, dataOffset, name, info)
		if err != nil {
			return nil, nil, err
		}
		out[name] = m
	}
	return out, header.Metadata, nil
}

func readTensor(r io.ReaderAt, dataOffset int64, name string, info TensorInfo) (*tensor.Matrix, error) {
	dtype, err := toDataType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	var rows, cols int
	switch len(info.Shape) {
	case 1:
		rows, cols = 1, info.Shape[0]
	case 2:
		rows, cols = info.Shape[0], info.Shape[1]
	default:
		return nil, fmt.Errorf("tensor %s: rank %d not supported, want 1 or 2", name, len(info.Shape))
	}

	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 || info.DataOffsets[0] < 0 {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]",
			name, info.DataOffsets[0], info.DataOffsets[1])
	}
	if want := int64(rows * cols * dtype.Size()); size != want {
		return nil, fmt.Errorf("tensor %s: %d bytes for %s %v, want %d", name, size, info.DType, info.Shape, want)
	}

	data := make([]byte, size)
	if _, err := r.ReadAt(data, dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return tensor.FromBytes(data, rows, cols, dtype)
}

// WriteTensors writes matrices to a SafeTensors file.
// Tensors are written in alphabetical order by name.
func WriteTensors(path string, tensors map[string]*tensor.Matrix, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range names {
		m := tensors[name]
		dtype, err := fromDataType(m.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(m.ByteSize())
		header[name] = TensorInfo{
			DType:       dtype,
			Shape:       []int{m.Rows(), m.Cols()},
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	//nolint:gosec // G304: weight path comes from the caller
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := file.Write(tensors[name].Data()); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return file.Close()
}

func toDataType(dt DType) (tensor.DataType, error) {
	switch dt {
	case F16:
		return tensor.Float16, nil
	case F32:
		return tensor.Float32, nil
	case I16:
		return tensor.Int16, nil
	case I32:
		return tensor.Int32, nil
	case I64:
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dt)
	}
}

func fromDataType(dt tensor.DataType) (DType, error) {
	switch dt {
	case tensor.Float16:
		return F16, nil
	case tensor.Float32:
		return F32, nil
	case tensor.Int16:
		return I16, nil
	case tensor.Int32:
		return I32, nil
	case tensor.Int64:
		return I64, nil
	default:
		return "", fmt.Errorf("unsupported data type %s", dt)
	}
}
