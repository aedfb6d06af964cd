package device

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Configuration image format:
//
//	[4 bytes: Magic "SYSA"]
//	[4 bytes: Version (uint32 LE)]
//	[4 bytes: Flags (uint32 LE)]
//	[8 bytes: Header Size (uint64 LE)]
//	[Header: JSON ImageHeader]
//	[Payload: accelerator bitstream, opaque]
//
// The payload is never interpreted by the host. Its SHA-256 digest is
// recorded in the header and verified on load.
const (
	ImageMagic      = "SYSA"
	ImageVersion    = 1
	fixedHeaderSize = 20
	maxHeaderSize   = 1 << 20 // 1MB
)

// ImageHeader is the JSON header of a configuration image.
type ImageHeader struct {
	Name          string      `json:"name"`           // Build name (e.g. "systolic_array")
	Build         string      `json:"build"`          // Build identifier
	CreatedAt     time.Time   `json:"created_at"`     // When the image was produced
	Arch          Arch        `json:"arch"`           // Datapath of this build
	Registers     RegisterMap `json:"registers"`      // Register address table of this build
	PayloadSize   int64       `json:"payload_size"`   // Bitstream size in bytes
	PayloadSHA256 string      `json:"payload_sha256"` // Hex digest of the bitstream
}

// Image is a loaded, validated configuration image.
// Images loaded from disk are memory mapped; call Close when done.
type Image struct {
	Path    string
	Header  ImageHeader
	payload []byte
	mapped  []byte // whole mmap'd file, nil for in-memory images
	file    *os.File
}

// Payload returns the bitstream bytes.
func (img *Image) Payload() []byte {
	return img.payload
}

// Arch returns the datapath described by the image.
func (img *Image) Arch() Arch {
	return img.Header.Arch
}

// Registers returns the register address table described by the image.
func (img *Image) Registers() RegisterMap {
	return img.Header.Registers
}

// NewImage builds an in-memory image for the given build, filling in the
// payload size and digest. It is used by simulated backends and tests.
func NewImage(header ImageHeader, payload []byte) (*Image, error) {
	sum := sha256.Sum256(payload)
	header.PayloadSize = int64(len(payload))
	header.PayloadSHA256 = hex.EncodeToString(sum[:])
	if err := validateHeader("", &header); err != nil {
		return nil, err
	}
	return &Image{Header: header, payload: payload}, nil
}

// LoadImage memory-maps and validates a configuration image.
// Every failure wraps ErrDeviceUnavailable.
//
// Important: Always call Close() when done to unmap the file (use defer).
func LoadImage(path string) (*Image, error) {
	//nolint:gosec // G304: image path comes from configuration
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrDeviceUnavailable, path, err)
	}
	if stat.Size() < fixedHeaderSize {
		_ = file.Close()
		return nil, &ImageError{Type: "truncated", Path: path,
			Details: fmt.Sprintf("%d bytes, need at least %d", stat.Size(), fixedHeaderSize)}
	}

	data, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrDeviceUnavailable, path, err)
	}

	img := &Image{Path: path, mapped: data, file: file}
	if err := img.parse(data); err != nil {
		_ = img.Close()
		return nil, err
	}
	return img, nil
}

// parse reads the fixed header, JSON header and payload from the mapped region.
func (img *Image) parse(data []byte) error {
	if string(data[0:4]) != ImageMagic {
		return &ImageError{Type: "bad_magic", Path: img.Path, Details: fmt.Sprintf("got %q", data[0:4])}
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != ImageVersion {
		return &ImageError{Type: "unsupported_version", Path: img.Path, Details: fmt.Sprintf("version %d", v)}
	}
	headerSize := binary.LittleEndian.Uint64(data[12:20])
	if headerSize > maxHeaderSize || headerSize > uint64(len(data)-fixedHeaderSize) {
		return &ImageError{Type: "bad_header_size", Path: img.Path, Details: fmt.Sprintf("%d bytes", headerSize)}
	}

	headerEnd := fixedHeaderSize + int(headerSize) //nolint:gosec // G115: bounded by maxHeaderSize
	dec := json.NewDecoder(bytes.NewReader(data[fixedHeaderSize:headerEnd]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&img.Header); err != nil {
		return &ImageError{Type: "bad_header", Path: img.Path, Details: err.Error()}
	}
	if err := validateHeader(img.Path, &img.Header); err != nil {
		return err
	}

	img.payload = data[headerEnd:]
	if int64(len(img.payload)) != img.Header.PayloadSize {
		return &ImageError{Type: "payload_size", Path: img.Path,
			Details: fmt.Sprintf("header says %d bytes, file has %d", img.Header.PayloadSize, len(img.payload))}
	}
	sum := sha256.Sum256(img.payload)
	if hex.EncodeToString(sum[:]) != img.Header.PayloadSHA256 {
		return &ImageError{Type: "checksum_mismatch", Path: img.Path, Details: "payload may be corrupted"}
	}
	return nil
}

func validateHeader(path string, h *ImageHeader) error {
	if err := h.Arch.Validate(); err != nil {
		return &ImageError{Type: "bad_arch", Path: path, Details: err.Error()}
	}
	if err := h.Registers.Validate(); err != nil {
		return &ImageError{Type: "bad_registers", Path: path, Details: err.Error()}
	}
	return nil
}

// Close unmaps the image. It is safe to call on in-memory images and more than once.
func (img *Image) Close() error {
	var err error
	if img.mapped != nil {
		err = munmapFile(img.mapped)
		img.mapped = nil
		img.payload = nil
	}
	if img.file != nil {
		if cerr := img.file.Close(); err == nil {
			err = cerr
		}
		img.file = nil
	}
	return err
}

// WriteImage writes a configuration image for header and payload to path.
// The payload size and digest fields of header are filled in.
func WriteImage(path string, header ImageHeader, payload []byte) error {
	img, err := NewImage(header, payload)
	if err != nil {
		return err
	}

	headerJSON, err := json.Marshal(img.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(ImageMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(ImageVersion))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON)))
	buf.Write(headerJSON)
	buf.Write(payload)

	//nolint:gosec // G306: images are not secret
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}
