//go:build !unix && !windows

package device

import (
	"io"
	"os"
)

// mmapFile reads the whole image into memory on platforms without mmap.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func munmapFile(_ []byte) error {
	return nil
}
