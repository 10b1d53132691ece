//go:build !linux && !darwin
// +build !linux,!darwin

package mmapfile

import (
	"fmt"
	"os"
)

// Open reads path into memory. Platforms without a supported mmap syscall
// fall back to a plain read; the returned bytes are still treated as a
// read-only region by callers.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &File{data: data, close: func() error { return nil }}, nil
}
