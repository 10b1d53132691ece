//go:build linux || darwin
// +build linux darwin

package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open memory-maps path for reading. The returned File must be Closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &File{data: nil, close: func() error { return nil }}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &File{
		data:  data,
		close: func() error { return unix.Munmap(data) },
	}, nil
}
