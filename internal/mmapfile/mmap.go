// Package mmapfile presents an input file as a contiguous read-only byte
// region, memory-mapped where the platform supports it.
package mmapfile

// File is a memory-mapped, read-only view of a file's contents.
type File struct {
	data []byte
	close func() error
}

// Bytes returns the mapped contents. The slice is only valid until Close.
func (f *File) Bytes() []byte {
	return f.data
}

// Close releases the mapping.
func (f *File) Close() error {
	if f.close == nil {
		return nil
	}
	return f.close()
}
