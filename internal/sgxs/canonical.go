package sgxs

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"
)

var magic = [8]byte{'S', 'G', 'X', 'S', '1', 0, 0, 0}

// CanonicalWriter is a concrete Writer that persists the canonical,
// page-ordered SGXS stream to an io.Writer and keeps a running
// measurement digest as pages are added.
//
// The on-disk record format is this package's own: an 8-byte magic, the
// ECREATE fields, then one fixed-size record per page (address,
// SECINFO, 4096 bytes of page data). Bit-exact MRENCLAVE hashing is the
// concern of a production SGXS writer and out of scope for this core
// (see §1); CanonicalWriter's digest exists only so callers can assert
// determinism and page-content fidelity in tests.
type CanonicalWriter struct {
	w       io.Writer
	hash    hash.Hash
	began   bool
	lastSet bool
	lastEnd uint64 // one past the last address written
}

// NewCanonicalWriter wraps w as a canonical SGXS writer.
func NewCanonicalWriter(w io.Writer) *CanonicalWriter {
	return &CanonicalWriter{w: w, hash: sha256.New()}
}

// Measurement returns the running digest of everything written so far.
func (c *CanonicalWriter) Measurement() []byte {
	return c.hash.Sum(nil)
}

func (c *CanonicalWriter) write(b []byte) error {
	if _, err := c.w.Write(b); err != nil {
		return errf("write sgxs stream: %v", err)
	}
	if _, err := c.hash.Write(b); err != nil {
		return errf("update measurement: %v", err)
	}
	return nil
}

// Begin implements Writer.
func (c *CanonicalWriter) Begin(ec ECreate) error {
	if c.began {
		return errf("Begin called twice")
	}
	hdr := make([]byte, 24)
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint64(hdr[8:16], ec.Size)
	binary.LittleEndian.PutUint32(hdr[16:20], ec.SSAFrameSize)
	if err := c.write(hdr); err != nil {
		return err
	}
	c.began = true
	return nil
}

func alignedPage(addr uint64) bool {
	return addr&(PageSize-1) == 0
}

func (c *CanonicalWriter) resolveAddr(addr *uint64) (uint64, error) {
	if !c.began {
		return 0, errf("WritePage(s) called before Begin")
	}
	if addr != nil {
		a := *addr
		if !alignedPage(a) {
			return 0, errf("address %#x is not page-aligned", a)
		}
		if c.lastSet && a < c.lastEnd {
			return 0, errf("address %#x is not strictly greater than the previous page address", a)
		}
		return a, nil
	}
	if !c.lastSet {
		return 0, errf("WritePage(s) with no address and no prior page to continue from")
	}
	return c.lastEnd, nil
}

// WritePage implements Writer.
func (c *CanonicalWriter) WritePage(data []byte, addr *uint64, info Secinfo) error {
	return c.WritePages(data, 1, addr, info)
}

// WritePages implements Writer.
func (c *CanonicalWriter) WritePages(data []byte, count int, addr *uint64, info Secinfo) error {
	if count <= 0 {
		return errf("WritePages called with non-positive count %d", count)
	}
	base, err := c.resolveAddr(addr)
	if err != nil {
		return err
	}

	page := make([]byte, PageSize)
	for i := 0; i < count; i++ {
		a := base + uint64(i)*PageSize
		rec := make([]byte, 16)
		binary.LittleEndian.PutUint64(rec[0:8], a)
		rec[8] = byte(info.Flags)
		rec[9] = byte(info.Page)

		for j := range page {
			page[j] = 0
		}
		off := i * PageSize
		if off < len(data) {
			copy(page, data[off:])
		}

		if err := c.write(rec); err != nil {
			return err
		}
		if err := c.write(page); err != nil {
			return err
		}
	}

	c.lastEnd = base + uint64(count)*PageSize
	c.lastSet = true
	return nil
}
