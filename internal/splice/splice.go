// Package splice implements the overlay engine that interleaves
// synthesized 8-byte values into the byte stream of loadable ELF
// segments as they are emitted.
package splice

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Splice is an (address, value) overlay: the 8 bytes at Addr are
// replaced by Value's little-endian encoding during emission.
type Splice struct {
	Addr  uint64
	Value uint64
}

// Error reports a splice-engine precondition violation.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

// List is a forward cursor over splices sorted by ascending address.
type List struct {
	sorted []Splice
	pos    int
}

// NewList sorts splices by address and returns a cursor over them.
// Splice addresses must be unique; duplicates are a caller error
// upstream (symbol-uniqueness is guaranteed by the Inspector) but are
// still checked here defensively.
func NewList(splices []Splice) (*List, error) {
	sorted := make([]Splice, len(splices))
	copy(sorted, splices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Addr == sorted[i-1].Addr {
			return nil, &Error{Msg: fmt.Sprintf("duplicate splice address %#x", sorted[i].Addr)}
		}
	}
	return &List{sorted: sorted}, nil
}

// Peek returns the next unconsumed splice without advancing.
func (l *List) Peek() (Splice, bool) {
	if l.pos >= len(l.sorted) {
		return Splice{}, false
	}
	return l.sorted[l.pos], true
}

// Advance consumes and returns the next splice.
func (l *List) Advance() Splice {
	s := l.sorted[l.pos]
	l.pos++
	return s
}

// Remaining reports how many splices have not yet been consumed.
func (l *List) Remaining() int {
	return len(l.sorted) - l.pos
}

// ApplyToSegment builds the logical byte range [base, pagesEnd) for a
// loadable segment and applies every splice whose address falls in
// [base, end-8], consuming them from the cursor in address order.
//
// base is start page-aligned down; end is start+memSize (unaligned);
// pagesEnd is end aligned up to the next page boundary. fileBytes holds
// the segment's on-disk bytes (length <= memSize; the remainder, e.g.
// .bss, and any padding up to pagesEnd, is zero-filled).
//
// This is the explicit page-builder the design notes call for in place
// of a lazily chained reader: the whole segment range is materialized
// as one buffer, then targeted 8-byte overwrites are applied.
func ApplyToSegment(base, start, end uint64, fileBytes []byte, cur *List) ([]byte, error) {
	if start < base {
		return nil, &Error{Msg: fmt.Sprintf("segment start %#x precedes its page base %#x", start, base)}
	}
	pagesEnd := alignPage(end)
	buf := make([]byte, pagesEnd-base)

	segOff := start - base
	copy(buf[segOff:], fileBytes) // remainder (bss + page padding) stays zero

	for {
		s, ok := cur.Peek()
		if !ok {
			break
		}
		if s.Addr < base {
			return nil, &Error{Msg: fmt.Sprintf("splice at %#x was not consumed by an earlier segment (segments are not in ascending splice order)", s.Addr)}
		}
		if s.Addr+8 > end {
			break
		}
		cur.Advance()
		off := s.Addr - base
		binary.LittleEndian.PutUint64(buf[off:off+8], s.Value)
	}

	return buf, nil
}

func alignPage(x uint64) uint64 {
	const pageSize = 0x1000
	return (x + (pageSize - 1)) &^ (pageSize - 1)
}
