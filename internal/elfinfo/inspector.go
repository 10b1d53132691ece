// Package elfinfo parses a 64-bit ELF executable and validates it
// against the restricted dynamic-linking discipline required to build
// an SGX enclave image: a fixed set of required dynamic symbols, an
// allowed subset of dynamic-section tags, and relocations limited to
// R_X86_64_RELATIVE inside writable loadable segments.
package elfinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const r_X86_64_RELATIVE = 8

// requiredSymbolNames lists every dynamic symbol this core requires,
// in the order they are reported when several are missing.
var requiredSymbolNames = []string{
	"sgx_entry",
	"HEAP_BASE",
	"HEAP_SIZE",
	"RELA",
	"RELACOUNT",
	"ENCLAVE_SIZE",
}

// sizedSymbolNames are the required symbols that must be exactly 8
// bytes; sgx_entry's size is unconstrained.
var sizedSymbolNames = []string{"HEAP_BASE", "HEAP_SIZE", "RELA", "RELACOUNT", "ENCLAVE_SIZE"}

// DynSym is a single resolved dynamic symbol.
type DynSym struct {
	Name  string
	Value uint64
	Size  uint64
}

// Symbols holds the six dynamic symbols this core requires.
type Symbols struct {
	Entry       DynSym // sgx_entry: read by the emitter, never spliced
	HeapBase    DynSym
	HeapSize    DynSym
	Rela        DynSym
	Relacount   DynSym
	EnclaveSize DynSym
}

// Dynamic holds the DT_RELA/DT_RELACOUNT pair, when present.
type Dynamic struct {
	Present   bool
	RelaAddr  uint64
	Relacount uint64
}

// LoadSegment is the subset of a PT_LOAD program header this core uses.
type LoadSegment struct {
	VAddr      uint64
	MemSize    uint64
	FileOffset uint64
	FileSize   uint64
	Flags      elf.ProgFlag
}

// Info is the validated result of inspecting an ELF image.
type Info struct {
	Symbols      Symbols
	Dynamic      Dynamic
	LoadSegments []LoadSegment
	raw          []byte
}

// SegmentBytes returns the on-disk bytes of a loadable segment.
func (info *Info) SegmentBytes(seg LoadSegment) []byte {
	return info.raw[seg.FileOffset : seg.FileOffset+seg.FileSize]
}

// Inspect parses and validates raw as a 64-bit ELF image per §4.2.
func Inspect(raw []byte) (*Info, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, &Error{Kind: ErrElfClassNot64}
	}

	syms, err := checkSymbols(f)
	if err != nil {
		return nil, err
	}

	dyn, err := checkDynamic(f)
	if err != nil {
		return nil, err
	}

	if err := checkRelocations(f, dyn); err != nil {
		return nil, err
	}

	return &Info{
		Symbols:      *syms,
		Dynamic:      dyn,
		LoadSegments: loadSegments(f),
		raw:          raw,
	}, nil
}

func loadSegments(f *elf.File) []LoadSegment {
	var segs []LoadSegment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, LoadSegment{
			VAddr:      p.Vaddr,
			MemSize:    p.Memsz,
			FileOffset: p.Off,
			FileSize:   p.Filesz,
			Flags:      p.Flags,
		})
	}
	return segs
}

// checkSymbols locates .dynsym, walks its entries (skipping the
// reserved index 0), and validates the required set. It intentionally
// reads the section payload directly with encoding/binary against the
// exported elf.Sym64 layout rather than calling the high-level
// f.DynamicSymbols(), because the spec distinguishes "no .dynsym
// section" from "a .dynsym section that isn't a symbol table", a
// distinction the convenience API does not preserve.
func checkSymbols(f *elf.File) (*Symbols, error) {
	sec := f.Section(".dynsym")
	if sec == nil {
		return nil, &Error{Kind: ErrDynamicSymbolTableNotFound}
	}
	if sec.Type != elf.SHT_DYNSYM {
		return nil, &Error{Kind: ErrDynamicSymbolTableNotInDynsymSection}
	}

	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("read .dynsym: %w", err)
	}
	if len(data)%elf.Sym64Size != 0 {
		return nil, &Error{Kind: ErrDynamicSymbolTableNotInDynsymSection}
	}
	if sec.Link == 0 || int(sec.Link) >= len(f.Sections) {
		return nil, &Error{Kind: ErrDynamicSymbolTableNotInDynsymSection}
	}
	strtab, err := f.Sections[sec.Link].Data()
	if err != nil {
		return nil, fmt.Errorf("read dynamic string table: %w", err)
	}

	found := make(map[string]DynSym, len(requiredSymbolNames))
	required := make(map[string]bool, len(requiredSymbolNames))
	for _, n := range requiredSymbolNames {
		required[n] = true
	}

	for off := elf.Sym64Size; off+elf.Sym64Size <= len(data); off += elf.Sym64Size {
		var raw elf.Sym64
		if err := binary.Read(bytes.NewReader(data[off:off+elf.Sym64Size]), f.ByteOrder, &raw); err != nil {
			return nil, fmt.Errorf("decode dynsym entry: %w", err)
		}
		name := cstring(strtab, raw.Name)
		shndx := elf.SectionIndex(raw.Shndx)

		if shndx == elf.SHN_UNDEF {
			return nil, &Error{Kind: ErrDynamicSymbolUndefined, Name: name}
		}
		if !required[name] {
			continue
		}
		if _, dup := found[name]; dup {
			return nil, &Error{Kind: ErrDynamicSymbolDuplicate, Name: name}
		}
		found[name] = DynSym{Name: name, Value: raw.Value, Size: raw.Size}
	}

	var missing []string
	for _, n := range requiredSymbolNames {
		if _, ok := found[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{Kind: ErrDynamicSymbolMissing, Names: missing}
	}

	for _, n := range sizedSymbolNames {
		s := found[n]
		if s.Size != 8 {
			return nil, &Error{Kind: ErrDynamicSymbolIncorrectSize, Name: n, Expected: 8, Actual: s.Size}
		}
	}

	return &Symbols{
		Entry:       found["sgx_entry"],
		HeapBase:    found["HEAP_BASE"],
		HeapSize:    found["HEAP_SIZE"],
		Rela:        found["RELA"],
		Relacount:   found["RELACOUNT"],
		EnclaveSize: found["ENCLAVE_SIZE"],
	}, nil
}

// checkDynamic locates the PT_DYNAMIC segment and enforces the allowed
// subset of dynamic tags per §4.2.
func checkDynamic(f *elf.File) (Dynamic, error) {
	var dynProg *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_DYNAMIC {
			dynProg = p
			break
		}
	}
	if dynProg == nil {
		return Dynamic{}, &Error{Kind: ErrDynamicSectionNotFound}
	}

	data := make([]byte, dynProg.Filesz)
	if _, err := dynProg.ReadAt(data, 0); err != nil {
		return Dynamic{}, fmt.Errorf("read dynamic segment: %w", err)
	}
	if len(data)%16 != 0 {
		return Dynamic{}, &Error{Kind: ErrDynamicSectionNotInPtDynamicSegment}
	}

	var relaAddr uint64
	var relacount uint64
	var haveRela, haveRelacount bool

	for off := 0; off+16 <= len(data); off += 16 {
		var d elf.Dyn64
		if err := binary.Read(bytes.NewReader(data[off:off+16]), f.ByteOrder, &d); err != nil {
			return Dynamic{}, fmt.Errorf("decode dynamic entry: %w", err)
		}
		tag := elf.DynTag(d.Tag)

		switch tag {
		case elf.DT_PLTRELSZ, elf.DT_PLTREL, elf.DT_JMPREL:
			return Dynamic{}, &Error{Kind: ErrDynEntryUnsupportedPLTGOT}
		case elf.DT_INIT, elf.DT_INIT_ARRAY, elf.DT_INIT_ARRAYSZ:
			return Dynamic{}, &Error{Kind: ErrDynEntryUnsupportedInitFunction}
		case elf.DT_FINI, elf.DT_FINI_ARRAY, elf.DT_FINI_ARRAYSZ:
			return Dynamic{}, &Error{Kind: ErrDynEntryUnsupportedFiniFunction}
		case elf.DT_REL, elf.DT_RELSZ, elf.DT_RELENT, elf.DT_RELCOUNT:
			return Dynamic{}, &Error{Kind: ErrDynEntryUnsupportedImplicitReloc}
		case elf.DT_RELA:
			if haveRela {
				return Dynamic{}, &Error{Kind: ErrDynEntryDuplicateDtRela}
			}
			haveRela = true
			relaAddr = d.Val
		case elf.DT_RELACOUNT:
			if haveRelacount {
				return Dynamic{}, &Error{Kind: ErrDynEntryDuplicateDtRelacount}
			}
			haveRelacount = true
			relacount = d.Val
		default:
			// Every other tag, including PLTGOT and the handful of
			// PLT/GOT-adjacent OS-specific tags, is ignored: the
			// remaining checks here and in checkRelocations are
			// relied on to catch any actual PLT/GOT use.
		}
	}

	switch {
	case haveRela && haveRelacount:
		return Dynamic{Present: true, RelaAddr: relaAddr, Relacount: relacount}, nil
	case !haveRela && !haveRelacount:
		return Dynamic{Present: false}, nil
	case haveRela:
		return Dynamic{}, &Error{Kind: ErrDynEntryFoundDtRelaButNotDtRelacount}
	default:
		return Dynamic{}, &Error{Kind: ErrDynEntryFoundDtRelacountButNotDtRela}
	}
}

// checkRelocations enumerates every RELA section, validating that each
// entry is an R_X86_64_RELATIVE relocation targeting a writable
// loadable segment, and that the total count matches DT_RELACOUNT.
func checkRelocations(f *elf.File, dyn Dynamic) error {
	type writableRange struct{ start, end uint64 }
	var writable []writableRange
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_W != 0 {
			writable = append(writable, writableRange{p.Vaddr, p.Vaddr + p.Memsz})
		}
	}

	var count uint64
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("read relocation section %s: %w", sec.Name, err)
		}
		if len(data)%24 != 0 {
			continue
		}
		for off := 0; off+24 <= len(data); off += 24 {
			var r elf.Rela64
			if err := binary.Read(bytes.NewReader(data[off:off+24]), f.ByteOrder, &r); err != nil {
				return fmt.Errorf("decode relocation: %w", err)
			}
			count++

			sym := elf.R_SYM64(r.Info)
			typ := elf.R_TYPE64(r.Info)
			if sym != 0 || typ != r_X86_64_RELATIVE {
				return &Error{Kind: ErrRelocationInvalid, Section: uint32(sym), Type: typ}
			}

			ok := false
			for _, w := range writable {
				if r.Off >= w.start && r.Off+8 <= w.end {
					ok = true
					break
				}
			}
			if !ok {
				return &Error{Kind: ErrRelocationOutsideWritableSegment, Offset: r.Off}
			}
		}
	}

	var target uint64
	if dyn.Present {
		target = dyn.Relacount
	}
	if count != target {
		return &Error{Kind: ErrRelocationInvalidCount, Expected: target, Actual: count}
	}

	return nil
}

func cstring(b []byte, off uint32) string {
	if int(off) >= len(b) {
		return ""
	}
	rest := b[off:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return string(rest)
	}
	return string(rest[:end])
}
