package convert

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/jbeekman/elf2sgxs/internal/sgxs"
)

// buildMinimalELF constructs a synthetic ELF with one R|X PT_LOAD
// segment and one R|W PT_LOAD segment holding the six required
// dynamic symbols, with no relocations. It exercises the same wire
// format as internal/elfinfo's own fixture builder, kept local to
// avoid a test-only cross-package dependency.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()

	const (
		vaddrText  = 0x400000
		vaddrData  = 0x600000
		sgxEntryVA = vaddrText + 0x10
	)
	syms := []struct {
		name  string
		value uint64
	}{
		{"sgx_entry", sgxEntryVA},
		{"HEAP_BASE", vaddrData + 0x100},
		{"HEAP_SIZE", vaddrData + 0x108},
		{"RELA", vaddrData + 0x110},
		{"RELACOUNT", vaddrData + 0x118},
		{"ENCLAVE_SIZE", vaddrData + 0x120},
	}

	dynstr := []byte{0}
	nameOff := map[string]uint32{}
	for _, s := range syms {
		nameOff[s.name] = uint32(len(dynstr))
		dynstr = append(dynstr, append([]byte(s.name), 0)...)
	}

	var dynsym bytes.Buffer
	dynsym.Write(make([]byte, elf.Sym64Size))
	for _, s := range syms {
		e := elf.Sym64{Name: nameOff[s.name], Shndx: 1, Value: s.value, Size: 8}
		binary.Write(&dynsym, binary.LittleEndian, &e)
	}

	text := []byte{0xf3, 0x0f, 0x1e, 0xfa, 0x01, 0x02, 0x03, 0x04}

	shstrtab := []byte{0}
	shNameOff := map[string]uint32{}
	addShName := func(n string) {
		shNameOff[n] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, append([]byte(n), 0)...)
	}
	addShName(".text")
	addShName(".dynsym")
	addShName(".dynstr")
	addShName(".shstrtab")

	const nPhdr, nShdr = 3, 5
	ehdrSize := uint64(64)
	phdrsSize := uint64(nPhdr) * 56
	shdrsSize := uint64(nShdr) * 64

	offset := ehdrSize + phdrsSize + shdrsSize
	place := func(data []byte) (off, size uint64) {
		off = offset
		offset += uint64(len(data))
		return off, uint64(len(data))
	}

	textOff, textSize := place(text)
	dynsymOff, dynsymSize := place(dynsym.Bytes())
	dynstrOff, dynstrSize := place(dynstr)
	shstrOff, shstrSize := place(shstrtab)

	var buf bytes.Buffer
	mustWrite := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[4], ident[5], ident[6] = 2, 1, 1

	ehdr := struct {
		Ident                                        [16]byte
		Type, Machine                                uint16
		Version                                      uint32
		Entry, Phoff, Shoff                          uint64
		Flags                                        uint32
		Ehsize, Phentsize, Phnum, Shentsize, Shnum, Shstrndx uint16
	}{
		Ident: ident, Type: 3, Machine: 62, Version: 1,
		Entry: sgxEntryVA, Phoff: ehdrSize, Shoff: ehdrSize + phdrsSize,
		Ehsize: 64, Phentsize: 56, Phnum: nPhdr, Shentsize: 64, Shnum: nShdr, Shstrndx: 4,
	}
	mustWrite(&ehdr)

	type phdr struct {
		Type, Flags          uint32
		Offset, Vaddr, Paddr uint64
		Filesz, Memsz, Align uint64
	}
	mustWrite(&phdr{
		Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X),
		Offset: textOff, Vaddr: vaddrText, Paddr: vaddrText,
		Filesz: textSize, Memsz: 0x1000, Align: 0x1000,
	})
	mustWrite(&phdr{
		Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W),
		Offset: dynsymOff, Vaddr: vaddrData, Paddr: vaddrData,
		Filesz: dynstrOff + dynstrSize - dynsymOff, Memsz: 0x1000, Align: 0x1000,
	})
	// A dynamic array consisting of just a DT_NULL terminator: this
	// fixture carries no DT_RELA/DT_RELACOUNT, matching "no relocations".
	var dyn bytes.Buffer
	binary.Write(&dyn, binary.LittleEndian, &elf.Dyn64{Tag: int64(elf.DT_NULL), Val: 0})
	dynOff, dynSize := place(dyn.Bytes())
	mustWrite(&phdr{
		Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W),
		Offset: dynOff, Vaddr: vaddrData, Paddr: vaddrData,
		Filesz: dynSize, Memsz: dynSize, Align: 8,
	})

	type shdr struct {
		Name, Type          uint32
		Flags, Addr, Offset uint64
		Size                uint64
		Link, Info          uint32
		Addralign, Entsize  uint64
	}
	mustWrite(&shdr{})
	mustWrite(&shdr{
		Name: shNameOff[".text"], Type: uint32(elf.SHT_PROGBITS),
		Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addr: vaddrText,
		Offset: textOff, Size: textSize, Addralign: 1,
	})
	mustWrite(&shdr{
		Name: shNameOff[".dynsym"], Type: uint32(elf.SHT_DYNSYM),
		Flags: uint64(elf.SHF_ALLOC), Addr: vaddrData,
		Offset: dynsymOff, Size: dynsymSize, Link: 3, Entsize: uint64(elf.Sym64Size), Addralign: 8,
	})
	mustWrite(&shdr{
		Name: shNameOff[".dynstr"], Type: uint32(elf.SHT_STRTAB),
		Flags: uint64(elf.SHF_ALLOC), Addr: vaddrData + (dynstrOff - dynsymOff),
		Offset: dynstrOff, Size: dynstrSize, Addralign: 1,
	})
	mustWrite(&shdr{
		Name: shNameOff[".shstrtab"], Type: uint32(elf.SHT_STRTAB),
		Offset: shstrOff, Size: shstrSize, Addralign: 1,
	})

	buf.Write(text)
	buf.Write(dynsym.Bytes())
	buf.Write(dynstr)
	buf.Write(shstrtab)
	buf.Write(dyn.Bytes())

	return buf.Bytes()
}

func TestConvertProducesCanonicalOrderAndSpliceFidelity(t *testing.T) {
	raw := buildMinimalELF(t)
	cfg := Config{SSAFrameSize: 1, HeapSize: 0x10000, StackSize: 0x10000, Debug: false}

	var out bytes.Buffer
	w := sgxs.NewCanonicalWriter(&out)

	if err := Convert(raw, cfg, w, nil); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	// header (24 bytes) + N page records (16 + 4096 each); walk them and
	// assert addresses strictly ascend.
	stream := out.Bytes()
	if len(stream) < 24 {
		t.Fatalf("stream too short: %d bytes", len(stream))
	}
	if string(stream[:4]) != "SGXS" {
		t.Fatalf("missing SGXS magic")
	}
	body := stream[24:]
	const recSize = 16 + sgxs.PageSize
	if len(body)%recSize != 0 {
		t.Fatalf("body length %d is not a multiple of the page record size", len(body))
	}

	var lastAddr uint64
	var first = true
	pageAt := map[uint64][]byte{}
	for off := 0; off < len(body); off += recSize {
		rec := body[off : off+recSize]
		addr := binary.LittleEndian.Uint64(rec[0:8])
		if !first && addr <= lastAddr {
			t.Fatalf("page addresses not strictly ascending: %#x after %#x", addr, lastAddr)
		}
		first = false
		lastAddr = addr
		pageAt[addr] = rec[16:]
	}

	if got := binary.LittleEndian.Uint64(pageAt[0x600000][0x100:0x108]); got != 0x601000 {
		t.Errorf("HEAP_BASE spliced value = %#x, want 0x601000", got)
	}
	if got := binary.LittleEndian.Uint64(pageAt[0x600000][0x108:0x110]); got != cfg.HeapSize {
		t.Errorf("HEAP_SIZE spliced value = %#x, want %#x", got, cfg.HeapSize)
	}
	if got := binary.LittleEndian.Uint64(pageAt[0x600000][0x118:0x120]); got != 0 {
		t.Errorf("RELACOUNT spliced value = %d, want 0 (no relocations)", got)
	}
}

func TestConvertDeterministic(t *testing.T) {
	raw := buildMinimalELF(t)
	cfg := Config{SSAFrameSize: 1, HeapSize: 0x10000, StackSize: 0x10000}

	var out1, out2 bytes.Buffer
	if err := Convert(raw, cfg, sgxs.NewCanonicalWriter(&out1), nil); err != nil {
		t.Fatalf("Convert (1): %v", err)
	}
	if err := Convert(raw, cfg, sgxs.NewCanonicalWriter(&out2), nil); err != nil {
		t.Fatalf("Convert (2): %v", err)
	}
	if !bytes.Equal(out1.Bytes(), out2.Bytes()) {
		t.Fatal("two conversions of the same input produced different output")
	}
}
