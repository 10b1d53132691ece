package sgxs

import (
	"bytes"
	"testing"
)

func TestCanonicalWriterOrdering(t *testing.T) {
	var buf bytes.Buffer
	w := NewCanonicalWriter(&buf)

	if err := w.Begin(ECreate{Size: 0x1000000, SSAFrameSize: 1}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	a := uint64(0x400000)
	if err := w.WritePage(make([]byte, PageSize), &a, Secinfo{Flags: RWX(true, false, true), Page: PageTypeReg}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	// continuing from the cursor (no address) must succeed
	if err := w.WritePage(nil, nil, Secinfo{Flags: RWX(true, true, false), Page: PageTypeReg}); err != nil {
		t.Fatalf("WritePage continuation: %v", err)
	}

	// an address that does not strictly increase must fail
	same := a
	if err := w.WritePage(nil, &same, Secinfo{}); err == nil {
		t.Fatal("expected error for non-increasing address")
	}

	// a misaligned address must fail
	mis := a + 0x2001
	if err := w.WritePage(nil, &mis, Secinfo{}); err == nil {
		t.Fatal("expected error for misaligned address")
	}
}

func TestCanonicalWriterBeginRequired(t *testing.T) {
	var buf bytes.Buffer
	w := NewCanonicalWriter(&buf)
	a := uint64(0x1000)
	if err := w.WritePage(nil, &a, Secinfo{}); err == nil {
		t.Fatal("expected error when WritePage precedes Begin")
	}
}

func TestCanonicalWriterDeterministic(t *testing.T) {
	run := func() []byte {
		var buf bytes.Buffer
		w := NewCanonicalWriter(&buf)
		_ = w.Begin(ECreate{Size: 0x2000, SSAFrameSize: 1})
		a := uint64(0x1000)
		_ = w.WritePages([]byte{1, 2, 3}, 2, &a, Secinfo{Flags: RWX(true, true, false), Page: PageTypeReg})
		return append(buf.Bytes(), w.Measurement()...)
	}
	first := run()
	second := run()
	if !bytes.Equal(first, second) {
		t.Fatal("identical inputs produced different output")
	}
}

func TestCanonicalWriterZeroFillsShortData(t *testing.T) {
	var buf bytes.Buffer
	w := NewCanonicalWriter(&buf)
	_ = w.Begin(ECreate{Size: 0x1000, SSAFrameSize: 1})
	a := uint64(0x1000)
	if err := w.WritePages([]byte{0xAA}, 1, &a, Secinfo{Page: PageTypeReg}); err != nil {
		t.Fatalf("WritePages: %v", err)
	}
	out := buf.Bytes()
	page := out[len(out)-PageSize:]
	if page[0] != 0xAA {
		t.Fatalf("expected first byte 0xAA, got %#x", page[0])
	}
	for i := 1; i < len(page); i++ {
		if page[i] != 0 {
			t.Fatalf("expected zero-fill at offset %d, got %#x", i, page[i])
		}
	}
}
