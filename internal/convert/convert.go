// Package convert wires the ELF Inspector, Layout Planner, and Splice
// Engine together and drives the SGXS writer, implementing the
// control flow described in §2: inspect, plan, then emit.
package convert

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbeekman/elf2sgxs/internal/elfinfo"
	"github.com/jbeekman/elf2sgxs/internal/layout"
	glog "github.com/jbeekman/elf2sgxs/internal/log"
	"github.com/jbeekman/elf2sgxs/internal/sgxs"
	"github.com/jbeekman/elf2sgxs/internal/splice"
)

// Convert runs the full pipeline over raw ELF bytes and drives w with
// the resulting canonical SGXS stream. Every step short-circuits on
// the first error: validation failures surface before any byte is
// written, downstream writer failures surface wrapped in a
// *WriterError.
func Convert(raw []byte, cfg Config, w sgxs.Writer, logger *glog.Logger) error {
	if logger == nil {
		logger = glog.NewNop()
	}
	log := logger.WithCategory("convert")
	id := uuid.NewString()
	log.Info("starting conversion", glog.Fn(id))

	info, err := elfinfo.Inspect(raw)
	if err != nil {
		log.Error("inspection failed", glog.Fn(id))
		return err
	}

	segments := make([]layout.Segment, len(info.LoadSegments))
	for i, s := range info.LoadSegments {
		segments[i] = layout.Segment{VAddr: s.VAddr, MemSize: s.MemSize}
	}
	plan, err := layout.Compute(segments, cfg.layoutConfig())
	if err != nil {
		log.Error("layout computation failed", glog.Fn(id))
		return err
	}
	log.Debug("layout computed",
		glog.Fn(id),
		glog.Ptr("heap_addr", plan.HeapAddr),
		glog.Ptr("stack_addr", plan.StackAddr),
		glog.Ptr("enclave_size", plan.EnclaveSize),
	)

	relaAddr := uint64(0)
	relacount := uint64(0)
	if info.Dynamic.Present {
		relaAddr = info.Dynamic.RelaAddr
		relacount = info.Dynamic.Relacount
	}

	splices := []splice.Splice{
		{Addr: info.Symbols.HeapBase.Value, Value: plan.HeapAddr},
		{Addr: info.Symbols.HeapSize.Value, Value: cfg.HeapSize},
		{Addr: info.Symbols.Rela.Value, Value: relaAddr},
		{Addr: info.Symbols.Relacount.Value, Value: relacount},
		{Addr: info.Symbols.EnclaveSize.Value, Value: plan.EnclaveSize},
	}
	cur, err := splice.NewList(splices)
	if err != nil {
		return fmt.Errorf("building splice list: %w", err)
	}

	if err := w.Begin(sgxs.ECreate{Size: plan.EnclaveSize, SSAFrameSize: cfg.SSAFrameSize}); err != nil {
		return &WriterError{Stage: "begin", Err: err}
	}

	for _, seg := range info.LoadSegments {
		base := seg.VAddr &^ (sgxs.PageSize - 1)
		end := seg.VAddr + seg.MemSize
		buf, err := splice.ApplyToSegment(base, seg.VAddr, end, info.SegmentBytes(seg), cur)
		if err != nil {
			return fmt.Errorf("applying splices to segment at %s: %w", glog.Hex(seg.VAddr), err)
		}
		secinfo := sgxs.Secinfo{
			Flags: sgxs.RWX(seg.Flags&elf.PF_R != 0, seg.Flags&elf.PF_W != 0, seg.Flags&elf.PF_X != 0),
			Page:  sgxs.PageTypeReg,
		}
		addr := base
		if err := w.WritePages(buf, len(buf)/sgxs.PageSize, &addr, secinfo); err != nil {
			return &WriterError{Stage: "load segment", Err: err}
		}
	}
	if cur.Remaining() != 0 {
		return fmt.Errorf("convert: %d splice(s) were never reached by any loadable segment", cur.Remaining())
	}

	rw := sgxs.Secinfo{Flags: sgxs.RWX(true, true, false), Page: sgxs.PageTypeReg}

	heapAddr := plan.HeapAddr
	if err := w.WritePages(nil, int(cfg.HeapSize/sgxs.PageSize), &heapAddr, rw); err != nil {
		return &WriterError{Stage: "heap", Err: err}
	}

	stackAddr := plan.StackAddr
	if err := w.WritePages(nil, int(cfg.StackSize/sgxs.PageSize), &stackAddr, rw); err != nil {
		return &WriterError{Stage: "stack", Err: err}
	}

	tls := make([]byte, sgxs.PageSize)
	binary.LittleEndian.PutUint64(tls[0:8], plan.StackTos)
	tlsAddr := plan.TLSAddr
	if err := w.WritePage(tls, &tlsAddr, rw); err != nil {
		return &WriterError{Stage: "tls", Err: err}
	}

	nssa := uint32(1)
	if cfg.Debug {
		nssa = 2
	}
	tcs := sgxs.Tcs{
		OSSA:     plan.TCSAddr + sgxs.PageSize,
		NSSA:     nssa,
		OEntry:   info.Symbols.Entry.Value,
		OFSBASGX: plan.TLSAddr,
		OGSBASGX: plan.StackTos,
		FSLimit:  0xFFF,
		GSLimit:  0xFFF,
	}
	tcsAddr := plan.TCSAddr
	if err := w.WritePage(tcs.Bytes(), &tcsAddr, sgxs.Secinfo{Page: sgxs.PageTypeTCS}); err != nil {
		return &WriterError{Stage: "tcs", Err: err}
	}

	ssaAddr := plan.SSAAddr
	if err := w.WritePages(nil, int(2*uint64(cfg.SSAFrameSize)), &ssaAddr, rw); err != nil {
		return &WriterError{Stage: "ssa", Err: err}
	}

	log.Info("conversion complete", glog.Fn(id), glog.Size(plan.EnclaveSize))
	return nil
}
