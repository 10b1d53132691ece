package layout

// stackGuardSize is the unmapped gap placed between the heap and the
// stack, per §3 of the layout spec.
const stackGuardSize = 0x10000

// Segment is the minimal description of a loadable ELF segment the
// planner needs: its highest used virtual address.
type Segment struct {
	VAddr   uint64
	MemSize uint64
}

// Config carries the conversion's tunable enclave parameters.
type Config struct {
	SSAFrameSize uint32
	HeapSize     uint64
	StackSize    uint64
	Debug        bool
}

// Validate checks the size invariants from §3 independent of any ELF
// input: heap and stack sizes are positive 4 KiB multiples, and the SSA
// frame size is positive.
func (c Config) Validate() error {
	if c.HeapSize == 0 || c.HeapSize%pageSize != 0 {
		return &Error{Kind: ErrInvalidHeapSize, Value: c.HeapSize}
	}
	if c.StackSize == 0 || c.StackSize%pageSize != 0 {
		return &Error{Kind: ErrInvalidStackSize, Value: c.StackSize}
	}
	if c.SSAFrameSize == 0 {
		return &Error{Kind: ErrInvalidSSAFrameSize, Value: uint64(c.SSAFrameSize)}
	}
	return nil
}

// Plan is the computed enclave virtual address map.
type Plan struct {
	HeapAddr    uint64
	StackAddr   uint64
	StackTos    uint64
	TLSAddr     uint64
	TCSAddr     uint64
	SSAAddr     uint64
	LastPage    uint64
	EnclaveSize uint64
}

// Compute derives the enclave address map from the validated ELF's
// loadable segments and the conversion configuration.
func Compute(segments []Segment, cfg Config) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}

	var maxLoadEnd uint64
	found := false
	for _, s := range segments {
		if end := s.VAddr + s.MemSize; !found || end > maxLoadEnd {
			maxLoadEnd = end
			found = true
		}
	}
	if !found {
		return Plan{}, &Error{Kind: ErrNoLoadableSegments}
	}

	heapAddr := AlignPage(maxLoadEnd)
	stackAddr := heapAddr + cfg.HeapSize + stackGuardSize
	stackTos := stackAddr + cfg.StackSize
	tlsAddr := stackTos
	tcsAddr := tlsAddr + pageSize
	ssaAddr := tcsAddr + pageSize
	lastPage := ssaAddr + 2*uint64(cfg.SSAFrameSize)*pageSize - pageSize

	size, err := EnclaveSize(lastPage + pageSize)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		HeapAddr:    heapAddr,
		StackAddr:   stackAddr,
		StackTos:    stackTos,
		TLSAddr:     tlsAddr,
		TCSAddr:     tcsAddr,
		SSAAddr:     ssaAddr,
		LastPage:    lastPage,
		EnclaveSize: size,
	}, nil
}
