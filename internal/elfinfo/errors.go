package elfinfo

import (
	"fmt"
	"strings"
)

// Kind identifies an ELF Inspector failure, grouped as in §7: ELF
// structural, symbol policy, dynamic-entry policy, and relocation
// policy.
type Kind int

const (
	ErrElfClassNot64 Kind = iota
	ErrDynamicSymbolTableNotFound
	ErrDynamicSymbolTableNotInDynsymSection
	ErrDynamicSectionNotFound
	ErrDynamicSectionNotInPtDynamicSegment

	ErrDynamicSymbolUndefined
	ErrDynamicSymbolDuplicate
	ErrDynamicSymbolMissing
	ErrDynamicSymbolIncorrectSize

	ErrDynEntryUnsupportedPLTGOT
	ErrDynEntryUnsupportedInitFunction
	ErrDynEntryUnsupportedFiniFunction
	ErrDynEntryUnsupportedImplicitReloc
	ErrDynEntryDuplicateDtRela
	ErrDynEntryDuplicateDtRelacount
	ErrDynEntryFoundDtRelaButNotDtRelacount
	ErrDynEntryFoundDtRelacountButNotDtRela

	ErrRelocationInvalid
	ErrRelocationOutsideWritableSegment
	ErrRelocationInvalidCount
)

// Error is a structured Inspector failure.
type Error struct {
	Kind     Kind
	Name     string
	Names    []string
	Expected uint64
	Actual   uint64
	Section  uint32
	Type     uint32
	Offset   uint64
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrElfClassNot64:
		return "only 64-bit ELF is supported"
	case ErrDynamicSymbolTableNotFound:
		return "could not find dynamic symbol table"
	case ErrDynamicSymbolTableNotInDynsymSection:
		return ".dynsym section is not a dynamic symbol table"
	case ErrDynamicSectionNotFound:
		return "could not find dynamic section"
	case ErrDynamicSectionNotInPtDynamicSegment:
		return "PT_DYNAMIC segment is not a dynamic section"
	case ErrDynamicSymbolUndefined:
		return fmt.Sprintf("found undefined dynamic symbol: %s", e.Name)
	case ErrDynamicSymbolDuplicate:
		return fmt.Sprintf("found symbol twice: %s", e.Name)
	case ErrDynamicSymbolMissing:
		return fmt.Sprintf("these dynamic symbols are missing: %s", strings.Join(e.Names, ", "))
	case ErrDynamicSymbolIncorrectSize:
		return fmt.Sprintf("symbol %s has incorrect size: expected %d, got %d", e.Name, e.Expected, e.Actual)
	case ErrDynEntryUnsupportedPLTGOT:
		return "unsupported dynamic entry: PLT/GOT"
	case ErrDynEntryUnsupportedInitFunction:
		return "unsupported dynamic entry: .init functions"
	case ErrDynEntryUnsupportedFiniFunction:
		return "unsupported dynamic entry: .fini functions"
	case ErrDynEntryUnsupportedImplicitReloc:
		return "unsupported dynamic entry: relocations with implicit addend"
	case ErrDynEntryDuplicateDtRela:
		return "found dynamic entry twice: DT_RELA"
	case ErrDynEntryDuplicateDtRelacount:
		return "found dynamic entry twice: DT_RELACOUNT"
	case ErrDynEntryFoundDtRelaButNotDtRelacount:
		return "DT_RELA found, but DT_RELACOUNT not found"
	case ErrDynEntryFoundDtRelacountButNotDtRela:
		return "DT_RELACOUNT found, but DT_RELA not found"
	case ErrRelocationInvalid:
		return fmt.Sprintf("invalid relocation: section=%d type=%d", e.Section, e.Type)
	case ErrRelocationOutsideWritableSegment:
		return fmt.Sprintf("relocation at %#016x outside of writable segments", e.Offset)
	case ErrRelocationInvalidCount:
		return fmt.Sprintf("expected %d relocations, found %d", e.Expected, e.Actual)
	default:
		return "elfinfo: unknown error"
	}
}
