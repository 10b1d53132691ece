package sgxs

import "encoding/binary"

// TCSSize is the fixed on-disk size of a Thread Control Structure page.
const TCSSize = PageSize

// Tcs is the subset of the hardware Thread Control Structure layout this
// core populates. All other bytes of the page are zero. Fields are
// serialized explicitly in native little-endian order rather than via
// memory punning, per the design notes: Go gives no struct-layout
// guarantee to rely on here.
type Tcs struct {
	OSSA     uint64 // offset of the first SSA frame, relative to enclave base
	NSSA     uint32 // number of SSA frames
	OEntry   uint64 // entry point, relative to enclave base
	OFSBASGX uint64 // FS segment base, relative to enclave base
	OGSBASGX uint64 // GS segment base, relative to enclave base
	FSLimit  uint32
	GSLimit  uint32
}

// Bytes serializes the TCS page. Layout (all little-endian):
//
//	0x00 STATE    u64 (always 0: INACTIVE)
//	0x08 FLAGS    u64 (always 0)
//	0x10 OSSA     u64
//	0x18 CSSA     u32 (always 0)
//	0x1c NSSA     u32
//	0x20 OENTRY   u64
//	0x28 OAEP     u64 (always 0)
//	0x30 OFSBASGX u64
//	0x38 OGSBASGX u64
//	0x40 FSLIMIT  u32
//	0x44 GSLIMIT  u32
//	0x48..0x1000  reserved, zero
func (t Tcs) Bytes() []byte {
	buf := make([]byte, TCSSize)
	binary.LittleEndian.PutUint64(buf[0x10:], t.OSSA)
	binary.LittleEndian.PutUint32(buf[0x1c:], t.NSSA)
	binary.LittleEndian.PutUint64(buf[0x20:], t.OEntry)
	binary.LittleEndian.PutUint64(buf[0x30:], t.OFSBASGX)
	binary.LittleEndian.PutUint64(buf[0x38:], t.OGSBASGX)
	binary.LittleEndian.PutUint32(buf[0x40:], t.FSLimit)
	binary.LittleEndian.PutUint32(buf[0x44:], t.GSLimit)
	return buf
}
