package pkt

// M2SOpcode enumerates CXL.mem Master-to-Subordinate request opcodes.
type M2SOpcode uint8

// M2S request opcodes (CXL 3.0 Table 3-20, abbreviated to what the
// CORE fabric issues).
const (
	M2SMemRd M2SOpcode = iota
	M2SMemRdData
	M2SMemWr
	M2SMemInv
)

// String returns a human-readable opcode name.
func (o M2SOpcode) String() string {
	switch o {
	case M2SMemRd:
		return "MemRd"
	case M2SMemRdData:
		return "MemRdData"
	case M2SMemWr:
		return "MemWr"
	case M2SMemInv:
		return "MemInv"
	default:
		return "Unknown"
	}
}

// MetaField selects which metadata field of the target cache line a
// request concerns. CXL.mem carries a single meta0 field.
type MetaField uint8

// Meta field values.
const (
	MetaFieldNOP MetaField = iota
	MetaField0State
)

// MetaValue is the coherence state value carried in a request's meta
// field, or the observed state carried in a response's meta field.
type MetaValue uint8

// Meta state values.
const (
	MetaValueInvalid MetaValue = iota
	MetaValueShared
	MetaValueAny
)

// SnoopType requests a specific snoop be performed against the host's
// cache before the CXL.mem request completes.
type SnoopType uint8

// Snoop types a CXL.mem request can carry.
const (
	SnpTypeNone SnoopType = iota
	SnpTypeData
	SnpTypeInv
	SnpTypeCur
)

// M2SReq is a CXL.mem Master-to-Subordinate request without data.
type M2SReq struct {
	Tag       uint16
	Addr      uint64 // host physical address, 64B aligned
	Opcode    M2SOpcode
	MetaField MetaField
	MetaValue MetaValue
	SnpType   SnoopType
}

// Kind implements [Packet].
func (*M2SReq) Kind() Kind { return KindM2SReq }

// Class implements [Packet].
func (*M2SReq) Class() Class { return ClassMem }

// M2SRwD is a CXL.mem Master-to-Subordinate request carrying a
// cache-line write payload (MemWr variants).
type M2SRwD struct {
	M2SReq
	Data [CacheLineSize]byte
}

// Kind implements [Packet].
func (*M2SRwD) Kind() Kind { return KindM2SRwD }

// S2MOpcode enumerates CXL.mem Subordinate-to-Master no-data-response
// opcodes.
type S2MOpcode uint8

// S2M-NDR opcodes.
const (
	S2MCmp S2MOpcode = iota
	S2MCmpS
	S2MCmpE
	S2MCmpM
)

// String returns a human-readable opcode name.
func (o S2MOpcode) String() string {
	switch o {
	case S2MCmp:
		return "Cmp"
	case S2MCmpS:
		return "Cmp-S"
	case S2MCmpE:
		return "Cmp-E"
	case S2MCmpM:
		return "Cmp-M"
	default:
		return "Unknown"
	}
}

// S2MNDR is a CXL.mem Subordinate-to-Master no-data response.
type S2MNDR struct {
	Tag       uint16
	Opcode    S2MOpcode
	MetaField MetaField
	MetaValue MetaValue
}

// Kind implements [Packet].
func (*S2MNDR) Kind() Kind { return KindS2MNDR }

// Class implements [Packet].
func (*S2MNDR) Class() Class { return ClassMem }

// S2MDRS is a CXL.mem Subordinate-to-Master data response.
type S2MDRS struct {
	Tag  uint16
	Data [CacheLineSize]byte
}

// Kind implements [Packet].
func (*S2MDRS) Kind() Kind { return KindS2MDRS }

// Class implements [Packet].
func (*S2MDRS) Class() Class { return ClassMem }

// BIOpcode enumerates CXL.mem back-invalidate snoop opcodes, issued by
// a device's DCOH against the host's cache.
type BIOpcode uint8

// Back-invalidate snoop opcodes.
const (
	BISnpData BIOpcode = iota
	BISnpInv
	BISnpCur
)

// BIRspOpcode enumerates the host's response opcodes to a back-invalidate
// snoop.
type BIRspOpcode uint8

// Back-invalidate response opcodes.
const (
	BIRspS BIRspOpcode = iota
	BIRspI
)

// S2MBISnp is a back-invalidate snoop issued device-to-host.
type S2MBISnp struct {
	Addr   uint64
	Opcode BIOpcode
	BIID   uint8 // back-invalidate agent identifier
	BITag  uint8 // correlates with the matching M2SBIRsp
}

// Kind implements [Packet].
func (*S2MBISnp) Kind() Kind { return KindS2MBISnp }

// Class implements [Packet].
func (*S2MBISnp) Class() Class { return ClassMem }

// M2SBIRsp is the host's response to an S2MBISnp, host-to-device.
type M2SBIRsp struct {
	Opcode BIRspOpcode
	BIID   uint8
	BITag  uint8
}

// Kind implements [Packet].
func (*M2SBIRsp) Kind() Kind { return KindM2SBIRsp }

// Class implements [Packet].
func (*M2SBIRsp) Class() Class { return ClassMem }
