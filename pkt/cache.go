package pkt

// H2DOpcode enumerates CXL.cache Host-to-Device snoop request opcodes.
type H2DOpcode uint8

// H2D-Req opcodes.
const (
	H2DSnpData H2DOpcode = iota
	H2DSnpInv
	H2DSnpCur
)

// String returns a human-readable opcode name.
func (o H2DOpcode) String() string {
	switch o {
	case H2DSnpData:
		return "SnpData"
	case H2DSnpInv:
		return "SnpInv"
	case H2DSnpCur:
		return "SnpCur"
	default:
		return "Unknown"
	}
}

// H2DReq is a host-to-device snoop request, routed by CacheID.
type H2DReq struct {
	UQID    uint16 // unique request ID, echoed by the device's response
	Addr    uint64
	Opcode  H2DOpcode
	CacheID uint8 // target device cache identifier
}

// Kind implements [Packet].
func (*H2DReq) Kind() Kind { return KindH2DReq }

// Class implements [Packet].
func (*H2DReq) Class() Class { return ClassCache }

// H2DRspOpcode enumerates host-to-device grant/pull response opcodes,
// issued in reply to a device's D2HReq.
type H2DRspOpcode uint8

// H2D-Rsp opcodes.
const (
	H2DGo H2DRspOpcode = iota
	H2DGoWritePull
)

// CacheState is a MESI coherence state as carried on the wire (CXL.cache
// only ever communicates I/S/E, never M, to a requesting device).
type CacheState uint8

// Wire-visible cache states.
const (
	CacheStateI CacheState = iota
	CacheStateS
	CacheStateE
)

// H2DRsp is the host's response to a device cache request (D2HReq).
type H2DRsp struct {
	UQID       uint16
	Opcode     H2DRspOpcode
	CacheState CacheState
}

// Kind implements [Packet].
func (*H2DRsp) Kind() Kind { return KindH2DRsp }

// Class implements [Packet].
func (*H2DRsp) Class() Class { return ClassCache }

// H2DData carries the cache-line data accompanying an H2DRsp.
type H2DData struct {
	UQID uint16
	Data [CacheLineSize]byte
}

// Kind implements [Packet].
func (*H2DData) Kind() Kind { return KindH2DData }

// Class implements [Packet].
func (*H2DData) Class() Class { return ClassCache }

// D2HOpcode enumerates device-to-host cache request opcodes.
type D2HOpcode uint8

// D2H-Req opcodes.
const (
	D2HRdShared D2HOpcode = iota
	D2HRdOwnNoData
	D2HRdAny
	D2HDirtyEvict
	D2HCleanEvict
)

// String returns a human-readable opcode name.
func (o D2HOpcode) String() string {
	switch o {
	case D2HRdShared:
		return "RdShared"
	case D2HRdOwnNoData:
		return "RdOwnNoData"
	case D2HRdAny:
		return "RdAny"
	case D2HDirtyEvict:
		return "DirtyEvict"
	case D2HCleanEvict:
		return "CleanEvict"
	default:
		return "Unknown"
	}
}

// D2HReq is a device-to-host cache request.
type D2HReq struct {
	CQID    uint16 // completion queue ID, echoed by the host's H2DRsp/H2DData
	Addr    uint64
	Opcode  D2HOpcode
	CacheID uint8
}

// Kind implements [Packet].
func (*D2HReq) Kind() Kind { return KindD2HReq }

// Class implements [Packet].
func (*D2HReq) Class() Class { return ClassCache }

// D2HRspOpcode enumerates device-to-host snoop response opcodes,
// issued in reply to an H2DReq.
type D2HRspOpcode uint8

// D2H-Rsp opcodes (CXL 3.0 Table 3-33, the subset the CORE drives).
const (
	D2HRspIHitI D2HRspOpcode = iota
	D2HRspIHitSE
	D2HRspSFwdM
	D2HRspIFwdM
	D2HRspVHitV
	D2HRspMiss
)

// String returns a human-readable opcode name.
func (o D2HRspOpcode) String() string {
	switch o {
	case D2HRspIHitI:
		return "RspIHitI"
	case D2HRspIHitSE:
		return "RspIHitSE"
	case D2HRspSFwdM:
		return "RspSFwdM"
	case D2HRspIFwdM:
		return "RspIFwdM"
	case D2HRspVHitV:
		return "RspVHitV"
	case D2HRspMiss:
		return "RspMiss"
	default:
		return "Unknown"
	}
}

// D2HRsp is the device's response to an H2DReq snoop.
type D2HRsp struct {
	UQID   uint16
	Opcode D2HRspOpcode
}

// Kind implements [Packet].
func (*D2HRsp) Kind() Kind { return KindD2HRsp }

// Class implements [Packet].
func (*D2HRsp) Class() Class { return ClassCache }

// D2HData carries the cache-line data accompanying a D2HRsp, or
// fulfilling an H2DRsp's H2DGoWritePull.
type D2HData struct {
	UQID uint16
	Data [CacheLineSize]byte
}

// Kind implements [Packet].
func (*D2HData) Kind() Kind { return KindD2HData }

// Class implements [Packet].
func (*D2HData) Class() Class { return ClassCache }
