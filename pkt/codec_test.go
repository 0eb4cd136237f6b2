package pkt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/pkg"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	buf, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(p.Kind(), buf)
	require.NoError(t, err)
	return got
}

func TestEncodeDecodeCfgReq(t *testing.T) {
	want := &CfgReq{ReqID: 1, Tag: 2, Target: MakeBDF(1, 2, 3), Type: CfgType1, Offset: 0x10, Size: 4, IsWrite: true, Data: 0xCAFEBABE}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeCfgCompletion(t *testing.T) {
	want := &CfgCompletion{ReqID: 5, Tag: 9, Status: 1, Data: 0x11223344}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeMMIOReq(t *testing.T) {
	want := &MMIOReq{ReqID: 1, Tag: 2, Address: 0xFE000000, Size: 8, IsWrite: false, Data: 0x1122334455667788}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeMMIOCompletion(t *testing.T) {
	want := &MMIOCompletion{ReqID: 1, Tag: 2, Status: 0, Data: 0xABCD}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeM2SReq(t *testing.T) {
	want := &M2SReq{Tag: 7, Addr: 0x1000, Opcode: M2SMemRd, MetaField: MetaField0State, MetaValue: MetaValueShared, SnpType: SnpTypeData}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeM2SRwD(t *testing.T) {
	want := &M2SRwD{M2SReq: M2SReq{Tag: 1, Addr: 0x2000, Opcode: M2SMemWr}}
	want.Data[0] = 0xAA
	want.Data[CacheLineSize-1] = 0xBB
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeS2MNDR(t *testing.T) {
	want := &S2MNDR{Tag: 3, Opcode: S2MCmpE, MetaField: MetaField0State, MetaValue: MetaValueAny}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeS2MDRS(t *testing.T) {
	want := &S2MDRS{Tag: 4}
	want.Data[10] = 0x42
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeS2MBISnp(t *testing.T) {
	want := &S2MBISnp{Addr: 0x4000, Opcode: BISnpInv, BIID: 1, BITag: 2}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeM2SBIRsp(t *testing.T) {
	want := &M2SBIRsp{Opcode: BIRspS, BIID: 1, BITag: 2}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeH2DReq(t *testing.T) {
	want := &H2DReq{UQID: 1, Addr: 0x5000, Opcode: H2DSnpData, CacheID: 3}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeH2DRsp(t *testing.T) {
	want := &H2DRsp{UQID: 2, Opcode: H2DGoWritePull, CacheState: CacheStateE}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeH2DData(t *testing.T) {
	want := &H2DData{UQID: 6}
	want.Data[0] = 0x7
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeD2HReq(t *testing.T) {
	want := &D2HReq{CQID: 9, Addr: 0x6000, Opcode: D2HRdAny, CacheID: 4}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeD2HRsp(t *testing.T) {
	want := &D2HRsp{UQID: 8, Opcode: D2HRspSFwdM}
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeDecodeD2HData(t *testing.T) {
	want := &D2HData{UQID: 11}
	want.Data[5] = 0x9
	assert.Equal(t, want, roundTrip(t, want))
}

func TestEncodeRejectsUnknownPacketType(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(KindCfgReq, make([]byte, 2))
	assert.ErrorIs(t, err, pkg.ErrShortPacket)
}
