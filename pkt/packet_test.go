package pkt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBDFComponents(t *testing.T) {
	b := MakeBDF(2, 5, 3)
	assert.Equal(t, uint8(2), b.Bus())
	assert.Equal(t, uint8(5), b.Device())
	assert.Equal(t, uint8(3), b.Function())
}

func TestBDFZeroFunction(t *testing.T) {
	b := MakeBDF(1, 0, 0)
	assert.Equal(t, BDF(0x0100), b)
}

func TestCfgCompletionMarshal(t *testing.T) {
	c := &CfgCompletion{Data: 0xDEADBEEF}
	buf := make([]byte, 4)
	n := c.MarshalTo(buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf)
}

func TestCfgCompletionMarshalShortBuffer(t *testing.T) {
	c := &CfgCompletion{Data: 1}
	assert.Equal(t, 0, c.MarshalTo(make([]byte, 2)))
}

func TestPacketKindsImplementInterface(t *testing.T) {
	var packets = []Packet{
		&CfgReq{}, &CfgCompletion{},
		&MMIOReq{}, &MMIOCompletion{},
		&M2SReq{}, &M2SRwD{}, &S2MNDR{}, &S2MDRS{},
		&S2MBISnp{}, &M2SBIRsp{},
		&H2DReq{}, &H2DRsp{}, &H2DData{},
		&D2HReq{}, &D2HRsp{}, &D2HData{},
	}
	for _, p := range packets {
		assert.NotEmpty(t, p.Kind().String())
		assert.NotEmpty(t, p.Class().String())
	}
}
