package port

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/pkt"
)

func TestConfigReadReturnsVendorDeviceID(t *testing.T) {
	p := NewPort(0, KindRoot, 0x8086, 0x1234, 0x050000)
	assert.Equal(t, uint32(0x1234<<16|0x8086), p.ConfigRead(0, 4))
}

func TestSizeBAR0RoundTrip(t *testing.T) {
	p := NewPort(0, KindRoot, 0x1E98, 0x1, 0x050000)
	size := p.SizeBAR0()
	assert.Equal(t, uint64(0x1000), size)

	p.AssignBAR0(0xFE000000, size)
	base, sz := p.BAR0()
	assert.Equal(t, uint64(0xFE000000), base)
	assert.Equal(t, size, sz)
}

func TestDVSECChainRoundTrip(t *testing.T) {
	p := NewPort(0, KindRoot, 0x1E98, 0x1, 0x050000)
	body := make([]byte, 16)
	body[0] = 0xAB
	off := p.AppendDVSEC(DVSECForCXLDevices, body)

	got, ok := p.FindDVSEC(DVSECForCXLDevices)
	require.True(t, ok)
	assert.Equal(t, off, got)
	assert.Equal(t, byte(0xAB), p.cfgSpace[got])
}

func TestDVSECChainMultipleEntries(t *testing.T) {
	p := NewPort(0, KindRoot, 0x1E98, 0x1, 0x050000)
	p.AppendDVSEC(DVSECForCXLDevices, make([]byte, 16))
	p.AppendDVSEC(RegisterLocatorDVSEC, make([]byte, 8))

	_, ok := p.FindDVSEC(DVSECForCXLDevices)
	assert.True(t, ok)
	_, ok = p.FindDVSEC(RegisterLocatorDVSEC)
	assert.True(t, ok)
}

func TestPortRunServicesCfgReadAndWrite(t *testing.T) {
	p := NewPort(0, KindRoot, 0x1E98, 0x1, 0x050000)
	pair := fifo.New(pkt.ClassCFG)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go p.Run(ctx, pair)

	require.NoError(t, pair.SendToTarget(ctx, &pkt.CfgReq{ReqID: 1, Tag: 3, Offset: 0, Size: 2}))
	resp, ok := pair.ReceiveFromTarget(ctx)
	require.True(t, ok)
	cpl := resp.(*pkt.CfgCompletion)
	assert.Equal(t, uint32(0x1E98), cpl.Data)

	require.NoError(t, pair.SendToTarget(ctx, &pkt.CfgReq{ReqID: 2, Tag: 4, Offset: 0x10, Size: 4, IsWrite: true, Data: 0xDEADBEEF}))
	_, ok = pair.ReceiveFromTarget(ctx)
	require.True(t, ok)
	assert.Equal(t, uint32(0xDEADBEEF), p.ConfigRead(0x10, 4))
}
