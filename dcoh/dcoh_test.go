package dcoh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/mem"
	"github.com/ardnew/cxlfab/pkt"
)

func TestMemReadWriteRoundTripNoCache(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	cacheFIFO := fifo.New(pkt.ClassCache)
	backing := mem.NewMemory(1 << 20)

	d := New(Config{Name: "dev0", CacheID: 0}, backing, memFIFO, cacheFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var data [pkt.CacheLineSize]byte
	data[0] = 0x42

	require.NoError(t, memFIFO.SendToTarget(ctx, &pkt.M2SRwD{
		M2SReq: pkt.M2SReq{Tag: 1, Addr: 0x100, Opcode: pkt.M2SMemWr, MetaField: pkt.MetaFieldNOP, MetaValue: pkt.MetaValueAny},
		Data:   data,
	}))

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	resp, ok := memFIFO.ReceiveFromTarget(rctx)
	require.True(t, ok)
	ndr, isNDR := resp.(*pkt.S2MNDR)
	require.True(t, isNDR)
	assert.Equal(t, pkt.S2MCmp, ndr.Opcode)
	assert.Equal(t, uint16(1), ndr.Tag)

	require.NoError(t, memFIFO.SendToTarget(ctx, &pkt.M2SReq{
		Tag: 2, Addr: 0x100, Opcode: pkt.M2SMemRdData, MetaField: pkt.MetaFieldNOP, MetaValue: pkt.MetaValueAny,
	}))

	resp, ok = memFIFO.ReceiveFromTarget(rctx)
	require.True(t, ok)
	ndr, isNDR = resp.(*pkt.S2MNDR)
	require.True(t, isNDR)
	assert.Equal(t, uint16(2), ndr.Tag)

	resp, ok = memFIFO.ReceiveFromTarget(rctx)
	require.True(t, ok)
	drs, isDRS := resp.(*pkt.S2MDRS)
	require.True(t, isDRS)
	assert.Equal(t, data, drs.Data)
}

func TestCacheSnoopMissWithoutSelfCache(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	cacheFIFO := fifo.New(pkt.ClassCache)
	backing := mem.NewMemory(4096)

	d := New(Config{Name: "dev1", CacheID: 1}, backing, memFIFO, cacheFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, cacheFIFO.SendToTarget(ctx, &pkt.H2DReq{UQID: 7, Addr: 0x40, Opcode: pkt.H2DSnpData, CacheID: 1}))

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	resp, ok := cacheFIFO.ReceiveFromTarget(rctx)
	require.True(t, ok)
	rsp, isRsp := resp.(*pkt.D2HRsp)
	require.True(t, isRsp)
	assert.Equal(t, pkt.D2HRspMiss, rsp.Opcode)
	assert.Equal(t, uint16(7), rsp.UQID)
}
