package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/hdm"
	"github.com/ardnew/cxlfab/pkt"
)

func TestBDFTableLookup(t *testing.T) {
	table := NewBDFTable(2)
	table.Set(BusRange{Secondary: 1, Subordinate: 1}, 0)
	table.Set(BusRange{Secondary: 2, Subordinate: 4}, 1)

	port, ok := table.Lookup(pkt.MakeBDF(3, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 1, port)

	_, ok = table.Lookup(pkt.MakeBDF(9, 0, 0))
	assert.False(t, ok)
}

func TestCFGRouterForwardsAndSynthesizesUR(t *testing.T) {
	upstream := fifo.New(pkt.ClassCFG)
	downstream := []*fifo.Pair{fifo.New(pkt.ClassCFG)}

	table := NewBDFTable(1)
	table.Set(BusRange{Secondary: 1, Subordinate: 1}, 0)

	r := NewCFGRouter(upstream, downstream, table, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()

	require.NoError(t, upstream.SendToTarget(ctx, &pkt.CfgReq{ReqID: 1, Tag: 1, Target: pkt.MakeBDF(1, 0, 0)}))
	p, ok := downstream[0].ReceiveFromHost(rctx)
	require.True(t, ok)
	_, isReq := p.(*pkt.CfgReq)
	assert.True(t, isReq)

	require.NoError(t, upstream.SendToTarget(ctx, &pkt.CfgReq{ReqID: 2, Tag: 2, Target: pkt.MakeBDF(9, 0, 0)}))
	resp, ok := upstream.ReceiveFromTarget(rctx)
	require.True(t, ok)
	cpl, isCpl := resp.(*pkt.CfgCompletion)
	require.True(t, isCpl)
	assert.Equal(t, uint8(2), cpl.Tag)
}

func TestMMIORouterOOBReadReturnsCompletion(t *testing.T) {
	upstream := fifo.New(pkt.ClassMMIO)
	downstream := []*fifo.Pair{fifo.New(pkt.ClassMMIO)}

	r := NewMMIORouter(upstream, downstream, NewMMIOTable(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()

	require.NoError(t, upstream.SendToTarget(ctx, &pkt.MMIOReq{ReqID: 1, Tag: 1, Address: 0x1000}))
	resp, ok := upstream.ReceiveFromTarget(rctx)
	require.True(t, ok)
	cpl, isCpl := resp.(*pkt.MMIOCompletion)
	require.True(t, isCpl)
	assert.Equal(t, uint64(0), cpl.Data)
}

func TestMemRouterConsultsDecoders(t *testing.T) {
	upstream := fifo.New(pkt.ClassMem)
	downstream := []*fifo.Pair{fifo.New(pkt.ClassMem), fifo.New(pkt.ClassMem)}

	decoders := hdm.New("usp0", 1, nil)
	require.NoError(t, decoders.Commit(0, hdm.DecoderConfig{HPABase: 0x1000, HPASize: 0x1000, Targets: []int{1}}))

	r := NewMemRouter(upstream, downstream, decoders, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()

	require.NoError(t, upstream.SendToTarget(ctx, &pkt.M2SReq{Tag: 1, Addr: 0x1010, Opcode: pkt.M2SMemRd}))
	p, ok := downstream[1].ReceiveFromHost(rctx)
	require.True(t, ok)
	req, isReq := p.(*pkt.M2SReq)
	require.True(t, isReq)
	assert.Equal(t, uint64(0x1010), req.Addr)
}

func TestCacheRouterLooksUpCacheID(t *testing.T) {
	upstream := fifo.New(pkt.ClassCache)
	downstream := []*fifo.Pair{fifo.New(pkt.ClassCache), fifo.New(pkt.ClassCache)}

	table := NewCacheRouteTable()
	require.True(t, table.Set(5, 1))

	r := NewCacheRouter(upstream, downstream, table, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()

	require.NoError(t, upstream.SendToTarget(ctx, &pkt.H2DReq{UQID: 1, Addr: 0x40, Opcode: pkt.H2DSnpData, CacheID: 5}))
	p, ok := downstream[1].ReceiveFromHost(rctx)
	require.True(t, ok)
	_, isReq := p.(*pkt.H2DReq)
	assert.True(t, isReq)
}
