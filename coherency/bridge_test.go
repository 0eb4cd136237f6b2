package coherency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/cache"
	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/mem"
	"github.com/ardnew/cxlfab/pkt"
)

func TestBridgeFetchSharedNoDeviceHolders(t *testing.T) {
	backing := mem.NewMemory(4096)
	var seed [pkt.CacheLineSize]byte
	seed[0] = 0x9
	require.NoError(t, backing.WriteAt(0x40, seed[:]))

	b := NewBridge(backing, time.Second, nil)

	data, state, err := b.FetchShared(context.Background(), 0x40)
	require.NoError(t, err)
	assert.Equal(t, seed, data)
	assert.Equal(t, pkt.CacheStateE, state)
}

func TestBridgeServicesDeviceReadRequest(t *testing.T) {
	backing := mem.NewMemory(4096)
	var seed [pkt.CacheLineSize]byte
	seed[2] = 0x55
	require.NoError(t, backing.WriteAt(0x80, seed[:]))

	b := NewBridge(backing, time.Second, nil)
	hostLLC := cache.New("host", cache.DefaultConfig, b, nil)
	b.AttachHostCache(hostLLC)

	cachePair := fifo.New(pkt.ClassCache)
	b.AddDevice(3, cachePair)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.NoError(t, cachePair.SendToHost(ctx, &pkt.D2HReq{CQID: 11, Addr: 0x80, Opcode: pkt.D2HRdShared, CacheID: 3}))

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()

	resp, ok := cachePair.ReceiveFromTarget(rctx)
	require.True(t, ok)
	rsp, isRsp := resp.(*pkt.H2DRsp)
	require.True(t, isRsp)
	assert.Equal(t, uint16(11), rsp.UQID)
	assert.Equal(t, pkt.H2DGo, rsp.Opcode)

	resp, ok = cachePair.ReceiveFromTarget(rctx)
	require.True(t, ok)
	data, isData := resp.(*pkt.H2DData)
	require.True(t, isData)
	assert.Equal(t, seed, data.Data)
}
