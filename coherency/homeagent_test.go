package coherency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/pkt"
)

// fakeDevice answers CXL.mem requests on the target side of a Pair the
// way a DCOH would, without pulling in the dcoh package.
func fakeDevice(ctx context.Context, t *testing.T, pair *fifo.Pair, data [pkt.CacheLineSize]byte) {
	go func() {
		for {
			p, ok := pair.ReceiveFromHost(ctx)
			if !ok {
				return
			}
			switch req := p.(type) {
			case *pkt.M2SReq:
				switch req.Opcode {
				case pkt.M2SMemRdData:
					require.NoError(t, pair.SendToHost(ctx, &pkt.S2MNDR{Tag: req.Tag, Opcode: pkt.S2MCmpE}))
					require.NoError(t, pair.SendToHost(ctx, &pkt.S2MDRS{Tag: req.Tag, Data: data}))
				case pkt.M2SMemInv:
					require.NoError(t, pair.SendToHost(ctx, &pkt.S2MNDR{Tag: req.Tag, Opcode: pkt.S2MCmp}))
				}
			case *pkt.M2SRwD:
				require.NoError(t, pair.SendToHost(ctx, &pkt.S2MNDR{Tag: req.Tag, Opcode: pkt.S2MCmp}))
			}
		}
	}()
}

func TestHomeAgentFetchSharedRoundTrip(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	ha := NewHomeAgent(Config{Timeout: time.Second}, memFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ha.Run(ctx)

	var want [pkt.CacheLineSize]byte
	want[0] = 0x7

	fakeDevice(ctx, t, memFIFO, want)

	data, state, err := ha.FetchShared(ctx, 0x200)
	require.NoError(t, err)
	assert.Equal(t, want, data)
	assert.Equal(t, pkt.CacheStateE, state)
}

func TestHomeAgentWriteBackRoundTrip(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	ha := NewHomeAgent(Config{Timeout: time.Second}, memFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ha.Run(ctx)

	fakeDevice(ctx, t, memFIFO, [pkt.CacheLineSize]byte{})

	var data [pkt.CacheLineSize]byte
	data[1] = 0xAB
	require.NoError(t, ha.WriteBack(ctx, 0x300, data))
}

func TestHomeAgentInvalidateTimeout(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	ha := NewHomeAgent(Config{Timeout: 20 * time.Millisecond}, memFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ha.Run(ctx)

	err := ha.Invalidate(ctx, 0x400)
	assert.Error(t, err)
}

func TestHomeAgentNonCacheInvalidateShortCircuits(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	ha := NewHomeAgent(Config{Timeout: 20 * time.Millisecond, NonCache: true}, memFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ha.Run(ctx)

	require.NoError(t, ha.Invalidate(ctx, 0x400))
}

func TestHomeAgentServicesBackInvalidate(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	ha := NewHomeAgent(Config{Timeout: time.Second}, memFIFO, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ha.Run(ctx)

	fakeDevice(ctx, t, memFIFO, [pkt.CacheLineSize]byte{})

	require.NoError(t, memFIFO.SendToHost(ctx, &pkt.S2MBISnp{Addr: 0x500, Opcode: pkt.BISnpInv, BIID: 1, BITag: 9}))

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	resp, ok := memFIFO.ReceiveFromHost(rctx)
	require.True(t, ok)
	rsp, isRsp := resp.(*pkt.M2SBIRsp)
	require.True(t, isRsp)
	assert.Equal(t, pkt.BIRspI, rsp.Opcode)
	assert.Equal(t, uint8(9), rsp.BITag)
}
