package endpoint

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

func TestNewType1AllowsNilMemory(t *testing.T) {
	_, err := New(0, Config{Kind: Type1}, nil, fifo.New(pkt.ClassMem), fifo.New(pkt.ClassCache), nil)
	assert.NoError(t, err)
}

func TestNewType3RequiresMemory(t *testing.T) {
	_, err := New(0, Config{Kind: Type3, Capacity: 4096}, nil, fifo.New(pkt.ClassMem), fifo.New(pkt.ClassCache), nil)
	assert.Error(t, err)
}

func TestType3EndpointServicesMemRead(t *testing.T) {
	memFIFO := fifo.New(pkt.ClassMem)
	cacheFIFO := fifo.New(pkt.ClassCache)
	cfgFIFO := fifo.New(pkt.ClassCFG)
	backing := mem.NewMemory(4096)
	require.NoError(t, backing.WriteAt(0, []byte{1, 2, 3, 4}))

	ep, err := New(0, Config{Kind: Type3, Capacity: 4096, VendorID: 0x1E98, DeviceID: 3}, backing, memFIFO, cacheFIFO, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ep.Run(ctx, cfgFIFO)

	require.NoError(t, memFIFO.SendToTarget(ctx, &pkt.M2SReq{Tag: 1, Addr: 0, Opcode: pkt.M2SMemRdData}))
	ndr, ok := memFIFO.ReceiveFromTarget(ctx)
	require.True(t, ok)
	_, isNDR := ndr.(*pkt.S2MNDR)
	assert.True(t, isNDR)

	drs, ok := memFIFO.ReceiveFromTarget(ctx)
	require.True(t, ok)
	d, isDRS := drs.(*pkt.S2MDRS)
	require.True(t, isDRS)
	assert.Equal(t, byte(1), d.Data[0])
}

func TestMLDEndpointBuildsLDAllocationTable(t *testing.T) {
	ep, err := New(0, Config{Kind: Type3, Capacity: 1024, NumLogicalDevices: 4}, mem.NewMemory(1024), fifo.New(pkt.ClassMem), fifo.New(pkt.ClassCache), nil)
	require.NoError(t, err)
	require.True(t, ep.IsMLD())
	assert.Equal(t, 4, ep.LDTable.NumLogicalDevices())

	allocs := ep.LDTable.Get()
	var sum uint64
	for _, a := range allocs {
		sum += a
	}
	assert.Equal(t, uint64(1024), sum)
}
