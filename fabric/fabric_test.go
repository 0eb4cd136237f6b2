package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/endpoint"
	"github.com/ardnew/cxlfab/hal/tcp"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

func testConfig() Config {
	return Config{
		VCSID:      0,
		HostMemory: 1 << 20,
		MMIOBase:   0x1_0000_0000,
		HDMBase:    0x2_0000_0000,
		Endpoints: []endpoint.Config{
			{
				Name:     "mem-expander-0",
				Kind:     endpoint.Type3,
				VendorID: 0x1234,
				DeviceID: 0x0001,
				CacheID:  0,
				Capacity: 1 << 16,
			},
			{
				Name:     "accelerator-0",
				Kind:     endpoint.Type2,
				VendorID: 0x1234,
				DeviceID: 0x0002,
				CacheID:  1,
				Capacity: 1 << 16,
			},
		},
		ExternalPorts: 1,
	}
}

func TestNewRejectsEmptyTopology(t *testing.T) {
	_, err := New(Config{HostMemory: 1024})
	assert.Error(t, err)
}

func TestNewRejectsZeroHostMemory(t *testing.T) {
	_, err := New(Config{Endpoints: []endpoint.Config{{Kind: endpoint.Type3, Capacity: 4096}}})
	assert.Error(t, err)
}

func TestNewBindsEveryConfiguredEndpoint(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	info0, ok := f.EndpointInfo(0)
	require.True(t, ok)
	assert.Equal(t, uspBus+1, info0.BusRange.Secondary)

	info1, ok := f.EndpointInfo(1)
	require.True(t, ok)
	assert.Equal(t, uspBus+2, info1.BusRange.Secondary)
	assert.NotEqual(t, info0.ID, info1.ID)

	_, ok = f.EndpointInfo(2)
	assert.False(t, ok, "external slot has no in-process endpoint bound")

	assert.True(t, f.Executor().BoundPorts[0])
	assert.True(t, f.Executor().BoundPorts[1])
	assert.NotEqual(t, f.ID().String(), "")
}

func TestStartStopIsIdempotentAndJoinsActors(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	assert.ErrorIs(t, f.Start(ctx), pkg.ErrAlreadyRunning)

	require.NoError(t, f.Stop())
	require.NoError(t, f.Stop(), "second Stop is a no-op")
}

func TestCFGRequestReachesBoundEndpoint(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Start(ctx))
	defer f.Stop()

	target := pkt.MakeBDF(uspBus+1, 0, 0)
	req := &pkt.CfgReq{ReqID: 1, Tag: 5, Target: target, Type: pkt.CfgType0, Offset: 0, Size: 4}

	sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
	defer scancel()
	require.NoError(t, f.uspCFGPair.SendToTarget(sctx, req))

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	p, ok := f.uspCFGPair.ReceiveFromTarget(rctx)
	require.True(t, ok)
	cpl, isCpl := p.(*pkt.CfgCompletion)
	require.True(t, isCpl)
	assert.Equal(t, uint16(1), cpl.ReqID)
	assert.Equal(t, uint8(5), cpl.Tag)
}

func TestResolveExposesRootOnlyAtPortZero(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	b, err := f.resolve(tcp.SideRoot, 0)
	require.NoError(t, err)
	assert.NotNil(t, b.Pairs[pkt.ClassCFG])
	assert.NotNil(t, b.Pairs[pkt.ClassMMIO])

	_, err = f.resolve(tcp.SideRoot, 1)
	assert.Error(t, err)
}

func TestResolveExposesOnlyExternalSlots(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	_, err = f.resolve(tcp.SideDSP, 0)
	assert.Error(t, err, "slot 0 has an in-process endpoint bound")

	b, err := f.resolve(tcp.SideDSP, 2)
	require.NoError(t, err)
	assert.NotNil(t, b.Pairs[pkt.ClassCFG])
	assert.NotNil(t, b.Pairs[pkt.ClassCache])
}
