package fifo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/pkt"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	p := New(pkt.ClassMMIO)
	ctx := context.Background()

	req := &pkt.MMIOReq{Address: 0x1000, Size: 4}
	require.NoError(t, p.SendToTarget(ctx, req))

	got, ok := p.ReceiveFromHost(ctx)
	require.True(t, ok)
	assert.Same(t, pkt.Packet(req), got)
}

func TestShutdownDrainsAndClosesBothDirections(t *testing.T) {
	p := NewDepth(pkt.ClassCFG, 2)
	ctx := context.Background()

	require.NoError(t, p.SendToTarget(ctx, &pkt.CfgReq{Tag: 1}))
	p.Shutdown()

	// the buffered message is still observed before the close fires.
	_, ok := p.ReceiveFromHost(ctx)
	assert.True(t, ok)

	_, ok = p.ReceiveFromHost(ctx)
	assert.False(t, ok)
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	p := New(pkt.ClassCache)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := p.ReceiveFromHost(ctx)
	assert.False(t, ok)
}

func TestClassAccessor(t *testing.T) {
	p := New(pkt.ClassMem)
	assert.Equal(t, pkt.ClassMem, p.Class())
}
