package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/pkt"
)

// fakeUpstream is a minimal in-memory Upstream for exercising the LLC
// in isolation, standing in for a DCOH/CoherencyBridge during tests.
type fakeUpstream struct {
	mu      sync.Mutex
	backing map[uint64][pkt.CacheLineSize]byte
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{backing: make(map[uint64][pkt.CacheLineSize]byte)}
}

func (f *fakeUpstream) FetchShared(_ context.Context, addr uint64) ([pkt.CacheLineSize]byte, pkt.CacheState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backing[addr], pkt.CacheStateE, nil
}

func (f *fakeUpstream) FetchExclusive(_ context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backing[addr], nil
}

func (f *fakeUpstream) Invalidate(context.Context, uint64) error { return nil }

func (f *fakeUpstream) WriteBack(_ context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backing[addr] = data
	return nil
}

func TestCoherentStoreThenLoadHits(t *testing.T) {
	up := newFakeUpstream()
	c := New("test", DefaultConfig, up, nil)
	ctx := context.Background()

	var data [pkt.CacheLineSize]byte
	data[0] = 0xAA

	require.NoError(t, c.CoherentStore(ctx, 0x40, data))

	got, err := c.CoherentLoad(ctx, 0x40)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEvictionWritesBackModifiedLine(t *testing.T) {
	up := newFakeUpstream()
	cfg := Config{Sets: 1, Associativity: 1}
	c := New("test", cfg, up, nil)
	ctx := context.Background()

	var d1, d2 [pkt.CacheLineSize]byte
	d1[0] = 1
	d2[0] = 2

	// two addresses mapping to the same (only) set/way forces eviction.
	require.NoError(t, c.CoherentStore(ctx, 0x000, d1))
	require.NoError(t, c.CoherentStore(ctx, 0x040, d2))

	up.mu.Lock()
	written, ok := up.backing[0x000]
	up.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, d1, written)
}

func TestSnoopDataOnSharedLine(t *testing.T) {
	up := newFakeUpstream()
	c := New("test", DefaultConfig, up, nil)
	ctx := context.Background()

	_, err := c.CoherentLoad(ctx, 0x80) // installs as Exclusive (fake returns CacheStateE)
	require.NoError(t, err)

	result, _ := c.Snoop(SnoopData, 0x80)
	assert.Equal(t, RspS, result)

	// a second SnoopData against the now-Shared line stays Shared.
	result, _ = c.Snoop(SnoopData, 0x80)
	assert.Equal(t, RspS, result)
}

func TestSnoopInvalidateOnModifiedLine(t *testing.T) {
	up := newFakeUpstream()
	c := New("test", DefaultConfig, up, nil)
	ctx := context.Background()

	var data [pkt.CacheLineSize]byte
	data[0] = 0x7

	require.NoError(t, c.CoherentStore(ctx, 0x100, data))

	result, got := c.Snoop(SnoopInv, 0x100)
	assert.Equal(t, RspI, result)
	assert.Equal(t, data, got)

	// line is now invalid; a further snoop misses.
	result, _ = c.Snoop(SnoopInv, 0x100)
	assert.Equal(t, RspMiss, result)
}

func TestSnoopMissOnUncachedLine(t *testing.T) {
	up := newFakeUpstream()
	c := New("test", DefaultConfig, up, nil)

	result, _ := c.Snoop(SnoopData, 0x999999)
	assert.Equal(t, RspMiss, result)
}
