package coherency

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/cache"
	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/mem"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// deviceLink binds one device's CXL.cache FIFO pair to the cache ID the
// Bridge uses to address it in the snoop filter.
type deviceLink struct {
	cacheID uint8
	pair    *fifo.Pair
}

type bridgeWait struct {
	rsp  pkt.D2HRsp
	data pkt.D2HData
	done chan struct{}
}

// pendingKey namespaces in-flight request correlation IDs by the device
// that will respond: each device's CQID counter (dcoh's own nextTag) is
// independent, so the bare ID alone is not unique across devices.
type pendingKey struct {
	cacheID uint8
	id      uint16
}

// Bridge is the host-side Cache Coherency Bridge: it relays host cache
// misses/evictions to device caches over CXL.cache, and services device
// cache requests by snooping the host's own LLC.
type Bridge struct {
	hostMem mem.Accessor
	timeout time.Duration
	metrics *pkg.Metrics

	mu      sync.Mutex
	devices []deviceLink
	sfDev   map[uint64]map[uint8]bool
	nextUQ  uint16
	pending map[pendingKey]*bridgeWait

	hostLLC *cache.LLC // set after construction via AttachHostCache (avoids an import cycle at construction)
}

// NewBridge creates a Bridge backed by hostMem for addresses no device
// cache currently holds.
func NewBridge(hostMem mem.Accessor, timeout time.Duration, metrics *pkg.Metrics) *Bridge {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Bridge{
		hostMem: hostMem,
		timeout: timeout,
		metrics: metrics,
		sfDev:   make(map[uint64]map[uint8]bool),
		pending: make(map[pendingKey]*bridgeWait),
	}
}

// AttachHostCache wires the host's own LLC so the Bridge can service
// device-initiated cache requests by snooping it.
func (b *Bridge) AttachHostCache(llc *cache.LLC) { b.hostLLC = llc }

// AddDevice registers a device's CXL.cache FIFO pair under cacheID and
// starts servicing it. Call before Run.
func (b *Bridge) AddDevice(cacheID uint8, pair *fifo.Pair) {
	b.mu.Lock()
	b.devices = append(b.devices, deviceLink{cacheID: cacheID, pair: pair})
	b.mu.Unlock()
}

// Run services every registered device's CXL.cache pair until ctx is
// cancelled.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	b.mu.Lock()
	links := append([]deviceLink(nil), b.devices...)
	b.mu.Unlock()

	wg.Add(len(links))
	for _, l := range links {
		l := l
		go func() {
			defer wg.Done()
			b.serviceDevice(ctx, l)
		}()
	}
	wg.Wait()
}

func (b *Bridge) serviceDevice(ctx context.Context, l deviceLink) {
	for {
		p, ok := l.pair.ReceiveFromTarget(ctx)
		if !ok {
			return
		}
		switch msg := p.(type) {
		case *pkt.D2HReq:
			b.handleDeviceRequest(ctx, l, msg)
		case *pkt.D2HRsp:
			b.deliver(l.cacheID, msg.UQID, msg, nil)
		case *pkt.D2HData:
			b.deliver(l.cacheID, msg.UQID, nil, msg)
		default:
			pkg.LogWarn(pkg.ComponentBridge, "unexpected packet on CXL.cache FIFO", zap.String("kind", p.Kind().String()))
		}
	}
}

func (b *Bridge) deliver(cacheID uint8, id uint16, rsp *pkt.D2HRsp, data *pkt.D2HData) {
	key := pendingKey{cacheID: cacheID, id: id}
	b.mu.Lock()
	w, ok := b.pending[key]
	b.mu.Unlock()
	if !ok {
		return
	}
	complete := false
	if rsp != nil {
		w.rsp = *rsp
		switch rsp.Opcode {
		case pkt.D2HRspIHitI, pkt.D2HRspMiss:
			complete = true // no data follows
		}
	}
	if data != nil {
		w.data = *data
		complete = true
	}
	if complete {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
		close(w.done)
	}
}

// handleDeviceRequest services a device's CXL.cache request by snooping
// the host's own LLC, then replying H2DRsp (+H2DData).
func (b *Bridge) handleDeviceRequest(ctx context.Context, l deviceLink, req *pkt.D2HReq) {
	var result cache.SnoopResult
	var data [pkt.CacheLineSize]byte

	if b.hostLLC != nil {
		op := cache.SnoopData
		if req.Opcode == pkt.D2HRdOwnNoData {
			op = cache.SnoopInv
		}
		result, data = b.hostLLC.Snoop(op, req.Addr)
	} else {
		result = cache.RspMiss
	}

	state := pkt.CacheStateE
	if result == cache.RspS {
		state = pkt.CacheStateS
	}

	switch req.Opcode {
	case pkt.D2HRdShared, pkt.D2HRdAny:
		b.markHolder(req.Addr, l.cacheID)
		if result == cache.RspMiss {
			_ = b.hostMem.ReadAt(req.Addr, data[:])
		}
		_ = l.pair.SendToTarget(ctx, &pkt.H2DRsp{UQID: req.CQID, Opcode: pkt.H2DGo, CacheState: state})
		_ = l.pair.SendToTarget(ctx, &pkt.H2DData{UQID: req.CQID, Data: data})
	case pkt.D2HRdOwnNoData:
		b.clearOtherHolders(req.Addr, l.cacheID)
		b.markHolder(req.Addr, l.cacheID)
		_ = l.pair.SendToTarget(ctx, &pkt.H2DRsp{UQID: req.CQID, Opcode: pkt.H2DGo, CacheState: pkt.CacheStateE})
		_ = l.pair.SendToTarget(ctx, &pkt.H2DData{UQID: req.CQID, Data: data})
	case pkt.D2HDirtyEvict:
		wait := b.await(l.cacheID, req.CQID)
		_ = l.pair.SendToTarget(ctx, &pkt.H2DRsp{UQID: req.CQID, Opcode: pkt.H2DGoWritePull})
		// The pulled D2HData is delivered by this link's serviceDevice
		// loop, so the wait for it runs on its own goroutine.
		go func() {
			select {
			case <-wait.done:
				_ = b.hostMem.WriteAt(req.Addr, wait.data.Data[:])
			case <-time.After(b.timeout):
				if b.metrics != nil {
					b.metrics.SnoopTimeout()
				}
			case <-ctx.Done():
			}
			b.unmarkHolder(req.Addr, l.cacheID)
		}()
	case pkt.D2HCleanEvict:
		b.unmarkHolder(req.Addr, l.cacheID)
	}
}

func (b *Bridge) await(cacheID uint8, id uint16) *bridgeWait {
	w := &bridgeWait{done: make(chan struct{})}
	key := pendingKey{cacheID: cacheID, id: id}
	b.mu.Lock()
	b.pending[key] = w
	b.mu.Unlock()
	return w
}

func (b *Bridge) markHolder(addr uint64, cacheID uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sfDev[addr] == nil {
		b.sfDev[addr] = make(map[uint8]bool)
	}
	b.sfDev[addr][cacheID] = true
}

func (b *Bridge) unmarkHolder(addr uint64, cacheID uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sfDev[addr], cacheID)
	if len(b.sfDev[addr]) == 0 {
		delete(b.sfDev, addr)
	}
}

func (b *Bridge) clearOtherHolders(addr uint64, except uint8) {
	b.mu.Lock()
	holders := b.sfDev[addr]
	b.mu.Unlock()
	for id := range holders {
		if id == except {
			continue
		}
		b.invalidateHolder(addr, id)
	}
}

func (b *Bridge) holders(addr uint64) []deviceLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []deviceLink
	for _, l := range b.devices {
		if b.sfDev[addr][l.cacheID] {
			out = append(out, l)
		}
	}
	return out
}

func (b *Bridge) invalidateHolder(addr uint64, cacheID uint8) {
	b.mu.Lock()
	var target *deviceLink
	for i := range b.devices {
		if b.devices[i].cacheID == cacheID {
			target = &b.devices[i]
			break
		}
	}
	b.mu.Unlock()
	if target == nil {
		return
	}

	uqid := b.nextUQID()
	wait := b.await(cacheID, uqid)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	_ = target.pair.SendToTarget(ctx, &pkt.H2DReq{UQID: uqid, Addr: addr, Opcode: pkt.H2DSnpInv, CacheID: cacheID})
	select {
	case <-wait.done:
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.SnoopTimeout()
		}
	}
	b.unmarkHolder(addr, cacheID)
}

func (b *Bridge) nextUQID() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextUQ++
	return b.nextUQ
}

// FetchShared implements [cache.Upstream] for the host's own LLC: reads
// addr, consulting device holders when the snoop filter indicates one
// may have it cached.
func (b *Bridge) FetchShared(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, pkt.CacheState, error) {
	holders := b.holders(addr)
	if len(holders) == 0 {
		var data [pkt.CacheLineSize]byte
		if err := b.hostMem.ReadAt(addr, data[:]); err != nil {
			return data, pkt.CacheStateI, err
		}
		return data, pkt.CacheStateE, nil
	}
	if len(holders) > 1 {
		var data [pkt.CacheLineSize]byte
		if err := b.hostMem.ReadAt(addr, data[:]); err != nil {
			return data, pkt.CacheStateI, err
		}
		return data, pkt.CacheStateS, nil
	}

	l := holders[0]
	uqid := b.nextUQID()
	wait := b.await(l.cacheID, uqid)
	if err := l.pair.SendToTarget(ctx, &pkt.H2DReq{UQID: uqid, Addr: addr, Opcode: pkt.H2DSnpData, CacheID: l.cacheID}); err != nil {
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, err
	}
	select {
	case <-wait.done:
		return wait.data.Data, pkt.CacheStateS, nil
	case <-time.After(b.timeout):
		if b.metrics != nil {
			b.metrics.SnoopTimeout()
		}
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, pkg.ErrSnoopTimeout
	case <-ctx.Done():
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, ctx.Err()
	}
}

// FetchExclusive implements [cache.Upstream]: invalidates all device
// holders of addr and returns the most recent data observed.
func (b *Bridge) FetchExclusive(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	for _, l := range b.holders(addr) {
		b.invalidateHolder(addr, l.cacheID)
	}
	var data [pkt.CacheLineSize]byte
	if err := b.hostMem.ReadAt(addr, data[:]); err != nil {
		return data, err
	}
	return data, nil
}

// Invalidate implements [cache.Upstream]: invalidates all device
// holders of addr without needing the data back.
func (b *Bridge) Invalidate(ctx context.Context, addr uint64) error {
	for _, l := range b.holders(addr) {
		b.invalidateHolder(addr, l.cacheID)
	}
	return nil
}

// WriteBack implements [cache.Upstream]: the host's own dirty eviction
// goes straight to host DRAM.
func (b *Bridge) WriteBack(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	return b.hostMem.WriteAt(addr, data[:])
}
