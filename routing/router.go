package routing

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/hdm"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// CFGRouter routes PCIe/CXL.io configuration requests by target BDF.
// It binds one upstream FIFO pair (the VCS's USP side) to N downstream
// pairs (one per vPPB/DSP).
type CFGRouter struct {
	upstream     *fifo.Pair
	downstream   []*fifo.Pair
	table        *BDFTable
	secondaryBus uint8 // this bridge's own secondary bus; type-1 CFG addressed here converts to type-0
	metrics      *pkg.Metrics
}

// NewCFGRouter creates a CFGRouter forwarding upstream's requests to
// downstream per table, converting type-1 requests addressed to
// secondaryBus into type-0 before forwarding.
func NewCFGRouter(upstream *fifo.Pair, downstream []*fifo.Pair, table *BDFTable, secondaryBus uint8, metrics *pkg.Metrics) *CFGRouter {
	return &CFGRouter{upstream: upstream, downstream: downstream, table: table, secondaryBus: secondaryBus, metrics: metrics}
}

// Run services the router until ctx is cancelled or the pairs shut down.
func (r *CFGRouter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1 + len(r.downstream))

	go func() {
		defer wg.Done()
		r.forward(ctx)
	}()
	for i := range r.downstream {
		i := i
		go func() {
			defer wg.Done()
			fanIn(ctx, r.downstream[i], r.upstream.SendToHost)
		}()
	}
	wg.Wait()
}

func (r *CFGRouter) forward(ctx context.Context) {
	for {
		p, ok := r.upstream.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		req, isCfg := p.(*pkt.CfgReq)
		if !isCfg {
			pkg.LogWarn(pkg.ComponentRouting, "unexpected packet on CFG FIFO", zap.String("kind", p.Kind().String()))
			continue
		}

		port, ok := r.table.Lookup(req.Target)
		if !ok || port >= len(r.downstream) {
			if r.metrics != nil {
				r.metrics.RoutingDrop("cfg")
			}
			_ = r.upstream.SendToHost(ctx, &pkt.CfgCompletion{ReqID: req.ReqID, Tag: req.Tag, Status: uint8(pkg.StatusUnsupportedRequest)})
			continue
		}

		forwarded := *req
		if forwarded.Type == pkt.CfgType1 && forwarded.Target.Bus() == r.secondaryBus {
			forwarded.Type = pkt.CfgType0
		}
		_ = r.downstream[port].SendToTarget(ctx, &forwarded)
	}
}

// MMIORouter routes CXL.io memory-mapped I/O requests by address
// window.
type MMIORouter struct {
	upstream   *fifo.Pair
	downstream []*fifo.Pair
	table      *MMIOTable
	metrics    *pkg.Metrics
}

// NewMMIORouter creates an MMIORouter.
func NewMMIORouter(upstream *fifo.Pair, downstream []*fifo.Pair, table *MMIOTable, metrics *pkg.Metrics) *MMIORouter {
	return &MMIORouter{upstream: upstream, downstream: downstream, table: table, metrics: metrics}
}

// Run services the router until ctx is cancelled or the pairs shut down.
func (r *MMIORouter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1 + len(r.downstream))

	go func() {
		defer wg.Done()
		r.forward(ctx)
	}()
	for i := range r.downstream {
		i := i
		go func() {
			defer wg.Done()
			fanIn(ctx, r.downstream[i], r.upstream.SendToHost)
		}()
	}
	wg.Wait()
}

func (r *MMIORouter) forward(ctx context.Context) {
	for {
		p, ok := r.upstream.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		req, isMMIO := p.(*pkt.MMIOReq)
		if !isMMIO {
			pkg.LogWarn(pkg.ComponentRouting, "unexpected packet on MMIO FIFO", zap.String("kind", p.Kind().String()))
			continue
		}

		port, ok := r.table.Lookup(req.Address)
		if !ok || port >= len(r.downstream) {
			if r.metrics != nil {
				r.metrics.RoutingDrop("mmio")
			}
			if req.IsWrite {
				pkg.LogWarn(pkg.ComponentRouting, "mmio write to unrouted address dropped", zap.Uint64("addr", req.Address))
				continue
			}
			_ = r.upstream.SendToHost(ctx, &pkt.MMIOCompletion{ReqID: req.ReqID, Tag: req.Tag, Status: uint8(pkg.StatusSuccess)})
			continue
		}
		_ = r.downstream[port].SendToTarget(ctx, req)
	}
}

// MemRouter routes CXL.mem requests by host physical address through
// an HDM decoder manager.
type MemRouter struct {
	upstream   *fifo.Pair
	downstream []*fifo.Pair
	decoders   *hdm.Manager
	metrics    *pkg.Metrics
}

// NewMemRouter creates a MemRouter consulting decoders for each
// upstream M2S request's target port.
func NewMemRouter(upstream *fifo.Pair, downstream []*fifo.Pair, decoders *hdm.Manager, metrics *pkg.Metrics) *MemRouter {
	return &MemRouter{upstream: upstream, downstream: downstream, decoders: decoders, metrics: metrics}
}

// Run services the router until ctx is cancelled or the pairs shut down.
func (r *MemRouter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1 + len(r.downstream))

	go func() {
		defer wg.Done()
		r.forward(ctx)
	}()
	for i := range r.downstream {
		i := i
		go func() {
			defer wg.Done()
			fanIn(ctx, r.downstream[i], r.upstream.SendToHost)
		}()
	}
	wg.Wait()
}

func (r *MemRouter) addrOf(p pkt.Packet) (uint64, bool) {
	switch req := p.(type) {
	case *pkt.M2SReq:
		return req.Addr, true
	case *pkt.M2SRwD:
		return req.Addr, true
	default:
		return 0, false
	}
}

func (r *MemRouter) forward(ctx context.Context) {
	for {
		p, ok := r.upstream.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		addr, ok := r.addrOf(p)
		if !ok {
			pkg.LogWarn(pkg.ComponentRouting, "unexpected packet on CXL.mem FIFO", zap.String("kind", p.Kind().String()))
			continue
		}

		port, _, ok := r.decoders.GetTarget(addr)
		if !ok || port >= len(r.downstream) {
			if r.metrics != nil {
				r.metrics.RoutingDrop("mem")
			}
			pkg.LogWarn(pkg.ComponentRouting, "no hdm decoder covers address", zap.Uint64("addr", addr))
			continue
		}
		_ = r.downstream[port].SendToTarget(ctx, p)
	}
}

// CacheRouter routes CXL.cache host-to-device snoop requests by
// cache ID.
type CacheRouter struct {
	upstream   *fifo.Pair
	downstream []*fifo.Pair
	table      *CacheRouteTable
	metrics    *pkg.Metrics
}

// NewCacheRouter creates a CacheRouter.
func NewCacheRouter(upstream *fifo.Pair, downstream []*fifo.Pair, table *CacheRouteTable, metrics *pkg.Metrics) *CacheRouter {
	return &CacheRouter{upstream: upstream, downstream: downstream, table: table, metrics: metrics}
}

// Run services the router until ctx is cancelled or the pairs shut down.
func (r *CacheRouter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1 + len(r.downstream))

	go func() {
		defer wg.Done()
		r.forward(ctx)
	}()
	for i := range r.downstream {
		i := i
		go func() {
			defer wg.Done()
			fanIn(ctx, r.downstream[i], r.upstream.SendToHost)
		}()
	}
	wg.Wait()
}

func (r *CacheRouter) forward(ctx context.Context) {
	for {
		p, ok := r.upstream.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		req, isReq := p.(*pkt.H2DReq)
		if !isReq {
			pkg.LogWarn(pkg.ComponentRouting, "unexpected packet on CXL.cache FIFO", zap.String("kind", p.Kind().String()))
			continue
		}

		port, ok := r.table.Lookup(req.CacheID)
		if !ok || port >= len(r.downstream) {
			if r.metrics != nil {
				r.metrics.RoutingDrop("cache")
			}
			pkg.LogWarn(pkg.ComponentRouting, "no cache route for cache id", zap.Uint8("cache_id", req.CacheID))
			continue
		}
		_ = r.downstream[port].SendToTarget(ctx, req)
	}
}

// fanIn forwards every target-to-host packet on pair to send, the
// straight upstream fan-in path every router shares: no translation,
// just order-preserving relay.
func fanIn(ctx context.Context, pair *fifo.Pair, send func(context.Context, pkt.Packet) error) {
	for {
		p, ok := pair.ReceiveFromTarget(ctx)
		if !ok {
			return
		}
		_ = send(ctx, p)
	}
}
