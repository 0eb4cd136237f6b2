package coherency

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/cache"
	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

type pendingMem struct {
	ndr  pkt.S2MNDR
	drs  pkt.S2MDRS
	done chan struct{}
}

// Config configures a HomeAgent.
type Config struct {
	Timeout time.Duration // round-trip deadline for CXL.mem requests; zero selects a 3s default

	// NonCache marks this agent's target as HDM-H (host-coherency-only):
	// Invalidate short-circuits to completing locally without issuing
	// any CXL.mem traffic, and writes always carry meta_value=ANY.
	NonCache bool
}

// HomeAgent is the host-side CXL.mem engine: it turns the host's cache
// of one device's HDM memory into M2S-Req/RwD traffic, and services
// that device's S2M-BISnp back-invalidation requests.
type HomeAgent struct {
	cfg     Config
	memFIFO *fifo.Pair // CXL.mem pair, the home agent is the "host" side
	metrics *pkg.Metrics

	hostCache *cache.LLC // host's cache over this device's HDM, set via AttachHostCache

	mu      sync.Mutex
	nextTag uint16
	pending map[uint16]*pendingMem
}

// NewHomeAgent creates a HomeAgent driving memFIFO.
func NewHomeAgent(cfg Config, memFIFO *fifo.Pair, metrics *pkg.Metrics) *HomeAgent {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &HomeAgent{
		cfg:     cfg,
		memFIFO: memFIFO,
		metrics: metrics,
		pending: make(map[uint16]*pendingMem),
	}
}

// AttachHostCache wires the host's LLC over this device's HDM so the
// home agent can service the device's back-invalidation snoops.
func (h *HomeAgent) AttachHostCache(llc *cache.LLC) { h.hostCache = llc }

// Run services memFIFO until ctx is cancelled or the pair shuts down.
func (h *HomeAgent) Run(ctx context.Context) {
	for {
		p, ok := h.memFIFO.ReceiveFromTarget(ctx)
		if !ok {
			return
		}
		switch msg := p.(type) {
		case *pkt.S2MNDR:
			h.deliver(msg.Tag, msg, nil)
		case *pkt.S2MDRS:
			h.deliver(msg.Tag, nil, msg)
		case *pkt.S2MBISnp:
			h.handleBISnp(ctx, msg)
		default:
			pkg.LogWarn(pkg.ComponentHomeAgent, "unexpected packet on CXL.mem FIFO", zap.String("kind", p.Kind().String()))
		}
	}
}

func (h *HomeAgent) deliver(tag uint16, ndr *pkt.S2MNDR, drs *pkt.S2MDRS) {
	h.mu.Lock()
	w, ok := h.pending[tag]
	h.mu.Unlock()
	if !ok {
		return
	}

	complete := false
	if ndr != nil {
		w.ndr = *ndr
		switch ndr.Opcode {
		case pkt.S2MCmpS, pkt.S2MCmpE, pkt.S2MCmpM:
			// a data response follows on S2MDRS; wait for it too.
		default:
			complete = true
		}
	}
	if drs != nil {
		w.drs = *drs
		complete = true
	}
	if complete {
		h.mu.Lock()
		delete(h.pending, tag)
		h.mu.Unlock()
		close(w.done)
	}
}

func (h *HomeAgent) nextTagID() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextTag++
	return h.nextTag
}

func (h *HomeAgent) await(tag uint16) *pendingMem {
	w := &pendingMem{done: make(chan struct{})}
	h.mu.Lock()
	h.pending[tag] = w
	h.mu.Unlock()
	return w
}

func (h *HomeAgent) timeoutErr(tag uint16) error {
	h.mu.Lock()
	delete(h.pending, tag)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SnoopTimeout()
	}
	return pkg.ErrSnoopTimeout
}

// FetchShared implements [cache.Upstream]: reads addr for shared access,
// requesting the device snoop its own cache before completing.
func (h *HomeAgent) FetchShared(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, pkt.CacheState, error) {
	tag := h.nextTagID()
	wait := h.await(tag)

	req := pkt.M2SReq{
		Tag: tag, Addr: addr, Opcode: pkt.M2SMemRdData,
		MetaField: pkt.MetaField0State, MetaValue: pkt.MetaValueShared, SnpType: pkt.SnpTypeData,
	}
	if err := h.memFIFO.SendToTarget(ctx, &req); err != nil {
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, err
	}

	select {
	case <-wait.done:
		state := pkt.CacheStateS
		if wait.ndr.Opcode == pkt.S2MCmpE || wait.ndr.Opcode == pkt.S2MCmpM {
			state = pkt.CacheStateE
		}
		return wait.drs.Data, state, nil
	case <-time.After(h.cfg.Timeout):
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, h.timeoutErr(tag)
	case <-ctx.Done():
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, ctx.Err()
	}
}

// FetchExclusive implements [cache.Upstream]: reads addr for write
// access, directing the device to invalidate its own cached copy.
func (h *HomeAgent) FetchExclusive(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	tag := h.nextTagID()
	wait := h.await(tag)

	req := pkt.M2SReq{
		Tag: tag, Addr: addr, Opcode: pkt.M2SMemRdData,
		MetaField: pkt.MetaField0State, MetaValue: pkt.MetaValueInvalid, SnpType: pkt.SnpTypeInv,
	}
	if err := h.memFIFO.SendToTarget(ctx, &req); err != nil {
		return [pkt.CacheLineSize]byte{}, err
	}

	select {
	case <-wait.done:
		return wait.drs.Data, nil
	case <-time.After(h.cfg.Timeout):
		return [pkt.CacheLineSize]byte{}, h.timeoutErr(tag)
	case <-ctx.Done():
		return [pkt.CacheLineSize]byte{}, ctx.Err()
	}
}

// Invalidate implements [cache.Upstream]: directs the device to drop
// its own cached copy of addr without returning data.
func (h *HomeAgent) Invalidate(ctx context.Context, addr uint64) error {
	if h.cfg.NonCache {
		return nil
	}

	tag := h.nextTagID()
	wait := h.await(tag)

	req := pkt.M2SReq{
		Tag: tag, Addr: addr, Opcode: pkt.M2SMemInv,
		MetaField: pkt.MetaField0State, MetaValue: pkt.MetaValueInvalid, SnpType: pkt.SnpTypeInv,
	}
	if err := h.memFIFO.SendToTarget(ctx, &req); err != nil {
		return err
	}

	select {
	case <-wait.done:
		return nil
	case <-time.After(h.cfg.Timeout):
		return h.timeoutErr(tag)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteBack implements [cache.Upstream]: pushes a dirty evicted line
// down to the device's HDM memory.
func (h *HomeAgent) WriteBack(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	tag := h.nextTagID()
	wait := h.await(tag)

	req := pkt.M2SRwD{
		M2SReq: pkt.M2SReq{Tag: tag, Addr: addr, Opcode: pkt.M2SMemWr, MetaField: pkt.MetaFieldNOP, MetaValue: pkt.MetaValueAny},
		Data:   data,
	}
	if err := h.memFIFO.SendToTarget(ctx, &req); err != nil {
		return err
	}

	select {
	case <-wait.done:
		return nil
	case <-time.After(h.cfg.Timeout):
		return h.timeoutErr(tag)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleBISnp services a device's back-invalidation request against the
// host's cache of that device's HDM. A dirty line snooped out is pushed
// back down via an ordinary M2S-Wr before the M2S-BIRsp is sent, since
// M2S-BIRsp itself carries no data payload.
func (h *HomeAgent) handleBISnp(ctx context.Context, req *pkt.S2MBISnp) {
	rspOp := pkt.BIRspI
	if h.hostCache != nil {
		op := cache.SnoopData
		switch req.Opcode {
		case pkt.BISnpInv:
			op = cache.SnoopInv
		case pkt.BISnpCur:
			op = cache.SnoopCur
		}

		result, data := h.hostCache.Snoop(op, req.Addr)
		if result != cache.RspMiss && op != cache.SnoopInv {
			rspOp = pkt.BIRspS
		}
		if result != cache.RspMiss && data != ([pkt.CacheLineSize]byte{}) {
			if err := h.WriteBack(ctx, req.Addr, data); err != nil {
				pkg.LogWarn(pkg.ComponentHomeAgent, "back-invalidate writeback failed", zap.Uint64("addr", req.Addr), zap.Error(err))
			}
		}
	}

	_ = h.memFIFO.SendToTarget(ctx, &pkt.M2SBIRsp{Opcode: rspOp, BIID: req.BIID, BITag: req.BITag})
}
