package dcoh

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

// Config configures a DCOH instance.
type Config struct {
	Name       string        // device name, used for logging/metrics
	CacheID    uint8         // this device's CXL.cache agent identifier
	BIID       uint8         // this device's back-invalidate agent identifier
	Timeout    time.Duration // round-trip deadline for host-directed requests
	SelfCached bool          // true for Type 2 devices that locally cache their own HDM memory
}

// DefaultTimeout matches spec.md §4.5's 3s default.
const DefaultTimeout = 3 * time.Second

// pendingCache correlates an outstanding device-initiated CXL.cache
// request with the goroutine awaiting its host response.
type pendingCache struct {
	rsp  pkt.H2DRsp
	data pkt.H2DData
	err  error
	done chan struct{}
}

// DCOH is the device-side coherency engine for one CXL endpoint.
type DCOH struct {
	cfg Config

	memory    mem.Accessor
	selfCache *cache.LLC // device's own cache over its HDM memory, Type 2 only
	memFIFO   *fifo.Pair // CXL.mem pair, this device is the "target" side
	cacheFIFO *fifo.Pair // CXL.cache pair, this device is the "target" side
	biFIFO    *fifo.Pair // CXL.mem pair also carries BI snoop/rsp (same memFIFO)

	metrics *pkg.Metrics

	mu        sync.Mutex
	sfHost    map[uint64]bool // addresses believed cached by the host
	nextCQID  uint16
	pending   map[uint16]*pendingCache
	biWaiters map[uint8]chan pkt.M2SBIRsp
}

// New creates a DCOH serving memory through memFIFO (CXL.mem) and
// cacheFIFO (CXL.cache). memory is the device's HDM backing store.
func New(cfg Config, memory mem.Accessor, memFIFO, cacheFIFO *fifo.Pair, metrics *pkg.Metrics) *DCOH {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &DCOH{
		cfg:       cfg,
		memory:    memory,
		memFIFO:   memFIFO,
		cacheFIFO: cacheFIFO,
		metrics:   metrics,
		sfHost:    make(map[uint64]bool),
		pending:   make(map[uint16]*pendingCache),
		biWaiters: make(map[uint8]chan pkt.M2SBIRsp),
	}
	if cfg.SelfCached {
		d.selfCache = cache.New(cfg.Name+".self", cache.DefaultConfig, d, metrics)
	}
	return d
}

// Run services both the CXL.mem and CXL.cache FIFO pairs until ctx is
// cancelled or the pairs are shut down.
func (d *DCOH) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.runMem(ctx)
	}()
	go func() {
		defer wg.Done()
		d.runCache(ctx)
	}()
	wg.Wait()
}

func (d *DCOH) runMem(ctx context.Context) {
	for {
		p, ok := d.memFIFO.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		d.handleMem(ctx, p)
	}
}

func (d *DCOH) runCache(ctx context.Context) {
	for {
		p, ok := d.cacheFIFO.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		d.handleCache(ctx, p)
	}
}

// handleMem dispatches inbound CXL.mem traffic per spec.md §4.4's table.
func (d *DCOH) handleMem(ctx context.Context, p pkt.Packet) {
	switch req := p.(type) {
	case *pkt.M2SReq:
		d.handleM2SReq(ctx, req, nil)
	case *pkt.M2SRwD:
		d.handleM2SReq(ctx, &req.M2SReq, &req.Data)
	case *pkt.M2SBIRsp:
		d.handleBIRsp(req)
	default:
		pkg.LogWarn(pkg.ComponentDCOH, "unexpected packet on CXL.mem FIFO", zap.String("kind", p.Kind().String()))
	}
}

func (d *DCOH) handleM2SReq(ctx context.Context, req *pkt.M2SReq, data *[pkt.CacheLineSize]byte) {
	switch req.Opcode {
	case pkt.M2SMemRd, pkt.M2SMemRdData:
		d.handleRead(ctx, req)
	case pkt.M2SMemWr:
		d.handleWrite(ctx, req, data)
	case pkt.M2SMemInv:
		d.handleInvalidate(ctx, req)
	}
}

func (d *DCOH) handleRead(ctx context.Context, req *pkt.M2SReq) {
	var (
		ndrOp  pkt.S2MOpcode
		rdData [pkt.CacheLineSize]byte
		err    error
	)

	if req.MetaField == pkt.MetaFieldNOP || d.selfCache == nil {
		ndrOp = pkt.S2MCmp
		if req.Opcode == pkt.M2SMemRdData || req.MetaField != pkt.MetaFieldNOP {
			ndrOp = pkt.S2MCmpE
		}
		rdData, err = d.readMemory(req.Addr)
	} else {
		snoopOp := cache.SnoopData
		if req.SnpType == pkt.SnpTypeInv {
			snoopOp = cache.SnoopInv
		} else if req.SnpType == pkt.SnpTypeCur {
			snoopOp = cache.SnoopCur
		}
		result, lineData := d.selfCache.Snoop(snoopOp, req.Addr)
		switch result {
		case cache.RspMiss:
			ndrOp = pkt.S2MCmpE
			d.addSFHost(req.Addr)
			rdData, err = d.readMemory(req.Addr)
		case cache.RspS:
			ndrOp = pkt.S2MCmpS
			d.addSFHost(req.Addr)
			rdData = lineData
		case cache.RspI:
			if req.MetaValue == pkt.MetaValueInvalid {
				ndrOp = pkt.S2MCmp
				if lineData != ([pkt.CacheLineSize]byte{}) {
					err = d.memory.WriteAt(req.Addr, lineData[:])
				}
			} else {
				ndrOp = pkt.S2MCmpE
				d.addSFHost(req.Addr)
			}
			rdData, _ = d.readMemory(req.Addr)
		}
	}

	if err != nil {
		d.sendNDR(ctx, req.Tag, pkt.S2MCmp, pkt.MetaFieldNOP, pkt.MetaValueInvalid)
		return
	}

	d.sendNDR(ctx, req.Tag, ndrOp, req.MetaField, req.MetaValue)
	if req.Opcode == pkt.M2SMemRdData {
		d.sendDRS(ctx, req.Tag, rdData)
	}
}

func (d *DCOH) handleWrite(ctx context.Context, req *pkt.M2SReq, data *[pkt.CacheLineSize]byte) {
	if data != nil {
		if err := d.memory.WriteAt(req.Addr, data[:]); err != nil {
			d.sendNDR(ctx, req.Tag, pkt.S2MCmp, pkt.MetaFieldNOP, pkt.MetaValueInvalid)
			return
		}
	}
	d.sendNDR(ctx, req.Tag, pkt.S2MCmp, req.MetaField, req.MetaValue)
}

func (d *DCOH) handleInvalidate(ctx context.Context, req *pkt.M2SReq) {
	if d.selfCache != nil {
		d.selfCache.Snoop(cache.SnoopInv, req.Addr)
	}
	d.removeSFHost(req.Addr)
	d.sendNDR(ctx, req.Tag, pkt.S2MCmp, req.MetaField, req.MetaValue)
}

func (d *DCOH) readMemory(addr uint64) ([pkt.CacheLineSize]byte, error) {
	var buf [pkt.CacheLineSize]byte
	if err := d.memory.ReadAt(addr, buf[:]); err != nil {
		return buf, err
	}
	return buf, nil
}

func (d *DCOH) sendNDR(ctx context.Context, tag uint16, op pkt.S2MOpcode, mf pkt.MetaField, mv pkt.MetaValue) {
	_ = d.memFIFO.SendToHost(ctx, &pkt.S2MNDR{Tag: tag, Opcode: op, MetaField: mf, MetaValue: mv})
}

func (d *DCOH) sendDRS(ctx context.Context, tag uint16, data [pkt.CacheLineSize]byte) {
	_ = d.memFIFO.SendToHost(ctx, &pkt.S2MDRS{Tag: tag, Data: data})
}

func (d *DCOH) addSFHost(addr uint64) {
	d.mu.Lock()
	d.sfHost[addr] = true
	d.mu.Unlock()
}

func (d *DCOH) removeSFHost(addr uint64) {
	d.mu.Lock()
	delete(d.sfHost, addr)
	d.mu.Unlock()
}

func (d *DCOH) hostMayHold(addr uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sfHost[addr]
}

// RequestBackInvalidate issues an S2M-BISnp against the host for addr,
// raised when the device's own cache wants a line the host may still
// hold (sf_host set). It blocks for the host's M2S-BIRsp.
func (d *DCOH) RequestBackInvalidate(ctx context.Context, addr uint64, op pkt.BIOpcode) (pkt.BIRspOpcode, error) {
	if !d.hostMayHold(addr) {
		return pkt.BIRspI, nil
	}

	biTag := uint8(d.nextTag())
	rspCh := make(chan pkt.M2SBIRsp, 1)

	d.mu.Lock()
	d.biWaiters[biTag] = rspCh
	d.mu.Unlock()

	if err := d.memFIFO.SendToHost(ctx, &pkt.S2MBISnp{Addr: addr, Opcode: op, BIID: d.cfg.BIID, BITag: biTag}); err != nil {
		return pkt.BIRspI, err
	}

	select {
	case rsp := <-rspCh:
		if rsp.Opcode == pkt.BIRspI {
			d.removeSFHost(addr)
		}
		return rsp.Opcode, nil
	case <-time.After(d.cfg.Timeout):
		if d.metrics != nil {
			d.metrics.SnoopTimeout()
		}
		return pkt.BIRspI, pkg.ErrSnoopTimeout
	case <-ctx.Done():
		return pkt.BIRspI, ctx.Err()
	}
}

func (d *DCOH) handleBIRsp(rsp *pkt.M2SBIRsp) {
	d.mu.Lock()
	ch, ok := d.biWaiters[rsp.BITag]
	if ok {
		delete(d.biWaiters, rsp.BITag)
	}
	d.mu.Unlock()
	if ok {
		ch <- *rsp
	}
}

func (d *DCOH) nextTag() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextCQID++
	return d.nextCQID
}
