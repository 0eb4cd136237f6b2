package dcoh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/cache"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// handleCache dispatches inbound CXL.cache traffic: host-initiated
// snoops into this device's cache (H2DReq), and the host's response to
// this device's own D2H requests (H2DRsp/H2DData).
func (d *DCOH) handleCache(ctx context.Context, p pkt.Packet) {
	switch msg := p.(type) {
	case *pkt.H2DReq:
		d.serviceSnoop(ctx, msg)
	case *pkt.H2DRsp:
		d.deliverRsp(msg.UQID, msg, nil)
	case *pkt.H2DData:
		d.deliverRsp(msg.UQID, nil, msg)
	default:
		pkg.LogWarn(pkg.ComponentDCOH, "unexpected packet on CXL.cache FIFO", zap.String("kind", p.Kind().String()))
	}
}

func (d *DCOH) serviceSnoop(ctx context.Context, req *pkt.H2DReq) {
	if d.selfCache == nil {
		_ = d.cacheFIFO.SendToHost(ctx, &pkt.D2HRsp{UQID: req.UQID, Opcode: pkt.D2HRspMiss})
		return
	}

	op := cache.SnoopData
	switch req.Opcode {
	case pkt.H2DSnpInv:
		op = cache.SnoopInv
	case pkt.H2DSnpCur:
		op = cache.SnoopCur
	}

	result, data := d.selfCache.Snoop(op, req.Addr)
	var rspOp pkt.D2HRspOpcode
	switch result {
	case cache.RspMiss:
		rspOp = pkt.D2HRspIHitI
	case cache.RspS:
		rspOp = pkt.D2HRspIHitSE
	case cache.RspI:
		rspOp = pkt.D2HRspIHitI
	case cache.RspV:
		rspOp = pkt.D2HRspVHitV
	}

	_ = d.cacheFIFO.SendToHost(ctx, &pkt.D2HRsp{UQID: req.UQID, Opcode: rspOp})
	if result != cache.RspMiss {
		_ = d.cacheFIFO.SendToHost(ctx, &pkt.D2HData{UQID: req.UQID, Data: data})
	}
}

// deliverRsp records the host's response to a device-initiated request.
// H2DGoWritePull carries no data (the device pushes it separately after
// observing the pull), so that opcode completes the wait on its own;
// H2DGo is always followed by H2DData on the same ordered queue, so the
// wait completes only once the data arrives.
func (d *DCOH) deliverRsp(uqid uint16, rsp *pkt.H2DRsp, data *pkt.H2DData) {
	d.mu.Lock()
	p, ok := d.pending[uqid]
	d.mu.Unlock()
	if !ok {
		return
	}

	complete := false
	if rsp != nil {
		p.rsp = *rsp
		if rsp.Opcode == pkt.H2DGoWritePull {
			complete = true
		}
	}
	if data != nil {
		p.data = *data
		complete = true
	}

	if complete {
		d.mu.Lock()
		delete(d.pending, uqid)
		d.mu.Unlock()
		close(p.done)
	}
}

func (d *DCOH) request(ctx context.Context, addr uint64, op pkt.D2HOpcode) (*pendingCache, error) {
	cqid := d.nextTag()
	wait := &pendingCache{done: make(chan struct{})}

	d.mu.Lock()
	d.pending[cqid] = wait
	d.mu.Unlock()

	if err := d.cacheFIFO.SendToHost(ctx, &pkt.D2HReq{CQID: cqid, Addr: addr, Opcode: op, CacheID: d.cfg.CacheID}); err != nil {
		d.mu.Lock()
		delete(d.pending, cqid)
		d.mu.Unlock()
		return nil, err
	}

	select {
	case <-wait.done:
		return wait, nil
	case <-time.After(d.cfg.Timeout):
		d.mu.Lock()
		delete(d.pending, cqid)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.SnoopTimeout()
		}
		return nil, pkg.ErrSnoopTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchShared implements [cache.Upstream] for this device's self-cache:
// it requests read access to addr from the host.
func (d *DCOH) FetchShared(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, pkt.CacheState, error) {
	wait, err := d.request(ctx, addr, pkt.D2HRdShared)
	if err != nil {
		return [pkt.CacheLineSize]byte{}, pkt.CacheStateI, err
	}
	return wait.data.Data, wait.rsp.CacheState, nil
}

// FetchExclusive implements [cache.Upstream]: requests write access to
// addr, invalidating host and any other sharer copies.
func (d *DCOH) FetchExclusive(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	wait, err := d.request(ctx, addr, pkt.D2HRdOwnNoData)
	if err != nil {
		return [pkt.CacheLineSize]byte{}, err
	}
	return wait.data.Data, nil
}

// Invalidate implements [cache.Upstream]: asks the host to drop its
// copy of addr without returning data.
func (d *DCOH) Invalidate(ctx context.Context, addr uint64) error {
	_, err := d.request(ctx, addr, pkt.D2HRdOwnNoData)
	return err
}

// WriteBack implements [cache.Upstream]: pushes a dirty evicted line to
// the host. The host is expected to pull the data via H2DGoWritePull;
// this device then sends D2HData carrying the payload.
func (d *DCOH) WriteBack(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	cqid := d.nextTag()
	wait := &pendingCache{done: make(chan struct{})}

	d.mu.Lock()
	d.pending[cqid] = wait
	d.mu.Unlock()

	if err := d.cacheFIFO.SendToHost(ctx, &pkt.D2HReq{CQID: cqid, Addr: addr, Opcode: pkt.D2HDirtyEvict, CacheID: d.cfg.CacheID}); err != nil {
		d.mu.Lock()
		delete(d.pending, cqid)
		d.mu.Unlock()
		return err
	}

	select {
	case <-wait.done:
		return d.cacheFIFO.SendToHost(ctx, &pkt.D2HData{UQID: cqid, Data: data})
	case <-time.After(d.cfg.Timeout):
		d.mu.Lock()
		delete(d.pending, cqid)
		d.mu.Unlock()
		return pkg.ErrSnoopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
