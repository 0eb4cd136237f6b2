package fifo

import (
	"context"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// DefaultDepth is the channel buffer depth used when a caller does not
// need an explicit backpressure bound. The fabric's queues are modeled
// as unbounded in spec.md §5; a large buffer approximates that without
// an unbounded Go channel (which does not exist).
const DefaultDepth = 4096

// Pair is a bidirectional FIFO pair binding two adjacent actors for one
// traffic class: h2t carries host-to-target messages, t2h carries
// target-to-host messages. Exactly one actor reads h2t and writes t2h
// (the "target" side); the other writes h2t and reads t2h (the "host"
// side).
type Pair struct {
	class Class
	h2t   chan pkt.Packet
	t2h   chan pkt.Packet
}

// Class is a type alias kept local so callers need not import pkt just
// to name a traffic class when constructing a Pair.
type Class = pkt.Class

// New creates a Pair for the given traffic class with DefaultDepth
// buffering on each direction.
func New(class Class) *Pair {
	return NewDepth(class, DefaultDepth)
}

// NewDepth creates a Pair with an explicit per-direction buffer depth.
func NewDepth(class Class, depth int) *Pair {
	return &Pair{
		class: class,
		h2t:   make(chan pkt.Packet, depth),
		t2h:   make(chan pkt.Packet, depth),
	}
}

// Class reports the traffic class this pair carries.
func (p *Pair) Class() Class { return p.class }

// SendToTarget enqueues a host-to-target packet. It blocks until there
// is room or ctx is cancelled.
func (p *Pair) SendToTarget(ctx context.Context, pkt pkt.Packet) error {
	select {
	case p.h2t <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToHost enqueues a target-to-host packet. It blocks until there is
// room or ctx is cancelled.
func (p *Pair) SendToHost(ctx context.Context, pkt pkt.Packet) error {
	select {
	case p.t2h <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveFromHost dequeues the next host-to-target packet, the target
// side's receive call. ok is false when the pair has been shut down and
// drained.
func (p *Pair) ReceiveFromHost(ctx context.Context) (packet pkt.Packet, ok bool) {
	select {
	case v, open := <-p.h2t:
		return v, open
	case <-ctx.Done():
		return nil, false
	}
}

// ReceiveFromTarget dequeues the next target-to-host packet, the host
// side's receive call. ok is false when the pair has been shut down and
// drained.
func (p *Pair) ReceiveFromTarget(ctx context.Context) (packet pkt.Packet, ok bool) {
	select {
	case v, open := <-p.t2h:
		return v, open
	case <-ctx.Done():
		return nil, false
	}
}

// Shutdown closes both directions of the pair. It is not idempotent and
// must be called exactly once, by the pair's owner (the composer):
// closing an already-closed channel panics, matching Go's normal
// channel-close contract. Readers observe a closed, drained channel as
// ok == false from Receive*.
func (p *Pair) Shutdown() {
	close(p.h2t)
	close(p.t2h)
	pkg.LogDebug(pkg.ComponentFIFO, "fifo pair shut down", zap.String("class", p.class.String()))
}
