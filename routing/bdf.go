// Package routing implements the switch routing plane: the BDF routing
// table built during enumeration and the four per-VCS routers (CFG,
// MMIO, CXL.mem, CXL.cache) that bind one upstream FIFO pair to N
// downstream FIFO pairs. Grounded on spec.md §4.6.
package routing

import (
	"sync"

	"github.com/ardnew/cxlfab/pkt"
)

// BusRange is an inclusive [Secondary, Subordinate] PCIe bus range, the
// span of bus numbers routed below one bridge.
type BusRange struct {
	Secondary   uint8
	Subordinate uint8
}

// Contains reports whether bus falls within the range.
func (r BusRange) Contains(bus uint8) bool {
	return bus >= r.Secondary && bus <= r.Subordinate
}

// BDFTable maps bus ranges to downstream port indices. Every downstream
// port below a bridge shares that bridge's bus range, so a single Set
// call during enumeration covers every function on every bus beneath it.
type BDFTable struct {
	mu     sync.RWMutex
	routes []bdfRoute
}

type bdfRoute struct {
	span BusRange
	port int
}

// NewBDFTable creates an empty routing table sized for n downstream
// ports (the size hint only; entries are appended as enumeration runs).
func NewBDFTable(n int) *BDFTable {
	return &BDFTable{routes: make([]bdfRoute, 0, n)}
}

// Set records that bus numbers within span route to port. A later call
// for an overlapping span shadows earlier entries at lookup time (the
// most specific bridge, added last, should be set last).
func (t *BDFTable) Set(span BusRange, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, bdfRoute{span: span, port: port})
}

// Remove deletes the most recently added entry exactly matching span,
// used when a vPPB unbinds and its bus range must stop routing.
func (t *BDFTable) Remove(span BusRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.routes) - 1; i >= 0; i-- {
		if t.routes[i].span == span {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return
		}
	}
}

// Lookup returns the downstream port index serving target's bus, or
// false if no span covers it.
func (t *BDFTable) Lookup(target pkt.BDF) (port int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.routes) - 1; i >= 0; i-- {
		if t.routes[i].span.Contains(target.Bus()) {
			return t.routes[i].port, true
		}
	}
	return 0, false
}
