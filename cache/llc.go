package cache

import (
	"context"
	"sync"

	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
)

// State is a MESI cache-line state.
type State uint8

// MESI states.
const (
	StateI State = iota // Invalid
	StateS              // Shared
	StateE              // Exclusive
	StateM              // Modified
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateI:
		return "I"
	case StateS:
		return "S"
	case StateE:
		return "E"
	case StateM:
		return "M"
	default:
		return "?"
	}
}

// line is one cache-line slot.
type line struct {
	valid    bool
	state    State
	set      uint64
	tag      uint64
	priority uint64
	data     [pkt.CacheLineSize]byte
}

// SnoopOp identifies an inbound snoop requested by the coherence engine
// above this cache.
type SnoopOp uint8

// Inbound snoop operations.
const (
	SnoopData SnoopOp = iota
	SnoopInv
	SnoopCur
	SnoopWriteBack
)

// SnoopResult is the response this cache returns to an inbound snoop,
// plus data when the result carries a cache line.
type SnoopResult uint8

// Snoop results, named after the table in spec.md §4.3.
const (
	RspMiss SnoopResult = iota
	RspS
	RspI
	RspV
)

// Upstream is implemented by the coherence engine sitting above this
// cache (the host's Cache Coherency Bridge, or a device's DCOH). The
// cache calls it on a local miss or eviction to pull/push a line through
// the fabric.
type Upstream interface {
	// FetchShared requests a line for shared (read) access. Returns the
	// line data and the resulting wire-visible state (S or E).
	FetchShared(ctx context.Context, addr uint64) (data [pkt.CacheLineSize]byte, state pkt.CacheState, err error)

	// FetchExclusive requests a line for exclusive (write) access,
	// invalidating any other sharers. Returns the line data.
	FetchExclusive(ctx context.Context, addr uint64) (data [pkt.CacheLineSize]byte, err error)

	// Invalidate asks upstream to invalidate any other copies of addr
	// without fetching data (used before a store hit in S).
	Invalidate(ctx context.Context, addr uint64) error

	// WriteBack pushes a dirty evicted line upstream.
	WriteBack(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error
}

// Config configures a cache's geometry.
type Config struct {
	Sets          int // number of cache sets
	Associativity int // ways per set
}

// DefaultConfig matches spec.md §4.3's stated defaults.
var DefaultConfig = Config{Sets: 8, Associativity: 4}

// LLC is a set-associative, MESI-coherent last-level cache.
type LLC struct {
	agent    string
	cfg      Config
	upstream Upstream
	metrics  *pkg.Metrics

	mutex sync.Mutex
	sets  [][]line
	clock uint64
}

// New creates an LLC with cfg geometry, backed by upstream for misses
// and evictions. agent names this cache for logging/metrics.
func New(agent string, cfg Config, upstream Upstream, metrics *pkg.Metrics) *LLC {
	sets := make([][]line, cfg.Sets)
	for i := range sets {
		sets[i] = make([]line, cfg.Associativity)
	}
	return &LLC{agent: agent, cfg: cfg, upstream: upstream, metrics: metrics, sets: sets}
}

func (c *LLC) setIndex(addr uint64) uint64 {
	block := addr / pkt.CacheLineSize
	return block % uint64(c.cfg.Sets)
}

func (c *LLC) tag(addr uint64) uint64 {
	return addr / pkt.CacheLineSize / uint64(c.cfg.Sets)
}

// find returns the way index holding addr in its set, or -1.
func (c *LLC) find(set []line, t uint64) int {
	for i := range set {
		if set[i].valid && set[i].tag == t {
			return i
		}
	}
	return -1
}

// victim picks the way with the lowest priority (oldest touch) in set.
func (c *LLC) victim(set []line) int {
	best := 0
	for i := range set {
		if !set[i].valid {
			return i
		}
		if set[i].priority < set[best].priority {
			best = i
		}
	}
	return best
}

func (c *LLC) touch(ln *line) {
	c.clock++
	ln.priority = c.clock
}

// evict writes back way if modified, then marks it invalid. Caller
// holds c.mutex.
func (c *LLC) evict(ctx context.Context, set []line, way int) error {
	if !set[way].valid {
		return nil
	}
	if set[way].state == StateM {
		addr := (set[way].tag*uint64(c.cfg.Sets) + set[way].set) * pkt.CacheLineSize
		if err := c.upstream.WriteBack(ctx, addr, set[way].data); err != nil {
			return err
		}
	}
	if c.metrics != nil {
		c.metrics.CacheEvict(c.agent)
	}
	set[way].valid = false
	set[way].state = StateI
	return nil
}

// CoherentLoad serves a 64-byte coherent read from addr, installing the
// line on miss via Upstream.
func (c *LLC) CoherentLoad(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	idx := c.setIndex(addr)
	t := c.tag(addr)
	set := c.sets[idx]

	if way := c.find(set, t); way >= 0 {
		c.touch(&set[way])
		if c.metrics != nil {
			c.metrics.CacheHit(c.agent)
		}
		return set[way].data, nil
	}

	if c.metrics != nil {
		c.metrics.CacheMiss(c.agent)
	}
	way := c.victim(set)
	if err := c.evict(ctx, set, way); err != nil {
		return [pkt.CacheLineSize]byte{}, err
	}

	data, wireState, err := c.upstream.FetchShared(ctx, addr)
	if err != nil {
		return [pkt.CacheLineSize]byte{}, err
	}
	state := StateE
	if wireState == pkt.CacheStateS {
		state = StateS
	}
	set[way] = line{valid: true, state: state, set: idx, tag: t, data: data}
	c.touch(&set[way])
	return data, nil
}

// CoherentStore serves a 64-byte coherent write to addr, upgrading or
// installing the line in Modified state.
func (c *LLC) CoherentStore(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	idx := c.setIndex(addr)
	t := c.tag(addr)
	set := c.sets[idx]

	if way := c.find(set, t); way >= 0 {
		if set[way].state == StateS {
			if err := c.upstream.Invalidate(ctx, addr); err != nil {
				return err
			}
		}
		set[way].state = StateM
		set[way].data = data
		c.touch(&set[way])
		if c.metrics != nil {
			c.metrics.CacheHit(c.agent)
		}
		return nil
	}

	if c.metrics != nil {
		c.metrics.CacheMiss(c.agent)
	}
	way := c.victim(set)
	if err := c.evict(ctx, set, way); err != nil {
		return err
	}
	if err := c.upstream.Invalidate(ctx, addr); err != nil {
		return err
	}
	set[way] = line{valid: true, state: StateM, set: idx, tag: t, data: data}
	c.touch(&set[way])
	return nil
}

// UncachedLoad reads addr without installing a line locally, used for
// HDM-H non-coherent accesses.
func (c *LLC) UncachedLoad(ctx context.Context, addr uint64) ([pkt.CacheLineSize]byte, error) {
	data, _, err := c.upstream.FetchShared(ctx, addr)
	return data, err
}

// UncachedStore writes addr without installing a line locally.
func (c *LLC) UncachedStore(ctx context.Context, addr uint64, data [pkt.CacheLineSize]byte) error {
	return c.upstream.WriteBack(ctx, addr, data)
}

// Snoop services an inbound request from the coherence engine above
// this cache (a remote agent wants addr). It returns the result and,
// when the result carries data, the line contents.
func (c *LLC) Snoop(op SnoopOp, addr uint64) (SnoopResult, [pkt.CacheLineSize]byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	idx := c.setIndex(addr)
	t := c.tag(addr)
	set := c.sets[idx]
	way := c.find(set, t)
	if way < 0 {
		return RspMiss, [pkt.CacheLineSize]byte{}
	}

	ln := &set[way]
	switch op {
	case SnoopData:
		switch ln.state {
		case StateS:
			return RspS, ln.data
		case StateE:
			data := ln.data
			ln.state = StateS
			return RspS, data
		case StateM:
			data := ln.data
			ln.state = StateS
			return RspS, data
		}
	case SnoopInv:
		switch ln.state {
		case StateS:
			ln.valid = false
			ln.state = StateI
			return RspI, [pkt.CacheLineSize]byte{}
		case StateE:
			data := ln.data
			ln.valid = false
			ln.state = StateI
			return RspI, data
		case StateM:
			data := ln.data
			ln.valid = false
			ln.state = StateI
			return RspI, data
		}
	case SnoopCur:
		if ln.state != StateI {
			return RspV, ln.data
		}
	case SnoopWriteBack:
		if ln.state == StateM {
			data := ln.data
			ln.state = StateE
			return RspS, data
		}
	}
	return RspMiss, [pkt.CacheLineSize]byte{}
}
