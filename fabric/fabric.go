// Package fabric composes one virtual CXL switch out of the module's
// independently-tested pieces into a single runnable actor tree: host
// coherency engines, switch routers, the vPPB bind table, and the
// endpoint devices bound to it at construction. Grounded on
// host/host.go's Start/Stop lifecycle, generalized from a one-HAL USB
// host to the multi-router, multi-actor tree spec.md §2 and §5 describe.
package fabric

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/cxlfab/cache"
	"github.com/ardnew/cxlfab/cci"
	"github.com/ardnew/cxlfab/coherency"
	"github.com/ardnew/cxlfab/endpoint"
	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/hal/tcp"
	"github.com/ardnew/cxlfab/hdm"
	"github.com/ardnew/cxlfab/mem"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
	"github.com/ardnew/cxlfab/port"
	"github.com/ardnew/cxlfab/routing"
	"github.com/ardnew/cxlfab/vswitch"

	"github.com/google/uuid"
)

// uspVendorID/uspDeviceID identify the VCS's own upstream port function
// in its synthetic configuration space; they carry no meaning beyond
// distinguishing it from an endpoint's identity during a CFG dump.
const (
	uspVendorID uint16 = 0x1e98 // CXL Consortium-reserved test vendor ID range
	uspDeviceID uint16 = 0xc100
)

// uspBus is the bus number the VCS's own upstream port answers CFG
// requests on; vPPB bus numbers are assigned sequentially starting at
// uspBus+1, per the flattened DSP+endpoint topology decision recorded
// in DESIGN.md (this module's port.Enumerate walks a single bridge
// chain and cannot assign N sibling buses in one pass, so the composer
// assigns them directly rather than forcing N leaves through it).
const uspBus uint8 = 1

// Config configures one composed fabric: a host, one VCS, and the
// endpoints bound into it at construction.
type Config struct {
	VCSID         int
	HostMemory    uint64 // host DRAM size in bytes
	MMIOBase      uint64 // base address of the MMIO window handed out to bound endpoints
	HDMBase       uint64 // base host-physical address of the HDM window handed out to decoders
	Coherency     coherency.Config
	Endpoints     []endpoint.Config // devices bound into the VCS at construction, one vPPB per entry
	ExternalPorts int               // additional vPPB slots left unbound, reachable only via the TCP port fabric
	TCPListenAddr string            // empty disables the TCP port fabric socket
	Metrics       *pkg.Metrics
}

// boundEndpoint is one in-process device bound into the VCS at
// construction, paired with the FIFO pairs and bus/BAR assignment the
// composer gave it.
type boundEndpoint struct {
	id       uuid.UUID
	ep       *endpoint.Endpoint
	cfgFIFO  *fifo.Pair
	busRange routing.BusRange
	mmio     routing.AddressRange
}

// Fabric is one composed, runnable virtual CXL switch: the host's
// coherency engines, the four switch routers (three routed, one —
// CXL.cache — serviced directly by the coherency bridge; see
// DESIGN.md), the vPPB bind table, and every endpoint bound at
// construction.
type Fabric struct {
	cfg     Config
	id      uuid.UUID
	metrics *pkg.Metrics

	hostMemory *mem.Memory
	hostCache  *cache.LLC
	bridge     *coherency.Bridge
	homeAgent  *coherency.HomeAgent
	decoders   *hdm.Manager

	uspPort *port.Port

	cfgRouter  *routing.CFGRouter
	mmioRouter *routing.MMIORouter
	memRouter  *routing.MemRouter

	vcs *vswitch.VCS
	mgr *vswitch.Manager

	uspCFGPair     *fifo.Pair
	uspSelfCFGPair *fifo.Pair // services the USP's own config space, kept apart from uspCFGPair so the two don't race as target-side consumers of the same channel
	uspMMIOPair    *fifo.Pair
	uspMemPair     *fifo.Pair

	cfgPairs   []*fifo.Pair
	mmioPairs  []*fifo.Pair
	memPairs   []*fifo.Pair
	cachePairs []*fifo.Pair

	endpoints []*boundEndpoint

	notify   *cci.Dispatcher
	executor *cci.Executor

	tcpListener *tcp.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds a Fabric from cfg: it allocates host memory and the host's
// coherency engines, lays out one VCS with len(cfg.Endpoints)+
// cfg.ExternalPorts vPPB slots, constructs an endpoint.Endpoint for each
// of cfg.Endpoints (committing an HDM decoder for each one with device
// memory, i.e. every kind but Type1), and binds each into its vPPB. Per spec.md §4.8, "initial bounds provided at construction
// are applied during start" is interpreted as: the bind table is
// populated here, but the actors servicing it are not started until
// Start.
func New(cfg Config) (*Fabric, error) {
	total := len(cfg.Endpoints) + cfg.ExternalPorts
	if total == 0 {
		return nil, fmt.Errorf("%w: fabric needs at least one vPPB slot", pkg.ErrInvalidParameter)
	}
	if cfg.HostMemory == 0 {
		return nil, fmt.Errorf("%w: host memory size must be nonzero", pkg.ErrInvalidParameter)
	}

	f := &Fabric{
		cfg:        cfg,
		id:         uuid.New(),
		metrics:    cfg.Metrics,
		hostMemory: mem.NewMemory(cfg.HostMemory),
		decoders:   hdm.New("host", total, cfg.Metrics),
	}

	f.bridge = coherency.NewBridge(f.hostMemory, cfg.Coherency.Timeout, cfg.Metrics)
	f.hostCache = cache.New("host", cache.DefaultConfig, f.bridge, cfg.Metrics)
	f.bridge.AttachHostCache(f.hostCache)

	f.uspMemPair = fifo.New(pkt.ClassMem)
	f.homeAgent = coherency.NewHomeAgent(cfg.Coherency, f.uspMemPair, cfg.Metrics)
	f.homeAgent.AttachHostCache(f.hostCache)

	f.uspCFGPair = fifo.New(pkt.ClassCFG)
	f.uspSelfCFGPair = fifo.New(pkt.ClassCFG)
	f.uspMMIOPair = fifo.New(pkt.ClassMMIO)
	f.uspPort = port.NewPort(-1, port.KindUSP, uspVendorID, uspDeviceID, 0)
	f.uspPort.SetBridgeBusRange(routing.BusRange{Secondary: uspBus, Subordinate: uspBus})

	cfgPairs := make([]*fifo.Pair, total)
	mmioPairs := make([]*fifo.Pair, total)
	memPairs := make([]*fifo.Pair, total)
	cachePairs := make([]*fifo.Pair, total)
	for i := 0; i < total; i++ {
		cfgPairs[i] = fifo.New(pkt.ClassCFG)
		mmioPairs[i] = fifo.New(pkt.ClassMMIO)
		memPairs[i] = fifo.New(pkt.ClassMem)
		cachePairs[i] = fifo.New(pkt.ClassCache)
	}
	f.cfgPairs, f.mmioPairs, f.memPairs, f.cachePairs = cfgPairs, mmioPairs, memPairs, cachePairs

	f.vcs = vswitch.NewVCS(cfg.VCSID, 0, cfgPairs, cfg.Metrics)
	f.mgr = vswitch.NewManager()
	f.mgr.Register(f.vcs)
	f.vcs.BDF.Set(routing.BusRange{Secondary: uspBus, Subordinate: uspBus}, total)

	f.notify = cci.NewDispatcher()
	f.vcs.AddListener(f.notify)
	f.executor = cci.NewExecutor(f.mgr, total, f.notify)

	allCFGPairs := append(append([]*fifo.Pair(nil), cfgPairs...), f.uspSelfCFGPair)
	f.cfgRouter = routing.NewCFGRouter(f.uspCFGPair, allCFGPairs, f.vcs.BDF, uspBus, cfg.Metrics)
	f.mmioRouter = routing.NewMMIORouter(f.uspMMIOPair, mmioPairs, f.vcs.MMIO, cfg.Metrics)
	f.memRouter = routing.NewMemRouter(f.uspMemPair, memPairs, f.decoders, cfg.Metrics)

	mmioCursor := cfg.MMIOBase
	hdmCursor := cfg.HDMBase
	for i, epCfg := range cfg.Endpoints {
		var devMem mem.Accessor
		if epCfg.Kind != endpoint.Type1 {
			devMem = mem.NewMemory(epCfg.Capacity)
		}
		ep, err := endpoint.New(i, epCfg, devMem, memPairs[i], cachePairs[i], cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d (%s): %w", i, epCfg.Name, err)
		}

		busRange := routing.BusRange{Secondary: uspBus + 1 + uint8(i), Subordinate: uspBus + 1 + uint8(i)}
		barSize := ep.Port.SizeBAR0()
		if barSize == 0 {
			barSize = 0x1000
		}
		ep.Port.AssignBAR0(mmioCursor, barSize)
		mmioWindow := routing.AddressRange{Base: mmioCursor, Size: barSize}
		mmioCursor += barSize

		var cacheIDs []uint8
		if epCfg.Kind != endpoint.Type3 {
			f.bridge.AddDevice(epCfg.CacheID, cachePairs[i])
			cacheIDs = []uint8{epCfg.CacheID}
		}

		if epCfg.Kind != endpoint.Type1 {
			if err := f.decoders.Commit(i, hdm.DecoderConfig{
				HPABase: hdmCursor, HPASize: epCfg.Capacity, Targets: []int{i},
			}); err != nil {
				return nil, fmt.Errorf("commit decoder %d: %w", i, err)
			}
			hdmCursor += epCfg.Capacity
		}

		if err := f.mgr.Bind(context.Background(), f.vcs, i, i, 0, busRange, &mmioWindow, cacheIDs); err != nil {
			return nil, fmt.Errorf("bind endpoint %d: %w", i, err)
		}
		f.executor.BoundPorts[i] = true
		if ep.LDTable != nil {
			f.executor.LD[i] = ep.LDTable
		}

		f.endpoints = append(f.endpoints, &boundEndpoint{
			id: uuid.New(), ep: ep, cfgFIFO: cfgPairs[i], busRange: busRange, mmio: mmioWindow,
		})
	}

	return f, nil
}

// ID returns the fabric's unique identifier, assigned at construction.
func (f *Fabric) ID() uuid.UUID { return f.id }

// EndpointInfo summarizes one endpoint bound into the fabric at
// construction, for diagnostics and test assertions.
type EndpointInfo struct {
	ID       uuid.UUID
	BusRange routing.BusRange
	MMIO     routing.AddressRange
}

// EndpointInfo returns the bus range and MMIO window assigned to the
// endpoint bound at physicalPort, or false if physicalPort is out of
// range or belongs to an external, unbound slot.
func (f *Fabric) EndpointInfo(physicalPort int) (EndpointInfo, bool) {
	if physicalPort < 0 || physicalPort >= len(f.endpoints) {
		return EndpointInfo{}, false
	}
	be := f.endpoints[physicalPort]
	return EndpointInfo{ID: be.id, BusRange: be.busRange, MMIO: be.mmio}, true
}

// Executor returns the CCI command executor wired to this fabric's
// switch manager, for a management transport to dispatch commands
// against.
func (f *Fabric) Executor() *cci.Executor { return f.executor }

// TCPAddr returns the port fabric socket's bound address. Valid only
// after Start, when cfg.TCPListenAddr was non-empty.
func (f *Fabric) TCPAddr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tcpListener == nil {
		return ""
	}
	return f.tcpListener.Addr().String()
}

// Start launches every actor in the fabric's tree — the switch routers,
// the host coherency engines, the USP's own CFG responder, and every
// bound endpoint — as one errgroup.Group, optionally alongside the TCP
// port fabric socket. It returns once every actor goroutine has been
// launched; Wait (via Stop) joins them.
func (f *Fabric) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	f.cancel = cancel
	f.group = group
	f.running = true
	f.mu.Unlock()

	group.Go(func() error { f.cfgRouter.Run(gctx); return nil })
	group.Go(func() error { f.mmioRouter.Run(gctx); return nil })
	group.Go(func() error { f.memRouter.Run(gctx); return nil })
	group.Go(func() error { f.bridge.Run(gctx); return nil })
	group.Go(func() error { f.homeAgent.Run(gctx); return nil })
	group.Go(func() error { f.uspPort.Run(gctx, f.uspSelfCFGPair); return nil })

	for _, be := range f.endpoints {
		be := be
		group.Go(func() error { be.ep.Run(gctx, be.cfgFIFO); return nil })
	}

	if f.cfg.TCPListenAddr != "" {
		ln, err := tcp.Listen(f.cfg.TCPListenAddr, f.resolve, f.metrics)
		if err != nil {
			cancel()
			f.mu.Lock()
			f.running = false
			f.mu.Unlock()
			return fmt.Errorf("start port fabric socket: %w", err)
		}
		f.mu.Lock()
		f.tcpListener = ln
		f.mu.Unlock()
		group.Go(func() error { return ln.Serve(gctx) })
	}

	pkg.LogInfo(pkg.ComponentFabric, "fabric started",
		zap.String("id", f.id.String()), zap.Int("vcs", f.cfg.VCSID), zap.Int("endpoints", len(f.endpoints)))
	return nil
}

// Stop cancels every actor in the tree and blocks until they exit,
// returning the first non-nil error any actor or the port fabric
// listener reported.
func (f *Fabric) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel := f.cancel
	group := f.group
	ln := f.tcpListener
	f.mu.Unlock()

	cancel()
	if ln != nil {
		_ = ln.Close()
	}
	err := group.Wait()
	pkg.LogInfo(pkg.ComponentFabric, "fabric stopped", zap.String("id", f.id.String()), zap.Error(err))
	return err
}

// resolve implements tcp.Resolver over this fabric's external vPPB
// slots. Only ports at or beyond len(cfg.Endpoints) are exposed — the
// earlier slots already have an in-process endpoint occupying the
// target side of their FIFO pairs, so handing them to a TCP client too
// would double-drive the same channels. SideRoot is rejected for the
// same reason on the host side: this fabric's own home agent and
// coherency bridge already occupy the host side of the mem/cache
// classes. The CFG and MMIO classes have no internal host-side
// consumer, so an external SideRoot/port-0 connection may drive them
// directly, giving a management client raw enumeration/BAR access
// without a CCI round trip.
func (f *Fabric) resolve(side tcp.Side, portIndex int) (*tcp.PortBinding, error) {
	if side == tcp.SideRoot {
		if portIndex != 0 {
			return nil, fmt.Errorf("%w: root side only serves port 0", pkg.ErrInvalidPort)
		}
		b := &tcp.PortBinding{Side: side, PortIndex: portIndex}
		b.Pairs[pkt.ClassCFG] = f.uspCFGPair
		b.Pairs[pkt.ClassMMIO] = f.uspMMIOPair
		return b, nil
	}

	firstExternal := len(f.cfg.Endpoints)
	if portIndex < firstExternal || portIndex >= len(f.cfgPairs) {
		return nil, fmt.Errorf("%w: port %d is not an external slot", pkg.ErrInvalidPort, portIndex)
	}
	b := &tcp.PortBinding{Side: side, PortIndex: portIndex}
	b.Pairs[pkt.ClassCFG] = f.cfgPairs[portIndex]
	b.Pairs[pkt.ClassMMIO] = f.mmioPairs[portIndex]
	b.Pairs[pkt.ClassMem] = f.memPairs[portIndex]
	b.Pairs[pkt.ClassCache] = f.cachePairs[portIndex]
	return b, nil
}
