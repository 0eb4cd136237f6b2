// Package endpoint models CXL Type 1 (cache-only accelerator), Type 2
// (cache+memory accelerator), and Type 3 (memory expander) devices.
// Grounded on device/device.go's DeviceBuilder pattern, generalized
// from USB device/configuration/interface/endpoint descriptors to a
// CXL endpoint's config-space port, HDM-backed memory, and DCOH.
package endpoint

import (
	"context"
	"sync"

	"github.com/ardnew/cxlfab/dcoh"
	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/mem"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/port"
)

// Kind identifies a CXL device type.
type Kind uint8

// Device kinds, per CXL 3.0's three endpoint device types.
const (
	Type1 Kind = iota // cache-only accelerator, no HDM
	Type2             // cache + memory accelerator
	Type3             // memory expander
)

// Config configures an Endpoint.
type Config struct {
	Name              string
	Kind              Kind
	VendorID          uint16
	DeviceID          uint16
	CacheID           uint8 // CXL.cache agent ID, unused for Type3-only devices with no cache
	BIID              uint8
	Capacity          uint64 // HDM capacity in bytes; 0 for Type1
	NumLogicalDevices int    // >1 marks this a multi-logical-device (MLD) Type3
}

// endpointClassCode is the CXL memory-device class code advertised in
// the endpoint's PCIe configuration header.
const endpointClassCode = 0x050210

// Endpoint is one emulated CXL device: its PCIe config-space port, its
// DCOH (device coherency engine), and, for an MLD Type 3, the
// supplemented per-LD capacity allocation table.
type Endpoint struct {
	cfg     Config
	Port    *port.Port
	DCOH    *dcoh.DCOH
	Memory  mem.Accessor
	LDTable *LDAllocationTable // non-nil only when cfg.NumLogicalDevices > 1

	mu sync.Mutex
}

// New builds an Endpoint. memory is the device's HDM backing store
// (nil for Type1). memFIFO and cacheFIFO are this device's CXL.mem and
// CXL.cache pairs. The CFG pair is not given here; Run takes it and
// services it with the endpoint's Port.
func New(index int, cfg Config, memory mem.Accessor, memFIFO, cacheFIFO *fifo.Pair, metrics *pkg.Metrics) (*Endpoint, error) {
	if cfg.Kind != Type1 && memory == nil {
		return nil, pkg.ErrInvalidParameter
	}

	p := port.NewPort(index, port.KindRoot, cfg.VendorID, cfg.DeviceID, endpointClassCode)

	d := dcoh.New(dcoh.Config{
		Name:       cfg.Name,
		CacheID:    cfg.CacheID,
		BIID:       cfg.BIID,
		SelfCached: cfg.Kind == Type2,
	}, memory, memFIFO, cacheFIFO, metrics)

	e := &Endpoint{cfg: cfg, Port: p, DCOH: d, Memory: memory}

	if cfg.NumLogicalDevices > 1 {
		table, err := NewLDAllocationTable(cfg.NumLogicalDevices, cfg.Capacity)
		if err != nil {
			return nil, err
		}
		e.LDTable = table
	}

	return e, nil
}

// Run services the endpoint's CFG FIFO (via Port) and CXL.mem/CXL.cache
// FIFOs (via DCOH) until ctx is cancelled or the pairs shut down.
func (e *Endpoint) Run(ctx context.Context, cfgFIFO *fifo.Pair) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.Port.Run(ctx, cfgFIFO)
	}()
	go func() {
		defer wg.Done()
		e.DCOH.Run(ctx)
	}()
	wg.Wait()
}

// Kind returns the endpoint's device kind.
func (e *Endpoint) Kind() Kind { return e.cfg.Kind }

// IsMLD reports whether the endpoint is a multi-logical-device Type 3.
func (e *Endpoint) IsMLD() bool { return e.LDTable != nil }
