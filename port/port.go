// Package port models physical CXL/PCIe ports: upstream switch ports
// (USP), downstream switch ports (DSP), and endpoint root ports. Each
// port owns a PCIe configuration-space byte image and services CFG
// requests routed to it the way a real bridge or endpoint function
// would, grounded on spec.md §4.9 and the enumeration sequence in
// host/enumeration.go (probe, size, assign, recurse).
package port

import (
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/fifo"
	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
	"github.com/ardnew/cxlfab/routing"
)

// Kind distinguishes the three physical port roles a CXL switch
// topology is built from.
type Kind uint8

// Port kinds.
const (
	KindUSP  Kind = iota // upstream switch port, faces the root complex
	KindDSP              // downstream switch port, faces a vPPB/endpoint
	KindRoot             // root port, the host's own CFG-space origin
)

// PCIe bridge class code (060400h), used to recognize DSPs during
// depth-first discovery.
const bridgeClassCode = 0x060400

// ConfigSpaceSize is the PCIe extended configuration space size (4 KiB)
// every port's cfgSpace buffer is sized to.
const ConfigSpaceSize = 4096

// BAR sizing/placement constants, per spec.md §4.9.
const (
	barAlignment = 0x1000
	barBudget    = 0x100000
)

// Port is one physical port's CFG-space-backed state. A Port is also
// the actor behind a CFG router's downstream FIFO pair: Run answers
// CfgReq traffic the way the real function would.
type Port struct {
	Index    int
	Kind     Kind
	BDF      pkt.BDF
	BusRange routing.BusRange

	cfgSpace [ConfigSpaceSize]byte
	children []*Port

	barBase uint64
	barSize uint64

	dvsecTail    uint16 // offset of the last-linked extended capability, 0 if none
	dvsecTailLen int    // body length of the last-linked DVSEC entry
}

// NewPort creates a port of the given kind with vendorID/deviceID and
// classCode programmed into its standard configuration header.
func NewPort(index int, kind Kind, vendorID, deviceID uint16, classCode uint32) *Port {
	p := &Port{Index: index, Kind: kind}
	binary.LittleEndian.PutUint16(p.cfgSpace[0x00:], vendorID)
	binary.LittleEndian.PutUint16(p.cfgSpace[0x02:], deviceID)
	p.cfgSpace[0x09] = byte(classCode)
	p.cfgSpace[0x0A] = byte(classCode >> 8)
	p.cfgSpace[0x0B] = byte(classCode >> 16)
	if kind == KindDSP || kind == KindUSP {
		p.cfgSpace[0x09] = byte(bridgeClassCode)
		p.cfgSpace[0x0A] = byte(bridgeClassCode >> 8)
		p.cfgSpace[0x0B] = byte(bridgeClassCode >> 16)
	}
	return p
}

// AddChild attaches a downstream port (a DSP's endpoint, or a USP's
// DSP) for enumeration to discover.
func (p *Port) AddChild(c *Port) { p.children = append(p.children, c) }

// Children returns the port's attached downstream ports.
func (p *Port) Children() []*Port { return p.children }

// IsBridge reports whether the port's class code is the PCIe
// bridge class, the signal enumeration uses to recurse.
func (p *Port) IsBridge() bool {
	return uint32(p.cfgSpace[0x09])|uint32(p.cfgSpace[0x0A])<<8|uint32(p.cfgSpace[0x0B])<<16 == bridgeClassCode
}

// SecondaryBus returns the bridge's secondary bus number (offset 0x19).
func (p *Port) SecondaryBus() uint8 { return p.cfgSpace[0x19] }

// SetBridgeBusRange programs the bridge's secondary/subordinate bus
// registers (offsets 0x19/0x1A) and records them on the port.
func (p *Port) SetBridgeBusRange(span routing.BusRange) {
	p.cfgSpace[0x19] = span.Secondary
	p.cfgSpace[0x1A] = span.Subordinate
	p.BusRange = span
}

// SizeBAR0 performs the standard write-0xFFFFFFFF-then-read-back BAR
// sizing probe against BAR0 (offset 0x10) and returns the decoded size
// in bytes. It leaves the BAR register holding the size mask, matching
// real hardware until software writes the actual base address.
func (p *Port) SizeBAR0() uint64 {
	binary.LittleEndian.PutUint32(p.cfgSpace[0x10:], 0xFFFFFFFF)
	mask := binary.LittleEndian.Uint32(p.cfgSpace[0x10:]) &^ 0xF
	if mask == 0 {
		return 0
	}
	size := uint64(^mask) + 1
	if size < barAlignment {
		size = barAlignment
	}
	return size
}

// AssignBAR0 programs BAR0 with base and records (base, size) on the
// port for the MMIO routing table to consume.
func (p *Port) AssignBAR0(base, size uint64) {
	binary.LittleEndian.PutUint32(p.cfgSpace[0x10:], uint32(base))
	p.barBase, p.barSize = base, size
}

// BAR0 returns the port's assigned BAR0 base and size.
func (p *Port) BAR0() (base, size uint64) { return p.barBase, p.barSize }

// ConfigRead reads size bytes (1, 2, or 4) at offset from the port's
// configuration space.
func (p *Port) ConfigRead(offset uint16, size uint8) uint32 {
	if int(offset)+int(size) > ConfigSpaceSize {
		return 0xFFFFFFFF
	}
	switch size {
	case 1:
		return uint32(p.cfgSpace[offset])
	case 2:
		return uint32(binary.LittleEndian.Uint16(p.cfgSpace[offset:]))
	default:
		return binary.LittleEndian.Uint32(p.cfgSpace[offset:])
	}
}

// ConfigWrite writes size bytes (1, 2, or 4) of data at offset into the
// port's configuration space. Writes to read-only regions (vendor/
// device ID, class code, revision) are silently ignored, matching real
// hardware.
func (p *Port) ConfigWrite(offset uint16, size uint8, data uint32) {
	if int(offset)+int(size) > ConfigSpaceSize || offset < 0x10 {
		return
	}
	switch size {
	case 1:
		p.cfgSpace[offset] = byte(data)
	case 2:
		binary.LittleEndian.PutUint16(p.cfgSpace[offset:], uint16(data))
	default:
		binary.LittleEndian.PutUint32(p.cfgSpace[offset:], data)
	}
}

// Run services req/completion traffic routed to this port's CFG FIFO
// pair until ctx is cancelled or the pair shuts down.
func (p *Port) Run(ctx context.Context, pair *fifo.Pair) {
	for {
		packet, ok := pair.ReceiveFromHost(ctx)
		if !ok {
			return
		}
		req, isReq := packet.(*pkt.CfgReq)
		if !isReq {
			pkg.LogWarn(pkg.ComponentPort, "unexpected packet on port CFG FIFO", zap.Int("port", p.Index))
			continue
		}
		resp := &pkt.CfgCompletion{ReqID: req.ReqID, Tag: req.Tag, Status: uint8(pkg.StatusSuccess)}
		if req.IsWrite {
			p.ConfigWrite(req.Offset, req.Size, req.Data)
		} else {
			resp.Data = p.ConfigRead(req.Offset, req.Size)
		}
		_ = pair.SendToHost(ctx, resp)
	}
}
