package port

import (
	"go.uber.org/zap"

	"github.com/ardnew/cxlfab/pkg"
	"github.com/ardnew/cxlfab/pkt"
	"github.com/ardnew/cxlfab/routing"
)

// EnumerationInfo records the topology a depth-first enumeration walk
// discovered: every port's assigned BDF, and every bridge's assigned
// bus range. Re-running Enumerate over the same tree must reproduce an
// identical EnumerationInfo (spec.md §4.9's bind→rebind→CFG stability
// property).
type EnumerationInfo struct {
	BDF      map[int]pkt.BDF
	BusRange map[int]routing.BusRange
	BAR0     map[int]routing.AddressRange
}

func newEnumerationInfo() *EnumerationInfo {
	return &EnumerationInfo{
		BDF:      make(map[int]pkt.BDF),
		BusRange: make(map[int]routing.BusRange),
		BAR0:     make(map[int]routing.AddressRange),
	}
}

// Enumerate performs the depth-first PCI/CXL bus discovery spec.md
// §4.9 describes, starting from usp (the switch's upstream port,
// itself the first bridge on bus 1) and recursing through every
// attached DSP and endpoint. mmioBase is the first address handed out
// to BAR0 assignment. bdfTable and mmioTable are populated as each
// bridge's bus range and each endpoint's BAR window are discovered,
// grounded on host/enumeration.go's probe-then-assign sequence
// generalized from USB descriptor reads to PCIe CFG-space probes.
func Enumerate(usp *Port, mmioBase uint64, bdfTable *routing.BDFTable, mmioTable *routing.MMIOTable) (*EnumerationInfo, error) {
	info := newEnumerationInfo()
	nextBus := uint8(2)
	memStart := mmioBase
	if err := walk(usp, 1, &nextBus, &memStart, info, bdfTable, mmioTable); err != nil {
		return nil, err
	}
	return info, nil
}

func walk(p *Port, bus uint8, nextBus *uint8, memStart *uint64, info *EnumerationInfo, bdfTable *routing.BDFTable, mmioTable *routing.MMIOTable) error {
	bdf := pkt.MakeBDF(bus, 0, 0)
	info.BDF[p.Index] = bdf
	pkg.LogDebug(pkg.ComponentEnum, "probed function", zap.Int("port", p.Index), zap.Uint8("bus", bus))

	if !p.IsBridge() {
		size := p.SizeBAR0()
		base := alignUp(*memStart, barAlignment)
		p.AssignBAR0(base, size)
		mmioTable.Set(routing.AddressRange{Base: base, Size: size}, p.Index)
		info.BAR0[p.Index] = routing.AddressRange{Base: base, Size: size}
		*memStart = base + barBudget
		pkg.LogDebug(pkg.ComponentEnum, "assigned BAR0", zap.Int("port", p.Index), zap.Uint64("base", base), zap.Uint64("size", size))
		return nil
	}

	secondary := *nextBus
	*nextBus++
	p.SetBridgeBusRange(routing.BusRange{Secondary: secondary, Subordinate: 0xFF})

	for _, child := range p.children {
		if err := walk(child, secondary, nextBus, memStart, info, bdfTable, mmioTable); err != nil {
			return err
		}
	}

	subordinate := *nextBus - 1
	if subordinate < secondary {
		subordinate = secondary
	}
	span := routing.BusRange{Secondary: secondary, Subordinate: subordinate}
	p.SetBridgeBusRange(span)
	bdfTable.Set(span, p.Index)
	info.BusRange[p.Index] = span
	pkg.LogDebug(pkg.ComponentEnum, "assigned bus range", zap.Int("port", p.Index), zap.Uint8("secondary", secondary), zap.Uint8("subordinate", subordinate))
	return nil
}

func alignUp(addr, align uint64) uint64 {
	if addr%align == 0 {
		return addr
	}
	return (addr/align + 1) * align
}
