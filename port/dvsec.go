package port

import "encoding/binary"

// CXLVendorID is the PCI-SIG vendor ID CXL DVSEC capabilities are
// registered under.
const CXLVendorID = 0x1E98

// CXL DVSEC capability IDs, per spec.md §4.9.
const (
	DVSECForCXLDevices   = 0x0000
	RegisterLocatorDVSEC = 0x0008
)

// extendedCapabilityBase is the start of PCIe extended configuration
// space, where the DVSEC linked list lives.
const extendedCapabilityBase = 0x100

// dvsecHeaderSize is the PCIe extended-capability header (4 bytes) plus
// the DVSEC vendor header (4 bytes) every entry in the chain carries
// before its body.
const dvsecHeaderSize = 8

// AppendDVSEC links a new DVSEC entry of the given capability ID onto
// the port's extended-capability chain, copying body right after the
// header, and returns the offset of the body (not the header).
func (p *Port) AppendDVSEC(capID uint16, body []byte) uint16 {
	offset := extendedCapabilityBase
	if p.dvsecTail != 0 {
		offset = int(p.dvsecTail) + dvsecHeaderSize + p.dvsecTailLen
	}

	binary.LittleEndian.PutUint16(p.cfgSpace[offset:], 0x0023) // PCIe ext-cap ID for DVSEC
	binary.LittleEndian.PutUint16(p.cfgSpace[offset+2:], 0)    // next ptr, patched in below once known
	binary.LittleEndian.PutUint16(p.cfgSpace[offset+4:], CXLVendorID)
	binary.LittleEndian.PutUint16(p.cfgSpace[offset+6:], capID)
	copy(p.cfgSpace[offset+dvsecHeaderSize:], body)

	if p.dvsecTail != 0 {
		binary.LittleEndian.PutUint16(p.cfgSpace[p.dvsecTail+2:], uint16(offset)<<4)
	}
	p.dvsecTail = uint16(offset)
	p.dvsecTailLen = len(body)
	return uint16(offset + dvsecHeaderSize)
}

// FindDVSEC walks the port's extended-capability chain looking for a
// DVSEC entry with vendor ID CXLVendorID and the given capability ID,
// returning the offset of its body.
func (p *Port) FindDVSEC(capID uint16) (bodyOffset uint16, ok bool) {
	offset := uint16(extendedCapabilityBase)
	for offset != 0 && int(offset) < ConfigSpaceSize {
		extCapID := binary.LittleEndian.Uint16(p.cfgSpace[offset:])
		if extCapID == 0 {
			break
		}
		vendorID := binary.LittleEndian.Uint16(p.cfgSpace[offset+4:])
		entryCapID := binary.LittleEndian.Uint16(p.cfgSpace[offset+6:])
		if vendorID == CXLVendorID && entryCapID == capID {
			return offset + dvsecHeaderSize, true
		}
		next := binary.LittleEndian.Uint16(p.cfgSpace[offset+2:]) >> 4
		if next == 0 {
			break
		}
		offset = next
	}
	return 0, false
}
