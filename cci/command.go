package cci

import "encoding/binary"

// BindVPPBRequest is the request payload for BIND_VPPB.
type BindVPPBRequest struct {
	VCSID        uint8
	VPPBIndex    uint8
	PhysicalPort uint8
	LDID         uint8
}

// MarshalTo packs the request little-endian into buf, matching the
// fabric's manual wire-encoding convention (pkt.CfgCompletion.MarshalTo
// et al.). Returns the number of bytes written.
func (r *BindVPPBRequest) MarshalTo(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	buf[0], buf[1], buf[2], buf[3] = r.VCSID, r.VPPBIndex, r.PhysicalPort, r.LDID
	return 4
}

// UnmarshalBindVPPBRequest unpacks a BindVPPBRequest from buf.
func UnmarshalBindVPPBRequest(buf []byte) (BindVPPBRequest, bool) {
	if len(buf) < 4 {
		return BindVPPBRequest{}, false
	}
	return BindVPPBRequest{VCSID: buf[0], VPPBIndex: buf[1], PhysicalPort: buf[2], LDID: buf[3]}, true
}

// UnbindVPPBRequest is the request payload for UNBIND_VPPB.
type UnbindVPPBRequest struct {
	VCSID     uint8
	VPPBIndex uint8
}

// ConnectedDevice is one entry of a GET_CONNECTED_DEVICES response: one
// vPPB's bind status and bound device identity, per the supplemented
// read-only bind-table walk.
type ConnectedDevice struct {
	VPPBIndex    uint8
	BindStatus   uint8
	PhysicalPort uint8
	LDID         uint8
}

// MarshalTo packs the entry little-endian into buf.
func (d *ConnectedDevice) MarshalTo(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	buf[0], buf[1], buf[2], buf[3] = d.VPPBIndex, d.BindStatus, d.PhysicalPort, d.LDID
	return 4
}

// GetConnectedDevicesResponse is the response payload for
// GET_CONNECTED_DEVICES.
type GetConnectedDevicesResponse struct {
	Devices []ConnectedDevice
}

// LDAllocations is the payload shared by GET_LD_ALLOCATIONS and
// SET_LD_ALLOCATIONS: one capacity value per logical device, in bytes.
type LDAllocations struct {
	Capacities []uint64
}

// MarshalTo packs the allocations little-endian into buf, 8 bytes per
// entry. Returns the number of bytes written, or 0 if buf is too short.
func (a *LDAllocations) MarshalTo(buf []byte) int {
	need := len(a.Capacities) * 8
	if len(buf) < need {
		return 0
	}
	for i, c := range a.Capacities {
		binary.LittleEndian.PutUint64(buf[i*8:], c)
	}
	return need
}

// UnmarshalLDAllocations unpacks n uint64 capacities from buf.
func UnmarshalLDAllocations(buf []byte, n int) (LDAllocations, bool) {
	if len(buf) < n*8 {
		return LDAllocations{}, false
	}
	caps := make([]uint64, n)
	for i := range caps {
		caps[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return LDAllocations{Capacities: caps}, true
}

// IdentifySwitchDeviceResponse is the response payload for
// IDENTIFY_SWITCH_DEVICE.
type IdentifySwitchDeviceResponse struct {
	NumPhysicalPorts uint8
	NumVCSs          uint8
}

// GetVirtualCXLSwitchInfoResponse is the response payload for
// GET_VIRTUAL_CXL_SWITCH_INFO.
type GetVirtualCXLSwitchInfoResponse struct {
	VCSID        uint8
	USPPortIndex uint8
	NumVPPBs     uint8
}

// GetPhysicalPortStateResponse is the response payload for
// GET_PHYSICAL_PORT_STATE.
type GetPhysicalPortStateResponse struct {
	PortIndex int
	Bound     bool
}
