// Package cci implements the Fabric Manager Component Command Interface
// (CCI) commands spec.md §6 names as the CORE's externally exposed
// management surface: switch/port identification and state queries,
// vPPB bind/unbind, connected-device enumeration, MLD logical-device
// allocation, the background-operation status poll, and the
// vendor-specific notification opcodes the virtual switch manager
// raises. Grounded on spec.md §6 and the supplemented opencxl CCI
// command sources named in SPEC_FULL.md.
package cci

// Opcode identifies a CCI command or notification.
type Opcode uint16

// CCI opcodes, per spec.md §6.
const (
	OpIdentifySwitchDevice Opcode = iota
	OpGetPhysicalPortState
	OpGetVirtualCXLSwitchInfo
	OpBindVPPB
	OpUnbindVPPB
	OpGetConnectedDevices
	OpGetLDInfo
	OpGetLDAllocations
	OpSetLDAllocations
	OpBackgroundOperationStatus

	OpNotifyPortUpdate
	OpNotifySwitchUpdate
	OpNotifyDeviceUpdate
)

// String returns the opcode's CCI command name.
func (o Opcode) String() string {
	switch o {
	case OpIdentifySwitchDevice:
		return "IDENTIFY_SWITCH_DEVICE"
	case OpGetPhysicalPortState:
		return "GET_PHYSICAL_PORT_STATE"
	case OpGetVirtualCXLSwitchInfo:
		return "GET_VIRTUAL_CXL_SWITCH_INFO"
	case OpBindVPPB:
		return "BIND_VPPB"
	case OpUnbindVPPB:
		return "UNBIND_VPPB"
	case OpGetConnectedDevices:
		return "GET_CONNECTED_DEVICES"
	case OpGetLDInfo:
		return "GET_LD_INFO"
	case OpGetLDAllocations:
		return "GET_LD_ALLOCATIONS"
	case OpSetLDAllocations:
		return "SET_LD_ALLOCATIONS"
	case OpBackgroundOperationStatus:
		return "BACKGROUND_OPERATION_STATUS"
	case OpNotifyPortUpdate:
		return "NOTIFY_PORT_UPDATE"
	case OpNotifySwitchUpdate:
		return "NOTIFY_SWITCH_UPDATE"
	case OpNotifyDeviceUpdate:
		return "NOTIFY_DEVICE_UPDATE"
	default:
		return "unknown"
	}
}
