package cci

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcodeStringNames(t *testing.T) {
	cases := map[Opcode]string{
		OpIdentifySwitchDevice:      "IDENTIFY_SWITCH_DEVICE",
		OpGetPhysicalPortState:      "GET_PHYSICAL_PORT_STATE",
		OpGetVirtualCXLSwitchInfo:   "GET_VIRTUAL_CXL_SWITCH_INFO",
		OpBindVPPB:                  "BIND_VPPB",
		OpUnbindVPPB:                "UNBIND_VPPB",
		OpGetConnectedDevices:       "GET_CONNECTED_DEVICES",
		OpGetLDInfo:                 "GET_LD_INFO",
		OpGetLDAllocations:          "GET_LD_ALLOCATIONS",
		OpSetLDAllocations:          "SET_LD_ALLOCATIONS",
		OpBackgroundOperationStatus: "BACKGROUND_OPERATION_STATUS",
		OpNotifyPortUpdate:          "NOTIFY_PORT_UPDATE",
		OpNotifySwitchUpdate:        "NOTIFY_SWITCH_UPDATE",
		OpNotifyDeviceUpdate:        "NOTIFY_DEVICE_UPDATE",
	}
	for op, want := range cases {
		assert.Equal(t, want, op.String())
	}
	assert.Equal(t, "unknown", Opcode(999).String())
}
