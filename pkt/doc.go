// Package pkt defines the CXL transaction-layer packet taxonomy: PCIe/CXL.io
// configuration and MMIO packets, CXL.mem M2S/S2M (including back-invalidate)
// packets, and CXL.cache H2D/D2H packets. Every packet type is a plain
// struct with manual accessors, matching the wire-field-at-a-time style
// the fabric uses instead of a reflection-based codec.
package pkt
