// Package cache implements the MESI-like last-level cache described in
// spec.md §4.3: a set-associative cache of 64-byte lines serving
// coherent loads/stores from a local agent (CPU or device core) and
// inbound snoops from the coherence engine above it (the host's Cache
// Coherency Bridge, or a device's DCOH). There is no teacher analog —
// USB has no cache coherency — so this package is grounded on spec.md
// §4.3 and the snoop response table it specifies; its structural idiom
// (mutex-guarded struct, fixed-size backing arrays, sentinel errors from
// [pkg]) follows github.com/ardnew/softusb/device/device.go.
package cache
