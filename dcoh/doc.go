// Package dcoh implements the device-side Coherency Engine described in
// spec.md §4.4: it serves CXL.mem traffic directed at a device's HDM
// memory (translating the host's M2S-Req/RwD into snoops against the
// device's own local cache when coherence metadata demands it, and
// emitting S2M-NDR/DRS), drives CXL.cache traffic as a caching agent
// (D2H requests to the host, H2D snoop service), and owns the device's
// snoop filter and back-invalidation flow. There is no teacher analog;
// grounded on spec.md §4.4, with the control-loop idiom following
// github.com/ardnew/softusb/device/stack.go. Device cache requests are
// not run through a per-request state machine: each is matched to its
// host response by tag, and several may be outstanding at once.
package dcoh
