// Package coherency implements the host-side coherence engines from
// spec.md §4.5: the Cache Coherency Bridge, which relays CXL.cache
// snoops between the host's own LLC and device caches, and the Home
// Agent, which converts host cache requests into CXL.mem M2S/S2M
// traffic (including servicing a device's back-invalidation snoops).
// Grounded on spec.md §4.5's flow tables; actor lifecycle follows
// github.com/ardnew/softusb/host/host.go's monitor-goroutine/event-channel
// idiom.
package coherency
