// Package hdm implements the Host-Managed Device Memory decoder model:
// the host/switch/device range registers that translate a host physical
// address into a downstream target (port index or device) and, for
// device decoders, a device physical address. Grounded on spec.md §4.7;
// the modulo-interleave bit layout follows CXL 3.0 §8.2.4.20, per the
// Open Question decision recorded in DESIGN.md.
package hdm

import (
	"sync"

	"github.com/ardnew/cxlfab/pkg"
)

// DecoderConfig is the set of fields a commit() write programs into one
// decoder slot.
type DecoderConfig struct {
	HPABase         uint64
	HPASize         uint64
	GranularityBits uint8 // log2(interleave granularity in bytes); ignored when len(Targets) == 1
	Targets         []int // downstream port indices (switch) or a single device identifier (device)
	DPASkip         uint64
}

// decoder is one committed (or not-yet-committed) decoder slot.
type decoder struct {
	cfg       DecoderConfig
	committed bool
}

func (d *decoder) contains(hpa uint64) bool {
	return d.committed && hpa >= d.cfg.HPABase && hpa < d.cfg.HPABase+d.cfg.HPASize
}

// wayBits returns the number of bits needed to select among n ways.
func wayBits(n int) uint8 {
	var bits uint8
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// translate maps hpa, known to fall in d's window, to a target index and
// a device physical address. Interleaving follows CXL 3.0 §8.2.4.20's
// modulo scheme: the target is the granule number (offset >> granularity)
// modulo the way count, and the DPA keeps the granule number divided by
// the way count above the in-granule offset bits. For a power-of-two way
// count this compresses the way-selecting bits out of the DPA.
func (d *decoder) translate(hpa uint64) (target int, dpa uint64) {
	offset := hpa - d.cfg.HPABase
	ways := len(d.cfg.Targets)
	if ways <= 1 {
		return d.cfg.Targets[0], offset + d.cfg.DPASkip
	}

	g := d.cfg.GranularityBits
	n := uint64(ways)
	low := offset & ((uint64(1) << g) - 1)
	granule := offset >> g
	wayIdx := granule % n
	high := granule / n

	return d.cfg.Targets[wayIdx], (high<<g | low) + d.cfg.DPASkip
}

// Manager owns a fixed set of decoder slots, committed independently and
// consulted in slot order: the first committed decoder whose window
// contains the address wins. One Manager instance serves a host's root
// complex, a switch USP, or a single device.
type Manager struct {
	name    string
	metrics *pkg.Metrics

	mu       sync.Mutex
	decoders []decoder
}

// New creates a Manager with n decoder slots, all initially uncommitted.
func New(name string, n int, metrics *pkg.Metrics) *Manager {
	return &Manager{name: name, metrics: metrics, decoders: make([]decoder, n)}
}

// Commit programs slot index with cfg and raises its committed bit.
// Returns a configuration error if index is out of range or cfg names
// no targets.
func (m *Manager) Commit(index int, cfg DecoderConfig) error {
	if len(cfg.Targets) == 0 {
		return pkg.ErrInvalidParameter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.decoders) {
		return pkg.ErrInvalidParameter
	}
	m.decoders[index] = decoder{cfg: cfg, committed: true}
	return nil
}

// Uncommit clears slot index's committed bit, matching a software
// teardown of that decoder before reprogramming it.
func (m *Manager) Uncommit(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.decoders) {
		m.decoders[index].committed = false
	}
}

// Committed reports whether slot index's commit bit is set, the poll a
// consumer must perform before relying on the decoded mapping.
func (m *Manager) Committed(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return index >= 0 && index < len(m.decoders) && m.decoders[index].committed
}

// GetTarget walks committed decoders in slot order and returns the
// first whose window contains hpa, along with the decoded target index
// and (for device decoders) device physical address.
func (m *Manager) GetTarget(hpa uint64) (target int, dpa uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.decoders {
		if m.decoders[i].contains(hpa) {
			target, dpa = m.decoders[i].translate(hpa)
			if m.metrics != nil {
				m.metrics.DecoderLookup("hit")
			}
			return target, dpa, true
		}
	}
	if m.metrics != nil {
		m.metrics.DecoderLookup("miss")
	}
	return 0, 0, false
}
