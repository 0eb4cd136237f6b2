package pkg

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors shared across fabric
// components. A nil *Metrics is valid and all methods become no-ops, so
// components can be constructed without a registry in tests.
type Metrics struct {
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheEvicts   *prometheus.CounterVec
	SnoopRoundTrip prometheus.Histogram
	SnoopTimeouts prometheus.Counter
	RoutingDrops  *prometheus.CounterVec
	DecoderLookups *prometheus.CounterVec
	VPPBBindTransitions *prometheus.CounterVec
	HALConnections      *prometheus.CounterVec
}

// NewMetrics creates and registers the fabric's metrics on reg. Passing
// a nil registry is valid and skips registration (the returned *Metrics
// still records into in-memory collectors).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Coherent cache load/store hits by agent.",
		}, []string{"agent"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Coherent cache load/store misses by agent.",
		}, []string{"agent"}),
		CacheEvicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache line evictions by agent.",
		}, []string{"agent"}),
		SnoopRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cxlfab",
			Subsystem: "coherency",
			Name:      "snoop_round_trip_seconds",
			Help:      "Latency of snoop request to snoop response.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnoopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "coherency",
			Name:      "snoop_timeouts_total",
			Help:      "Snoop requests that exceeded the configured timeout.",
		}),
		RoutingDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "routing",
			Name:      "drops_total",
			Help:      "Packets dropped by a switch router by traffic class.",
		}, []string{"class"}),
		DecoderLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "hdm",
			Name:      "decoder_lookups_total",
			Help:      "HDM decoder lookups by result.",
		}, []string{"result"}),
		VPPBBindTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "vswitch",
			Name:      "vppb_bind_transitions_total",
			Help:      "vPPB bind-state transitions by resulting status.",
		}, []string{"status"}),
		HALConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfab",
			Subsystem: "hal",
			Name:      "tcp_connections_total",
			Help:      "Port fabric socket connections accepted, by handshake side.",
		}, []string{"side"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheEvicts,
			m.SnoopRoundTrip, m.SnoopTimeouts,
			m.RoutingDrops, m.DecoderLookups,
			m.VPPBBindTransitions, m.HALConnections,
		)
	}
	return m
}

// CacheHit records a cache hit for agent.
func (m *Metrics) CacheHit(agent string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(agent).Inc()
}

// CacheMiss records a cache miss for agent.
func (m *Metrics) CacheMiss(agent string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(agent).Inc()
}

// CacheEvict records a cache eviction for agent.
func (m *Metrics) CacheEvict(agent string) {
	if m == nil {
		return
	}
	m.CacheEvicts.WithLabelValues(agent).Inc()
}

// RoutingDrop records a dropped packet for the given traffic class.
func (m *Metrics) RoutingDrop(class string) {
	if m == nil {
		return
	}
	m.RoutingDrops.WithLabelValues(class).Inc()
}

// DecoderLookup records an HDM decoder lookup outcome ("hit" or "miss").
func (m *Metrics) DecoderLookup(result string) {
	if m == nil {
		return
	}
	m.DecoderLookups.WithLabelValues(result).Inc()
}

// VPPBBindTransition records a vPPB bind-state transition, labeled by
// the resulting status.
func (m *Metrics) VPPBBindTransition(status string) {
	if m == nil {
		return
	}
	m.VPPBBindTransitions.WithLabelValues(status).Inc()
}

// HALConnection records an accepted port fabric socket connection for
// the given handshake side.
func (m *Metrics) HALConnection(side string) {
	if m == nil {
		return
	}
	m.HALConnections.WithLabelValues(side).Inc()
}

// SnoopTimeout records a snoop that exceeded its deadline.
func (m *Metrics) SnoopTimeout() {
	if m == nil {
		return
	}
	m.SnoopTimeouts.Inc()
}

// ObserveSnoopRoundTrip records the latency of a completed snoop, in
// seconds.
func (m *Metrics) ObserveSnoopRoundTrip(seconds float64) {
	if m == nil {
		return
	}
	m.SnoopRoundTrip.Observe(seconds)
}
