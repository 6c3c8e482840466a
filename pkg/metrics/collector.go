// Package metrics exposes TachTalk's Prometheus gauges/counters: PID cache
// queue depths and hit/miss counts (C5), capture buffer utilization (C9),
// and dongle-link TCP diagnostics (C4). The dongle-link collector is
// grounded directly on pkg/exporter.TCPInfoCollector, simplified from a
// multi-connection map to the single dongle connection this proxy ever
// holds, and repurposed from generic socket observability to "diagnose the
// flaky WiFi link to the dongle" per SPEC_FULL's supplement to C4.
package metrics

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every TachTalk Prometheus collector registered against
// one prometheus.Registerer.
type Registry struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	FastQueue    prometheus.Gauge
	SlowQueue    prometheus.Gauge
	CaptureUtil  prometheus.Gauge
	DongleLink   *DongleLinkCollector
	SSESubs      prometheus.Gauge
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tachtalk", Subsystem: "cache", Name: "hits_total",
			Help: "Number of PID cache lookups served without contacting the dongle.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tachtalk", Subsystem: "cache", Name: "misses_total",
			Help: "Number of PID cache lookups that required a dongle round trip.",
		}),
		FastQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tachtalk", Subsystem: "cache", Name: "fast_queue_depth",
			Help: "Number of PIDs currently in the fast polling queue.",
		}),
		SlowQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tachtalk", Subsystem: "cache", Name: "slow_queue_depth",
			Help: "Number of PIDs currently in the slow polling queue.",
		}),
		CaptureUtil: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tachtalk", Subsystem: "capture", Name: "buffer_utilization_ratio",
			Help: "Fraction of the capture ring buffer currently in use.",
		}),
		SSESubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tachtalk", Subsystem: "telemetry", Name: "sse_subscribers",
			Help: "Number of currently connected SSE telemetry subscribers.",
		}),
		DongleLink: newDongleLinkCollector(),
	}

	reg.MustRegister(r.CacheHits, r.CacheMisses, r.FastQueue, r.SlowQueue, r.CaptureUtil, r.SSESubs, r.DongleLink)
	return r
}

// DongleLinkCollector exports kernel TCP_INFO diagnostics for the single
// active dongle connection, where supported (Linux only); on other
// platforms its gauges report zero while a connection is set. With no
// connection set, Collect emits no samples.
type DongleLinkCollector struct {
	mu   sync.Mutex
	conn net.Conn

	rtt        *prometheus.Desc
	rttVar     *prometheus.Desc
	retransmit *prometheus.Desc
}

func newDongleLinkCollector() *DongleLinkCollector {
	return &DongleLinkCollector{
		rtt:        prometheus.NewDesc("tachtalk_dongle_link_rtt_microseconds", "Smoothed round-trip time to the dongle.", nil, nil),
		rttVar:     prometheus.NewDesc("tachtalk_dongle_link_rtt_variance_microseconds", "Round-trip time variance to the dongle.", nil, nil),
		retransmit: prometheus.NewDesc("tachtalk_dongle_link_retransmits_total", "Retransmitted segments observed on the dongle connection.", nil, nil),
	}
}

// SetConn registers (or clears, with nil) the current dongle net.Conn to
// report diagnostics for.
func (d *DongleLinkCollector) SetConn(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

// Describe implements prometheus.Collector.
func (d *DongleLinkCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- d.rtt
	descs <- d.rttVar
	descs <- d.retransmit
}

// Collect implements prometheus.Collector.
func (d *DongleLinkCollector) Collect(ch chan<- prometheus.Metric) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	if conn == nil {
		return
	}

	info, ok := dongleLinkInfo(conn)
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(d.rtt, prometheus.GaugeValue, float64(info.RTTMicros))
	ch <- prometheus.MustNewConstMetric(d.rttVar, prometheus.GaugeValue, float64(info.RTTVarMicros))
	ch <- prometheus.MustNewConstMetric(d.retransmit, prometheus.CounterValue, float64(info.Retransmits))
}
