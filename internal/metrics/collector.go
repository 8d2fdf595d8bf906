package tqmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "tqgw"

	subsystemGateway = "gateway"
	subsystemMonitor = "monitor"
)

// Label names.
const (
	labelProtocol = "protocol"
	labelReason   = "reason"
	labelSink     = "sink"
	labelKind     = "kind"
)

// -------------------------------------------------------------------------
// Collector — gateway metrics
// -------------------------------------------------------------------------

// Collector holds the gateway's Prometheus metrics.
//
// The cardinality is deliberately small: protocols, rejection reasons and
// sink names are closed sets. Device ids are never used as labels; a fleet
// of thousands of terminals would blow up the series count.
type Collector struct {
	// SessionsActive tracks currently connected device sessions.
	SessionsActive prometheus.Gauge

	// SessionsTotal counts sessions accepted since start.
	SessionsTotal prometheus.Counter

	// SessionsEvicted counts sessions closed by the idle sweeper.
	SessionsEvicted prometheus.Counter

	// FramesReceived counts decoded frames per wire protocol.
	FramesReceived *prometheus.CounterVec

	// FramesDiscarded counts buffers that were ignored or failed to
	// decode, labeled by discard kind.
	FramesDiscarded *prometheus.CounterVec

	// ReportsAccepted counts reports that passed the quality filter.
	ReportsAccepted prometheus.Counter

	// ReportsRejected counts filter rejections per rule.
	ReportsRejected *prometheus.CounterVec

	// SinkErrors counts failed egress writes per sink.
	SinkErrors *prometheus.CounterVec

	// MirrorDropped counts ingress buffers shed by the mirror queue.
	MirrorDropped prometheus.Counter

	// HeartbeatsSent counts heartbeat datagrams emitted.
	HeartbeatsSent prometheus.Counter
}

// NewCollector creates a Collector registered against reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "tqgw_gateway_" prefix.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newGatewayMetrics()

	reg.MustRegister(
		c.SessionsActive,
		c.SessionsTotal,
		c.SessionsEvicted,
		c.FramesReceived,
		c.FramesDiscarded,
		c.ReportsAccepted,
		c.ReportsRejected,
		c.SinkErrors,
		c.MirrorDropped,
		c.HeartbeatsSent,
	)

	return c
}

func newGatewayMetrics() *Collector {
	return &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "sessions_active",
			Help:      "Number of currently connected device sessions.",
		}),

		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "sessions_total",
			Help:      "Total device sessions accepted.",
		}),

		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "sessions_evicted_total",
			Help:      "Total sessions closed by the idle sweeper.",
		}),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "frames_received_total",
			Help:      "Total frames decoded, by wire protocol.",
		}, []string{labelProtocol}),

		FramesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "frames_discarded_total",
			Help:      "Total ingress buffers ignored or failing to decode.",
		}, []string{labelKind}),

		ReportsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "reports_accepted_total",
			Help:      "Total position reports forwarded upstream.",
		}),

		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "reports_rejected_total",
			Help:      "Total position reports rejected by the quality filter.",
		}, []string{labelReason}),

		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "sink_errors_total",
			Help:      "Total failed egress writes, by sink.",
		}, []string{labelSink}),

		MirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "mirror_dropped_total",
			Help:      "Total ingress buffers shed by the mirror queue.",
		}),

		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeat datagrams emitted.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// SessionOpened records an accepted connection.
func (c *Collector) SessionOpened() {
	c.SessionsActive.Inc()
	c.SessionsTotal.Inc()
}

// SessionClosed records a session drop. evicted marks sweeper kills.
func (c *Collector) SessionClosed(evicted bool) {
	c.SessionsActive.Dec()
	if evicted {
		c.SessionsEvicted.Inc()
	}
}

// -------------------------------------------------------------------------
// Frame Pipeline
// -------------------------------------------------------------------------

// IncFrameReceived counts a decoded frame for the given wire protocol.
func (c *Collector) IncFrameReceived(protocol string) {
	c.FramesReceived.WithLabelValues(protocol).Inc()
}

// IncFrameDiscarded counts an ignored or undecodable buffer.
func (c *Collector) IncFrameDiscarded(kind string) {
	c.FramesDiscarded.WithLabelValues(kind).Inc()
}

// IncReportAccepted counts a report that passed the filter.
func (c *Collector) IncReportAccepted() {
	c.ReportsAccepted.Inc()
}

// IncReportRejected counts a filter rejection with its rule name.
func (c *Collector) IncReportRejected(reason string) {
	c.ReportsRejected.WithLabelValues(reason).Inc()
}

// -------------------------------------------------------------------------
// Egress
// -------------------------------------------------------------------------

// IncSinkError counts a failed write for the named sink ("platform",
// "mirror", "heartbeat").
func (c *Collector) IncSinkError(sink string) {
	c.SinkErrors.WithLabelValues(sink).Inc()
}
