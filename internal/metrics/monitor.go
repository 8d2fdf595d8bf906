package tqmetrics

import "github.com/prometheus/client_golang/prometheus"

// MonitorCollector holds the heartbeat monitor's Prometheus metrics,
// prefixed "tqgw_monitor_".
type MonitorCollector struct {
	// State is the monitor FSM state as a numeric gauge
	// (0 Starting, 1 Healthy, 2 Degraded, 3 Down).
	State prometheus.Gauge

	// HeartbeatsReceived counts well-formed heartbeat datagrams.
	HeartbeatsReceived prometheus.Counter

	// HeartbeatsMalformed counts datagrams that failed to parse.
	HeartbeatsMalformed prometheus.Counter

	// AlertsSent counts notifications, labeled "down" or "recovery".
	AlertsSent *prometheus.CounterVec

	// RestartsInvoked counts restart-hook executions.
	RestartsInvoked prometheus.Counter
}

// NewMonitorCollector creates a MonitorCollector registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMonitorCollector(reg prometheus.Registerer) *MonitorCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &MonitorCollector{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "state",
			Help:      "Monitor FSM state (0 Starting, 1 Healthy, 2 Degraded, 3 Down).",
		}),

		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "heartbeats_received_total",
			Help:      "Total well-formed heartbeat datagrams received.",
		}),

		HeartbeatsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "heartbeats_malformed_total",
			Help:      "Total heartbeat datagrams that failed to parse.",
		}),

		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "alerts_sent_total",
			Help:      "Total notifications dispatched, by kind.",
		}, []string{labelKind}),

		RestartsInvoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "restarts_invoked_total",
			Help:      "Total restart-hook executions.",
		}),
	}

	reg.MustRegister(
		c.State,
		c.HeartbeatsReceived,
		c.HeartbeatsMalformed,
		c.AlertsSent,
		c.RestartsInvoked,
	)

	return c
}

// IncAlert counts one dispatched notification of the given kind.
func (c *MonitorCollector) IncAlert(kind string) {
	c.AlertsSent.WithLabelValues(kind).Inc()
}
