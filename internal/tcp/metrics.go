package tcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LabelState is the TCP connection state label, mirroring the teacher's
// LabelState usage in liveness/metrics.go's session-state gauges.
const LabelState = "state"

var (
	metricConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uswire_tcp_connections",
			Help: "Number of tracked TCP connections, by state.",
		},
		[]string{LabelState},
	)

	metricHandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uswire_tcp_handshake_failures_total",
			Help: "Count of handshake attempts that did not reach Established.",
		},
	)

	metricRetransmits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uswire_tcp_retransmits_total",
			Help: "Count of segments retransmitted after an RTO expiry.",
		},
	)

	metricHandlePoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uswire_tcp_handle_pool_available",
			Help: "Number of unassigned connection handles remaining in the pool.",
		},
	)

	metricPortPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uswire_tcp_private_port_pool_available",
			Help: "Number of unassigned private ports remaining in the pool.",
		},
	)
)

// reportPoolGauges refreshes the pool-size gauges; called after every
// allocate/release so metrics stay current without a periodic scrape-time
// scan of the connection table.
func (p *Peer) reportPoolGauges() {
	metricHandlePoolSize.Set(float64(p.handlePool.len()))
	metricPortPoolSize.Set(float64(p.portPool.len()))
}
