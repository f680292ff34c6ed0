// Package observability holds the Prometheus metrics for the controller.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the controller's instruments. Registered once in main and
// passed to the reconciler.
type Metrics struct {
	TickDuration      prometheus.Histogram
	TickErrors        prometheus.Counter
	PhaseRuns         *prometheus.CounterVec
	WolPacketsSent    prometheus.Counter
	HealthProbes      *prometheus.CounterVec
	OnlineAgents      prometheus.Gauge
	ContainersStarted prometheus.Counter
	ContainersStopped prometheus.Counter
	DriftOrphans      prometheus.Counter
}

// NewMetrics registers the metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "labdock_reconciler_tick_duration_seconds",
			Help:    "Wall time of a full reconciler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		TickErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "labdock_reconciler_tick_errors_total",
			Help: "Ticks that ended with at least one phase error.",
		}),
		PhaseRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labdock_reconciler_phase_actions_total",
			Help: "Per-phase actions, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		WolPacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "labdock_wol_packets_sent_total",
			Help: "Wake-on-LAN magic packets emitted.",
		}),
		HealthProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labdock_agent_health_probes_total",
			Help: "Agent health probes, by result.",
		}, []string{"result"}),
		OnlineAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "labdock_agents_online",
			Help: "Agents seen online in the latest health sweep.",
		}),
		ContainersStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "labdock_containers_started_total",
			Help: "Session containers started.",
		}),
		ContainersStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "labdock_containers_stopped_total",
			Help: "Session containers stopped.",
		}),
		DriftOrphans: factory.NewCounter(prometheus.CounterOpts{
			Name: "labdock_drift_orphans_total",
			Help: "Orphan containers found and stopped by drift reconciliation.",
		}),
	}
}
