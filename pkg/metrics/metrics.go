// Package metrics exports the adapter's Prometheus instrumentation: active
// connections per role, Forward_Open/Forward_Close counts and rejection
// reasons, watchdog timeouts, and encapsulation session count (spec §4.6
// ambient stack, added to the distilled spec's scope).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the adapter's metric collectors behind one struct so
// cmd/adapter can register them with a single prometheus.Registerer and
// pass the struct itself to the packages that increment them.
type Registry struct {
	ActiveConnections   *prometheus.GaugeVec
	ForwardOpenTotal     prometheus.Counter
	ForwardOpenRejected  *prometheus.CounterVec
	ForwardCloseTotal    prometheus.Counter
	WatchdogTimeouts     prometheus.Counter
	EncapSessionsActive  prometheus.Gauge
}

// New creates the collector set, unregistered.
func New() *Registry {
	return &Registry{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "enip_adapter",
			Name:      "active_connections",
			Help:      "Established CIP connections by transport class role.",
		}, []string{"role"}),
		ForwardOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enip_adapter",
			Name:      "forward_open_total",
			Help:      "Successful Forward_Open requests.",
		}),
		ForwardOpenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enip_adapter",
			Name:      "forward_open_rejected_total",
			Help:      "Rejected Forward_Open requests by extended status reason.",
		}, []string{"reason"}),
		ForwardCloseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enip_adapter",
			Name:      "forward_close_total",
			Help:      "Forward_Close requests processed.",
		}),
		WatchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enip_adapter",
			Name:      "watchdog_timeouts_total",
			Help:      "Connections closed for missing their connection timeout.",
		}),
		EncapSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "enip_adapter",
			Name:      "encapsulation_sessions_active",
			Help:      "Registered EtherNet/IP encapsulation sessions.",
		}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate-registration programming error the way the teacher's
// equivalent metrics wiring does at boot.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.ActiveConnections,
		r.ForwardOpenTotal,
		r.ForwardOpenRejected,
		r.ForwardCloseTotal,
		r.WatchdogTimeouts,
		r.EncapSessionsActive,
	)
}
