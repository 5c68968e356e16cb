// Package metrics exposes the root agent's Prometheus instrumentation:
// connected-proxy gauge, broadcast/intent counters, heartbeat-cleanup
// counter, and directory-load-failure counter, served on the same
// mux as the WebSocket bridge the way estuary-flow and the istio
// snapshots expose /metrics alongside their primary listeners.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the root agent exposes. A zero-value
// Registry is not usable; construct one with New. cmd/fdc3rootd updates
// ConnectedProxies and HeartbeatCleanups; Broadcasts, IntentsRaised and
// DirectoryLoadFailures are registered and exported, but nothing in this
// repository increments them, so they stay at zero.
type Registry struct {
	ConnectedProxies      prometheus.Gauge
	Broadcasts            prometheus.Counter
	IntentsRaised         prometheus.Counter
	HeartbeatCleanups     prometheus.Counter
	DirectoryLoadFailures prometheus.Counter
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// global default registerer across test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ConnectedProxies: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdc3rootd",
			Name:      "connected_proxies",
			Help:      "Number of proxies currently connected to the root agent.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3rootd",
			Name:      "broadcasts_total",
			Help:      "Total number of successful broadcast operations.",
		}),
		IntentsRaised: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3rootd",
			Name:      "intents_raised_total",
			Help:      "Total number of raiseIntent operations that resolved to a handler.",
		}),
		HeartbeatCleanups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3rootd",
			Name:      "heartbeat_cleanups_total",
			Help:      "Total number of proxies cleaned up after missing heartbeat pongs.",
		}),
		DirectoryLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3rootd",
			Name:      "directory_load_failures_total",
			Help:      "Total number of app directory URLs that failed to load.",
		}),
	}
}
