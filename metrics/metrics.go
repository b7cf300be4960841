// Package metrics provides Prometheus metrics collection for the prism
// runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the runtime.
type Collector struct {
	// Multiplexer metrics
	LinksEstablished   *prometheus.CounterVec
	PluginLoads        *prometheus.CounterVec
	PluginLoadDuration prometheus.Histogram
	Refractions        *prometheus.CounterVec
	RefractionErrors   *prometheus.CounterVec

	// Driver metrics
	PulsesPumped  *prometheus.CounterVec
	DriversActive prometheus.Gauge

	// Bridge metrics
	BridgeConnections prometheus.Gauge
	BridgeExchanges   *prometheus.CounterVec
}

// New creates a collector with all metrics registered against reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		LinksEstablished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "links_established_total",
				Help:      "Total number of links established per capability unit",
			},
			[]string{"unit"},
		),
		PluginLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "plugin_loads_total",
				Help:      "Total number of plugin loader resolutions",
			},
			[]string{"unit"},
		),
		PluginLoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "prism",
				Name:      "plugin_load_duration_seconds",
				Help:      "Plugin loader resolution duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
			},
		),
		Refractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "refractions_total",
				Help:      "Total number of refractions resolved",
			},
			[]string{"refraction", "target"},
		),
		RefractionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "refraction_errors_total",
				Help:      "Total number of failed refractions",
			},
			[]string{"refraction", "kind"},
		),
		PulsesPumped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "pulses_pumped_total",
				Help:      "Total pulses dispatched to capability units",
			},
			[]string{"unit", "kind"},
		),
		DriversActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "prism",
				Name:      "drivers_active",
				Help:      "Number of capability drivers currently running",
			},
		),
		BridgeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "prism",
				Name:      "bridge_connections",
				Help:      "Number of open bridge connections",
			},
		),
		BridgeExchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "prism",
				Name:      "bridge_exchanges_total",
				Help:      "Total exchanges relayed through the bridge",
			},
			[]string{"target", "status"},
		),
	}
}
