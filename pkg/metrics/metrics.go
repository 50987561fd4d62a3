// Package metrics holds the three Prometheus gauges the operator
// exposes on /metrics: one struct holding every collector, registered
// once at startup.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namePrefix = "kube_workspace_"

// Collection is every gauge the operator exposes.
type Collection struct {
	ConfigurationErrors prometheus.Gauge
	Available           prometheus.Gauge
	Unavailable         prometheus.Gauge
}

// New builds a Collection with default (zero) values already set, so the
// series show up on /metrics before the first sweep tick completes.
func New() *Collection {
	return &Collection{
		ConfigurationErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePrefix + "configuration_errors",
			Help: "Number of configuration errors encountered since startup.",
		}),
		Available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePrefix + "available_count",
			Help: "Number of workspace pods currently Ready.",
		}),
		Unavailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePrefix + "unavailable_count",
			Help: "Number of workspace pods currently Starting.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration the way prometheus' own helpers do.
func (c *Collection) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.ConfigurationErrors, c.Available, c.Unavailable)
}
