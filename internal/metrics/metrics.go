// Package metrics serves the engine's Prometheus exposition: the promauto
// collectors on the default registry plus a build info gauge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildInfo labels the build gauge. CacheVersion is the resource cache tier
// suffix, so a rollover shows up on dashboards.
type BuildInfo struct {
	Version      string
	Revision     string
	BuildDate    string
	CacheVersion string
}

// Provider gathers its private registry together with the default one,
// where the go/process collectors and the engine collectors live.
type Provider struct {
	gatherers prometheus.Gatherers
}

func Init(b BuildInfo) *Provider {
	if b.Version == "" {
		b.Version = "dev"
	}
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "navengine_build_info",
		Help: "Build and cache version of the running engine (always 1).",
		ConstLabels: prometheus.Labels{
			"version":       b.Version,
			"revision":      b.Revision,
			"build_date":    b.BuildDate,
			"cache_version": b.CacheVersion,
		},
	}).Set(1)
	return &Provider{gatherers: prometheus.Gatherers{reg, prometheus.DefaultGatherer}}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherers, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
