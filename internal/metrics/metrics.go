// Package metrics exposes Prometheus counters for AI generation and sharing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the service
type Metrics struct {
	registry *prometheus.Registry

	Generations     *prometheus.CounterVec
	QuotaRejections prometheus.Counter
	Illustrations   *prometheus.CounterVec
	FaceAnalyses    *prometheus.CounterVec
	ShareLinks      *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omoide",
			Name:      "generations_total",
			Help:      "Generation steps by kind and result source.",
		}, []string{"kind", "source"}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omoide",
			Name:      "quota_rejections_total",
			Help:      "AI requests rejected by the usage tracker.",
		}),
		Illustrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omoide",
			Name:      "illustrations_total",
			Help:      "Storybook illustrations by outcome.",
		}, []string{"outcome"}),
		FaceAnalyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omoide",
			Name:      "face_analyses_total",
			Help:      "Analyzed photos by outcome.",
		}, []string{"outcome"}),
		ShareLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omoide",
			Name:      "share_links_total",
			Help:      "Share link operations by action.",
		}, []string{"action"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Generations,
		m.QuotaRejections,
		m.Illustrations,
		m.FaceAnalyses,
		m.ShareLinks,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

