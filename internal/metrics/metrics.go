// Package metrics exposes prometheus collectors for sync, recall and plugin health.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/kioku/internal/models"
)

const namespace = "kioku"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SyncFilesTotal *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	RecallDuration *prometheus.HistogramVec
	PluginHealthy  *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors, including the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		SyncFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_files_total",
				Help:      "Files processed by sync, by outcome.",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of full sync passes in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		RecallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recall_duration_seconds",
				Help:      "Duration of recall queries in seconds, by retrieval mode.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		PluginHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugin_healthy",
				Help:      "1 when the embedding plugin's last health probe succeeded.",
			},
			[]string{"plugin"},
		),
	}
	registry.MustRegister(
		m.SyncFilesTotal,
		m.SyncDuration,
		m.RecallDuration,
		m.PluginHealthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// FileSynced counts one file outcome of a sync.
func (m *Metrics) FileSynced(outcome string) {
	m.SyncFilesTotal.WithLabelValues(outcome).Inc()
}

// SyncCompleted records the duration of a full sync pass.
func (m *Metrics) SyncCompleted(d time.Duration) {
	m.SyncDuration.Observe(d.Seconds())
}

// RecallCompleted records the duration of a recall in the mode it ran.
func (m *Metrics) RecallCompleted(mode string, d time.Duration) {
	m.RecallDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// PluginHealth records a health probe result.
func (m *Metrics) PluginHealth(pluginID string, h models.PluginHealth) {
	v := 0.0
	if h.Healthy {
		v = 1
	}
	m.PluginHealthy.WithLabelValues(pluginID).Set(v)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
