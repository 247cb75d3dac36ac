package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the orchestrator's Prometheus metrics on a private
// registry. A disabled instance is a safe no-op.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	deploysStarted   *prometheus.CounterVec
	deploysCompleted *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	installAttempts  *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec
	activeDeploys    prometheus.Gauge
}

// NewMetrics creates the collector. When cfg.Enabled is false every method
// is a no-op and no registry exists.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}

	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		enabled:  true,
		registry: registry,
		deploysStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deploys_started_total",
			Help:      "Deployment runs started",
		}, []string{"app_type"}),
		deploysCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deploys_completed_total",
			Help:      "Deployment runs completed, by outcome",
		}, []string{"app_type", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage durations",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		installAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "install_attempts_total",
			Help:      "Dependency install attempts, by outcome",
		}, []string{"outcome"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Pipeline errors, by taxonomy class",
		}, []string{"class"}),
		activeDeploys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_deploys",
			Help:      "Deployments currently in flight",
		}),
	}

	registry.MustRegister(
		m.deploysStarted,
		m.deploysCompleted,
		m.stageDuration,
		m.installAttempts,
		m.errorsByClass,
		m.activeDeploys,
	)
	return m
}

func (m *Metrics) DeployStarted(appType string) {
	if !m.enabled {
		return
	}
	m.deploysStarted.WithLabelValues(appType).Inc()
	m.activeDeploys.Inc()
}

func (m *Metrics) DeployCompleted(appType, outcome string, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.deploysCompleted.WithLabelValues(appType, outcome).Inc()
	m.activeDeploys.Dec()
	m.stageDuration.WithLabelValues("total").Observe(elapsed.Seconds())
}

func (m *Metrics) StageObserved(stage string, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) InstallAttempt(outcome string) {
	if !m.enabled {
		return
	}
	m.installAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ErrorObserved(class string) {
	if !m.enabled {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Handler exposes the registry for scraping, or nil when disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint on addr in a background goroutine.
func (m *Metrics) Serve(addr string) {
	if !m.enabled || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
