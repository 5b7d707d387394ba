package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/worldlens/worldlens/internal/config"
)

// Manager defines the interface for metrics management
type Manager interface {
	// Scan Metrics
	RecordScan(duration time.Duration, opened, failed int)
	RecordOpen(resource string, success bool)

	// Store Metrics
	RecordResolve(duration time.Duration, success bool)
	RecordKeysClassified(kind string, count int)
	UpdateOpenStores(count int)

	// Export and Health
	GetMetricsHandler() http.Handler
	Registry() *prometheus.Registry
}

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	registry *prometheus.Registry

	scansTotal      prometheus.Counter
	scanDuration    prometheus.Histogram
	scanEntries     *prometheus.CounterVec
	opensTotal      *prometheus.CounterVec
	resolvesTotal   *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	keysClassified  *prometheus.CounterVec
	openStores      prometheus.Gauge

	mu sync.Mutex
}

// NewManager creates a new metrics manager. A disabled configuration yields a
// no-op manager.
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "worldlens"
	}

	manager := &metricsManager{
		registry: prometheus.NewRegistry(),
	}
	manager.initializeMetrics(namespace)
	return manager
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics(namespace string) {
	m.scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "runs_total",
		Help:      "Total number of folder scans",
	})

	m.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Folder scan duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	m.scanEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "entries_total",
			Help:      "Entries newly opened or newly failed during scans",
		},
		[]string{"result"},
	)

	m.opensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "opens_total",
			Help:      "Resource open attempts",
		},
		[]string{"resource", "status"},
	)

	m.resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "resolves_total",
			Help:      "Key group resolutions",
		},
		[]string{"status"},
	)

	m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "resolve_duration_seconds",
		Help:      "Time spent enumerating and classifying store keys",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	m.keysClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "keys_classified_total",
			Help:      "Store keys classified, by decoded kind",
		},
		[]string{"kind"},
	)

	m.openStores = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "open",
		Help:      "Number of store handles currently open",
	})

	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.scanEntries,
		m.opensTotal,
		m.resolvesTotal,
		m.resolveDuration,
		m.keysClassified,
		m.openStores,
	)
}

func (m *metricsManager) RecordScan(duration time.Duration, opened, failed int) {
	m.scansTotal.Inc()
	m.scanDuration.Observe(duration.Seconds())
	m.scanEntries.WithLabelValues("opened").Add(float64(opened))
	m.scanEntries.WithLabelValues("failed").Add(float64(failed))
}

func (m *metricsManager) RecordOpen(resource string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.opensTotal.WithLabelValues(resource, status).Inc()
}

func (m *metricsManager) RecordResolve(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.resolvesTotal.WithLabelValues(status).Inc()
	m.resolveDuration.Observe(duration.Seconds())
}

func (m *metricsManager) RecordKeysClassified(kind string, count int) {
	m.keysClassified.WithLabelValues(kind).Add(float64(count))
}

func (m *metricsManager) UpdateOpenStores(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openStores.Set(float64(count))
}

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsManager) Registry() *prometheus.Registry {
	return m.registry
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordScan(duration time.Duration, opened, failed int) {}
func (n *noopManager) RecordOpen(resource string, success bool)              {}
func (n *noopManager) RecordResolve(duration time.Duration, success bool)    {}
func (n *noopManager) RecordKeysClassified(kind string, count int)           {}
func (n *noopManager) UpdateOpenStores(count int)                            {}
func (n *noopManager) GetMetricsHandler() http.Handler                       { return http.NotFoundHandler() }
func (n *noopManager) Registry() *prometheus.Registry                        { return nil }

// Noop returns a manager that records nothing.
func Noop() Manager { return &noopManager{} }
