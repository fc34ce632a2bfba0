package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one backend instance. Each
// instance owns a private registry so several backends can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Runtime metrics
	FeaturesRegistered *prometheus.GaugeVec
	PluginInitDuration *prometheus.HistogramVec
	PluginInitErrors   *prometheus.CounterVec

	// Scheduler metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Plugin domain metrics
	CatalogEntities  *prometheus.GaugeVec
	SearchDocuments  *prometheus.GaugeVec
	ScaffolderTasks  *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	CacheOperations  *prometheus.CounterVec
	OutboundRequests *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	totalDuration float64
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		FeaturesRegistered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portal_backend_features",
				Help: "Number of registered backend features by kind",
			},
			[]string{"kind"},
		),
		PluginInitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_plugin_init_duration_seconds",
				Help:    "Plugin and module initialization duration in seconds",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 15, 60},
			},
			[]string{"plugin", "module"},
		),
		PluginInitErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_plugin_init_errors_total",
				Help: "Total number of failed plugin or module initializations",
			},
			[]string{"plugin", "module"},
		),

		TaskRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_scheduler_task_runs_total",
				Help: "Total number of scheduled task runs",
			},
			[]string{"plugin", "task", "result"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_scheduler_task_duration_seconds",
				Help:    "Scheduled task run duration in seconds",
				Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"plugin", "task"},
		),

		CatalogEntities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portal_catalog_entities",
				Help: "Number of catalog entities by kind",
			},
			[]string{"kind"},
		),
		SearchDocuments: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portal_search_documents",
				Help: "Number of indexed search documents by type",
			},
			[]string{"type"},
		),
		ScaffolderTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_scaffolder_tasks_total",
				Help: "Total number of scaffolder tasks by final status",
			},
			[]string{"status"},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_events_published_total",
				Help: "Total number of events published by topic",
			},
			[]string{"topic"},
		),
		CacheOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_operations_total",
				Help: "Total number of cache operations",
			},
			[]string{"plugin", "op", "result"},
		),
		OutboundRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_outbound_requests_total",
				Help: "Total number of outbound HTTP requests",
			},
			[]string{"client", "status"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "portal_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordPluginInit records a plugin (moduleID empty) or module init
func (m *Metrics) RecordPluginInit(pluginID, moduleID string, duration time.Duration, err error) {
	m.PluginInitDuration.WithLabelValues(pluginID, moduleID).Observe(duration.Seconds())
	if err != nil {
		m.PluginInitErrors.WithLabelValues(pluginID, moduleID).Inc()
	}
}

// SetFeatures records how many features of a kind are registered
func (m *Metrics) SetFeatures(kind string, count int) {
	m.FeaturesRegistered.WithLabelValues(kind).Set(float64(count))
}

// RecordTaskRun records one scheduled task execution
func (m *Metrics) RecordTaskRun(pluginID, taskID string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.TaskRuns.WithLabelValues(pluginID, taskID, result).Inc()
	m.TaskDuration.WithLabelValues(pluginID, taskID).Observe(duration.Seconds())
}

// RecordCache records a cache get/set/delete outcome
func (m *Metrics) RecordCache(pluginID, op, result string) {
	m.CacheOperations.WithLabelValues(pluginID, op, result).Inc()
}

// RecordOutbound records an outbound HTTP call made by a named client
func (m *Metrics) RecordOutbound(client, status string) {
	m.OutboundRequests.WithLabelValues(client, status).Inc()
}

// GetSnapshot returns the current request counters
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.TotalRequests > 0 {
		snap.AvgLatencyMs = snap.totalDuration / float64(snap.TotalRequests) * 1000
	}
	return snap
}

// UptimeSeconds returns seconds since the collector was created
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
