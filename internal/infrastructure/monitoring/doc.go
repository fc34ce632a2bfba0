// Package monitoring provides Prometheus metrics for the portal backend.
//
// Each Metrics value owns a private prometheus.Registry which is served at
// GET /metrics. Collected families:
//   - HTTP: request count, latency, request and response sizes
//   - Runtime: registered features, plugin/module init duration and errors
//   - Scheduler: task runs and durations per plugin
//   - Plugins: catalog entities, search documents, scaffolder tasks,
//     published events, cache operations, outbound requests
//
// Example Usage:
//
//	metrics := monitoring.NewMetrics()
//	router.Use(monitoring.Middleware(metrics))
//	router.GET("/metrics", gin.WrapH(metrics.Handler()))
package monitoring
