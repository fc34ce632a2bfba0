// Package middleware provides the HTTP middleware of the root router.
//
// Middleware stack includes:
//   - CORS: gin-contrib/cors configured from backend.cors
//   - RateLimit: per-IP token buckets with idle client eviction
//   - RequestLogger: one structured log line per request
//   - Recovery: panic recovery with a JSON error body
//
// Example Usage:
//
//	router.Use(middleware.Recovery(logger))
//	router.Use(middleware.CORS(middleware.CORSConfigFrom(appConfig)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
