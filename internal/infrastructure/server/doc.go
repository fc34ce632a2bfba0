// Package server provides the root HTTP router of the backend.
//
// The router carries recovery, tracing, metrics, request logging, CORS and
// rate limiting middleware, serves /metrics, and hands out route groups that
// plugins mount under /api/<pluginId>. Listen binds the port in the
// background; Shutdown drains connections within the configured timeout.
package server
