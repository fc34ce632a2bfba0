// Package main is the entry point for the developer portal backend.
//
// The server builds a backend with the core services installed, registers
// the portal features in a fixed order and starts them:
//
//	techdocs, catalog/github, kubernetes, auth, auth/microsoft, search,
//	search/techdocs, catalog/msgraph, search/pg, app, catalog, scaffolder,
//	scaffolder/github, events, catalog/scaffolder-entity-model
//
// Any failure while loading or starting a feature is logged and the process
// exits non-zero.
//
// Configuration:
//   - Environment variables (PORT, HOST, LOG_LEVEL, APP_CONFIG, ...)
//   - CLI flags (override env vars)
//   - app-config YAML or TOML files for plugin settings, with ${VAR}
//     substitution
//
// Usage:
//
//	./server -port 7007 -config app-config.yaml,app-config.production.yaml
//
//	# Development mode (colored logs)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
