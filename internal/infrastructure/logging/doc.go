// Package logging wraps zap for the backend.
//
// Production writes JSON; development writes colored console output. The
// root logger is built once in main and every plugin gets a child from
// ForPlugin, so records carry a "plugin" field ("module" for modules).
//
//	logger.ForPlugin("catalog").Info("Refreshed locations", zap.Int("count", n))
package logging
