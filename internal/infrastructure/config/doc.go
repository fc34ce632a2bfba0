// Package config provides configuration for the portal backend.
//
// Two layers:
//   - Config: 12-factor process settings from environment variables
//     (server address, logging, rate limiting, which app-config files to read)
//   - AppConfig: the merged app-config tree (YAML or TOML) that plugins read
//     their settings from, with ${VAR} environment substitution
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	appCfg, err := config.LoadAppConfig(cfg.App.Paths, cfg.App.Optional)
//	baseURL := appCfg.OptionalString("backend.baseUrl", "http://localhost:7007")
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - APP_CONFIG (comma separated), APP_CONFIG_OPTIONAL
package config
