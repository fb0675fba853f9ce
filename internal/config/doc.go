// Package config loads the service configuration from code defaults, YAML or
// JSON files and environment variables, and hot-reloads it in development.
//
// Files are looked up under the configuration directory:
//
//	config/
//	  base.yaml         shared settings
//	  development.yaml  per-environment overrides
//	  production.yaml
//	  local.yaml        developer overrides, development only
//
// Environment variables such as SERVER_PORT, REMOTE_PROVIDER, SUPABASE_URL,
// SUPABASE_KEY, TABLE_NAME, OWNER_ID, LOG_LEVEL and CACHE_STALE_TIME take
// precedence over every file.
//
// Only the cache stale time and the log level are applied on reload; other
// changes are logged and take effect on restart.
package config
