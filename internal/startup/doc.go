// Package startup handles configuration loading and startup logging for
// the vdotapes commands.
//
// # Configuration
//
// [LoadConfig] layers, lowest precedence first:
//
//  1. Built-in defaults ([DefaultConfig])
//  2. A TOML file named by LoadOptions.ConfigFile or $VDOTAPES_CONFIG
//  3. The process environment, after a .env file has been loaded into it
//
// The following environment variables are supported:
//
//   - DATA_DIR: Directory holding the store (default: user config dir/vdotapes)
//   - DATABASE_PATH: Store file (default: DATA_DIR/vdotapes.db)
//   - PORT: HTTP server port (default: 8080)
//   - CACHE_CAPACITY: Query cache entries (default: 200)
//   - CACHE_TTL: Query cache entry lifetime as Go duration (default: 5m)
//   - COMPAT_SHIMS: Mirror annotation writes to the legacy shim tables (default: true)
//   - LEGACY_POLICY: backup or refuse a store in the legacy layout (default: backup)
//   - LOG_FILE: Also write logs to this rotating file
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - METRICS_ENABLED: Serve /metrics and collect library gauges (default: true)
//   - METRICS_INTERVAL: Library gauge refresh interval (default: 1m)
//
// The TOML keys are the same names in lower case:
//
//	data_dir = "/var/lib/vdotapes"
//	cache_ttl = "10m"
//	compat_shims = false
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags. [GetBuildInfo]
// reports them together with the schema version this binary migrates to.
//
// # Lifecycle Logging
//
//   - [LogStartup], [LogConfig]
//   - [PrepareDataDir]: Store directory creation and write check
//   - [LogDatabaseInit]: Initialization timing and schema phase
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Listen address and startup duration
package startup
