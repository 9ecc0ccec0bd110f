package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdotapes_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_db_queries_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdotapes_db_query_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdotapes_db_transaction_duration_seconds",
			Help:    "Transaction duration in seconds by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"outcome"}, // "commit", "rollback", "rollback_failed"
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdotapes_db_rows_affected",
			Help:    "Rows affected by write operations",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vdotapes_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Schema migration metrics
var (
	SchemaVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_schema_version",
			Help: "Currently recorded schema version",
		},
	)

	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_migrations_total",
			Help: "Total number of migration attempts by direction and status",
		},
		[]string{"direction", "status"}, // direction: "up", "rollback", "remove_backups"
	)

	CompatibilityWindowOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_compatibility_window_open",
			Help: "Whether legacy backup tables are present (1 = open, 0 = closed)",
		},
	)
)

// Query cache metrics
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vdotapes_query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vdotapes_query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_query_cache_evictions_total",
			Help: "Total number of query cache removals by reason",
		},
		[]string{"reason"}, // "lru", "expired", "invalidated"
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_query_cache_entries",
			Help: "Number of entries currently held by the query cache",
		},
	)
)

// Metadata sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_metadata_sync_runs_total",
			Help: "Total number of batch metadata sync runs",
		},
		[]string{"status"},
	)

	SyncContributions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vdotapes_metadata_sync_contributions_total",
			Help: "Total number of annotation writes applied by batch sync",
		},
	)

	SyncSkippedItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vdotapes_metadata_sync_skipped_items_total",
			Help: "Total number of sync entries dropped because the item is unknown",
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vdotapes_metadata_sync_duration_seconds",
			Help:    "Batch metadata sync duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
)

// Library metrics
var (
	LibraryItemsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_library_items_total",
			Help: "Total number of cataloged items",
		},
	)

	LibraryAnnotationsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vdotapes_library_annotations_total",
			Help: "Number of annotated items by kind",
		},
		[]string{"kind"}, // "favorite", "hidden", "rated"
	)

	LibraryFoldersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_library_folders_total",
			Help: "Number of distinct folders",
		},
	)

	LibraryTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdotapes_library_tags_total",
			Help: "Total number of tags",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vdotapes_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

// Backup and sync file I/O metrics
var (
	FileRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_file_retry_attempts_total",
			Help: "Retries of file operations after a stale NFS file handle",
		},
		[]string{"operation"}, // "open", "write"
	)

	FileRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdotapes_file_retry_failures_total",
			Help: "File operations that still failed after all retries",
		},
		[]string{"operation"},
	)
)
