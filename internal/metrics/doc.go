// Package metrics provides Prometheus instrumentation for the vdotapes store.
//
// All metrics are prefixed with "vdotapes_" and registered on the default
// registry through promauto.
//
// # Metric Categories
//
// ## Database Metrics
//
//   - DBQueryTotal / DBQueryDuration: per-operation counts and latency
//   - DBTransactionDuration: transaction lifetime by outcome
//     (commit, rollback, rollback_failed)
//   - DBRowsAffected: rows written by bulk operations
//   - DBConnectionsOpen, DBSizeBytes: connection and file-size gauges
//
// ## Migration Metrics
//
//   - SchemaVersion: currently recorded schema version
//   - MigrationsTotal: attempts by direction (up, rollback, remove_backups)
//   - CompatibilityWindowOpen: 1 while legacy backup tables exist
//
// ## Query Cache Metrics
//
//   - CacheHits, CacheMisses, CacheEvictions (lru, expired, invalidated),
//     CacheEntries
//
// ## Metadata Sync Metrics
//
//   - SyncRunsTotal, SyncContributions, SyncSkippedItems, SyncDuration
//
// ## Library Metrics
//
// Updated by the [Collector] from a [StatsProvider]:
//
//	collector := metrics.NewCollector(catalog, db, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Cache hit rate:
//
//	rate(vdotapes_query_cache_hits_total[5m]) /
//	(rate(vdotapes_query_cache_hits_total[5m]) + rate(vdotapes_query_cache_misses_total[5m]))
//
// Rolled back transactions:
//
//	sum(rate(vdotapes_db_transaction_duration_seconds_count{outcome!="commit"}[5m]))
package metrics
