package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	for _, op := range []string{"initialize", "upsert_item", "upsert_items", "get_item", "list_items",
		"toggle_favorite", "toggle_hidden", "set_rating", "add_tag", "remove_tag", "rename_tag",
		"merge_tags", "sync_metadata", "import_backup", "export_backup", "vacuum"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback", "rollback_failed"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, dir := range []string{"up", "rollback", "remove_backups"} {
		MigrationsTotal.WithLabelValues(dir, "success")
		MigrationsTotal.WithLabelValues(dir, "error")
	}

	for _, reason := range []string{"lru", "expired", "invalidated"} {
		CacheEvictions.WithLabelValues(reason)
	}

	for _, status := range []string{"success", "error"} {
		SyncRunsTotal.WithLabelValues(status)
	}

	for _, kind := range []string{"favorite", "hidden", "rated"} {
		LibraryAnnotationsTotal.WithLabelValues(kind)
	}

	for _, op := range []string{"open", "write"} {
		FileRetryAttempts.WithLabelValues(op)
		FileRetryFailures.WithLabelValues(op)
	}
}
