package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"HTTPRequestDuration", HTTPRequestDuration},
		{"HTTPRequestsInFlight", HTTPRequestsInFlight},
		{"DBQueryTotal", DBQueryTotal},
		{"DBQueryDuration", DBQueryDuration},
		{"DBTransactionDuration", DBTransactionDuration},
		{"DBRowsAffected", DBRowsAffected},
		{"DBConnectionsOpen", DBConnectionsOpen},
		{"DBSizeBytes", DBSizeBytes},
		{"SchemaVersion", SchemaVersion},
		{"MigrationsTotal", MigrationsTotal},
		{"CompatibilityWindowOpen", CompatibilityWindowOpen},
		{"CacheHits", CacheHits},
		{"CacheMisses", CacheMisses},
		{"CacheEvictions", CacheEvictions},
		{"CacheEntries", CacheEntries},
		{"SyncRunsTotal", SyncRunsTotal},
		{"SyncContributions", SyncContributions},
		{"SyncSkippedItems", SyncSkippedItems},
		{"SyncDuration", SyncDuration},
		{"LibraryItemsTotal", LibraryItemsTotal},
		{"LibraryAnnotationsTotal", LibraryAnnotationsTotal},
		{"LibraryFoldersTotal", LibraryFoldersTotal},
		{"LibraryTagsTotal", LibraryTagsTotal},
		{"AppInfo", AppInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestInitializeMetrics(t *testing.T) {
	// Must be safe to call more than once.
	InitializeMetrics()
	InitializeMetrics()

	if got := testutil.CollectAndCount(DBTransactionDuration); got < 3 {
		t.Errorf("expected at least 3 transaction outcome series, got %d", got)
	}
	if got := testutil.CollectAndCount(CacheEvictions); got < 3 {
		t.Errorf("expected at least 3 eviction reason series, got %d", got)
	}
}

func TestSetAppInfo(t *testing.T) {
	SetAppInfo("1.2.3", "abc123", "go1.25")

	if got := testutil.ToFloat64(AppInfo.WithLabelValues("1.2.3", "abc123", "go1.25")); got != 1 {
		t.Errorf("AppInfo = %v, want 1", got)
	}
}
