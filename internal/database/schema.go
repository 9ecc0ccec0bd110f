package database

import (
	"context"
	"database/sql"
	"fmt"

	"vdotapes/internal/logging"
)

// Legacy annotation tables. During the compatibility window they also exist
// under their backup names (see BackupTableName).
const (
	FavoritesTable = "favorites"
	HiddenTable    = "hidden_files"
	RatingsTable   = "ratings"

	backupSuffix = "_backup_v1"
)

// LegacyTables lists the annotation shadow tables in migration order.
var LegacyTables = []string{FavoritesTable, HiddenTable, RatingsTable}

// BackupTableName returns the versioned backup name of a legacy table.
func BackupTableName(table string) string {
	return table + backupSuffix
}

// legacyTableDDL holds the original shape of each shadow table. The same
// statements recreate the write-through shims after migration.
var legacyTableDDL = map[string]string{
	FavoritesTable: `
	CREATE TABLE IF NOT EXISTS favorites (
		video_id TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	)`,
	HiddenTable: `
	CREATE TABLE IF NOT EXISTS hidden_files (
		video_id TEXT PRIMARY KEY,
		hidden_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	)`,
	RatingsTable: `
	CREATE TABLE IF NOT EXISTS ratings (
		video_id TEXT PRIMARY KEY,
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		rated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	)`,
}

const coreSchema = `
	-- Cataloged media items. Annotation columns are added by migration 2.
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		relative_path TEXT,
		folder TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		duration REAL,
		width INTEGER,
		height INTEGER,
		codec TEXT,
		bitrate INTEGER,
		last_modified INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		added_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Tags table
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Item-Tag relationship table
	CREATE TABLE IF NOT EXISTS video_tags (
		video_id TEXT NOT NULL,
		tag_id INTEGER NOT NULL,
		added_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (video_id, tag_id),
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	-- Settings: key -> JSON value
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Single-row schema version
	CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	INSERT OR IGNORE INTO schema_version (id, version) VALUES (1, 0);
`

type indexDef struct {
	name string
	ddl  string
}

// bootstrapIndexes are non-essential: a failure is logged and skipped.
var bootstrapIndexes = []indexDef{
	{"idx_videos_folder", "CREATE INDEX IF NOT EXISTS idx_videos_folder ON videos(folder)"},
	{"idx_videos_path", "CREATE INDEX IF NOT EXISTS idx_videos_path ON videos(path)"},
	{"idx_videos_last_modified", "CREATE INDEX IF NOT EXISTS idx_videos_last_modified ON videos(last_modified)"},
	{"idx_videos_name", "CREATE INDEX IF NOT EXISTS idx_videos_name ON videos(name COLLATE NOCASE)"},
	{"idx_videos_folder_modified", "CREATE INDEX IF NOT EXISTS idx_videos_folder_modified ON videos(folder, last_modified)"},
	{"idx_video_tags_tag", "CREATE INDEX IF NOT EXISTS idx_video_tags_tag ON video_tags(tag_id)"},
}

// annotationIndexes cover the columns added by migration 2.
var annotationIndexes = []indexDef{
	{"idx_videos_favorite", "CREATE INDEX IF NOT EXISTS idx_videos_favorite ON videos(favorite) WHERE favorite = 1"},
	{"idx_videos_hidden", "CREATE INDEX IF NOT EXISTS idx_videos_hidden ON videos(hidden) WHERE hidden = 1"},
	{"idx_videos_rating", "CREATE INDEX IF NOT EXISTS idx_videos_rating ON videos(rating)"},
	{"idx_videos_last_viewed", "CREATE INDEX IF NOT EXISTS idx_videos_last_viewed ON videos(last_viewed)"},
}

// bootstrapSchema creates all tables and indexes. Every statement is
// idempotent so re-running it on an initialized store is a no-op.
func bootstrapSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, coreSchema); err != nil {
		return fmt.Errorf("failed to create core tables: %w", err)
	}

	// Shadow tables only exist under their legacy names before migration 2
	// or as shims afterwards; both shapes are identical.
	for _, table := range LegacyTables {
		if _, err := db.ExecContext(ctx, legacyTableDDL[table]); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table, err)
		}
	}

	created := 0
	for _, idx := range bootstrapIndexes {
		if _, err := db.ExecContext(ctx, idx.ddl); err != nil {
			logging.Warn("Skipping index %s: %v", idx.name, err)
			continue
		}
		created++
	}
	logging.Debug("Schema bootstrap complete (%d/%d indexes)", created, len(bootstrapIndexes))

	return nil
}

// tableExists reports whether a table with the given name exists.
func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// columnExists reports whether table has a column with the given name.
func columnExists(ctx context.Context, q queryer, table, column string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) > 0 FROM pragma_table_info(?) WHERE name = ?",
		table, column,
	).Scan(&exists)
	return exists, err
}

// backupsPresent reports whether any migration backup table exists.
func backupsPresent(ctx context.Context, q queryer) (bool, error) {
	for _, table := range LegacyTables {
		ok, err := tableExists(ctx, q, BackupTableName(table))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
