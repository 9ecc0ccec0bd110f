package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

// setupV1Store writes a baseline (v1) store with three items and one row
// in each legacy annotation table, and returns its path.
func setupV1Store(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "v1.db")
	raw, err := sql.Open(driverName, dbPath+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open v1 store: %v", err)
	}
	defer raw.Close()

	ctx := context.Background()
	if err := bootstrapSchema(ctx, raw); err != nil {
		t.Fatalf("bootstrapSchema() failed: %v", err)
	}

	stmts := []string{
		"UPDATE schema_version SET version = 1 WHERE id = 1",
		"INSERT INTO videos (id, name, path, folder) VALUES ('v1', 'a.mp4', '/m/a.mp4', 'm')",
		"INSERT INTO videos (id, name, path, folder) VALUES ('v2', 'b.mp4', '/m/b.mp4', 'm')",
		"INSERT INTO videos (id, name, path, folder) VALUES ('v3', 'c.mp4', '/m/c.mp4', 'm')",
		"INSERT INTO favorites (video_id) VALUES ('v1')",
		"INSERT INTO hidden_files (video_id) VALUES ('v2')",
		"INSERT INTO ratings (video_id, rating) VALUES ('v3', 4)",
	}
	for _, stmt := range stmts {
		if _, err := raw.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("v1 setup %q: %v", stmt, err)
		}
	}
	return dbPath
}

type annotationRow struct {
	ID       string
	Favorite int
	Hidden   int
	Rating   int
}

func annotationSnapshot(t *testing.T, db *Database) []annotationRow {
	t.Helper()

	rows, err := rawConn(t, db).Query("SELECT id, favorite, hidden, rating FROM videos ORDER BY id")
	if err != nil {
		t.Fatalf("snapshot query failed: %v", err)
	}
	defer rows.Close()

	var out []annotationRow
	for rows.Next() {
		var r annotationRow
		if err := rows.Scan(&r.ID, &r.Favorite, &r.Hidden, &r.Rating); err != nil {
			t.Fatalf("snapshot scan failed: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("snapshot rows failed: %v", err)
	}
	return out
}

var migratedV1Snapshot = []annotationRow{
	{ID: "v1", Favorite: 1},
	{ID: "v2", Hidden: 1},
	{ID: "v3", Rating: 4},
}

func TestMigrateV1Store(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	db := New(dbPath, nil)
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer db.Close()

	if db.SchemaVersion() != 2 {
		t.Fatalf("SchemaVersion() = %d, want 2", db.SchemaVersion())
	}
	if got := annotationSnapshot(t, db); !reflect.DeepEqual(got, migratedV1Snapshot) {
		t.Errorf("snapshot = %+v, want %+v", got, migratedV1Snapshot)
	}

	conn := rawConn(t, db)
	if n := countRows(t, conn, "SELECT COUNT(*) FROM favorites_backup_v1 WHERE video_id = 'v1'"); n != 1 {
		t.Errorf("favorites backup rows = %d, want 1", n)
	}
	if n := countRows(t, conn, "SELECT COUNT(*) FROM favorites"); n != 0 {
		t.Errorf("favorites shim rows = %d, want 0 (shims start empty)", n)
	}
	if !db.InCompatibilityWindow() {
		t.Error("InCompatibilityWindow() = false after migration")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	db := New(dbPath, nil)
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer db.Close()

	before := annotationSnapshot(t, db)

	report, err := db.Migrator().Migrate(context.Background())
	if err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
	if len(report.Applied) != 0 {
		t.Errorf("second Migrate() applied %v, want nothing", report.Applied)
	}
	if report.From != 2 || report.To != 2 {
		t.Errorf("report from/to = %d/%d, want 2/2", report.From, report.To)
	}
	if after := annotationSnapshot(t, db); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed on re-run: before %+v, after %+v", before, after)
	}

	needs, err := db.Migrator().NeedsMigration(context.Background())
	if err != nil || needs {
		t.Errorf("NeedsMigration() = %v, %v; want false, nil", needs, err)
	}
}

func TestMigrationFailureLeavesStoreUntouched(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	ctx := context.Background()

	injected := errors.New("injected failure")
	db := New(dbPath, nil)
	db.Migrator().afterStep = func(step string) error {
		if step == "backfill" {
			return injected
		}
		return nil
	}

	err := db.Initialize(ctx)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("Initialize() error = %v, want *MigrationError", err)
	}
	if migErr.Version != 2 || migErr.Step != "backfill" {
		t.Errorf("MigrationError = v%d at %q, want v2 at backfill", migErr.Version, migErr.Step)
	}
	if !errors.Is(err, injected) {
		t.Error("injected cause should be preserved")
	}
	if db.IsInitialized() {
		t.Error("IsInitialized() = true after failed migration")
	}

	raw, err := sql.Open(driverName, dbPath)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	defer raw.Close()

	if v, err := readVersion(ctx, raw); err != nil || v != 1 {
		t.Errorf("version = %d (%v), want 1", v, err)
	}
	if ok, _ := columnExists(ctx, raw, "videos", "favorite"); ok {
		t.Error("favorite column should not survive a failed migration")
	}
	for _, table := range LegacyTables {
		if n := countRows(t, raw, "SELECT COUNT(*) FROM "+table); n != 1 {
			t.Errorf("legacy table %s has %d rows, want 1", table, n)
		}
		if ok, _ := tableExists(ctx, raw, BackupTableName(table)); ok {
			t.Errorf("backup %s should not exist", BackupTableName(table))
		}
	}

	// A clean retry succeeds.
	db.Migrator().afterStep = nil
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("retry Initialize() failed: %v", err)
	}
	defer db.Close()
	if got := annotationSnapshot(t, db); !reflect.DeepEqual(got, migratedV1Snapshot) {
		t.Errorf("snapshot after retry = %+v, want %+v", got, migratedV1Snapshot)
	}
}

func TestRollbackThenRedo(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	ctx := context.Background()
	db := New(dbPath, nil)
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer db.Close()

	once := annotationSnapshot(t, db)

	if err := db.Migrator().RollbackMigration(ctx); err != nil {
		t.Fatalf("RollbackMigration() failed: %v", err)
	}
	if db.SchemaVersion() != 1 {
		t.Errorf("SchemaVersion() = %d after rollback, want 1", db.SchemaVersion())
	}
	if db.InCompatibilityWindow() {
		t.Error("compatibility window should close on rollback")
	}

	conn := rawConn(t, db)
	if n := countRows(t, conn, "SELECT COUNT(*) FROM favorites WHERE video_id = 'v1'"); n != 1 {
		t.Error("favorites not restored from backup")
	}
	// Columns survive the rollback.
	if ok, _ := columnExists(ctx, conn, "videos", "favorite"); !ok {
		t.Error("favorite column should remain after rollback")
	}

	report, err := db.Migrator().Migrate(ctx)
	if err != nil {
		t.Fatalf("re-Migrate() failed: %v", err)
	}
	if report.FavoritesMigrated != 1 || report.HiddenMigrated != 1 || report.RatingsMigrated != 1 {
		t.Errorf("report counts = %+v, want 1/1/1", report)
	}
	if twice := annotationSnapshot(t, db); !reflect.DeepEqual(once, twice) {
		t.Errorf("migrate/rollback/migrate = %+v, want %+v", twice, once)
	}
}

func TestRedoIgnoresStaleColumnValues(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	ctx := context.Background()
	db := New(dbPath, nil)
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrator().RollbackMigration(ctx); err != nil {
		t.Fatalf("RollbackMigration() failed: %v", err)
	}

	// Edit the legacy tables while rolled back; columns still hold the old values.
	conn := rawConn(t, db)
	for _, stmt := range []string{
		"DELETE FROM favorites WHERE video_id = 'v1'",
		"DELETE FROM ratings",
		"INSERT INTO hidden_files (video_id) VALUES ('v3')",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%q failed: %v", stmt, err)
		}
	}

	if _, err := db.Migrator().Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	want := []annotationRow{
		{ID: "v1"},
		{ID: "v2", Hidden: 1},
		{ID: "v3", Hidden: 1},
	}
	if got := annotationSnapshot(t, db); !reflect.DeepEqual(got, want) {
		t.Errorf("snapshot = %+v, want %+v", got, want)
	}
}

func TestRemoveBackupTables(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbPath := setupV1Store(t)
	ctx := context.Background()
	db := New(dbPath, nil)
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	defer db.Close()

	replayed := false
	err := db.Migrator().RemoveBackupTables(ctx, func(tx *Tx) error {
		replayed = true
		_, err := tx.Exec("INSERT OR IGNORE INTO favorites (video_id) SELECT id FROM videos WHERE favorite = 1")
		return err
	})
	if err != nil {
		t.Fatalf("RemoveBackupTables() failed: %v", err)
	}
	if !replayed {
		t.Error("replay function was not called")
	}
	if db.InCompatibilityWindow() {
		t.Error("compatibility window still open after removing backups")
	}

	conn := rawConn(t, db)
	if n := countRows(t, conn, "SELECT COUNT(*) FROM favorites WHERE video_id = 'v1'"); n != 1 {
		t.Error("replay did not populate the favorites shim")
	}

	status, err := db.Migrator().Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.BackupsPresent || status.CompatibilityWindow || len(status.Pending) != 0 {
		t.Errorf("Status() = %+v", status)
	}

	if err := db.Migrator().RollbackMigration(ctx); !errors.Is(err, ErrNoBackups) {
		t.Errorf("RollbackMigration() error = %v, want ErrNoBackups", err)
	}
	if db.SchemaVersion() != 2 {
		t.Errorf("failed rollback changed version to %d", db.SchemaVersion())
	}

	// Removing again is a no-op.
	if err := db.Migrator().RemoveBackupTables(ctx, nil); err != nil {
		t.Errorf("second RemoveBackupTables() failed: %v", err)
	}
}

func TestMigrationStatusAfterRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.Migrator().RollbackMigration(ctx); err != nil {
		t.Fatalf("RollbackMigration() failed: %v", err)
	}

	status, err := db.Migrator().Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.Version != 1 || status.Latest != LatestVersion {
		t.Errorf("version/latest = %d/%d", status.Version, status.Latest)
	}
	if !reflect.DeepEqual(status.Pending, []string{"annotation_columns"}) {
		t.Errorf("Pending = %v", status.Pending)
	}

	if err := db.Migrator().RemoveBackupTables(ctx, nil); !errors.Is(err, ErrMigrationRequired) {
		t.Errorf("RemoveBackupTables() at v1 error = %v, want ErrMigrationRequired", err)
	}
}
