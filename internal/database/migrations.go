package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
)

const (
	// BaselineVersion is the first recorded schema: annotations live only in
	// the shadow tables.
	BaselineVersion = 1
	// AnnotationColumnsVersion added favorite, hidden, rating and viewing
	// columns to videos.
	AnnotationColumnsVersion = 2
	// LatestVersion is the version Migrate brings a store to.
	LatestVersion = AnnotationColumnsVersion
)

// annotationColumns are added to videos by migration 2.
var annotationColumns = []struct {
	name string
	ddl  string
}{
	{"favorite", "favorite INTEGER NOT NULL DEFAULT 0"},
	{"hidden", "hidden INTEGER NOT NULL DEFAULT 0"},
	{"rating", "rating INTEGER NOT NULL DEFAULT 0"},
	{"notes", "notes TEXT NOT NULL DEFAULT ''"},
	{"last_viewed", "last_viewed INTEGER"},
	{"view_count", "view_count INTEGER NOT NULL DEFAULT 0"},
}

// Migration is one forward schema step. Up runs inside an IMMEDIATE
// transaction together with the version bump.
type Migration struct {
	Version int
	Name    string
	Up      func(r *migrationRun) error
}

// MigrationReport summarizes a Migrate call.
type MigrationReport struct {
	From              int           `json:"from"`
	To                int           `json:"to"`
	Applied           []string      `json:"applied"`
	FavoritesMigrated int64         `json:"favoritesMigrated"`
	HiddenMigrated    int64         `json:"hiddenMigrated"`
	RatingsMigrated   int64         `json:"ratingsMigrated"`
	Duration          time.Duration `json:"duration"`
}

// MigrationStatus describes the store's schema state.
type MigrationStatus struct {
	Version             int      `json:"version"`
	Latest              int      `json:"latest"`
	Pending             []string `json:"pending"`
	BackupsPresent      bool     `json:"backupsPresent"`
	CompatibilityWindow bool     `json:"compatibilityWindow"`
}

// ReplayFunc copies column state into the legacy shims. It runs inside the
// transaction that drops the backup tables.
type ReplayFunc func(tx *Tx) error

// Migrator applies and reverts schema migrations.
type Migrator struct {
	db         *Database
	migrations []Migration

	// afterStep, when set, runs after each completed migration step. An
	// error aborts the migration as if the step itself failed.
	afterStep func(step string) error
}

func newMigrator(d *Database) *Migrator {
	return &Migrator{
		db: d,
		migrations: []Migration{
			{Version: BaselineVersion, Name: "baseline", Up: migrateBaseline},
			{Version: AnnotationColumnsVersion, Name: "annotation_columns", Up: migrateAnnotationColumns},
		},
	}
}

// migrationRun carries one migration's transaction and step bookkeeping.
type migrationRun struct {
	ctx    context.Context
	tx     *Tx
	report *MigrationReport
	step   string
	hook   func(step string) error
}

func (r *migrationRun) run(step string, fn func() error) error {
	r.step = step
	if err := fn(); err != nil {
		return err
	}
	logging.Debug("Migration step %s complete", step)
	if r.hook != nil {
		return r.hook(step)
	}
	return nil
}

// CurrentVersion reads the recorded schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	db, err := m.db.handle()
	if err != nil {
		return 0, err
	}
	return readVersion(ctx, db)
}

func readVersion(ctx context.Context, q queryer) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, "SELECT version FROM schema_version WHERE id = 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func writeVersion(ctx context.Context, tx *Tx, version int) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (id, version, updated_at) VALUES (1, ?, strftime('%s', 'now')) "+
			"ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at",
		version)
	return err
}

// NeedsMigration reports whether the recorded version is below LatestVersion.
func (m *Migrator) NeedsMigration(ctx context.Context) (bool, error) {
	v, err := m.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return v < LatestVersion, nil
}

// Migrate applies every pending migration in order. Each migration commits
// on its own; a failure leaves the store at the last committed version and
// is returned as *MigrationError.
func (m *Migrator) Migrate(ctx context.Context) (*MigrationReport, error) {
	start := time.Now()

	from, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	report := &MigrationReport{From: from, To: from, Applied: []string{}}

	for _, mig := range m.migrations {
		if mig.Version <= report.To {
			continue
		}

		logging.Info("Applying schema migration v%d (%s)", mig.Version, mig.Name)
		run := &migrationRun{ctx: ctx, report: report, hook: m.afterStep}

		err := m.db.Execute(ctx, TxOptions{Isolation: Immediate, Name: "migrate_" + mig.Name}, func(tx *Tx) error {
			run.tx = tx
			if err := mig.Up(run); err != nil {
				return err
			}
			run.step = "record_version"
			return writeVersion(ctx, tx, mig.Version)
		})
		if err != nil {
			metrics.MigrationsTotal.WithLabelValues("up", "error").Inc()
			logging.Error("Schema migration v%d failed at step %s: %v", mig.Version, run.step, err)
			if refreshErr := m.db.refreshPhase(ctx); refreshErr != nil {
				logging.Warn("failed to re-read schema version: %v", refreshErr)
			}
			return report, &MigrationError{Version: mig.Version, Step: run.step, Err: err}
		}

		metrics.MigrationsTotal.WithLabelValues("up", "success").Inc()
		report.To = mig.Version
		report.Applied = append(report.Applied, mig.Name)
	}

	report.Duration = time.Since(start)
	if err := m.db.refreshPhase(ctx); err != nil {
		return report, err
	}

	if len(report.Applied) > 0 {
		logging.Info("Schema migrated v%d -> v%d in %v (favorites: %d, hidden: %d, ratings: %d)",
			report.From, report.To, report.Duration,
			report.FavoritesMigrated, report.HiddenMigrated, report.RatingsMigrated)
	}
	return report, nil
}

func migrateBaseline(r *migrationRun) error {
	// The baseline tables come from bootstrapSchema; this only records v1.
	return r.run("baseline", func() error { return nil })
}

func migrateAnnotationColumns(r *migrationRun) error {
	ctx, tx := r.ctx, r.tx

	if err := r.run("add_columns", func() error {
		for _, col := range annotationColumns {
			_, err := tx.ExecContext(ctx, "ALTER TABLE videos ADD COLUMN "+col.ddl)
			if isDuplicateColumn(err) {
				logging.Debug("Column videos.%s already present", col.name)
				continue
			}
			if err != nil {
				return fmt.Errorf("add column %s: %w", col.name, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.run("backfill", func() error {
		var err error
		r.report.FavoritesMigrated, err = backfillFlag(ctx, tx, "favorite", FavoritesTable)
		if err != nil {
			return err
		}
		r.report.HiddenMigrated, err = backfillFlag(ctx, tx, "hidden", HiddenTable)
		if err != nil {
			return err
		}
		r.report.RatingsMigrated, err = backfillRatings(ctx, tx)
		return err
	}); err != nil {
		return err
	}

	if err := r.run("create_indexes", func() error {
		for _, idx := range annotationIndexes {
			if _, err := tx.ExecContext(ctx, idx.ddl); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.run("backup_tables", func() error {
		for _, table := range LegacyTables {
			backup := BackupTableName(table)
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+backup); err != nil {
				return fmt.Errorf("drop stale %s: %w", backup, err)
			}
			if _, err := tx.ExecContext(ctx, "ALTER TABLE "+table+" RENAME TO "+backup); err != nil {
				return fmt.Errorf("rename %s: %w", table, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	return r.run("create_shims", func() error {
		for _, table := range LegacyTables {
			if _, err := tx.ExecContext(ctx, legacyTableDDL[table]); err != nil {
				return fmt.Errorf("create shim %s: %w", table, err)
			}
		}
		return nil
	})
}

// backfillFlag sets column to 1 for every item listed in table and to 0 for
// the rest, so a re-run after rollback reproduces the table exactly.
func backfillFlag(ctx context.Context, tx *Tx, column, table string) (int64, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE videos SET %[1]s = 0 WHERE %[1]s != 0 AND id NOT IN (SELECT video_id FROM %[2]s)",
		column, table)); err != nil {
		return 0, fmt.Errorf("reset %s: %w", column, err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE videos SET %s = 1 WHERE id IN (SELECT video_id FROM %s)",
		column, table))
	if err != nil {
		return 0, fmt.Errorf("backfill %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	metrics.DBRowsAffected.WithLabelValues("backfill_" + column).Observe(float64(n))
	return n, nil
}

func backfillRatings(ctx context.Context, tx *Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		"UPDATE videos SET rating = 0 WHERE rating != 0 AND id NOT IN (SELECT video_id FROM ratings)",
	); err != nil {
		return 0, fmt.Errorf("reset rating: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE videos
		SET rating = (SELECT r.rating FROM ratings r WHERE r.video_id = videos.id)
		WHERE id IN (SELECT video_id FROM ratings)`)
	if err != nil {
		return 0, fmt.Errorf("backfill rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	metrics.DBRowsAffected.WithLabelValues("backfill_rating").Observe(float64(n))
	return n, nil
}

// RollbackMigration restores the legacy tables from their backups and
// records the baseline version. The annotation columns stay in place but
// are ignored until the store is migrated again. Fails with ErrNoBackups
// once RemoveBackupTables has run.
func (m *Migrator) RollbackMigration(ctx context.Context) (err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.MigrationsTotal.WithLabelValues("rollback", status).Inc()
	}()

	err = m.db.Execute(ctx, TxOptions{Isolation: Immediate, Name: "migrate_rollback"}, func(tx *Tx) error {
		for _, table := range LegacyTables {
			ok, err := tableExists(ctx, tx, BackupTableName(table))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", BackupTableName(table), ErrNoBackups)
			}
		}

		for _, table := range LegacyTables {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return fmt.Errorf("drop shim %s: %w", table, err)
			}
			if _, err := tx.ExecContext(ctx, "ALTER TABLE "+BackupTableName(table)+" RENAME TO "+table); err != nil {
				return fmt.Errorf("restore %s: %w", table, err)
			}
		}
		return writeVersion(ctx, tx, BaselineVersion)
	})
	if err != nil {
		return &MigrationError{Version: BaselineVersion, Step: "rollback", Err: err}
	}

	if err := m.db.refreshPhase(ctx); err != nil {
		return err
	}
	logging.Info("Schema rolled back to v%d; legacy annotation tables restored", BaselineVersion)
	return nil
}

// RemoveBackupTables drops the migration backups and closes the
// compatibility window. When replay is non-nil it runs in the same
// transaction, after the drop. Removing absent backups is a no-op.
func (m *Migrator) RemoveBackupTables(ctx context.Context, replay ReplayFunc) (err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.MigrationsTotal.WithLabelValues("remove_backups", status).Inc()
	}()

	if v := m.db.SchemaVersion(); v < LatestVersion {
		return fmt.Errorf("remove backups at schema v%d: %w", v, ErrMigrationRequired)
	}

	err = m.db.Execute(ctx, TxOptions{Isolation: Immediate, Name: "remove_backups"}, func(tx *Tx) error {
		for _, table := range LegacyTables {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+BackupTableName(table)); err != nil {
				return fmt.Errorf("drop %s: %w", BackupTableName(table), err)
			}
		}
		if replay != nil {
			return replay(tx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.db.refreshPhase(ctx); err != nil {
		return err
	}
	logging.Info("Migration backup tables removed; compatibility window closed")
	return nil
}

// Status reports the current schema state.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	db, err := m.db.handle()
	if err != nil {
		return nil, err
	}

	version, err := readVersion(ctx, db)
	if err != nil {
		return nil, err
	}
	backups, err := backupsPresent(ctx, db)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		Version:             version,
		Latest:              LatestVersion,
		Pending:             []string{},
		BackupsPresent:      backups,
		CompatibilityWindow: m.db.InCompatibilityWindow(),
	}
	for _, mig := range m.migrations {
		if mig.Version > version {
			status.Pending = append(status.Pending, mig.Name)
		}
	}
	return status, nil
}
