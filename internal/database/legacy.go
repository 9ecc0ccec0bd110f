package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"vdotapes/internal/logging"
)

// isLegacyStore reports whether the store file at path uses the legacy
// layout, where items were keyed by their file path instead of a derived id.
func isLegacyStore(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	db, err := sql.Open(driverName, fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logging.Debug("failed to close legacy probe handle: %v", closeErr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var pk int
	err = db.QueryRowContext(ctx,
		"SELECT pk FROM pragma_table_info('videos') WHERE name = 'path'",
	).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pk > 0, nil
}

// handleLegacyStore applies the configured LegacyPolicy when the store file
// uses the legacy layout. With LegacyBackup the file and its WAL/SHM
// companions are renamed to <path>.legacy-<unix>.bak so the data survives
// for manual recovery.
func (d *Database) handleLegacyStore(ctx context.Context) error {
	legacy, err := isLegacyStore(ctx, d.dbPath)
	if err != nil {
		return &InitializationError{Op: "inspect existing store", Path: d.dbPath, Err: err}
	}
	if !legacy {
		return nil
	}

	if d.opts.LegacyPolicy == LegacyRefuse {
		logging.Error("Legacy store layout found at %s and legacy policy is refuse", d.dbPath)
		return &InitializationError{Op: "legacy schema", Path: d.dbPath, Err: ErrLegacySchema}
	}

	backup := LegacyBackupPath(d.dbPath, time.Now())
	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := d.dbPath + suffix
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Rename(src, backup+suffix); err != nil {
			return &InitializationError{Op: "back up legacy store", Path: d.dbPath, Err: err}
		}
	}

	logging.Warn("Legacy store layout found; moved it to %s and starting a fresh catalog", backup)
	return nil
}

// LegacyBackupPath returns the name a legacy store is moved to.
func LegacyBackupPath(path string, now time.Time) string {
	return fmt.Sprintf("%s.legacy-%d.bak", path, now.Unix())
}
