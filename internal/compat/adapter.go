package compat

import (
	"context"
	"fmt"
	"time"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

// Flag names a boolean annotation with a legacy table.
type Flag int

const (
	// Favorites mirrors videos.favorite into the favorites table.
	Favorites Flag = iota
	// Hidden mirrors videos.hidden into the hidden_files table.
	Hidden
)

func (f Flag) String() string {
	if f == Hidden {
		return "hidden"
	}
	return "favorite"
}

func (f Flag) table() string {
	if f == Hidden {
		return database.HiddenTable
	}
	return database.FavoritesTable
}

// Column is the flag's column in videos.
func (f Flag) Column() string {
	return f.String()
}

// Options configures an Adapter.
type Options struct {
	Enabled bool
}

// Adapter keeps the legacy annotation tables in step with the columns on
// videos. While the store is inside its compatibility window every write is
// copied into the migration backups so a rollback restores current state.
// Writes reach the legacy-named shim tables only when the adapter is
// enabled. A nil Adapter does nothing.
type Adapter struct {
	db      *database.Database
	enabled bool
}

// New creates an adapter bound to db.
func New(db *database.Database, opts Options) *Adapter {
	if opts.Enabled {
		logging.Debug("Legacy annotation table mirroring enabled")
	}
	return &Adapter{db: db, enabled: opts.Enabled}
}

// Enabled reports whether the adapter maintains the shim tables.
func (a *Adapter) Enabled() bool {
	return a != nil && a.enabled
}

// targets returns the tables a write to the legacy table must reach.
func (a *Adapter) targets(table string) []string {
	if a == nil || a.db == nil {
		return nil
	}
	var out []string
	if a.enabled {
		out = append(out, table)
	}
	if a.db.InCompatibilityWindow() {
		out = append(out, database.BackupTableName(table))
	}
	return out
}

// MirrorFlag records a favorite or hidden change in the legacy tables.
// It must run in the same transaction as the column write.
func (a *Adapter) MirrorFlag(tx *database.Tx, flag Flag, id string, set bool) error {
	for _, table := range a.targets(flag.table()) {
		var err error
		if set {
			_, err = tx.Exec("INSERT OR IGNORE INTO "+table+" (video_id) VALUES (?)", id)
		} else {
			_, err = tx.Exec("DELETE FROM "+table+" WHERE video_id = ?", id)
		}
		if err != nil {
			return fmt.Errorf("mirror %s into %s: %w", flag, table, err)
		}
	}
	return nil
}

// MirrorRating records a rating change in the legacy tables. A rating of 0
// removes the row.
func (a *Adapter) MirrorRating(tx *database.Tx, id string, rating int) error {
	for _, table := range a.targets(database.RatingsTable) {
		var err error
		if rating > 0 {
			_, err = tx.Exec("INSERT OR REPLACE INTO "+table+" (video_id, rating, rated_at) VALUES (?, ?, ?)",
				id, rating, time.Now().Unix())
		} else {
			_, err = tx.Exec("DELETE FROM "+table+" WHERE video_id = ?", id)
		}
		if err != nil {
			return fmt.Errorf("mirror rating into %s: %w", table, err)
		}
	}
	return nil
}

var replayStatements = []string{
	"DELETE FROM favorites",
	"INSERT INTO favorites (video_id) SELECT id FROM videos WHERE favorite = 1",
	"DELETE FROM hidden_files",
	"INSERT INTO hidden_files (video_id) SELECT id FROM videos WHERE hidden = 1",
	"DELETE FROM ratings",
	"INSERT INTO ratings (video_id, rating) SELECT id, rating FROM videos WHERE rating > 0",
}

// Replay rebuilds the shim tables from the column state.
func (a *Adapter) Replay(tx *database.Tx) error {
	if !a.Enabled() {
		return nil
	}
	for _, stmt := range replayStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("replay shims: %w", err)
		}
	}
	logging.Info("Legacy shim tables rebuilt from annotation columns")
	return nil
}

// ReplayFunc returns Replay for Migrator.RemoveBackupTables, or nil when the
// adapter is disabled.
func (a *Adapter) ReplayFunc() database.ReplayFunc {
	if !a.Enabled() {
		return nil
	}
	return a.Replay
}

// Mismatch is one disagreement between a column and a legacy table.
type Mismatch struct {
	Table  string `json:"table"`
	ItemID string `json:"itemId"`
	Reason string `json:"reason"`
}

// Report is the result of Verify.
type Report struct {
	Checked    []string   `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Consistent reports whether Verify found no disagreement.
func (r *Report) Consistent() bool {
	return len(r.Mismatches) == 0
}

// Verify compares the annotation columns with the legacy tables that are
// expected to mirror them: the backups while the compatibility window is
// open, the shims once it has closed. A disabled adapter outside the window
// has nothing to check.
func (a *Adapter) Verify(ctx context.Context) (*Report, error) {
	report := &Report{Checked: []string{}, Mismatches: []Mismatch{}}
	if a == nil || a.db == nil || (!a.enabled && !a.db.InCompatibilityWindow()) {
		return report, nil
	}

	conn, err := a.db.Conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resolve := func(table string) string {
		if a.db.InCompatibilityWindow() {
			return database.BackupTableName(table)
		}
		return table
	}

	type check struct {
		table  string
		reason string
		query  string
	}

	var checks []check
	for _, flag := range []Flag{Favorites, Hidden} {
		table := resolve(flag.table())
		col := flag.Column()
		checks = append(checks,
			check{table, col + " set but not mirrored",
				fmt.Sprintf("SELECT id FROM videos WHERE %s = 1 AND id NOT IN (SELECT video_id FROM %s) ORDER BY id", col, table)},
			check{table, "mirrored but " + col + " not set",
				fmt.Sprintf("SELECT video_id FROM %s WHERE video_id NOT IN (SELECT id FROM videos WHERE %s = 1) ORDER BY video_id", table, col)},
		)
	}
	ratings := resolve(database.RatingsTable)
	checks = append(checks, check{ratings, "rating differs",
		fmt.Sprintf(`SELECT v.id FROM videos v LEFT JOIN %s r ON r.video_id = v.id
			WHERE (v.rating > 0 AND (r.rating IS NULL OR r.rating != v.rating))
			   OR (v.rating = 0 AND r.video_id IS NOT NULL)
			ORDER BY v.id`, ratings)})

	seen := map[string]bool{}
	for _, c := range checks {
		if !seen[c.table] {
			seen[c.table] = true
			report.Checked = append(report.Checked, c.table)
		}

		rows, err := conn.QueryContext(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", c.table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			report.Mismatches = append(report.Mismatches, Mismatch{Table: c.table, ItemID: id, Reason: c.reason})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	if !report.Consistent() {
		logging.Warn("Legacy annotation tables disagree with columns in %d places", len(report.Mismatches))
	}
	return report, nil
}
