package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"vdotapes/internal/compat"
	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

// BackupVersion is the format version written by ExportBackup.
const BackupVersion = 1

// Backup is the portable form of the user annotations. Items are keyed by
// path because ids may change when files are rescanned.
type Backup struct {
	Version    int          `json:"version"`
	ExportedAt time.Time    `json:"exportedAt"`
	Items      []BackupItem `json:"items"`
}

// BackupItem carries the annotations of one file.
type BackupItem struct {
	Path     string   `json:"path"`
	Favorite bool     `json:"favorite"`
	Hidden   bool     `json:"hidden"`
	Rating   int      `json:"rating"`
	Tags     []string `json:"tags"`
}

// ImportResult counts what ImportBackup did. Skipped entries have no
// matching item; Errors are entries whose write failed and was undone.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// ExportBackup collects every item that is favorited, hidden, rated or
// tagged.
func (c *Catalog) ExportBackup(ctx context.Context) (backup *Backup, err error) {
	done := database.ObserveQuery("export_backup")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tags, err := allItemTags(ctx, conn)
	if err != nil {
		return nil, err
	}

	ex := c.exprs()
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT v.id, v.path, %s, %s, %s FROM videos v ORDER BY v.path`,
		ex.favorite, ex.hidden, ex.rating))
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	defer rows.Close()

	backup = &Backup{Version: BackupVersion, ExportedAt: time.Now().UTC(), Items: []BackupItem{}}
	for rows.Next() {
		var (
			id               string
			item             BackupItem
			favorite, hidden int
		)
		if err := rows.Scan(&id, &item.Path, &favorite, &hidden, &item.Rating); err != nil {
			return nil, err
		}
		item.Favorite = favorite == 1
		item.Hidden = hidden == 1
		item.Tags = tags[id]
		if item.Tags == nil {
			item.Tags = []string{}
		}
		if !item.Favorite && !item.Hidden && item.Rating == 0 && len(item.Tags) == 0 {
			continue
		}
		backup.Items = append(backup.Items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	logging.Info("Exported annotations of %d items", len(backup.Items))
	return backup, nil
}

func allItemTags(ctx context.Context, q rowsQueryer) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT vt.video_id, t.name FROM video_tags vt
		JOIN tags t ON t.id = vt.tag_id
		ORDER BY vt.video_id, t.name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

// ImportBackup applies a backup in one transaction. Each entry is guarded by
// a savepoint: a failing entry is undone and counted, the rest still apply.
func (c *Catalog) ImportBackup(ctx context.Context, backup *Backup) (result ImportResult, err error) {
	if problems := ValidateBackup(backup); len(problems) > 0 {
		return result, database.NewValidationError("backup", "%s", strings.Join(problems, "; "))
	}
	if err := c.requireAnnotations(); err != nil {
		return result, err
	}

	done := database.ObserveQuery("import_backup")
	defer func() { done(err) }()

	result, err = database.ExecuteResult(ctx, c.db, database.TxOptions{Isolation: database.Immediate, Name: "import_backup"},
		func(tx *database.Tx) (ImportResult, error) {
			var res ImportResult
			for _, entry := range backup.Items {
				id, err := itemIDByPath(tx, entry.Path)
				if errors.Is(err, database.ErrNotFound) {
					res.Skipped++
					continue
				}
				if err != nil {
					return res, err
				}

				if err := tx.Savepoint("import_item"); err != nil {
					return res, err
				}
				if err := c.applyBackupItemTx(tx, id, entry); err != nil {
					logging.Warn("Import of %s failed: %v", entry.Path, err)
					if err := tx.RollbackTo("import_item"); err != nil {
						return res, err
					}
					res.Errors++
				} else {
					res.Imported++
				}
				if err := tx.Release("import_item"); err != nil {
					return res, err
				}
			}
			return res, nil
		})
	if err != nil {
		return ImportResult{}, err
	}

	c.invalidate(append(itemQueries, tagQueries...)...)
	logging.Info("Backup import: %d imported, %d skipped, %d errors", result.Imported, result.Skipped, result.Errors)
	return result, nil
}

// itemIDByPath resolves a path to the most recently refreshed item at it.
func itemIDByPath(tx *database.Tx, path string) (string, error) {
	var id string
	err := tx.QueryRow("SELECT id FROM videos WHERE path = ? ORDER BY updated_at DESC LIMIT 1", path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", path, err)
	}
	return id, nil
}

func (c *Catalog) applyBackupItemTx(tx *database.Tx, id string, entry BackupItem) error {
	if err := c.writeFlagTx(tx, compat.Favorites, id, entry.Favorite); err != nil {
		return err
	}
	if err := c.writeFlagTx(tx, compat.Hidden, id, entry.Hidden); err != nil {
		return err
	}
	if err := c.writeRatingTx(tx, id, entry.Rating); err != nil {
		return err
	}
	_, err := setItemTagsTx(tx, id, entry.Tags)
	return err
}

// ValidateBackup checks a decoded backup and returns one message per problem.
func ValidateBackup(b *Backup) []string {
	if b == nil {
		return []string{"backup is empty"}
	}

	var problems []string
	if b.Version < 1 || b.Version > BackupVersion {
		problems = append(problems, fmt.Sprintf("unsupported version %d", b.Version))
	}
	for i, item := range b.Items {
		if strings.TrimSpace(item.Path) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: path is required", i))
		}
		if item.Rating < 0 || item.Rating > 5 {
			problems = append(problems, fmt.Sprintf("items[%d]: rating %d out of range 0-5", i, item.Rating))
		}
	}
	return problems
}

// ValidateBackupJSON checks the structure of an encoded backup without
// decoding it into a Backup, so type errors are reported per field.
func ValidateBackupJSON(data []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{"not a JSON object: " + err.Error()}
	}

	var problems []string
	switch v := doc["version"].(type) {
	case nil:
		problems = append(problems, "version is required")
	case float64:
		if v != float64(int(v)) || int(v) < 1 || int(v) > BackupVersion {
			problems = append(problems, fmt.Sprintf("unsupported version %v", v))
		}
	default:
		problems = append(problems, "version must be a number")
	}

	items, ok := doc["items"].([]any)
	if !ok {
		return append(problems, "items must be an array")
	}

	for i, raw := range items {
		entry, ok := raw.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("items[%d]: must be an object", i))
			continue
		}
		if p, ok := entry["path"].(string); !ok || strings.TrimSpace(p) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: path must be a non-empty string", i))
		}
		for _, field := range []string{"favorite", "hidden"} {
			if v, present := entry[field]; present {
				if _, ok := v.(bool); !ok {
					problems = append(problems, fmt.Sprintf("items[%d]: %s must be a boolean", i, field))
				}
			}
		}
		if v, present := entry["rating"]; present {
			r, ok := v.(float64)
			if !ok || r != float64(int(r)) || r < 0 || r > 5 {
				problems = append(problems, fmt.Sprintf("items[%d]: rating must be an integer 0-5", i))
			}
		}
		if v, present := entry["tags"]; present {
			tags, ok := v.([]any)
			if !ok {
				problems = append(problems, fmt.Sprintf("items[%d]: tags must be an array", i))
				continue
			}
			for j, t := range tags {
				if _, ok := t.(string); !ok {
					problems = append(problems, fmt.Sprintf("items[%d].tags[%d]: must be a string", i, j))
				}
			}
		}
	}
	return problems
}

// ReadBackup decodes and validates a backup.
func ReadBackup(r io.Reader) (*Backup, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	if problems := ValidateBackupJSON(data); len(problems) > 0 {
		return nil, database.NewValidationError("backup", "%s", strings.Join(problems, "; "))
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, database.NewValidationError("backup", "%v", err)
	}
	return &b, nil
}

// WriteBackup encodes b as indented JSON.
func WriteBackup(w io.Writer, b *Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}
