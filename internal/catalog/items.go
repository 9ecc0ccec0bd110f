package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

const upsertItemQuery = `
	INSERT INTO videos (id, name, path, relative_path, folder, size, duration, width, height,
		codec, bitrate, last_modified, created, added_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		path = excluded.path,
		relative_path = excluded.relative_path,
		folder = excluded.folder,
		size = excluded.size,
		duration = excluded.duration,
		width = excluded.width,
		height = excluded.height,
		codec = excluded.codec,
		bitrate = excluded.bitrate,
		last_modified = excluded.last_modified,
		created = excluded.created,
		updated_at = excluded.updated_at`

func validateItem(item *Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return database.NewValidationError("id", "must not be empty")
	}
	if strings.TrimSpace(item.Path) == "" {
		return database.NewValidationError("path", "must not be empty")
	}
	if item.Name == "" {
		return database.NewValidationError("name", "must not be empty")
	}
	if item.Size < 0 {
		return database.NewValidationError("size", "must not be negative, got %d", item.Size)
	}
	return nil
}

// upsertItemTx writes the file facts of item. Annotations and the added
// timestamp of an existing row are left untouched.
func upsertItemTx(ctx context.Context, q execer, item *Item, now time.Time) error {
	added := item.AddedAt
	if added.IsZero() {
		added = now
	}
	_, err := q.ExecContext(ctx, upsertItemQuery,
		item.ID, item.Name, item.Path, nullString(item.RelativePath), nullString(item.Folder),
		item.Size, nullFloat(item.Duration), nullInt(int64(item.Width)), nullInt(int64(item.Height)),
		nullString(item.Codec), nullInt(item.Bitrate),
		item.LastModified.UnixMilli(), item.Created.UnixMilli(), added.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

// UpsertItem creates an item or refreshes the file facts of an existing one.
func (c *Catalog) UpsertItem(ctx context.Context, item *Item) (err error) {
	if err := validateItem(item); err != nil {
		return err
	}

	done := database.ObserveQuery("upsert_item")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err = upsertItemTx(ctx, conn, item, time.Now()); err != nil {
		return err
	}

	c.invalidate(itemQueries...)
	return nil
}

// UpsertItems writes a whole scan in one transaction. With RemoveMissing,
// items not in the batch are deleted unless they carry a favorite, hidden
// flag or rating, so annotations survive files that are temporarily absent.
func (c *Catalog) UpsertItems(ctx context.Context, items []*Item, opts UpsertOptions) (result UpsertResult, err error) {
	for i, item := range items {
		if err := validateItem(item); err != nil {
			return result, fmt.Errorf("item %d: %w", i, err)
		}
	}

	done := database.ObserveQuery("upsert_items")
	defer func() { done(err) }()

	now := time.Now()
	ex := c.exprs()

	result, err = database.ExecuteResult(ctx, c.db, database.TxOptions{Isolation: database.Immediate, Name: "upsert_items"},
		func(tx *database.Tx) (UpsertResult, error) {
			var res UpsertResult

			if opts.RemoveMissing {
				if _, err := tx.Exec("CREATE TEMP TABLE IF NOT EXISTS scan_ids (id TEXT PRIMARY KEY)"); err != nil {
					return res, fmt.Errorf("create scan table: %w", err)
				}
				if _, err := tx.Exec("DELETE FROM temp.scan_ids"); err != nil {
					return res, fmt.Errorf("clear scan table: %w", err)
				}
			}

			n, err := database.BulkInTx(tx, items, opts.BatchSize, func(tx *database.Tx, item *Item) error {
				if err := upsertItemTx(tx.Context(), tx, item, now); err != nil {
					return err
				}
				if opts.RemoveMissing {
					if _, err := tx.Exec("INSERT OR IGNORE INTO temp.scan_ids (id) VALUES (?)", item.ID); err != nil {
						return fmt.Errorf("record scanned id: %w", err)
					}
				}
				return nil
			})
			if err != nil {
				return res, err
			}
			res.Upserted = n

			if opts.RemoveMissing {
				removed, err := tx.Exec(fmt.Sprintf(`
					DELETE FROM videos WHERE id IN (
						SELECT v.id FROM videos v
						WHERE v.id NOT IN (SELECT id FROM temp.scan_ids)
						  AND %s = 0 AND %s = 0 AND %s = 0)`,
					ex.favorite, ex.hidden, ex.rating))
				if err != nil {
					return res, fmt.Errorf("remove missing items: %w", err)
				}
				rows, _ := removed.RowsAffected()
				res.Removed = int(rows)

				if _, err := tx.Exec("DROP TABLE temp.scan_ids"); err != nil {
					return res, fmt.Errorf("drop scan table: %w", err)
				}
			}
			return res, nil
		})
	if err != nil {
		return UpsertResult{}, err
	}

	c.invalidate(append(itemQueries, tagQueries...)...)
	logging.Info("Upserted %d items, removed %d", result.Upserted, result.Removed)
	return result, nil
}

// GetItem returns one item with its tags.
func (c *Catalog) GetItem(ctx context.Context, id string) (item *Item, err error) {
	var cached Item
	gen, hit := c.cacheGet(cacheGetItem, id, &cached)
	if hit {
		return &cached, nil
	}

	done := database.ObserveQuery("get_item")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT " + c.exprs().itemColumns() + " FROM videos v WHERE v.id = ?"
	item, err = scanItem(conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	item.Tags, err = itemTagNames(ctx, conn, id)
	if err != nil {
		return nil, err
	}

	c.cacheSet(gen, cacheGetItem, id, item)
	return item, nil
}

// buildListQuery returns the WHERE clause and arguments for opts.
func buildListQuery(opts ListOptions, ex annotationExprs) (string, []any, error) {
	var (
		conds []string
		args  []any
	)

	if opts.MinRating < 0 || opts.MinRating > 5 {
		return "", nil, database.NewValidationError("minRating", "must be between 0 and 5, got %d", opts.MinRating)
	}
	if opts.Limit < 0 {
		return "", nil, database.NewValidationError("limit", "must not be negative")
	}
	if opts.Offset < 0 {
		return "", nil, database.NewValidationError("offset", "must not be negative")
	}

	if opts.Folder != "" {
		conds = append(conds, "v.folder = ?")
		args = append(args, opts.Folder)
	}
	if opts.FavoritesOnly {
		conds = append(conds, ex.favorite+" = 1")
	}
	switch {
	case opts.HiddenOnly:
		conds = append(conds, ex.hidden+" = 1")
	case !opts.ShowHidden:
		conds = append(conds, ex.hidden+" = 0")
	}
	if opts.MinRating > 0 {
		conds = append(conds, ex.rating+" >= ?")
		args = append(args, opts.MinRating)
	}
	if opts.Tag != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM video_tags vt JOIN tags t ON t.id = vt.tag_id
			WHERE vt.video_id = v.id AND t.name = ?)`)
		args = append(args, normalizeTag(opts.Tag))
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		conds = append(conds, `(v.name LIKE ? ESCAPE '\' OR v.folder LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(opts ListOptions, ex annotationExprs) (string, error) {
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	var col string
	switch opts.Sort {
	case "", SortFolder:
		if opts.Desc {
			return " ORDER BY v.folder DESC, v.last_modified DESC, v.id", nil
		}
		return " ORDER BY v.folder, v.last_modified DESC, v.id", nil
	case SortDate:
		col = "v.last_modified"
	case SortName:
		col = "v.name COLLATE NOCASE"
	case SortSize:
		col = "v.size"
	case SortRating:
		col = ex.rating
	case SortViews:
		col = ex.viewCount
	case SortAdded:
		col = "v.added_at"
	default:
		return "", database.NewValidationError("sort", "unknown sort key %q", opts.Sort)
	}
	return fmt.Sprintf(" ORDER BY %s %s, v.id", col, dir), nil
}

// escapeLike escapes LIKE wildcards so search text matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListItems returns items matching opts. Before initialization it returns
// an empty list.
func (c *Catalog) ListItems(ctx context.Context, opts ListOptions) (items []Item, err error) {
	gen, hit := c.cacheGet(cacheListItems, opts, &items)
	if hit {
		return items, nil
	}

	done := database.ObserveQuery("list_items")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("ListItems", err) {
			return []Item{}, nil
		}
		return nil, err
	}

	ex := c.exprs()
	where, args, err := buildListQuery(opts, ex)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(opts, ex)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + ex.itemColumns() + " FROM videos v" + where + order
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items = []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	c.cacheSet(gen, cacheListItems, opts, items)
	return items, nil
}

// CountItems returns the number of items matching the filters of opts.
// Sort, Limit and Offset are ignored.
func (c *Catalog) CountItems(ctx context.Context, opts ListOptions) (n int, err error) {
	opts.Sort, opts.Desc, opts.Limit, opts.Offset = "", false, 0, 0
	gen, hit := c.cacheGet(cacheCountItems, opts, &n)
	if hit {
		return n, nil
	}

	done := database.ObserveQuery("count_items")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("CountItems", err) {
			return 0, nil
		}
		return 0, err
	}

	where, args, err := buildListQuery(opts, c.exprs())
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos v"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}

	c.cacheSet(gen, cacheCountItems, opts, n)
	return n, nil
}

// ListFolders returns the distinct non-empty folders, case-insensitively sorted.
func (c *Catalog) ListFolders(ctx context.Context) (folders []string, err error) {
	gen, hit := c.cacheGet(cacheFolders, nil, &folders)
	if hit {
		return folders, nil
	}

	done := database.ObserveQuery("list_folders")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("ListFolders", err) {
			return []string{}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	folders, err = queryStrings(ctx, conn, `
		SELECT DISTINCT folder FROM videos
		WHERE folder IS NOT NULL AND folder != ''
		ORDER BY folder COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	c.cacheSet(gen, cacheFolders, nil, folders)
	return folders, nil
}

// DeleteItem removes an item. Its tag associations and legacy annotation
// rows go with it.
func (c *Catalog) DeleteItem(ctx context.Context, id string) (err error) {
	done := database.ObserveQuery("delete_item")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := conn.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}

	c.invalidate(append(itemQueries, tagQueries...)...)
	return nil
}

// RecordView bumps the view count and sets the last-viewed time.
func (c *Catalog) RecordView(ctx context.Context, id string) error {
	now := time.Now().Unix()
	return c.updateItem(ctx, "record_view", id,
		"UPDATE videos SET view_count = view_count + 1, last_viewed = ?, updated_at = ? WHERE id = ?",
		now, now, id)
}

// SetNotes replaces an item's notes.
func (c *Catalog) SetNotes(ctx context.Context, id, notes string) error {
	return c.updateItem(ctx, "set_notes", id,
		"UPDATE videos SET notes = ?, updated_at = ? WHERE id = ?",
		notes, time.Now().Unix(), id)
}

// updateItem runs a single-row annotation update and maps a missing row to
// ErrNotFound.
func (c *Catalog) updateItem(ctx context.Context, op, id, query string, args ...any) (err error) {
	if err := c.requireAnnotations(); err != nil {
		return err
	}

	done := database.ObserveQuery(op)
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}

	c.invalidate(itemQueries...)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryStrings collects a single string column.
func queryStrings(ctx context.Context, q rowsQueryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
