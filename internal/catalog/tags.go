package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vdotapes/internal/database"
)

// normalizeTag trims surrounding whitespace. Case is kept as entered; the
// tags table compares names case-insensitively.
func normalizeTag(name string) string {
	return strings.TrimSpace(name)
}

func validTag(name string) (string, error) {
	n := normalizeTag(name)
	if n == "" {
		return "", database.NewValidationError("tag", "must not be empty")
	}
	return n, nil
}

// getOrCreateTag returns the id of the tag named name, creating it if
// needed. An existing tag keeps its original casing.
func getOrCreateTag(tx *database.Tx, name string) (int64, error) {
	if _, err := tx.Exec("INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
		return 0, fmt.Errorf("create tag %q: %w", name, err)
	}
	var id int64
	if err := tx.QueryRow("SELECT id FROM tags WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("look up tag %q: %w", name, err)
	}
	return id, nil
}

func lookupTag(tx *database.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRow("SELECT id FROM tags WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("tag %q: %w", name, database.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("look up tag %q: %w", name, err)
	}
	return id, nil
}

func requireItemTx(tx *database.Tx, id string) error {
	var one int
	err := tx.QueryRow("SELECT 1 FROM videos WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	return err
}

func addTagTx(tx *database.Tx, id, name string) error {
	tagID, err := getOrCreateTag(tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO video_tags (video_id, tag_id) VALUES (?, ?)", id, tagID); err != nil {
		return fmt.Errorf("tag item %s: %w", id, err)
	}
	return nil
}

// dedupeTags normalizes names and drops case-insensitive duplicates,
// keeping the first spelling.
func dedupeTags(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := normalizeTag(name)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// setItemTagsTx replaces an item's tag set and returns the number of tags
// it now carries.
func setItemTagsTx(tx *database.Tx, id string, names []string) (int, error) {
	if _, err := tx.Exec("DELETE FROM video_tags WHERE video_id = ?", id); err != nil {
		return 0, fmt.Errorf("clear tags of %s: %w", id, err)
	}
	tags := dedupeTags(names)
	for _, name := range tags {
		if err := addTagTx(tx, id, name); err != nil {
			return 0, err
		}
	}
	return len(tags), nil
}

// AddTag attaches a tag to an item, creating the tag if it does not exist.
// Adding a tag the item already carries, in any casing, is a no-op.
func (c *Catalog) AddTag(ctx context.Context, id, tag string) (err error) {
	name, err := validTag(tag)
	if err != nil {
		return err
	}

	done := database.ObserveQuery("add_tag")
	defer func() { done(err) }()

	err = c.db.Execute(ctx, database.TxOptions{Isolation: database.Immediate, Name: "add_tag"}, func(tx *database.Tx) error {
		if err := requireItemTx(tx, id); err != nil {
			return err
		}
		return addTagTx(tx, id, name)
	})
	if err != nil {
		return err
	}

	c.invalidate(tagQueries...)
	return nil
}

// RemoveTag detaches a tag from an item. The tag itself is kept.
func (c *Catalog) RemoveTag(ctx context.Context, id, tag string) (err error) {
	name, err := validTag(tag)
	if err != nil {
		return err
	}

	done := database.ObserveQuery("remove_tag")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = conn.ExecContext(ctx, `
		DELETE FROM video_tags
		WHERE video_id = ? AND tag_id = (SELECT id FROM tags WHERE name = ?)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}

	c.invalidate(tagQueries...)
	return nil
}

func itemTagNames(ctx context.Context, q rowsQueryer, id string) ([]string, error) {
	names, err := queryStrings(ctx, q, `
		SELECT t.name FROM tags t
		JOIN video_tags vt ON vt.tag_id = t.id
		WHERE vt.video_id = ?
		ORDER BY t.name COLLATE NOCASE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags of %s: %w", id, err)
	}
	return names, nil
}

// ItemTags returns the tags of an item, sorted by name.
func (c *Catalog) ItemTags(ctx context.Context, id string) (tags []string, err error) {
	gen, hit := c.cacheGet(cacheItemTags, id, &tags)
	if hit {
		return tags, nil
	}

	done := database.ObserveQuery("item_tags")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("ItemTags", err) {
			return []string{}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tags, err = itemTagNames(ctx, conn, id)
	if err != nil {
		return nil, err
	}

	c.cacheSet(gen, cacheItemTags, id, tags)
	return tags, nil
}

// ListTags returns every tag with its usage count.
func (c *Catalog) ListTags(ctx context.Context) (tags []TagCount, err error) {
	gen, hit := c.cacheGet(cacheTags, nil, &tags)
	if hit {
		return tags, nil
	}

	done := database.ObserveQuery("list_tags")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("ListTags", err) {
			return []TagCount{}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := conn.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(vt.video_id)
		FROM tags t
		LEFT JOIN video_tags vt ON vt.tag_id = t.id
		GROUP BY t.id
		ORDER BY t.name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags = []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Count); err != nil {
			return nil, err
		}
		tags = append(tags, tc)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	c.cacheSet(gen, cacheTags, nil, tags)
	return tags, nil
}

// ItemsByTag lists every item carrying tag, hidden ones included.
func (c *Catalog) ItemsByTag(ctx context.Context, tag string) ([]Item, error) {
	name, err := validTag(tag)
	if err != nil {
		return nil, err
	}
	return c.ListItems(ctx, ListOptions{Tag: name, ShowHidden: true, Sort: SortName})
}

// RenameTag renames a tag in place; its associations are unaffected.
// Changing only the casing is allowed. Renaming onto another existing tag
// fails with ErrConflict; use MergeTags for that.
func (c *Catalog) RenameTag(ctx context.Context, from, to string) (err error) {
	src, err := validTag(from)
	if err != nil {
		return err
	}
	dst, err := validTag(to)
	if err != nil {
		return err
	}

	done := database.ObserveQuery("rename_tag")
	defer func() { done(err) }()

	err = c.db.Execute(ctx, database.TxOptions{Isolation: database.Immediate, Name: "rename_tag"}, func(tx *database.Tx) error {
		srcID, err := lookupTag(tx, src)
		if err != nil {
			return err
		}

		var existing int64
		err = tx.QueryRow("SELECT id FROM tags WHERE name = ?", dst).Scan(&existing)
		switch {
		case err == nil && existing != srcID:
			return fmt.Errorf("tag %q already exists: %w", dst, database.ErrConflict)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("look up tag %q: %w", dst, err)
		}

		if _, err := tx.Exec("UPDATE tags SET name = ? WHERE id = ?", dst, srcID); err != nil {
			if database.IsConstraintViolation(err) {
				return fmt.Errorf("tag %q already exists: %w", dst, database.ErrConflict)
			}
			return fmt.Errorf("rename tag: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.invalidate(tagQueries...)
	return nil
}

// MergeTags moves every association of source onto target, creating target
// if needed, and deletes source. Items that already carry both end up with
// target once. It returns the number of associations moved.
func (c *Catalog) MergeTags(ctx context.Context, source, target string) (moved int, err error) {
	src, err := validTag(source)
	if err != nil {
		return 0, err
	}
	dst, err := validTag(target)
	if err != nil {
		return 0, err
	}

	done := database.ObserveQuery("merge_tags")
	defer func() { done(err) }()

	moved, err = database.ExecuteResult(ctx, c.db, database.TxOptions{Isolation: database.Immediate, Name: "merge_tags"},
		func(tx *database.Tx) (int, error) {
			srcID, err := lookupTag(tx, src)
			if err != nil {
				return 0, err
			}
			dstID, err := getOrCreateTag(tx, dst)
			if err != nil {
				return 0, err
			}
			if srcID == dstID {
				return 0, nil
			}

			res, err := tx.Exec("UPDATE OR IGNORE video_tags SET tag_id = ? WHERE tag_id = ?", dstID, srcID)
			if err != nil {
				return 0, fmt.Errorf("repoint associations: %w", err)
			}
			n, _ := res.RowsAffected()

			// Edges left on source are items that already carried target.
			if _, err := tx.Exec("DELETE FROM video_tags WHERE tag_id = ?", srcID); err != nil {
				return 0, fmt.Errorf("drop duplicate associations: %w", err)
			}
			if _, err := tx.Exec("DELETE FROM tags WHERE id = ?", srcID); err != nil {
				return 0, fmt.Errorf("delete tag %q: %w", src, err)
			}
			return int(n), nil
		})
	if err != nil {
		return 0, err
	}

	c.invalidate(tagQueries...)
	return moved, nil
}

// DeleteTag removes a tag and all its associations.
func (c *Catalog) DeleteTag(ctx context.Context, tag string) (err error) {
	name, err := validTag(tag)
	if err != nil {
		return err
	}

	done := database.ObserveQuery("delete_tag")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := conn.ExecContext(ctx, "DELETE FROM tags WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %q: %w", name, database.ErrNotFound)
	}

	c.invalidate(tagQueries...)
	return nil
}

// PruneUnusedTags deletes tags that no item carries.
func (c *Catalog) PruneUnusedTags(ctx context.Context) (removed int, err error) {
	done := database.ObserveQuery("prune_tags")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := conn.ExecContext(ctx, "DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM video_tags)")
	if err != nil {
		return 0, fmt.Errorf("failed to prune tags: %w", err)
	}
	n, _ := res.RowsAffected()

	if n > 0 {
		c.invalidate(tagQueries...)
	}
	return int(n), nil
}
