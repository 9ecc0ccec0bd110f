package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vdotapes/internal/compat"
	"vdotapes/internal/database"
)

// readFlagTx reads a favorite or hidden column inside tx.
func readFlagTx(tx *database.Tx, flag compat.Flag, id string) (bool, error) {
	var v int
	err := tx.QueryRow("SELECT "+flag.Column()+" FROM videos WHERE id = ?", id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", flag, err)
	}
	return v == 1, nil
}

// writeFlagTx writes the column and mirrors the change into the legacy
// tables within the same transaction.
func (c *Catalog) writeFlagTx(tx *database.Tx, flag compat.Flag, id string, set bool) error {
	res, err := tx.Exec("UPDATE videos SET "+flag.Column()+" = ?, updated_at = ? WHERE id = ?",
		boolToInt(set), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("write %s: %w", flag, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	return c.compat.MirrorFlag(tx, flag, id, set)
}

func (c *Catalog) writeRatingTx(tx *database.Tx, id string, rating int) error {
	res, err := tx.Exec("UPDATE videos SET rating = ?, updated_at = ? WHERE id = ?",
		rating, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("write rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	return c.compat.MirrorRating(tx, id, rating)
}

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return database.NewValidationError("rating", "must be between 1 and 5, got %d", rating)
	}
	return nil
}

// ToggleFavorite flips an item's favorite flag and returns the new value.
func (c *Catalog) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	return c.toggleFlag(ctx, compat.Favorites, id)
}

// ToggleHidden flips an item's hidden flag and returns the new value.
func (c *Catalog) ToggleHidden(ctx context.Context, id string) (bool, error) {
	return c.toggleFlag(ctx, compat.Hidden, id)
}

// SetFavorite sets an item's favorite flag.
func (c *Catalog) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return c.setFlag(ctx, compat.Favorites, id, favorite)
}

// SetHidden sets an item's hidden flag.
func (c *Catalog) SetHidden(ctx context.Context, id string, hidden bool) error {
	return c.setFlag(ctx, compat.Hidden, id, hidden)
}

// toggleFlag reads and writes under one IMMEDIATE transaction so no other
// writer can slip between the check and the update.
func (c *Catalog) toggleFlag(ctx context.Context, flag compat.Flag, id string) (value bool, err error) {
	if err := c.requireAnnotations(); err != nil {
		return false, err
	}

	op := "toggle_" + flag.String()
	done := database.ObserveQuery(op)
	defer func() { done(err) }()

	value, err = database.ExecuteResult(ctx, c.db, database.TxOptions{Isolation: database.Immediate, Name: op},
		func(tx *database.Tx) (bool, error) {
			current, err := readFlagTx(tx, flag, id)
			if err != nil {
				return false, err
			}
			next := !current
			return next, c.writeFlagTx(tx, flag, id, next)
		})
	if err != nil {
		return false, err
	}

	c.invalidate(itemQueries...)
	return value, nil
}

func (c *Catalog) setFlag(ctx context.Context, flag compat.Flag, id string, set bool) (err error) {
	if err := c.requireAnnotations(); err != nil {
		return err
	}

	op := "set_" + flag.String()
	done := database.ObserveQuery(op)
	defer func() { done(err) }()

	err = c.db.Execute(ctx, database.TxOptions{Isolation: database.Immediate, Name: op}, func(tx *database.Tx) error {
		return c.writeFlagTx(tx, flag, id, set)
	})
	if err != nil {
		return err
	}

	c.invalidate(itemQueries...)
	return nil
}

// SetRating rates an item 1 to 5. Out-of-range values are rejected before
// anything is written.
func (c *Catalog) SetRating(ctx context.Context, id string, rating int) error {
	if err := validateRating(rating); err != nil {
		return err
	}
	return c.rate(ctx, "set_rating", id, rating)
}

// ClearRating marks an item as unrated.
func (c *Catalog) ClearRating(ctx context.Context, id string) error {
	return c.rate(ctx, "clear_rating", id, 0)
}

func (c *Catalog) rate(ctx context.Context, op, id string, rating int) (err error) {
	if err := c.requireAnnotations(); err != nil {
		return err
	}

	done := database.ObserveQuery(op)
	defer func() { done(err) }()

	err = c.db.Execute(ctx, database.TxOptions{Isolation: database.Immediate, Name: op}, func(tx *database.Tx) error {
		return c.writeRatingTx(tx, id, rating)
	})
	if err != nil {
		return err
	}

	c.invalidate(itemQueries...)
	return nil
}

// Rating returns an item's rating, 0 when unrated.
func (c *Catalog) Rating(ctx context.Context, id string) (rating int, err error) {
	done := database.ObserveQuery("get_rating")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = conn.QueryRowContext(ctx, "SELECT "+c.exprs().rating+" FROM videos v WHERE v.id = ?", id).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("item %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rating: %w", err)
	}
	return rating, nil
}

// FavoriteIDs returns the ids of all favorited items.
func (c *Catalog) FavoriteIDs(ctx context.Context) ([]string, error) {
	return c.flaggedIDs(ctx, cacheFavorites, c.exprs().favorite)
}

// HiddenIDs returns the ids of all hidden items.
func (c *Catalog) HiddenIDs(ctx context.Context) ([]string, error) {
	return c.flaggedIDs(ctx, cacheHidden, c.exprs().hidden)
}

func (c *Catalog) flaggedIDs(ctx context.Context, name, expr string) (ids []string, err error) {
	gen, hit := c.cacheGet(name, nil, &ids)
	if hit {
		return ids, nil
	}

	done := database.ObserveQuery(name)
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded(name, err) {
			return []string{}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ids, err = queryStrings(ctx, conn, "SELECT v.id FROM videos v WHERE "+expr+" = 1 ORDER BY v.id")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}

	c.cacheSet(gen, name, nil, ids)
	return ids, nil
}
