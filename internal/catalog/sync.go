package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vdotapes/internal/compat"
	"vdotapes/internal/database"
	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
)

// existenceChunk bounds the number of bound parameters per IN lookup.
const existenceChunk = 500

// ItemMetadata is externally sourced annotation state for one item, such
// as the contents of a per-folder metadata file.
type ItemMetadata struct {
	Favorite bool     `json:"favorite"`
	Hidden   bool     `json:"hidden"`
	Rating   int      `json:"rating"`
	Tags     []string `json:"tags"`
}

// SyncResult reports a SyncMetadata run. Synced counts contributions: one
// per set favorite, set hidden flag, non-zero rating and distinct tag.
type SyncResult struct {
	RunID     string        `json:"runId"`
	Requested int           `json:"requested"`
	Matched   int           `json:"matched"`
	Skipped   int           `json:"skipped"`
	Synced    int           `json:"synced"`
	Duration  time.Duration `json:"duration"`
}

// SyncMetadata makes the annotations of every known item in entries match
// the given metadata, in a single transaction. Entries for ids not in the
// catalog are dropped silently. Either every matched item is written or,
// on error, none is.
func (c *Catalog) SyncMetadata(ctx context.Context, entries map[string]ItemMetadata) (result SyncResult, err error) {
	start := time.Now()
	result = SyncResult{RunID: uuid.NewString(), Requested: len(entries)}

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SyncRunsTotal.WithLabelValues(status).Inc()
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()

	for id, meta := range entries {
		if meta.Rating < 0 || meta.Rating > 5 {
			return result, database.NewValidationError("rating", "item %s: must be between 0 and 5, got %d", id, meta.Rating)
		}
	}
	if err := c.requireAnnotations(); err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	existing, err := c.existingIDs(ctx, ids)
	if err != nil {
		return result, err
	}
	result.Matched = len(existing)
	result.Skipped = len(ids) - len(existing)

	synced, err := database.ExecuteResult(ctx, c.db, database.TxOptions{Isolation: database.Immediate, Name: "sync_metadata"},
		func(tx *database.Tx) (int, error) {
			n := 0
			for _, id := range existing {
				meta := entries[id]

				if err := c.writeFlagTx(tx, compat.Favorites, id, meta.Favorite); err != nil {
					return 0, err
				}
				if err := c.writeFlagTx(tx, compat.Hidden, id, meta.Hidden); err != nil {
					return 0, err
				}
				if err := c.writeRatingTx(tx, id, meta.Rating); err != nil {
					return 0, err
				}
				tagged, err := setItemTagsTx(tx, id, meta.Tags)
				if err != nil {
					return 0, err
				}

				n += boolToInt(meta.Favorite) + boolToInt(meta.Hidden) + tagged
				if meta.Rating > 0 {
					n++
				}
			}
			return n, nil
		})
	if err != nil {
		logging.Error("Metadata sync %s failed: %v", result.RunID, err)
		return result, err
	}

	c.invalidate(append(itemQueries, tagQueries...)...)

	result.Synced = synced
	result.Duration = time.Since(start)
	metrics.SyncContributions.Add(float64(synced))
	metrics.SyncSkippedItems.Add(float64(result.Skipped))

	logging.Info("Metadata sync %s: %d/%d items matched, %d contributions in %v",
		result.RunID, result.Matched, result.Requested, result.Synced, result.Duration)
	return result, nil
}

// existingIDs returns the subset of ids present in the catalog, in the
// order given.
func (c *Catalog) existingIDs(ctx context.Context, ids []string) (found []string, err error) {
	done := database.ObserveQuery("sync_existence")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	present := make(map[string]bool, len(ids))
	for offset := 0; offset < len(ids); offset += existenceChunk {
		chunk := ids[offset:min(offset+existenceChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		got, err := queryStrings(ctx, conn, "SELECT id FROM videos WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to check item existence: %w", err)
		}
		for _, id := range got {
			present[id] = true
		}
	}

	found = make([]string, 0, len(present))
	for _, id := range ids {
		if present[id] {
			found = append(found, id)
		}
	}
	return found, nil
}
