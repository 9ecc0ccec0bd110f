package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vdotapes/internal/compat"
	"vdotapes/internal/database"
	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
	"vdotapes/internal/querycache"
)

// Default timeout for single-statement operations
const defaultTimeout = 5 * time.Second

// Query cache names. Keys are "<name>:<params>", so invalidating a name
// drops every parameter variant.
const (
	cacheListItems  = "list_items"
	cacheCountItems = "count_items"
	cacheGetItem    = "get_item"
	cacheFolders    = "folders"
	cacheFavorites  = "favorite_ids"
	cacheHidden     = "hidden_ids"
	cacheTags       = "tags"
	cacheItemTags   = "item_tags"
	cacheStats      = "stats"
)

var (
	// Results that depend on item rows or annotation aggregates.
	itemQueries = []string{cacheListItems, cacheCountItems, cacheGetItem, cacheFolders,
		cacheFavorites, cacheHidden, cacheStats}
	// Results that depend on the tag graph.
	tagQueries = []string{cacheTags, cacheItemTags, cacheGetItem, cacheListItems, cacheCountItems, cacheStats}
)

// Catalog implements the entity operations on top of the storage core.
// All dependencies are passed in; a Catalog holds no global state.
type Catalog struct {
	db     *database.Database
	cache  *querycache.Cache
	compat *compat.Adapter

	// cacheMu orders cache fills against invalidation. generation is bumped
	// on every invalidation; a fill whose read started in an older
	// generation is dropped.
	cacheMu    sync.Mutex
	generation uint64
}

// New creates a Catalog. cache and adapter may be nil, which disables
// caching and legacy table mirroring respectively.
func New(db *database.Database, cache *querycache.Cache, adapter *compat.Adapter) *Catalog {
	return &Catalog{db: db, cache: cache, compat: adapter}
}

// DB returns the storage core the catalog operates on.
func (c *Catalog) DB() *database.Database {
	return c.db
}

// Compat returns the legacy table adapter, possibly nil.
func (c *Catalog) Compat() *compat.Adapter {
	return c.compat
}

// Close drops every cached result and closes the store.
func (c *Catalog) Close() error {
	if c.cache != nil {
		c.cacheMu.Lock()
		c.generation++
		c.cache.Clear()
		c.cacheMu.Unlock()
	}
	return c.db.Close()
}

// requireAnnotations refuses annotation writes while the store is below the
// schema version that introduced the annotation columns.
func (c *Catalog) requireAnnotations() error {
	if v := c.db.SchemaVersion(); v < database.AnnotationColumnsVersion {
		return fmt.Errorf("store at schema v%d: %w", v, database.ErrMigrationRequired)
	}
	return nil
}

// invalidate drops cached results for the given query names. It must only
// be called after the write they depend on has committed.
func (c *Catalog) invalidate(names ...string) {
	if c.cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.generation++
	c.cache.InvalidateAll(names...)
}

// cacheGet looks up a cached result. It returns the cache generation to
// pass to cacheSet once the result has been read from the store.
func (c *Catalog) cacheGet(name string, params, dest any) (uint64, bool) {
	if c.cache == nil {
		return 0, false
	}
	c.cacheMu.Lock()
	gen := c.generation
	c.cacheMu.Unlock()
	return gen, c.cache.Get(name, params, dest)
}

// cacheSet stores value unless an invalidation ran since gen was taken.
func (c *Catalog) cacheSet(gen uint64, name string, params, value any) {
	if c.cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.generation != gen {
		return
	}
	if err := c.cache.Set(name, params, value); err != nil {
		logging.Debug("query cache: %v", err)
	}
}

// degraded reports whether a read error should turn into an empty result.
// Reads before initialization stay quiet so callers can render an empty
// library.
func degraded(op string, err error) bool {
	if errors.Is(err, database.ErrNotInitialized) {
		logging.Debug("%s: store not initialized, returning empty result", op)
		return true
	}
	return false
}

// Stats returns library totals. It satisfies metrics.StatsProvider.
func (c *Catalog) Stats(ctx context.Context) (stats metrics.Stats, err error) {
	gen, hit := c.cacheGet(cacheStats, nil, &stats)
	if hit {
		return stats, nil
	}

	done := database.ObserveQuery("stats")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return stats, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ex := c.exprs()
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN %s = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN %s = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN %s > 0 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT NULLIF(v.folder, ''))
		FROM videos v`, ex.favorite, ex.hidden, ex.rating)

	err = conn.QueryRowContext(ctx, query).Scan(
		&stats.TotalItems, &stats.TotalFavorites, &stats.TotalHidden, &stats.TotalRated, &stats.TotalFolders)
	if err != nil {
		return stats, fmt.Errorf("failed to count items: %w", err)
	}

	if err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tags").Scan(&stats.TotalTags); err != nil {
		return stats, fmt.Errorf("failed to count tags: %w", err)
	}

	c.cacheSet(gen, cacheStats, nil, stats)
	return stats, nil
}
