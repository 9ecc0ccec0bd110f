package querycache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
)

const (
	// DefaultCapacity is the entry limit used when New is given a non-positive capacity.
	DefaultCapacity = 200
	// DefaultTTL is the entry lifetime used when New is given a non-positive TTL.
	DefaultTTL = 5 * time.Minute
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Cache is a bounded LRU cache of query results with a fixed time-to-live.
// Values are stored encoded so a caller can never mutate a cached result
// through a shared reference.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time

	hits, misses, evictions uint64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// New creates a cache holding at most capacity entries for ttl each.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Key builds the cache key for a query name and its parameters. Map
// parameters are encoded with sorted keys, so equal inputs give equal keys.
func Key(name string, params any) string {
	if params == nil {
		return name
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return name + ":" + fmt.Sprintf("%#v", params)
	}
	return name + ":" + string(encoded)
}

// Get decodes the cached value for name and params into dest. It reports
// false on a miss, on an expired entry (which is removed) or when the
// stored value cannot be decoded into dest.
func (c *Cache) Get(name string, params, dest any) bool {
	key := Key(name, params)

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		return false
	}

	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		c.evictions++
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		c.updateGauge()
		return false
	}

	c.ll.MoveToFront(el)
	value := e.value
	c.hits++
	c.mu.Unlock()

	if err := json.Unmarshal(value, dest); err != nil {
		logging.Debug("query cache: decode %s: %v", key, err)
		return false
	}
	metrics.CacheHits.Inc()
	return true
}

// Set stores a copy of value under name and params, evicting the least
// recently used entries when the cache is full.
func (c *Cache) Set(name string, params, value any) error {
	key := Key(name, params)
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}

	c.mu.Lock()
	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = encoded
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		return nil
	}

	c.items[key] = c.ll.PushFront(&entry{key: key, value: encoded, expiresAt: expiresAt})

	evicted := 0
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
		evicted++
	}
	c.evictions += uint64(evicted)
	c.mu.Unlock()

	if evicted > 0 {
		metrics.CacheEvictions.WithLabelValues("lru").Add(float64(evicted))
	}
	c.updateGauge()
	return nil
}

// Invalidate removes every entry whose key starts with prefix and returns
// how many were removed. Passing a query name drops all of its parameter
// variants.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	removed := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			removed++
		}
	}
	c.evictions += uint64(removed)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
		logging.Debug("query cache: invalidated %d entries for %q", removed, prefix)
	}
	c.updateGauge()
	return removed
}

// InvalidateAll runs Invalidate for each prefix.
func (c *Cache) InvalidateAll(prefixes ...string) int {
	total := 0
	for _, p := range prefixes {
		total += c.Invalidate(p)
	}
	return total
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()
	c.updateGauge()
}

// Len returns the number of entries, including expired ones not yet removed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys returns the current keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stats returns hit, miss and eviction counters since the cache was created.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.ll.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *Cache) updateGauge() {
	metrics.CacheEntries.Set(float64(c.Len()))
}

// Lookup is Get for callers that prefer a typed return value.
func Lookup[T any](c *Cache, name string, params any) (T, bool) {
	var v T
	if c == nil {
		return v, false
	}
	if !c.Get(name, params, &v) {
		var zero T
		return zero, false
	}
	return v, true
}
