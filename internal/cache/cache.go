// Package cache holds recently read entities so the gateway stays under the
// remote store's request budget. Entries carry per-entity TTLs and the whole
// cache is LRU-bounded. Writers invalidate explicitly; the cache itself never
// talks to the remote store.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	HitRate   float64
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a mutex-guarded TTL + LRU store. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	maxSize   int
	ll        *list.List // front = most recently used
	items     map[string]*list.Element
	now       func() time.Time
	hits      int64
	misses    int64
	evictions int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(maxSize int, opts ...Option) *Cache {
	c := &Cache{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the canonical cache key for a single entity.
func Key(entity, id string) string {
	return entity + "/" + id
}

// QueryKey builds the cache key for a field-filtered list query. It shares
// the entity prefix so Invalidate(entity+"/") covers both forms.
func QueryKey(entity, field, value string) string {
	return entity + "/q/" + field + "=" + value
}

// QueryPrefix is the prefix under which all list queries for an entity live.
func QueryPrefix(entity string) string {
	return entity + "/q/"
}

// Get returns the cached value, or (nil, false) on a miss. Expired entries
// are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL, evicting the least recently
// used entry once the cache is full.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expires
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: expires})
	c.items[key] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// Invalidate removes the exact key and every key sharing it as a prefix,
// returning how many entries were dropped. Passing an entity prefix like
// "listing/" clears both single entities and list queries.
func (c *Cache) Invalidate(keyOrPrefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if key == keyOrPrefix || strings.HasPrefix(key, keyOrPrefix) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		HitRate:   rate,
	}
}

// Len returns the number of live entries, including any not yet expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
}
