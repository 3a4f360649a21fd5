// Package cache implements a process-local TTL+LRU query-result cache,
// keyed by (operation, normalized args), with a default TTL of 60s and
// size of 100 entries, invalidated wholesale on any mutation.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// DefaultTTL and DefaultSize are the fallback cache parameters.
const (
	DefaultTTL  = 60 * time.Second
	DefaultSize = 100
)

// Key derives a canonical cache key from an operation name and its
// normalized arguments, so logically identical calls always hash the same.
func Key(operation string, args map[string]interface{}) string {
	normalized := normalize(args)
	payload, _ := json.Marshal(struct {
		Op   string                 `json:"op"`
		Args map[string]interface{} `json:"args"`
	}{Op: operation, Args: normalized})
	sum := sha256.Sum256(payload)
	return operation + ":" + hex.EncodeToString(sum[:8])
}

// normalize produces a deterministic representation of args by sorting map
// keys recursively where possible (json.Marshal already sorts map[string]
// keys, but we keep this seam for non-map composite args).
func normalize(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(args))
	for _, k := range keys {
		out[k] = args[k]
	}
	return out
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a TTL+LRU cache guarded by a mutex, safe for concurrent
// get/put/invalidate. Lookups never return an error: a miss is just a
// cache miss.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	size     int
	entries  map[string]*entry
	lru      *list.List // front = most recently used
	hits     int64
	misses   int64
}

// New creates a cache with the given TTL and maximum entry count.
func New(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache{
		ttl:     ttl,
		size:    size,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Put stores value under key, evicting the least-recently-used entry if
// the cache is full.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(existing.elem)
		return
	}

	e := &entry{key: key, value: value, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.size {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
}

// InvalidateAll clears the entire cache. Invoked on every successful add,
// forget, restore, add_tag, remove_tag, or direct node update. Simpler
// than selective invalidation, and cheap enough given the read:write
// ratio this cache sees in practice.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru = list.New()
}

// Stats reports cache hit/miss counters, used by internal/observability.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
