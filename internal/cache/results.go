// Package cache provides the process-wide result cache for path
// aggregations, keyed by filter fingerprint.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits          atomic.Int64
	Misses        atomic.Int64
	Evictions     atomic.Int64
	Invalidations atomic.Int64
}

// ResultCache caches serialized aggregation results by filter
// fingerprint. Values are snappy-compressed. Each entry carries the set
// of person ids present in the aggregation so a person deletion can
// invalidate exactly the entries that mention them.
//
// The cache is an optimization, never a correctness dependency: the
// engine re-applies the deleted-person filter on every read regardless
// of hits.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	curBytes int64
	maxBytes int64
	metrics  Metrics
}

type entry struct {
	payload    []byte
	personIDs  map[int64]struct{}
	sizeBytes  int64
	lastAccess int64 // Unix nanos, under mu
}

// NewResultCache creates a cache with the given byte budget.
func NewResultCache(maxBytes int64) *ResultCache {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	return &ResultCache{
		entries:  make(map[string]*entry),
		maxBytes: maxBytes,
	}
}

// Put stores a serialized aggregation under the fingerprint, together
// with the person ids it mentions. Insertion is atomic per fingerprint;
// last writer wins (aggregation is a pure function of its inputs, so
// concurrent writers carry identical values).
func (c *ResultCache) Put(fingerprint string, payload []byte, personIDs []int64) {
	compressed := snappy.Encode(nil, payload)

	ids := make(map[int64]struct{}, len(personIDs))
	for _, id := range personIDs {
		ids[id] = struct{}{}
	}

	e := &entry{
		payload:    compressed,
		personIDs:  ids,
		sizeBytes:  int64(len(compressed)) + int64(len(ids))*8,
		lastAccess: time.Now().UnixNano(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[fingerprint]; ok {
		c.curBytes -= old.sizeBytes
	}
	c.entries[fingerprint] = e
	c.curBytes += e.sizeBytes

	for c.curBytes > c.maxBytes && len(c.entries) > 1 {
		c.evictLRULocked(fingerprint)
	}
}

// Get returns the decompressed payload for a fingerprint.
func (c *ResultCache) Get(fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if ok {
		e.lastAccess = time.Now().UnixNano()
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}

	payload, err := snappy.Decode(nil, e.payload)
	if err != nil {
		// Corrupt entry: drop it and report a miss.
		c.Remove(fingerprint)
		c.metrics.Misses.Add(1)
		return nil, false
	}

	c.metrics.Hits.Add(1)
	return payload, true
}

// Remove drops a single fingerprint.
func (c *ResultCache) Remove(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok {
		c.curBytes -= e.sizeBytes
		delete(c.entries, fingerprint)
	}
}

// Invalidate drops every cached aggregation that mentions the person.
// Called from the identity store's delete hook. Returns the number of
// entries dropped.
func (c *ResultCache) Invalidate(personID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped int
	for fingerprint, e := range c.entries {
		if _, ok := e.personIDs[personID]; ok {
			c.curBytes -= e.sizeBytes
			delete(c.entries, fingerprint)
			dropped++
		}
	}
	c.metrics.Invalidations.Add(int64(dropped))
	return dropped
}

// Clear drops all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.curBytes = 0
}

// Len returns the number of cached fingerprints.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SizeBytes returns the current byte usage.
func (c *ResultCache) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curBytes
}

// Stats returns hit/miss/eviction/invalidation counters.
func (c *ResultCache) Stats() (hits, misses, evictions, invalidations int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(),
		c.metrics.Evictions.Load(), c.metrics.Invalidations.Load()
}

// evictLRULocked removes the least recently accessed entry, never the
// one named by keep. Caller holds mu.
func (c *ResultCache) evictLRULocked(keep string) {
	var lruKey string
	var lruTime int64
	for key, e := range c.entries {
		if key == keep {
			continue
		}
		if lruKey == "" || e.lastAccess < lruTime {
			lruKey = key
			lruTime = e.lastAccess
		}
	}
	if lruKey == "" {
		return
	}
	c.curBytes -= c.entries[lruKey].sizeBytes
	delete(c.entries, lruKey)
	c.metrics.Evictions.Add(1)
}
