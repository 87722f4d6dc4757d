package timeseries

import (
	"sync"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

type cacheKey struct {
	monitorID string
	start     int64
	end       int64
	limit     int
}

type cacheEntry struct {
	snapshots []domain.Snapshot
	expires   time.Time
}

// rangeCache holds decoded range results per monitor until they expire or a
// write to the same monitor invalidates them. Every invalidation bumps the
// monitor's generation; a result read under an older generation is never
// cached.
type rangeCache struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.Mutex
	entries     map[string]map[cacheKey]cacheEntry
	generations map[string]uint64
}

func newRangeCache(ttl time.Duration) *rangeCache {
	return &rangeCache{
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
		entries:     make(map[string]map[cacheKey]cacheEntry),
		generations: make(map[string]uint64),
	}
}

func (c *rangeCache) get(key cacheKey) ([]domain.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.entries[key.monitorID]
	if !ok {
		return nil, false
	}
	entry, ok := byKey[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(byKey, key)
		return nil, false
	}
	return entry.snapshots, true
}

func (c *rangeCache) generation(monitorID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[monitorID]
}

// put stores snapshots read under generation gen. It is a no-op when the
// monitor was invalidated since.
func (c *rangeCache) put(key cacheKey, gen uint64, snapshots []domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[key.monitorID] != gen {
		return
	}

	byKey, ok := c.entries[key.monitorID]
	if !ok {
		byKey = make(map[cacheKey]cacheEntry)
		c.entries[key.monitorID] = byKey
	}
	byKey[key] = cacheEntry{snapshots: snapshots, expires: c.now().Add(c.ttl)}
}

func (c *rangeCache) invalidate(monitorID string) {
	c.mu.Lock()
	delete(c.entries, monitorID)
	c.generations[monitorID]++
	c.mu.Unlock()
}
