package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridgeline-ai/gatehouse/policy"
)

// prefCache is a TTL-based in-memory cache with stale-while-revalidate for
// user preferences. Uses sync.Map for lock-free reads on the hot path.
type prefCache struct {
	store sync.Map // map[string]*prefCacheEntry
	ttl   time.Duration
}

type prefCacheEntry struct {
	prefs      *policy.Preferences // nil = negative cache (no preferences)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// prefCacheResult holds the result of a cache lookup.
type prefCacheResult struct {
	Prefs        *policy.Preferences
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // expired; caller should refresh in background
}

func newPrefCache(ttl time.Duration) *prefCache {
	return &prefCache{ttl: ttl}
}

// Get performs a non-blocking cache lookup. Stale entries are returned
// with NeedsRefresh=true; only one caller wins the refresh CAS.
func (c *prefCache) Get(userID string) prefCacheResult {
	val, ok := c.store.Load(userID)
	if !ok {
		return prefCacheResult{Hit: false}
	}

	entry := val.(*prefCacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return prefCacheResult{Prefs: entry.prefs, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return prefCacheResult{
		Prefs:        entry.prefs,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores preferences with a fresh TTL. Passing nil stores a negative
// cache entry.
func (c *prefCache) Set(userID string, prefs *policy.Preferences) {
	c.store.Store(userID, &prefCacheEntry{
		prefs:     prefs,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *prefCache) Delete(userID string) {
	c.store.Delete(userID)
}
