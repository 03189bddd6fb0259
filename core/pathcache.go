package core

// pathcache.go – the path cache (spec §4.6.4). Keyed on
// (from, to, bucketed_amount, max_accounts, mode, hot_fingerprint); each
// entry holds candidate paths plus a slot-of-freshness and expires after
// path_cache_validity_ms. Concurrent best_quote calls that land on the same
// key are collapsed with golang.org/x/sync/singleflight so a cache stampede
// doesn't run the same bounded-hop search N times.

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedPath is one candidate path with its freshness slot.
type CachedPath struct {
	Route *Route
	Slot  uint64
}

type pathCacheKey struct {
	From, To      Mint
	BucketAmount  uint64
	MaxAccounts   int
	Mode          SwapMode
	HotFingerprint uint64
}

type pathCacheEntry struct {
	paths    []CachedPath
	cachedAt time.Time
}

// PathCache is the single-writer-locked cache described in spec §5.
type PathCache struct {
	mu      sync.RWMutex
	entries map[pathCacheKey]pathCacheEntry
	validity time.Duration
	clock    Clock
	group    singleflight.Group
}

func NewPathCache(validity time.Duration, clk Clock) *PathCache {
	return &PathCache{
		entries:  make(map[pathCacheKey]pathCacheEntry),
		validity: validity,
		clock:    clk,
	}
}

// bucketAmount coarsens an amount into a cache-friendly bucket so nearby
// quote sizes share cache entries. Uses a simple log2-scale bucketing.
func bucketAmount(amount uint64) uint64 {
	if amount == 0 {
		return 0
	}
	bits := 0
	for v := amount; v > 1; v >>= 1 {
		bits++
	}
	return uint64(1) << uint(bits)
}

func (c *PathCache) key(from, to Mint, amount uint64, maxAccounts int, mode SwapMode, hotFP uint64) pathCacheKey {
	return pathCacheKey{From: from, To: to, BucketAmount: bucketAmount(amount), MaxAccounts: maxAccounts, Mode: mode, HotFingerprint: hotFP}
}

// Get returns the cached candidates for the key if present and fresh.
func (c *PathCache) Get(from, to Mint, amount uint64, maxAccounts int, mode SwapMode, hotFP uint64) ([]CachedPath, bool) {
	k := c.key(from, to, amount, maxAccounts, mode, hotFP)
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.cachedAt) > c.validity {
		return nil, false
	}
	return e.paths, true
}

// Put installs fresh candidates for the key.
func (c *PathCache) Put(from, to Mint, amount uint64, maxAccounts int, mode SwapMode, hotFP uint64, paths []CachedPath) {
	k := c.key(from, to, amount, maxAccounts, mode, hotFP)
	c.mu.Lock()
	c.entries[k] = pathCacheEntry{paths: paths, cachedAt: c.clock.Now()}
	c.mu.Unlock()
}

// GetOrCompute collapses concurrent misses for the same key into one
// compute call via singleflight, then serves the shared result to all
// callers for that round.
func (c *PathCache) GetOrCompute(from, to Mint, amount uint64, maxAccounts int, mode SwapMode, hotFP uint64, compute func() ([]CachedPath, error)) ([]CachedPath, error) {
	if paths, ok := c.Get(from, to, amount, maxAccounts, mode, hotFP); ok {
		return paths, nil
	}
	k := c.key(from, to, amount, maxAccounts, mode, hotFP)
	sfKey := keyToString(k)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if paths, ok := c.Get(from, to, amount, maxAccounts, mode, hotFP); ok {
			return paths, nil
		}
		paths, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(from, to, amount, maxAccounts, mode, hotFP, paths)
		return paths, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]CachedPath), nil
}

func keyToString(k pathCacheKey) string {
	b := make([]byte, 0, 96)
	b = append(b, k.From[:]...)
	b = append(b, k.To[:]...)
	b = appendUint64(b, k.BucketAmount)
	b = appendUint64(b, uint64(k.MaxAccounts))
	b = append(b, byte(k.Mode))
	b = appendUint64(b, k.HotFingerprint)
	return string(b)
}

func appendUint64(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// Invalidate drops every cached entry. Used by the path warmer after
// prepare_pruned_edges_and_cleanup_cache refreshes pruning against a new
// hot set (spec §4.9).
func (c *PathCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[pathCacheKey]pathCacheEntry)
	c.mu.Unlock()
}
