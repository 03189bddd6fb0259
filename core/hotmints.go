package core

// hotmints.go – the hot-mint tracker (spec §4.7): a fixed-capacity LRU over
// recently touched mints, unioned with an always-hot set at read time.
// Built on hashicorp/golang-lru/v2, which is exactly the "bounded LRU set
// with eviction" primitive this wants instead of a hand-rolled
// doubly-linked list + map.

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HotMintTracker implements spec §4.7.
type HotMintTracker struct {
	mu         sync.Mutex
	alwaysHot  map[Mint]struct{}
	recent     *lru.Cache[Mint, struct{}]
}

// NewHotMintTracker builds a tracker with the given always-hot set and LRU
// capacity N.
func NewHotMintTracker(alwaysHot []Mint, capacity int) *HotMintTracker {
	c, err := lru.New[Mint, struct{}](capacity)
	if err != nil {
		// capacity <= 0 is a construction bug, not a runtime condition.
		c, _ = lru.New[Mint, struct{}](1)
	}
	hot := make(map[Mint]struct{}, len(alwaysHot))
	for _, m := range alwaysHot {
		hot[m] = struct{}{}
	}
	return &HotMintTracker{alwaysHot: hot, recent: c}
}

// Add moves mint to most-recently-used. Always-hot mints are not inserted
// into the LRU (and so can never be evicted by it).
func (t *HotMintTracker) Add(m Mint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, always := t.alwaysHot[m]; always {
		return
	}
	t.recent.Add(m, struct{}{})
}

// Get returns the current union of always-hot mints and the LRU window.
func (t *HotMintTracker) Get() map[Mint]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Mint]struct{}, len(t.alwaysHot)+t.recent.Len())
	for m := range t.alwaysHot {
		out[m] = struct{}{}
	}
	for _, m := range t.recent.Keys() {
		out[m] = struct{}{}
	}
	return out
}

// Contains reports whether m is currently hot.
func (t *HotMintTracker) Contains(m Mint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, always := t.alwaysHot[m]; always {
		return true
	}
	return t.recent.Contains(m)
}

// Fingerprint returns a cheap, order-independent stamp of the current hot
// set, used as part of the path-cache key (spec §4.6.4). It is intentionally
// not a cryptographic hash — just stable and collision-unlikely enough for
// cache partitioning within one process's lifetime.
func (t *HotMintTracker) Fingerprint() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Each mint is hashed on its own with FNV-1a and the per-mint hashes are
	// summed, so the result does not depend on iteration order.
	var fp uint64
	mix := func(m Mint) {
		var h uint64 = 1469598103934665603 // FNV-1a offset basis
		for _, b := range m {
			h ^= uint64(b)
			h *= 1099511628211
		}
		fp += h
	}
	for m := range t.alwaysHot {
		mix(m)
	}
	for _, m := range t.recent.Keys() {
		mix(m)
	}
	return fp
}
