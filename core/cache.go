package core

// cache.go – the two small external, read-only inputs every Edge.update
// needs (spec §3: PriceCache, TokenCache). Both are produced by
// collaborators outside this module's scope (a price-feed client, a token
// metadata loader); the core only reads them through these narrow
// interfaces so it never depends on how they're populated.

import "sync"

// TokenInfo is the subset of token metadata the router needs.
type TokenInfo struct {
	Decimals uint8
}

// TokenCache resolves a mint's decimals.
type TokenCache interface {
	Decimals(m Mint) (uint8, bool)
}

// PriceCache resolves a mint's current dollar (UI) price.
type PriceCache interface {
	UIPrice(m Mint) (float64, bool)
}

// mapTokenCache/mapPriceCache are simple in-memory implementations used by
// tests and by the composition root before a real price-feed client is
// wired in.
type mapTokenCache map[Mint]TokenInfo

func (c mapTokenCache) Decimals(m Mint) (uint8, bool) { v, ok := c[m]; return v.Decimals, ok }

type mapPriceCache map[Mint]float64

func (c mapPriceCache) UIPrice(m Mint) (float64, bool) { v, ok := c[m]; return v, ok }

// NewStaticTokenCache and NewStaticPriceCache build the map-backed
// implementations above, handy for tests and for bootstrapping.
func NewStaticTokenCache(m map[Mint]TokenInfo) TokenCache { return mapTokenCache(m) }
func NewStaticPriceCache(m map[Mint]float64) PriceCache   { return mapPriceCache(m) }

// LivePriceCache is the mutable PriceCache implementation the composition
// root wires between the price-update stream (spec §6) and every Edge.update
// call: the stream is this router's only price-feed client, so something
// has to hold the latest value per mint rather than re-deriving it per quote.
type LivePriceCache struct {
	mu     sync.RWMutex
	prices map[Mint]float64
}

// NewLivePriceCache constructs an empty live price cache.
func NewLivePriceCache() *LivePriceCache {
	return &LivePriceCache{prices: make(map[Mint]float64)}
}

func (c *LivePriceCache) UIPrice(m Mint) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.prices[m]
	return v, ok
}

// Set installs the latest observed UI price for m.
func (c *LivePriceCache) Set(m Mint, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[m] = price
}
