package core

// edge.go – per-directed-pair, per-pool state (spec §3 Edge, §4.4). Owned
// once by its adapter at startup, mutated only by the edge updater that
// owns the adapter, under a single-writer/multi-reader lock per EdgeState
// (spec §5) — the same "one mutex per mutable aggregate, short critical
// section, never held across an await/RPC" discipline the teacher uses for
// Pool in core/liquidity_pools.go.

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LadderPoint is one sampled (in_amount, price) pair on an edge's price
// ladder, plus its natural log for the search's additive cost space.
type LadderPoint struct {
	InAmount uint64
	Price    float64
	LnPrice  float64
}

// EdgeState is the mutable, lock-protected half of an Edge.
type EdgeState struct {
	mu sync.RWMutex

	priceLadder []LadderPoint // ascending by InAmount
	valid       bool

	lastUpdateWallMS int64
	lastUpdateSlot   uint64

	cooldownEvents   uint64
	cooldownUntilMS  int64 // 0 means unset
	hasCooldown      bool
}

// Edge is a directed trading relationship between two mints through one
// venue of one adapter (spec §3).
type Edge struct {
	id             EdgeIdentifier
	adapter        Adapter
	accountsNeeded int

	state EdgeState

	clock  Clock
	logger *log.Logger
}

// NewEdge constructs an Edge from an adapter-issued identifier. Created
// once at startup; never destroyed until process exit (spec §4.4 Lifecycle).
func NewEdge(id EdgeIdentifier, adapter Adapter, clk Clock, logger *log.Logger) *Edge {
	return &Edge{
		id:             id,
		adapter:        adapter,
		accountsNeeded: id.AccountsNeeded,
		clock:          clk,
		logger:         logger,
	}
}

func (e *Edge) ID() EdgeIdentifier  { return e.id }
func (e *Edge) Key() EdgeKey        { return keyOf(e.id) }
func (e *Edge) AccountsNeeded() int { return e.accountsNeeded }

// Update refreshes the edge's price ladder against the current chain-data
// snapshot (spec §4.4 Edge.update).
func (e *Edge) Update(view *ChainDataView, tokens TokenCache, prices PriceCache, warmupAmounts []float64) {
	s := &e.state

	decimals, okDec := tokens.Decimals(e.id.InputMint)
	uiPrice, okPrice := prices.UIPrice(e.id.InputMint)
	if !okDec || !okPrice {
		e.invalidate(s)
		return
	}

	nativeAmounts := make([]uint64, 0, len(warmupAmounts))
	for _, u := range warmupAmounts {
		native, ok := uiToNative(u, uiPrice, decimals)
		if !ok {
			e.invalidate(s)
			return
		}
		nativeAmounts = append(nativeAmounts, native)
	}

	loaded, err := e.adapter.Load(e.id, view)
	if err != nil {
		e.logger.WithFields(log.Fields{"edge": e.id.Descriptor, "err": err}).Debug("edge load failed")
		e.invalidate(s)
		return
	}

	ladder := make([]LadderPoint, 0, len(nativeAmounts))
	for _, in := range nativeAmounts {
		q, err := e.adapter.Quote(e.id, loaded, view, in)
		if err != nil || q.InAmount == 0 || q.OutAmount == 0 {
			continue
		}
		price := float64(q.OutAmount) / float64(q.InAmount)
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			continue
		}
		ladder = append(ladder, LadderPoint{InAmount: q.InAmount, Price: price, LnPrice: math.Log(price)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceLadder = ladder
	s.valid = len(ladder) > 0
	s.lastUpdateWallMS = e.clock.Now().UnixMilli()
	newSlot := view.NewestProcessedSlot()
	if newSlot > s.lastUpdateSlot {
		s.lastUpdateSlot = newSlot
	}
	if s.hasCooldown && e.clock.Now().UnixMilli() >= s.cooldownUntilMS {
		s.hasCooldown = false
		s.cooldownUntilMS = 0
	}
}

func (e *Edge) invalidate(s *EdgeState) {
	s.mu.Lock()
	s.valid = false
	s.lastUpdateWallMS = e.clock.Now().UnixMilli()
	s.mu.Unlock()
}

// uiToNative computes ceil((u / ui_price) * 10^decimals), reporting false on
// overflow/NaN (spec §4.4 step 2).
func uiToNative(u, uiPrice float64, decimals uint8) (uint64, bool) {
	if uiPrice <= 0 || math.IsNaN(uiPrice) || math.IsInf(uiPrice, 0) {
		return 0, false
	}
	scale := math.Pow(10, float64(decimals))
	f := math.Ceil((u / uiPrice) * scale)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= float64(maxU64) {
		return 0, false
	}
	return uint64(f), true
}

// Valid reports whether the edge's ladder is usable for routing right now,
// i.e. valid and not cooling down (spec §3 invariant).
func (e *Edge) Valid() bool {
	s := &e.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid && !s.hasCooldown
}

// State returns a read snapshot of the mutable fields, for diagnostics/tests.
func (e *Edge) State() (valid bool, ladder []LadderPoint, lastSlot uint64, cooldownUntilMS int64, hasCooldown bool) {
	s := &e.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LadderPoint, len(s.priceLadder))
	copy(out, s.priceLadder)
	return s.valid, out, s.lastUpdateSlot, s.cooldownUntilMS, s.hasCooldown
}

// CachedPriceFor returns the price of the smallest ladder in-amount >= x,
// falling back to the largest in-amount's price (spec §4.4, testable
// property 5). Returns ok=false if invalid, cooling down, or empty.
func (e *Edge) CachedPriceFor(inAmount uint64) (price float64, ok bool) {
	s := &e.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid || s.hasCooldown || len(s.priceLadder) == 0 {
		return 0, false
	}
	for _, p := range s.priceLadder {
		if p.InAmount >= inAmount {
			return p.Price, true
		}
	}
	return s.priceLadder[len(s.priceLadder)-1].Price, true
}

// CachedPriceExactOutFor finds the smallest ladder entry where
// in_amount*price >= out_amount, falling back to the largest, and returns
// 1/price (spec §4.4).
func (e *Edge) CachedPriceExactOutFor(outAmount uint64) (reciprocalPrice float64, ok bool) {
	s := &e.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid || s.hasCooldown || len(s.priceLadder) == 0 {
		return 0, false
	}
	for _, p := range s.priceLadder {
		if float64(p.InAmount)*p.Price >= float64(outAmount) {
			return 1 / p.Price, true
		}
	}
	last := s.priceLadder[len(s.priceLadder)-1]
	return 1 / last.Price, true
}

// AddCooldown applies an exponential cool-down after an execution failure
// (spec §4.4). factor = round(events * 1.2^events), capped by saturating
// the event counter at 5 before computing the factor.
func (e *Edge) AddCooldown(baseMS int64) {
	s := &e.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cooldownEvents < math.MaxUint64 {
		s.cooldownEvents++
	}
	events := s.cooldownEvents
	capped := events
	if capped > 5 {
		capped = 5
	}
	factor := math.Round(float64(capped) * math.Pow(1.2, float64(capped)))
	deadline := e.clock.Now().UnixMilli() + int64(float64(baseMS)*factor)

	if !s.hasCooldown || deadline > s.cooldownUntilMS {
		s.cooldownUntilMS = deadline
	}
	s.hasCooldown = true
}

// ResetCooldown clears the cool-down deadline. It preserves cooldownEvents
// (Open Question #2 in SPEC_FULL.md: the existing behavior does not reset
// the exponential factor, so we keep that behavior).
func (e *Edge) ResetCooldown() {
	s := &e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCooldown = false
	s.cooldownUntilMS = 0
}

// cooldownRemaining reports time.Duration until cool-down clears, for tests.
func (e *Edge) cooldownRemaining(now time.Time) time.Duration {
	s := &e.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCooldown {
		return 0
	}
	d := time.Duration(s.cooldownUntilMS-now.UnixMilli()) * time.Millisecond
	if d < 0 {
		return 0
	}
	return d
}
