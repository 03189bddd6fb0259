package core

// routing.go – the routing engine (spec §4.6). Builds the mint-indexed
// graph, prunes per hot set, performs the bounded-hop best-path search
// under an account budget, and caches results. In place of the teacher's
// heap-driven Dijkstra from core/amm.go's bestPath, the search relaxes a
// frontier of mints once per hop over plain amounts, bounded by hop count,
// and retains the top-K candidates per node (not just the single best) so
// the path cache can hold more than the winner.

import (
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RoutingParams are the engine's tunables (spec §4.6.3).
type RoutingParams struct {
	MaxPathLength      int
	RetainPathCount    int
	Overquote          float64
	PathCacheValidity  time.Duration
	Prune              PruneParams

	CheckQuoteOutAmountDeviation bool
	MinQuoteOutToInAmountRatio   float64
}

// DefaultRoutingParams mirrors the defaults spec.md calls out.
func DefaultRoutingParams() RoutingParams {
	return RoutingParams{
		MaxPathLength:     4,
		RetainPathCount:   5,
		Overquote:         0.0,
		PathCacheValidity: 400 * time.Millisecond,
		Prune: PruneParams{
			MaxEdgePerPair:     3,
			MaxEdgePerColdPair: 1,
		},
		CheckQuoteOutAmountDeviation: false,
		MinQuoteOutToInAmountRatio:   0,
	}
}

// RoutingEngine is the component described in spec §4.6.
type RoutingEngine struct {
	graph     *MintGraph
	hotMints  *HotMintTracker
	cache     *PathCache
	pool      *SearchPool
	params    RoutingParams
	prices    PriceCache
	tokens    TokenCache
	clock     Clock
	logger    *log.Logger

	prunedIn  *PrunedGraph
	prunedOut *PrunedGraph
}

// NewRoutingEngine wires a graph, hot-mint tracker, price/token caches, and
// params into a ready-to-query engine.
func NewRoutingEngine(graph *MintGraph, hot *HotMintTracker, prices PriceCache, tokens TokenCache, clk Clock, params RoutingParams, logger *log.Logger) *RoutingEngine {
	return &RoutingEngine{
		graph:    graph,
		hotMints: hot,
		cache:    NewPathCache(params.PathCacheValidity, clk),
		pool:     NewSearchPool(params.RetainPathCount),
		params:   params,
		prices:   prices,
		tokens:   tokens,
		clock:    clk,
		logger:   logger,
	}
}

// PreparePrunedEdgesAndCleanupCache rebuilds the pruned view against the
// current hot-mint set and drops the path cache (spec §4.9).
func (r *RoutingEngine) PreparePrunedEdgesAndCleanupCache() {
	hot := r.hotMints.Get()
	r.prunedIn = r.graph.Prune(hot, r.params.Prune)
	r.prunedOut = r.prunedIn
	r.cache.Invalidate()
}

func (r *RoutingEngine) prunedView() *PrunedGraph {
	if r.prunedIn == nil {
		r.PreparePrunedEdgesAndCleanupCache()
	}
	return r.prunedIn
}

// BestQuote runs the exact-in bounded-hop search (spec §4.6.3).
func (r *RoutingEngine) BestQuote(from, to Mint, amount uint64, maxAccounts int) (*Route, error) {
	r.hotMints.Add(from)
	r.hotMints.Add(to)
	hotFP := r.hotMints.Fingerprint()

	cached, err := r.cache.GetOrCompute(from, to, amount, maxAccounts, ExactIn, hotFP, func() ([]CachedPath, error) {
		return r.search(from, to, amount, maxAccounts, ExactIn)
	})
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, ErrNoRoute
	}
	route := cached[0].Route
	if err := r.safetyCheck(route); err != nil {
		return nil, err
	}
	return route, nil
}

// BestQuoteExactOut mirrors BestQuote for a fixed target output amount.
func (r *RoutingEngine) BestQuoteExactOut(from, to Mint, outAmount uint64, maxAccounts int) (*Route, error) {
	r.hotMints.Add(from)
	r.hotMints.Add(to)
	hotFP := r.hotMints.Fingerprint()

	cached, err := r.cache.GetOrCompute(from, to, outAmount, maxAccounts, ExactOut, hotFP, func() ([]CachedPath, error) {
		return r.search(from, to, outAmount, maxAccounts, ExactOut)
	})
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, ErrNoRoute
	}
	route := cached[0].Route
	if err := r.safetyCheck(route); err != nil {
		return nil, err
	}
	return route, nil
}

// PrepareCacheForInputMint pre-populates the path cache for one mint across
// the given (amount, max_accounts) pairs and both swap modes, driven by the
// path warmer (spec §4.6.4, §4.9).
func (r *RoutingEngine) PrepareCacheForInputMint(mint Mint, pairs []WarmPair, to Mint) {
	for _, p := range pairs {
		_, _ = r.cache.GetOrCompute(mint, to, p.Amount, p.MaxAccounts, ExactIn, r.hotMints.Fingerprint(), func() ([]CachedPath, error) {
			return r.search(mint, to, p.Amount, p.MaxAccounts, ExactIn)
		})
		_, _ = r.cache.GetOrCompute(mint, to, p.Amount, p.MaxAccounts, ExactOut, r.hotMints.Fingerprint(), func() ([]CachedPath, error) {
			return r.search(mint, to, p.Amount, p.MaxAccounts, ExactOut)
		})
	}
}

// WarmPair is one (amount, max_accounts) combination the warmer sweeps.
type WarmPair struct {
	Amount      uint64
	MaxAccounts int
}

//---------------------------------------------------------------------
// Search
//---------------------------------------------------------------------

func (r *RoutingEngine) search(from, to Mint, amount uint64, maxAccounts int, mode SwapMode) ([]CachedPath, error) {
	pruned := r.prunedView()
	numMints := r.graph.NumMints()
	tables := r.pool.Acquire(numMints)
	defer r.pool.Release(tables)

	fromIx, ok := r.graph.MintIndex(from)
	if !ok {
		return nil, ErrNoRoute
	}
	toIx, ok := r.graph.MintIndex(to)
	if !ok {
		return nil, ErrNoRoute
	}

	// exact-in walks forward from `from` maximizing out-amount; exact-out
	// walks backward from `to` minimizing the in-amount still required
	// (spec §4.6.3: "initializing at to_mint ... using reciprocal prices").
	startIx, targetIx := fromIx, toIx
	startAmount := amount
	if mode == ExactIn && r.params.Overquote > 0 {
		startAmount = uint64(math.Ceil(float64(amount) * (1 + r.params.Overquote)))
	}
	if mode == ExactOut {
		startIx, targetIx = toIx, fromIx
	}

	insert(tables, startIx, searchCandidate{amount: startAmount, accountsUsed: 0, path: nil}, r.params.RetainPathCount, mode)
	frontier := []MintIx{startIx}

	for hop := 0; hop < r.params.MaxPathLength && len(frontier) > 0; hop++ {
		next := map[MintIx]struct{}{}
		for _, u := range frontier {
			var edges []*Edge
			if mode == ExactIn {
				if !pruned.HasOutgoing(u) {
					continue
				}
				edges = pruned.Outgoing(u)
			} else {
				if !pruned.HasIncoming(u) {
					continue
				}
				edges = pruned.Incoming(u)
			}
			for _, cand := range tables.bestPathsByNode[u] {
				for _, e := range edges {
					var v MintIx
					var ok bool
					if mode == ExactIn {
						v, ok = r.graph.MintIndex(e.id.OutputMint)
					} else {
						v, ok = r.graph.MintIndex(e.id.InputMint)
					}
					if !ok {
						continue
					}
					accountsUsed := cand.accountsUsed + e.AccountsNeeded()
					if accountsUsed > maxAccounts {
						continue
					}
					var newAmount uint64
					if mode == ExactIn {
						price, o := e.CachedPriceFor(cand.amount)
						if !o {
							continue
						}
						newAmount = uint64(float64(cand.amount) * price)
					} else {
						recip, o := e.CachedPriceExactOutFor(cand.amount)
						if !o {
							continue
						}
						newAmount = uint64(math.Ceil(float64(cand.amount) * recip))
					}
					if newAmount == 0 {
						continue
					}
					path := append(append([]EdgeIdentifier(nil), cand.path...), e.id)
					if insert(tables, v, searchCandidate{amount: newAmount, accountsUsed: accountsUsed, path: path}, r.params.RetainPathCount, mode) {
						next[v] = struct{}{}
					}
				}
			}
		}
		frontier = frontier[:0]
		for ix := range next {
			frontier = append(frontier, ix)
		}
	}

	finalists := tables.bestPathsByNode[targetIx]
	if len(finalists) == 0 {
		return nil, ErrNoRoute
	}

	results := make([]CachedPath, 0, len(finalists))
	slot := uint64(0)
	for _, c := range finalists {
		if mode == ExactOut {
			// edges were accumulated walking backward from `to`; reverse
			// to restore from->to order (testable property 4).
			c.path = reverseEdges(c.path)
		}
		route := r.materializeCandidate(from, to, amount, mode, c, slot)
		results = append(results, CachedPath{Route: route, Slot: slot})
	}
	// insert() keeps bestPathsByNode ranked best-first for the given mode,
	// so finalists[0] is always the winner.
	return results, nil
}

func reverseEdges(in []EdgeIdentifier) []EdgeIdentifier {
	out := make([]EdgeIdentifier, len(in))
	for i, e := range in {
		out[len(in)-1-i] = e
	}
	return out
}

// insert attempts to add c into node ix's top-K table, keyed by
// (accounts_used, -ln(amount)) for exact-in (prefer fewer accounts, then
// larger out-amount) or (accounts_used, +ln(amount)) for exact-out (prefer
// fewer accounts, then smaller required in-amount), per spec §4.6.3.
// Returns true if the table changed.
func insert(t *searchTables, ix MintIx, c searchCandidate, retain int, mode SwapMode) bool {
	bucket := accountBucket(c.accountsUsed)
	if better(c.amount, t.bestByNode[ix][bucket], mode) || t.bestByNode[ix][bucket] == 0 {
		t.bestByNode[ix][bucket] = c.amount
	}

	list := t.bestPathsByNode[ix]
	for _, existing := range list {
		if existing.accountsUsed <= c.accountsUsed && !better(c.amount, existing.amount, mode) {
			return false
		}
	}
	list = append(list, c)
	sortCandidates(list, mode)
	if len(list) > retain {
		list = list[:retain]
	}
	t.bestPathsByNode[ix] = list
	return true
}

// better reports whether amount a beats amount b for the given mode:
// exact-in prefers larger (more output), exact-out prefers smaller (less
// input required).
func better(a, b uint64, mode SwapMode) bool {
	if mode == ExactIn {
		return a > b
	}
	return a < b
}

func sortCandidates(list []searchCandidate, mode SwapMode) {
	// simple insertion sort: retain is small (default 5), so this is
	// cheaper than pulling in sort.Slice's reflection overhead per insert.
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && less(list[j], list[j-1], mode); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

// less ranks candidates best-first: fewer accounts used wins; ties broken
// by the mode-appropriate amount preference.
func less(a, b searchCandidate, mode SwapMode) bool {
	if a.accountsUsed != b.accountsUsed {
		return a.accountsUsed < b.accountsUsed
	}
	return better(a.amount, b.amount, mode)
}

//---------------------------------------------------------------------
// Materialization and safety check (spec §4.6.3, §4.6.6)
//---------------------------------------------------------------------

// materializeCandidate replays a candidate path's cached ladder prices
// forward from the true starting in-amount to produce per-hop in/out
// amounts, regardless of which direction the search walked to find it.
func (r *RoutingEngine) materializeCandidate(from, to Mint, requestedAmount uint64, mode SwapMode, c searchCandidate, slot uint64) *Route {
	inAmount := requestedAmount
	if mode == ExactOut {
		// c.amount is the in-amount the backward search determined is
		// needed at `from` to produce the requested out-amount at `to`.
		inAmount = c.amount
	}

	steps := make([]RouteStep, 0, len(c.path))
	cur := inAmount
	totalAccounts := 0
	for _, id := range c.path {
		var outAmount uint64
		if e := r.findEdge(id); e != nil {
			if price, ok := e.CachedPriceFor(cur); ok {
				outAmount = uint64(float64(cur) * price)
			}
		}
		steps = append(steps, RouteStep{Edge: id, InAmount: cur, OutAmount: outAmount})
		totalAccounts += id.AccountsNeeded
		cur = outAmount
	}

	return &Route{
		ID:         uuid.NewString(),
		InputMint:  from,
		OutputMint: to,
		InAmount:   inAmount,
		OutAmount:  cur,
		Slot:       slot,
		Steps:      steps,
		Accounts:   totalAccounts,
	}
}

// findEdge resolves an EdgeIdentifier back to its live *Edge via the
// directed-pair index, matching on venue since a pair can carry several
// venues' edges.
func (r *RoutingEngine) findEdge(id EdgeIdentifier) *Edge {
	want := keyOf(id)
	for _, e := range r.graph.DirectedPair(id.InputMint, id.OutputMint) {
		if e.Key() == want {
			return e
		}
	}
	return nil
}

// safetyCheck enforces the post-route USD out/in ratio floor (spec §4.6.6).
// A no-op unless the engine was configured to check it.
func (r *RoutingEngine) safetyCheck(route *Route) error {
	if route == nil {
		return ErrNoRoute
	}
	if !r.params.CheckQuoteOutAmountDeviation || r.params.MinQuoteOutToInAmountRatio <= 0 {
		return nil
	}
	inUSD, ok := r.usdValue(route.InputMint, route.InAmount)
	if !ok {
		return ErrMissingPrice
	}
	outUSD, ok := r.usdValue(route.OutputMint, route.OutAmount)
	if !ok {
		return ErrMissingPrice
	}
	if inUSD <= 0 {
		return ErrMissingPrice
	}
	if outUSD/inUSD < r.params.MinQuoteOutToInAmountRatio {
		return &BadRouteError{InUSD: inUSD, OutUSD: outUSD, MinRatio: r.params.MinQuoteOutToInAmountRatio}
	}
	return nil
}

func (r *RoutingEngine) usdValue(mint Mint, amount uint64) (float64, bool) {
	decimals, ok := r.tokens.Decimals(mint)
	if !ok {
		return 0, false
	}
	uiPrice, ok := r.prices.UIPrice(mint)
	if !ok {
		return 0, false
	}
	ui := float64(amount) / math.Pow(10, float64(decimals))
	return ui * uiPrice, true
}
