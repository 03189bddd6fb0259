package core

import (
	"testing"
	"time"

	gclock "github.com/benbjohnson/clock"
)

// buildEdge wires a fake, always-valid two-mint edge with a fixed price
// into graph, keyed under venue.
func buildEdge(t *testing.T, graph *MintGraph, clk Clock, venue VenueKey, in, out Mint, price float64, accounts int) *Edge {
	t.Helper()
	id := EdgeIdentifier{Venue: venue, InputMint: in, OutputMint: out, AccountsNeeded: accounts}
	e := NewEdge(id, &fakeAdapter{price: price}, clk, testLogger())
	view := NewChainDataView()
	tokens := NewStaticTokenCache(map[Mint]TokenInfo{in: {Decimals: 6}})
	prices := NewStaticPriceCache(map[Mint]float64{in: 1.0})
	e.Update(view, tokens, prices, []float64{1, 10, 100, 1000, 10000})
	graph.AddEdge(e)
	return e
}

func newTestEngine(t *testing.T, graph *MintGraph) *RoutingEngine {
	t.Helper()
	clk := gclock.NewMock()
	hot := NewHotMintTracker(nil, 64)
	prices := NewStaticPriceCache(nil)
	tokens := NewStaticTokenCache(nil)
	params := DefaultRoutingParams()
	return NewRoutingEngine(graph, hot, prices, tokens, clk, params, testLogger())
}

func TestBestQuoteSingleHop(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b := mintN(1), mintN(2)
	buildEdge(t, graph, clk, "v1", a, b, 2.0, 2)

	engine := newTestEngine(t, graph)
	route, err := engine.BestQuote(a, b, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(route.Steps) != 1 {
		t.Fatalf("expected 1 hop, got %d", len(route.Steps))
	}
	if route.OutAmount != 200 {
		t.Fatalf("expected out amount 200, got %d", route.OutAmount)
	}
}

func TestBestQuoteMultiHopWhenDirectEdgeExceedsAccountBudget(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b, c := mintN(1), mintN(2), mintN(3)
	// direct a->c edge, 5 accounts, price 2.5
	buildEdge(t, graph, clk, "direct", a, c, 2.5, 5)
	// two-hop a->b->c, 2+2 accounts, combined price 1.5*1.5=2.25 (worse output
	// than the direct edge). The budget below fits the 2-hop's 4 accounts but
	// not the direct edge's 5, so only the multi-hop route is admissible.
	buildEdge(t, graph, clk, "hop1", a, b, 1.5, 2)
	buildEdge(t, graph, clk, "hop2", b, c, 1.5, 2)

	engine := newTestEngine(t, graph)

	// budget excludes the 5-account direct edge but allows the two 2-account hops.
	route, err := engine.BestQuote(a, c, 100, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(route.Steps) != 2 {
		t.Fatalf("expected 2-hop route when direct edge exceeds account budget, got %d steps", len(route.Steps))
	}
	if route.Accounts != 4 {
		t.Fatalf("expected 4 accounts used, got %d", route.Accounts)
	}
}

func TestBestQuoteNoRouteWhenMintsUnknown(t *testing.T) {
	graph := NewMintGraph()
	engine := newTestEngine(t, graph)
	_, err := engine.BestQuote(mintN(1), mintN(2), 100, 10)
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestBestQuoteExactOutSingleHop(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b := mintN(1), mintN(2)
	buildEdge(t, graph, clk, "v1", a, b, 2.0, 2)

	engine := newTestEngine(t, graph)
	route, err := engine.BestQuoteExactOut(a, b, 200, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.OutAmount != 200 {
		t.Fatalf("expected out amount 200, got %d", route.OutAmount)
	}
	if route.InAmount == 0 {
		t.Fatalf("expected a positive computed in-amount")
	}
	if route.InputMint != a || route.OutputMint != b {
		t.Fatalf("expected route from %v to %v, got %v->%v", a, b, route.InputMint, route.OutputMint)
	}
}

func TestBestQuoteExactOutMultiHopStepOrderIsForward(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b, c := mintN(1), mintN(2), mintN(3)
	buildEdge(t, graph, clk, "hop1", a, b, 2.0, 2)
	buildEdge(t, graph, clk, "hop2", b, c, 2.0, 2)

	engine := newTestEngine(t, graph)
	route, err := engine.BestQuoteExactOut(a, c, 400, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(route.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(route.Steps))
	}
	// testable property 4: exact-out's backward search result must be
	// reversed back into from->to order before materialization.
	if route.Steps[0].Edge.InputMint != a || route.Steps[0].Edge.OutputMint != b {
		t.Fatalf("expected first step a->b, got %v->%v", route.Steps[0].Edge.InputMint, route.Steps[0].Edge.OutputMint)
	}
	if route.Steps[1].Edge.InputMint != b || route.Steps[1].Edge.OutputMint != c {
		t.Fatalf("expected second step b->c, got %v->%v", route.Steps[1].Edge.InputMint, route.Steps[1].Edge.OutputMint)
	}
}

func TestBestQuoteRespectsAccountBudget(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b := mintN(1), mintN(2)
	buildEdge(t, graph, clk, "v1", a, b, 2.0, 50)

	engine := newTestEngine(t, graph)
	_, err := engine.BestQuote(a, b, 100, 10)
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute when the only edge exceeds the account budget, got %v", err)
	}
}

func TestSafetyCheckRejectsBadRatio(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b := mintN(1), mintN(2)
	buildEdge(t, graph, clk, "v1", a, b, 0.0001, 2) // terrible rate

	hot := NewHotMintTracker(nil, 64)
	tokens := NewStaticTokenCache(map[Mint]TokenInfo{a: {Decimals: 6}, b: {Decimals: 6}})
	prices := NewStaticPriceCache(map[Mint]float64{a: 1.0, b: 1.0})
	params := DefaultRoutingParams()
	params.CheckQuoteOutAmountDeviation = true
	params.MinQuoteOutToInAmountRatio = 0.5
	engine := NewRoutingEngine(graph, hot, prices, tokens, clk, params, testLogger())

	_, err := engine.BestQuote(a, b, 1_000_000, 10)
	if err == nil {
		t.Fatalf("expected a BadRouteError for a far-below-ratio quote")
	}
	if _, ok := err.(*BadRouteError); !ok {
		t.Fatalf("expected *BadRouteError, got %T: %v", err, err)
	}
}

func TestPathCacheServesRepeatQueriesUntilInvalidated(t *testing.T) {
	graph := NewMintGraph()
	clk := gclock.NewMock()
	a, b := mintN(1), mintN(2)
	buildEdge(t, graph, clk, "v1", a, b, 2.0, 2)

	hot := NewHotMintTracker(nil, 64)
	tokens := NewStaticTokenCache(nil)
	prices := NewStaticPriceCache(nil)
	params := DefaultRoutingParams()
	params.PathCacheValidity = time.Hour
	engine := NewRoutingEngine(graph, hot, prices, tokens, clk, params, testLogger())

	r1, err := engine.BestQuote(a, b, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := engine.BestQuote(a, b, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1.ID != r2.ID {
		t.Fatalf("expected the second identical query to be served from cache (same route ID)")
	}

	engine.PreparePrunedEdgesAndCleanupCache()
	r3, err := engine.BestQuote(a, b, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r3.ID == r1.ID {
		t.Fatalf("expected a fresh route ID after the cache was invalidated")
	}
}
