package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// pkAdapter is a fakeAdapter variant that also implements EdgesPerPK so the
// updater's markDirty/readiness bookkeeping has something to look up.
type pkAdapter struct {
	fakeAdapter
	byAccount map[Address][]EdgeIdentifier
}

func (p *pkAdapter) EdgesPerPK() map[Address][]EdgeIdentifier { return p.byAccount }

func newTestUpdater(t *testing.T, clk Clock, required map[Address]struct{}, edges []*Edge, adapter Adapter) *EdgeUpdater {
	t.Helper()
	view := NewChainDataView()
	tokens := NewStaticTokenCache(map[Mint]TokenInfo{mintN(1): {Decimals: 6}})
	prices := NewStaticPriceCache(map[Mint]float64{mintN(1): 1.0})
	cfg := DefaultUpdaterConfig()
	return NewEdgeUpdater(adapter, edges, required, view, tokens, prices, []float64{10}, clk, cfg, testLogger())
}

func addrN(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func TestEdgeUpdaterReadinessFlipsOnSuperset(t *testing.T) {
	clk := clock.NewMock()
	acct1, acct2 := addrN(1), addrN(2)
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{acct1: {id}, acct2: {id}}}

	required := map[Address]struct{}{acct1: {}, acct2: {}}
	u := newTestUpdater(t, clk, required, []*Edge{edge}, adapter)

	u.handleWrite(AccountWrite{Address: acct1, Slot: 1})
	select {
	case <-u.Ready():
		t.Fatalf("expected not ready after only one of two required accounts seen")
	default:
	}

	u.handleWrite(AccountWrite{Address: acct2, Slot: 1})
	select {
	case <-u.Ready():
	default:
		t.Fatalf("expected ready once both required accounts have been seen")
	}
}

func TestEdgeUpdaterHandleWriteMarksDirty(t *testing.T) {
	clk := clock.NewMock()
	acct1 := addrN(1)
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{acct1: {id}}}

	u := newTestUpdater(t, clk, map[Address]struct{}{acct1: {}}, []*Edge{edge}, adapter)
	u.handleWrite(AccountWrite{Address: acct1, Slot: 5})

	if _, dirty := u.dirtyEdges[keyOf(id)]; !dirty {
		t.Fatalf("expected edge marked dirty after a write to its account")
	}
	if u.latestSlotPending != 5 {
		t.Fatalf("expected latestSlotPending updated to 5, got %d", u.latestSlotPending)
	}
}

func TestEdgeUpdaterRefreshUpdatesDirtyEdgesOnlyWhenReady(t *testing.T) {
	clk := clock.NewMock()
	acct1 := addrN(1)
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{acct1: {id}}}

	u := newTestUpdater(t, clk, map[Address]struct{}{acct1: {}}, []*Edge{edge}, adapter)

	// not yet ready: refresh should be a no-op even with dirty edges queued.
	u.mu.Lock()
	u.dirtyEdges[keyOf(id)] = struct{}{}
	u.mu.Unlock()
	u.refresh()
	if edge.Valid() {
		t.Fatalf("expected edge untouched before readiness")
	}

	u.handleWrite(AccountWrite{Address: acct1, Slot: 1})
	u.refresh()
	if !edge.Valid() {
		t.Fatalf("expected edge updated and valid after refresh once ready")
	}
	if _, stillDirty := u.dirtyEdges[keyOf(id)]; stillDirty {
		t.Fatalf("expected dirty set cleared after refresh")
	}
}

func TestEdgeUpdaterPriceUpdateMarksMatchingEdgesDirty(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{}}
	u := newTestUpdater(t, clk, nil, []*Edge{edge}, adapter)

	u.handlePriceUpdate(PriceUpdate{Mint: mintN(1), Price: 1.5})
	if _, dirty := u.dirtyEdges[keyOf(id)]; !dirty {
		t.Fatalf("expected edge touching the updated mint marked dirty")
	}
}

func TestEdgeUpdaterCheckSlotLagFiresFatalAfterSustainedGap(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{}}
	u := newTestUpdater(t, clk, nil, []*Edge{edge}, adapter)
	u.cfg.ExcessiveLagThreshold = 5
	u.cfg.ExcessiveLagMaxDuration = time.Second

	u.mu.Lock()
	u.latestSlotPending = 10
	u.mu.Unlock()

	u.checkSlotLag() // gap first observed, starts the lag timer
	select {
	case <-u.Fatal():
		t.Fatalf("expected no fatal signal on first lag observation")
	default:
	}

	clk.Add(2 * time.Second)
	u.checkSlotLag()
	select {
	case err := <-u.Fatal():
		if err != ErrExcessiveSlotLag {
			t.Fatalf("expected ErrExcessiveSlotLag, got %v", err)
		}
	default:
		t.Fatalf("expected fatal signal once the lag has persisted past the max duration")
	}
}

func TestEdgeUpdaterCheckSlotLagResetsWhenGapCloses(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	adapter := &pkAdapter{byAccount: map[Address][]EdgeIdentifier{}}
	u := newTestUpdater(t, clk, nil, []*Edge{edge}, adapter)
	u.cfg.ExcessiveLagThreshold = 5
	u.cfg.ExcessiveLagMaxDuration = time.Second

	u.mu.Lock()
	u.latestSlotPending = 10
	u.mu.Unlock()
	u.checkSlotLag()

	u.mu.Lock()
	u.latestSlotPending = 0
	u.latestSlotProcessed = 0
	u.mu.Unlock()
	u.checkSlotLag() // gap closes, lagging should clear

	clk.Add(2 * time.Second)
	u.mu.Lock()
	u.latestSlotPending = 10
	u.mu.Unlock()
	u.checkSlotLag() // re-enters lag state fresh, should not fire yet

	select {
	case <-u.Fatal():
		t.Fatalf("expected lag timer to have reset after the gap closed")
	default:
	}
}
