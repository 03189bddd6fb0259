package core

// graph.go – the mint-indexed edge graph and its pruned view (spec §4.6.1,
// §4.6.2). Mints get dense MintIx indices at construction; a bitset.BitSet
// per pruned view marks which MintIx values currently have at least one
// outgoing pruned edge, giving the search a cheap "is this node live"
// membership test instead of a map lookup in the hot relaxation loop.

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// MintGraph is the dense adjacency structure the routing engine searches
// over.
type MintGraph struct {
	mu sync.RWMutex

	mintIx map[Mint]MintIx
	mints  []Mint

	outgoing    [][]*Edge // indexed by MintIx
	byDirected  map[[2]Mint][]*Edge
}

// NewMintGraph builds an empty graph.
func NewMintGraph() *MintGraph {
	return &MintGraph{
		mintIx:     make(map[Mint]MintIx),
		byDirected: make(map[[2]Mint][]*Edge),
	}
}

// ixOf returns the dense index for m, assigning a new one if unseen.
func (g *MintGraph) ixOf(m Mint) MintIx {
	if ix, ok := g.mintIx[m]; ok {
		return ix
	}
	ix := MintIx(len(g.mints))
	g.mintIx[m] = ix
	g.mints = append(g.mints, m)
	g.outgoing = append(g.outgoing, nil)
	return ix
}

// AddEdge registers e in the graph (both as dense adjacency and the
// directed-pair index).
func (g *MintGraph) AddEdge(e *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.ixOf(e.id.InputMint)
	g.outgoing[in] = append(g.outgoing[in], e)
	pair := [2]Mint{e.id.InputMint, e.id.OutputMint}
	g.byDirected[pair] = append(g.byDirected[pair], e)
}

// MintIndex returns the dense index for m and whether it is known.
func (g *MintGraph) MintIndex(m Mint) (MintIx, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ix, ok := g.mintIx[m]
	return ix, ok
}

// NumMints reports the number of distinct mints registered so far.
func (g *MintGraph) NumMints() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.mints)
}

// MintAt returns the mint for a dense index.
func (g *MintGraph) MintAt(ix MintIx) Mint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mints[ix]
}

// Outgoing returns all edges (pruned or not) leaving MintIx ix.
func (g *MintGraph) Outgoing(ix MintIx) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.outgoing[ix]...)
}

// DirectedPair returns all edges for (in, out).
func (g *MintGraph) DirectedPair(in, out Mint) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.byDirected[[2]Mint{in, out}]...)
}

//---------------------------------------------------------------------
// Pruned view (spec §4.6.2)
//---------------------------------------------------------------------

// PrunedGraph is the edge-pruned view of a MintGraph for one hot-mint set;
// the same view serves both swap modes.
type PrunedGraph struct {
	outgoing map[MintIx][]*Edge
	incoming map[MintIx][]*Edge
	live     *bitset.BitSet // MintIx values with at least one pruned outgoing edge
	liveIn   *bitset.BitSet // MintIx values with at least one pruned incoming edge
}

// PruneParams bounds how many edges survive per directed pair.
type PruneParams struct {
	MaxEdgePerPair     int
	MaxEdgePerColdPair int
}

// Prune builds the pruned view for the current graph state and hot-mint
// set. Selection: highest price first, ties broken by lower
// accounts_needed; only currently-valid edges are candidates (spec §4.6.2).
func (g *MintGraph) Prune(hot map[Mint]struct{}, params PruneParams) *PrunedGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pruned := &PrunedGraph{
		outgoing: make(map[MintIx][]*Edge),
		incoming: make(map[MintIx][]*Edge),
		live:     bitset.New(uint(len(g.mints))),
		liveIn:   bitset.New(uint(len(g.mints))),
	}

	for pair, edges := range g.byDirected {
		_, inHot := hot[pair[0]]
		_, outHot := hot[pair[1]]
		limit := params.MaxEdgePerColdPair
		if inHot && outHot {
			limit = params.MaxEdgePerPair
		}
		candidates := make([]*Edge, 0, len(edges))
		for _, e := range edges {
			if e.Valid() {
				candidates = append(candidates, e)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			pi, oki := candidates[i].CachedPriceFor(0)
			pj, okj := candidates[j].CachedPriceFor(0)
			if !oki || !okj {
				return oki && !okj
			}
			if pi != pj {
				return pi > pj
			}
			return candidates[i].AccountsNeeded() < candidates[j].AccountsNeeded()
		})
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		if len(candidates) == 0 {
			continue
		}
		inIx := g.mintIx[pair[0]]
		outIx := g.mintIx[pair[1]]
		pruned.outgoing[inIx] = append(pruned.outgoing[inIx], candidates...)
		pruned.incoming[outIx] = append(pruned.incoming[outIx], candidates...)
		pruned.live.Set(uint(inIx))
		pruned.liveIn.Set(uint(outIx))
	}
	return pruned
}

// Outgoing returns the pruned outgoing edges for MintIx ix.
func (p *PrunedGraph) Outgoing(ix MintIx) []*Edge {
	return p.outgoing[ix]
}

// Incoming returns the pruned edges whose output mint is ix, used by the
// exact-out search to walk the graph backward from the destination.
func (p *PrunedGraph) Incoming(ix MintIx) []*Edge {
	return p.incoming[ix]
}

// HasOutgoing reports whether ix has any pruned outgoing edge.
func (p *PrunedGraph) HasOutgoing(ix MintIx) bool {
	return p.live.Test(uint(ix))
}

// HasIncoming reports whether ix has any pruned incoming edge.
func (p *PrunedGraph) HasIncoming(ix MintIx) bool {
	return p.liveIn.Test(uint(ix))
}
