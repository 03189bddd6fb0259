package core

// pool.go – the routing engine's object pools (spec §4.6.5). Avoids
// allocating the large per-search scratch tables on every quote by keeping a
// small sync.Pool of pre-shaped structures whose shape is fixed at startup
// from (|mints|, retain_path_count), acquired per search and reset before
// return. Grounded in the object-pool pattern used for hot-path allocation
// avoidance in the arbitrage engine example (internal/bot/engine.go
// priceUpdatePool), generalized here to a shape-aware pool via sync.Pool's
// New hook.

import "sync"

const accountBuckets = 8
const accountBucketWidth = 8

func accountBucket(accountsUsed int) int {
	b := accountsUsed / accountBucketWidth
	if b >= accountBuckets {
		return accountBuckets - 1
	}
	return b
}

// searchCandidate is one entry in a node's top-K table during a search.
type searchCandidate struct {
	amount       uint64 // exact-in: simulated out-amount reaching this node; exact-out: in-amount still needed from this node
	accountsUsed int
	path         []EdgeIdentifier
}

// searchTables is the scratch space one best-path search acquires from the
// pool: best_by_node (shape 8*|mints|, the best amount seen per account
// bucket per node) and best_paths_by_node (shape |mints|*retain_path_count,
// the top-K candidate paths per node).
type searchTables struct {
	numMints        int
	retainPerNode   int
	bestByNode      [][accountBuckets]uint64 // len numMints
	bestPathsByNode [][]searchCandidate      // len numMints, each capacity retainPerNode
}

func newSearchTables(numMints, retainPerNode int) *searchTables {
	t := &searchTables{
		numMints:      numMints,
		retainPerNode: retainPerNode,
	}
	t.grow(numMints)
	return t
}

func (t *searchTables) grow(numMints int) {
	if numMints <= t.numMints && t.bestByNode != nil {
		return
	}
	t.numMints = numMints
	t.bestByNode = make([][accountBuckets]uint64, numMints)
	t.bestPathsByNode = make([][]searchCandidate, numMints)
	for i := range t.bestPathsByNode {
		t.bestPathsByNode[i] = make([]searchCandidate, 0, t.retainPerNode)
	}
}

// reset fills the tables back to their zero/sentinel state for reuse,
// growing them first if the graph has gained mints since they were built.
func (t *searchTables) reset(numMints int) {
	t.grow(numMints)
	for i := 0; i < numMints; i++ {
		t.bestByNode[i] = [accountBuckets]uint64{}
		t.bestPathsByNode[i] = t.bestPathsByNode[i][:0]
	}
}

// SearchPool hands out *searchTables sized for the current graph.
type SearchPool struct {
	mu            sync.Mutex
	retainPerNode int
	pool          sync.Pool
}

func NewSearchPool(retainPerNode int) *SearchPool {
	sp := &SearchPool{retainPerNode: retainPerNode}
	sp.pool.New = func() any { return newSearchTables(0, sp.retainPerNode) }
	return sp
}

// Acquire returns a reset *searchTables shaped for numMints nodes.
func (sp *SearchPool) Acquire(numMints int) *searchTables {
	t := sp.pool.Get().(*searchTables)
	t.reset(numMints)
	return t
}

// Release returns t to the pool.
func (sp *SearchPool) Release(t *searchTables) {
	sp.pool.Put(t)
}
