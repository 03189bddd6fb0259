package core

// dex.go – the DEX adapter contract (spec §4.3). Every AMM integration
// implements this capability set; the core holds a heterogeneous collection
// of Adapter values and dispatches on the interface, the same polymorphism
// style the teacher uses for its Nodes/ family (core/Nodes/index.go defines
// one capability interface satisfied by many node kinds).

import "context"

// SubscriptionKind discriminates how an adapter wants to be fed updates.
type SubscriptionKind int

const (
	SubDisabled SubscriptionKind = iota
	SubAccounts
	SubPrograms
	SubMixed
)

// SubscriptionMode declares what the account pipeline must route to an
// adapter, per spec §4.3.
type SubscriptionMode struct {
	Kind                    SubscriptionKind
	Accounts                map[Address]struct{}
	Programs                map[Address]struct{}
	TokenAccountsForOwners  map[Address]struct{}
}

// ScannedAccount pairs an account's address with its entry, as returned by a
// bulk scan (spec §4.3 "perform bulk account scans to enumerate all venues").
type ScannedAccount struct {
	Address Address
	Entry   AccountEntry
}

// RPCClient is the minimal bulk-scan surface an adapter needs from the
// chain RPC at initialize() time. The concrete client lives outside this
// module's scope (spec §1 Scope: RPC plumbing is external); this interface
// is the seam adapters are built against.
type RPCClient interface {
	GetProgramAccounts(ctx context.Context, program Address) ([]ScannedAccount, error)
	GetMultipleAccounts(ctx context.Context, addresses []Address) ([]ScannedAccount, error)
}

// AdapterOptions carries adapter-specific construction knobs (e.g. which
// pools to include/exclude); left opaque to the core.
type AdapterOptions map[string]any

// Adapter is the uniform interface every AMM integration implements
// (spec §4.3).
type Adapter interface {
	Name() string

	// Initialize performs bulk account scans to enumerate all venues,
	// filters out unusable ones, and returns the directed EdgeIdentifier
	// pairs (a→b, b→a) per venue.
	Initialize(ctx context.Context, rpc RPCClient, opts AdapterOptions) ([]EdgeIdentifier, error)

	SubscriptionMode() SubscriptionMode
	ProgramIDs() []Address

	// EdgesPerPK is the reverse index: when this account changes, these
	// edges are dirty.
	EdgesPerPK() map[Address][]EdgeIdentifier

	// Load assembles adapter-specific pre-quote state for one edge from
	// chain-data. Returns ErrMissingAccount or ErrMalformed on failure.
	Load(id EdgeIdentifier, view *ChainDataView) (LoadedEdge, error)

	Quote(id EdgeIdentifier, loaded LoadedEdge, view *ChainDataView, inAmount uint64) (Quote, error)

	SupportsExactOut(id EdgeIdentifier) bool
	// QuoteExactOut returns the input needed for a target output. If the
	// adapter cannot do exact-out, it returns the sentinel quote
	// (in=MaxUint64, out=0) rather than an error.
	QuoteExactOut(id EdgeIdentifier, loaded LoadedEdge, view *ChainDataView, outAmount uint64) (Quote, error)

	BuildSwapInstruction(id EdgeIdentifier, view *ChainDataView, wallet Address, inAmount, outAmount uint64, maxSlippageBps int) (SwapInstruction, error)
}

// LoadedEdge is adapter-private pre-quote state assembled by Load. The core
// never inspects it; it is passed back into Quote/QuoteExactOut verbatim.
type LoadedEdge any

// Registry holds the fixed set of adapters wired into a running router.
// The set is assumed fixed at process start (spec §9: "a tagged-union
// alternative is valid if the set of adapters is fixed at compile time" —
// here it's fixed at construction instead, which keeps adapters pluggable
// for tests without recompiling).
type Registry struct {
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) Adapters() []Adapter { return r.adapters }

func (r *Registry) ByName(name string) Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}
