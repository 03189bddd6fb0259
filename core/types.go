package core

// types.go – shared data types for the swap router core. Centralised here
// the way the teacher centralises cross-module structs in common_structs.go,
// but scoped to this package's own domain instead of the whole node.

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Mint is an opaque 32-byte fungible-token identifier, base58-encoded in its
// textual form the way this chain's account addresses are.
type Mint [32]byte

// String renders the mint as base58, matching the chain's native text form.
func (m Mint) String() string {
	return base58.Encode(m[:])
}

// ParseMint decodes a base58-encoded mint address.
func ParseMint(s string) (Mint, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Mint{}, fmt.Errorf("parse mint %q: %w", s, err)
	}
	if len(b) != 32 {
		return Mint{}, fmt.Errorf("parse mint %q: want 32 bytes, got %d", s, len(b))
	}
	var m Mint
	copy(m[:], b)
	return m, nil
}

// Address is a 32-byte on-chain account address (wallets, vaults, pools).
type Address [32]byte

func (a Address) String() string { return base58.Encode(a[:]) }

// MintIx is the dense integer index assigned to a Mint at graph construction.
type MintIx int32

const invalidMintIx MintIx = -1

// VenueKey names one venue (pool/market/curve account) of one adapter.
type VenueKey string

// SwapMode selects the routing objective.
type SwapMode int

const (
	ExactIn SwapMode = iota
	ExactOut
)

func (m SwapMode) String() string {
	if m == ExactOut {
		return "exact_out"
	}
	return "exact_in"
}

// EdgeIdentifier names a directed trading edge through one venue. Adapters
// produce these; the core treats the AdapterPayload as opaque.
type EdgeIdentifier struct {
	Venue          VenueKey
	InputMint      Mint
	OutputMint     Mint
	AccountsNeeded int
	Descriptor     string
	AdapterPayload any
}

// EdgeKey uniquely names an Edge: (venue, input mint).
type EdgeKey struct {
	Venue     VenueKey
	InputMint Mint
}

func keyOf(id EdgeIdentifier) EdgeKey {
	return EdgeKey{Venue: id.Venue, InputMint: id.InputMint}
}

// Quote is the result of quoting a single edge for a given in-amount
// (exact-in) or out-amount (exact-out).
type Quote struct {
	InAmount  uint64
	OutAmount uint64
	FeeAmount uint64
	FeeMint   Mint
}

// NoLiquiditySentinel is the fee mint used on a no-trade quote, per spec §4.3.
var NoLiquiditySentinel = Mint{}

const maxU64 = ^uint64(0)

// noLiquidityIn is the sentinel "no trade" quote for exact-in mode.
func noLiquidityIn(in uint64) Quote {
	return Quote{InAmount: in, OutAmount: 0, FeeMint: NoLiquiditySentinel}
}

// noLiquidityOut is the sentinel "no trade" quote for exact-out mode.
func noLiquidityOut(out uint64) Quote {
	return Quote{InAmount: maxU64, OutAmount: out, FeeMint: NoLiquiditySentinel}
}

// RouteStep is one materialized hop of a Route.
type RouteStep struct {
	Edge      EdgeIdentifier
	InAmount  uint64
	OutAmount uint64
	FeeAmount uint64
	FeeMint   Mint
}

// Route is a materialized, priced path from InputMint to OutputMint.
type Route struct {
	ID              string
	InputMint       Mint
	OutputMint      Mint
	InAmount        uint64
	OutAmount       uint64
	PriceImpactBps  int
	Slot            uint64
	Steps           []RouteStep
	Accounts        int
	CUEstimate      uint32
}

// SwapInstruction is a single-hop adapter-built instruction ready for
// concatenation by the route materializer.
type SwapInstruction struct {
	Bytes            []byte
	OutputTokenAcct  Address
	OutputMint       Mint
	InAmountOffset   int
	CUEstimate       uint32
}
