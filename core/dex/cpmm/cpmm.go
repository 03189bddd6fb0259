// Package cpmm implements the core.Adapter contract for constant-product
// (x*y=k) pools: two token vaults, a single fee-bps parameter, swaps priced
// by the invariant. Pricing math is carried over from the teacher's
// AMM.Swap/Quote in core/liquidity_pools.go and core/amm.go, with the
// ledger-transfer side effects stripped out — this adapter only reads
// chain-data and quotes, it never moves funds itself.
package cpmm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"

	log "github.com/sirupsen/logrus"

	"swaprouter/core"
)

// accountLayout is the byte layout this adapter expects for a pool account:
//
//	0:32    mint A
//	32:64   mint B
//	64:96   vault A (token account holding reserve A)
//	96:128  vault B (token account holding reserve B)
//	128:136 reserve A (u64 LE, mirrors the vault balance at last sync)
//	136:144 reserve B (u64 LE)
//	144:146 fee bps (u16 LE)
const accountLayoutLen = 146

const defaultFeeBps = 30

type poolState struct {
	address core.Address
	mintA   core.Mint
	mintB   core.Mint
	vaultA  core.Address
	vaultB  core.Address
	reserveA uint64
	reserveB uint64
	feeBps  uint16
}

func parsePool(address core.Address, data []byte) (*poolState, error) {
	if len(data) < accountLayoutLen {
		return nil, core.ErrMalformed
	}
	p := &poolState{address: address}
	copy(p.mintA[:], data[0:32])
	copy(p.mintB[:], data[32:64])
	copy(p.vaultA[:], data[64:96])
	copy(p.vaultB[:], data[96:128])
	p.reserveA = binary.LittleEndian.Uint64(data[128:136])
	p.reserveB = binary.LittleEndian.Uint64(data[136:144])
	p.feeBps = binary.LittleEndian.Uint16(data[144:146])
	if p.feeBps == 0 {
		p.feeBps = defaultFeeBps
	}
	return p, nil
}

// Adapter is the constant-product DEX integration.
type Adapter struct {
	programID core.Address
	pools     map[core.Address]core.Address // pool address -> pool address (enumerated set)
	edgesByPK map[core.Address][]core.EdgeIdentifier
	logger    *log.Logger
}

// New constructs a cpmm Adapter for the given on-chain program.
func New(programID core.Address, logger *log.Logger) *Adapter {
	return &Adapter{
		programID: programID,
		pools:     make(map[core.Address]core.Address),
		edgesByPK: make(map[core.Address][]core.EdgeIdentifier),
		logger:    logger,
	}
}

func (a *Adapter) Name() string { return "cpmm" }

// Initialize bulk-scans the program's pool accounts, filters malformed or
// zero-reserve pools, and builds the a→b/b→a EdgeIdentifier pair per pool
// (spec §4.3).
func (a *Adapter) Initialize(ctx context.Context, rpc core.RPCClient, opts core.AdapterOptions) ([]core.EdgeIdentifier, error) {
	entries, err := rpc.GetProgramAccounts(ctx, a.programID)
	if err != nil {
		return nil, err
	}

	var edges []core.EdgeIdentifier
	for _, e := range entries {
		pool, perr := parsePool(e.Address, e.Entry.Bytes)
		if perr != nil {
			continue
		}
		if pool.reserveA == 0 || pool.reserveB == 0 {
			continue
		}
		a.pools[pool.address] = pool.address

		forward := core.EdgeIdentifier{
			Venue:          core.VenueKey(fmt.Sprintf("cpmm:%s", pool.address.String())),
			InputMint:      pool.mintA,
			OutputMint:     pool.mintB,
			AccountsNeeded: 4, // pool, vaultA, vaultB, program
			Descriptor:     fmt.Sprintf("cpmm pool %s (%s->%s)", pool.address.String(), pool.mintA.String(), pool.mintB.String()),
			AdapterPayload: pool.address,
		}
		backward := core.EdgeIdentifier{
			Venue:          core.VenueKey(fmt.Sprintf("cpmm:%s", pool.address.String())),
			InputMint:      pool.mintB,
			OutputMint:     pool.mintA,
			AccountsNeeded: 4,
			Descriptor:     fmt.Sprintf("cpmm pool %s (%s->%s)", pool.address.String(), pool.mintB.String(), pool.mintA.String()),
			AdapterPayload: pool.address,
		}
		edges = append(edges, forward, backward)
		a.edgesByPK[pool.address] = append(a.edgesByPK[pool.address], forward, backward)
	}
	return edges, nil
}

func (a *Adapter) SubscriptionMode() core.SubscriptionMode {
	accounts := make(map[core.Address]struct{}, len(a.pools))
	for addr := range a.pools {
		accounts[addr] = struct{}{}
	}
	return core.SubscriptionMode{Kind: core.SubAccounts, Accounts: accounts}
}

func (a *Adapter) ProgramIDs() []core.Address { return []core.Address{a.programID} }

func (a *Adapter) EdgesPerPK() map[core.Address][]core.EdgeIdentifier { return a.edgesByPK }

// Load reads the pool account out of chain-data and parses it.
func (a *Adapter) Load(id core.EdgeIdentifier, view *core.ChainDataView) (core.LoadedEdge, error) {
	poolAddr, ok := id.AdapterPayload.(core.Address)
	if !ok {
		return nil, core.ErrMalformed
	}
	entry, err := view.Account(poolAddr)
	if err != nil {
		return nil, err
	}
	return parsePool(poolAddr, entry.Bytes)
}

// Quote applies the constant-product formula with fee, saturating and
// returning a no-trade quote instead of panicking on any overflow or
// zero-liquidity condition (spec §4.3 quote policies).
func (a *Adapter) Quote(id core.EdgeIdentifier, loaded core.LoadedEdge, view *core.ChainDataView, inAmount uint64) (q core.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			q = core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}
		}
	}()

	pool, ok := loaded.(*poolState)
	if !ok || inAmount == 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}
	reserveIn, reserveOut := pool.reserveA, pool.reserveB
	if id.InputMint == pool.mintB {
		reserveIn, reserveOut = pool.reserveB, pool.reserveA
	}
	if reserveIn == 0 || reserveOut == 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}

	hi, lo := bits.Mul64(inAmount, uint64(pool.feeBps))
	fee, _ := bits.Div64(hi, lo, 10_000)
	if fee > inAmount {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}
	inAfterFee := inAmount - fee
	newReserveIn, carry := bits.Add64(reserveIn, inAfterFee, 0)
	if carry != 0 || newReserveIn == 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}
	// k = reserveIn * reserveOut (128-bit); reserveOut' = k / reserveIn'.
	hi, lo = bits.Mul64(reserveIn, reserveOut)
	newReserveOut, _ := bits.Div64(hi, lo, newReserveIn)
	out := reserveOut - newReserveOut
	return core.Quote{InAmount: inAmount, OutAmount: out, FeeAmount: fee, FeeMint: id.InputMint}, nil
}

func (a *Adapter) SupportsExactOut(id core.EdgeIdentifier) bool { return true }

// QuoteExactOut inverts the constant-product formula to find the input
// required for a target output (spec §4.3).
func (a *Adapter) QuoteExactOut(id core.EdgeIdentifier, loaded core.LoadedEdge, view *core.ChainDataView, outAmount uint64) (q core.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			q = core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}
		}
	}()

	pool, ok := loaded.(*poolState)
	if !ok || outAmount == 0 {
		return core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}, nil
	}
	reserveIn, reserveOut := pool.reserveA, pool.reserveB
	if id.InputMint == pool.mintB {
		reserveIn, reserveOut = pool.reserveB, pool.reserveA
	}
	if reserveOut <= outAmount || reserveIn == 0 {
		return core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}, nil
	}

	// k = reserveIn * reserveOut; after trade, reserveOut' = reserveOut - out,
	// reserveIn' = k / reserveOut'; in_after_fee = reserveIn' - reserveIn.
	k := reserveIn * reserveOut
	newReserveOut := reserveOut - outAmount
	newReserveIn := k / newReserveOut
	inAfterFee := newReserveIn - reserveIn
	// in_after_fee = in * (1 - fee_bps/10000) => in = in_after_fee * 10000 / (10000 - fee_bps)
	denom := uint64(10_000 - pool.feeBps)
	if denom == 0 {
		return core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}, nil
	}
	inAmount := inAfterFee * 10_000 / denom
	return core.Quote{InAmount: inAmount, OutAmount: outAmount, FeeAmount: inAmount - inAfterFee, FeeMint: id.InputMint}, nil
}

// BuildSwapInstruction encodes a minimal discriminator+amount instruction
// body; the executor patches in_amount_offset at execution time with the
// previous hop's realized output (spec §4.3, §6).
func (a *Adapter) BuildSwapInstruction(id core.EdgeIdentifier, view *core.ChainDataView, wallet core.Address, inAmount, outAmount uint64, maxSlippageBps int) (core.SwapInstruction, error) {
	poolAddr, ok := id.AdapterPayload.(core.Address)
	if !ok {
		return core.SwapInstruction{}, core.ErrMalformed
	}
	minOut := outAmount * uint64(10_000-maxSlippageBps) / 10_000

	data := make([]byte, 1+8+8)
	data[0] = 0x01 // cpmm swap discriminator
	binary.LittleEndian.PutUint64(data[1:9], inAmount)
	binary.LittleEndian.PutUint64(data[9:17], minOut)

	return core.SwapInstruction{
		Bytes:           data,
		OutputTokenAcct: poolAddr,
		OutputMint:      id.OutputMint,
		InAmountOffset:  1,
		CUEstimate:      30_000,
	}, nil
}
