// Package stable implements the core.Adapter contract for amplified
// stable-swap pools (two like-valued tokens, Curve/Saber-style invariant),
// grounded in original_source/lib/dex-saber/src/saber.rs's quote/load shape:
// read the pool account (whose recorded reserves are used; the vault
// accounts are not read), run the StableSwap invariant, return a Quote. The amplification-coefficient Newton iteration is reimplemented in
// Go rather than ported line-for-line from the Rust `stable_swap_math` crate
// the original depends on.
package stable

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"swaprouter/core"
)

// accountLayout for a stable-swap pool account:
//
//	0:32    mint A
//	32:64   mint B
//	64:96   vault A
//	96:128  vault B
//	128:136 reserve A (u64 LE)
//	136:144 reserve B (u64 LE)
//	144:146 fee bps (u16 LE)
//	146:154 amplification coefficient (u64 LE)
const accountLayoutLen = 154

const defaultFeeBps = 4
const defaultAmp = 100

type poolState struct {
	address  core.Address
	mintA    core.Mint
	mintB    core.Mint
	vaultA   core.Address
	vaultB   core.Address
	reserveA uint64
	reserveB uint64
	feeBps   uint16
	amp      uint64
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
	p.amp = binary.LittleEndian.Uint64(data[146:154])
	if p.feeBps == 0 {
		p.feeBps = defaultFeeBps
	}
	if p.amp == 0 {
		p.amp = defaultAmp
	}
	return p, nil
}

// computeD solves the StableSwap invariant for two balances via Newton's
// method (n=2, Ann = amp * n^n = 4*amp).
func computeD(x, y float64, amp float64) float64 {
	s := x + y
	if s == 0 {
		return 0
	}
	ann := amp * 4
	d := s
	for i := 0; i < 255; i++ {
		dP := d * d / (x * 2) * d / (y * 2)
		prevD := d
		d = (ann*s + dP*2) * d / ((ann-1)*d + 3*dP)
		if math.Abs(d-prevD) <= 1e-6 {
			break
		}
	}
	return d
}

// computeY solves for the new balance of the output side given the new
// input balance newX and invariant d, via Newton's method.
func computeY(newX, d, amp float64) float64 {
	ann := amp * 4
	c := d * d / (newX * 2) * d / ann / 2
	b := newX + d/ann
	y := d
	for i := 0; i < 255; i++ {
		prevY := y
		y = (y*y + c) / (2*y + b - d)
		if math.Abs(y-prevY) <= 1e-6 {
			break
		}
	}
	return y
}

// Adapter is the stable-swap DEX integration.
type Adapter struct {
	programID core.Address
	pools     map[core.Address]core.Address
	edgesByPK map[core.Address][]core.EdgeIdentifier
	logger    *log.Logger
}

// New constructs a stable Adapter for the given on-chain program.
func New(programID core.Address, logger *log.Logger) *Adapter {
	return &Adapter{
		programID: programID,
		pools:     make(map[core.Address]core.Address),
		edgesByPK: make(map[core.Address][]core.EdgeIdentifier),
		logger:    logger,
	}
}

func (a *Adapter) Name() string { return "stable" }

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
			Venue:          core.VenueKey(fmt.Sprintf("stable:%s", pool.address.String())),
			InputMint:      pool.mintA,
			OutputMint:     pool.mintB,
			AccountsNeeded: 4,
			Descriptor:     fmt.Sprintf("stable pool %s (%s->%s)", pool.address.String(), pool.mintA.String(), pool.mintB.String()),
			AdapterPayload: pool.address,
		}
		backward := core.EdgeIdentifier{
			Venue:          core.VenueKey(fmt.Sprintf("stable:%s", pool.address.String())),
			InputMint:      pool.mintB,
			OutputMint:     pool.mintA,
			AccountsNeeded: 4,
			Descriptor:     fmt.Sprintf("stable pool %s (%s->%s)", pool.address.String(), pool.mintB.String(), pool.mintA.String()),
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

// Quote runs the StableSwap invariant forward: compute D from current
// reserves, advance the input side's balance, solve for the output side's
// new balance, and take the difference as the gross output before fee
// (spec §4.3). Any NaN/overflow collapses to a no-trade quote rather than
// propagating.
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
	reserveIn, reserveOut := float64(pool.reserveA), float64(pool.reserveB)
	if id.InputMint == pool.mintB {
		reserveIn, reserveOut = float64(pool.reserveB), float64(pool.reserveA)
	}
	if reserveIn == 0 || reserveOut == 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}

	amp := float64(pool.amp)
	d := computeD(reserveIn, reserveOut, amp)
	newIn := reserveIn + float64(inAmount)
	newOut := computeY(newIn, d, amp)
	gross := reserveOut - newOut
	if math.IsNaN(gross) || math.IsInf(gross, 0) || gross <= 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}
	fee := gross * float64(pool.feeBps) / 10_000
	out := gross - fee
	if out <= 0 {
		return core.Quote{InAmount: inAmount, OutAmount: 0, FeeMint: core.NoLiquiditySentinel}, nil
	}
	return core.Quote{InAmount: inAmount, OutAmount: uint64(out), FeeAmount: uint64(fee), FeeMint: id.InputMint}, nil
}

func (a *Adapter) SupportsExactOut(id core.EdgeIdentifier) bool { return true }

// QuoteExactOut solves the same invariant in reverse: shrink the output
// side's balance by the target (grossed up for fee) and solve for the
// input side's new balance.
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
	reserveIn, reserveOut := float64(pool.reserveA), float64(pool.reserveB)
	if id.InputMint == pool.mintB {
		reserveIn, reserveOut = float64(pool.reserveB), float64(pool.reserveA)
	}
	grossOut := float64(outAmount) * 10_000 / float64(10_000-pool.feeBps)
	if grossOut >= reserveOut || reserveIn == 0 {
		return core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}, nil
	}

	amp := float64(pool.amp)
	d := computeD(reserveIn, reserveOut, amp)
	newOut := reserveOut - grossOut
	newIn := computeY(newOut, d, amp)
	in := newIn - reserveIn
	if math.IsNaN(in) || math.IsInf(in, 0) || in <= 0 {
		return core.Quote{InAmount: ^uint64(0), OutAmount: outAmount, FeeMint: core.NoLiquiditySentinel}, nil
	}
	return core.Quote{InAmount: uint64(in), OutAmount: outAmount, FeeAmount: uint64(grossOut - float64(outAmount)), FeeMint: id.InputMint}, nil
}

func (a *Adapter) BuildSwapInstruction(id core.EdgeIdentifier, view *core.ChainDataView, wallet core.Address, inAmount, outAmount uint64, maxSlippageBps int) (core.SwapInstruction, error) {
	poolAddr, ok := id.AdapterPayload.(core.Address)
	if !ok {
		return core.SwapInstruction{}, core.ErrMalformed
	}
	minOut := outAmount * uint64(10_000-maxSlippageBps) / 10_000

	data := make([]byte, 1+8+8)
	data[0] = 0x11 // stable swap discriminator
	binary.LittleEndian.PutUint64(data[1:9], inAmount)
	binary.LittleEndian.PutUint64(data[9:17], minOut)

	return core.SwapInstruction{
		Bytes:           data,
		OutputTokenAcct: poolAddr,
		OutputMint:      id.OutputMint,
		InAmountOffset:  1,
		CUEstimate:      45_000,
	}, nil
}
