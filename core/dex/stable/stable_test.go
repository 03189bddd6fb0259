package stable

import (
	"encoding/binary"
	"math"
	"testing"

	"swaprouter/core"
)

func poolBytes(mintA, mintB core.Mint, vaultA, vaultB core.Address, reserveA, reserveB uint64, feeBps uint16, amp uint64) []byte {
	b := make([]byte, accountLayoutLen)
	copy(b[0:32], mintA[:])
	copy(b[32:64], mintB[:])
	copy(b[64:96], vaultA[:])
	copy(b[96:128], vaultB[:])
	binary.LittleEndian.PutUint64(b[128:136], reserveA)
	binary.LittleEndian.PutUint64(b[136:144], reserveB)
	binary.LittleEndian.PutUint16(b[144:146], feeBps)
	binary.LittleEndian.PutUint64(b[146:154], amp)
	return b
}

func testMint(b byte) core.Mint {
	var m core.Mint
	m[0] = b
	return m
}

func testAddr(b byte) core.Address {
	var a core.Address
	a[0] = b
	return a
}

func loadedPool(t *testing.T, reserveA, reserveB uint64, feeBps uint16, amp uint64) *poolState {
	t.Helper()
	data := poolBytes(testMint(1), testMint(2), testAddr(10), testAddr(11), reserveA, reserveB, feeBps, amp)
	p, err := parsePool(testAddr(100), data)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return p
}

func TestParsePoolRejectsShortData(t *testing.T) {
	_, err := parsePool(testAddr(1), make([]byte, 10))
	if err != core.ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParsePoolDefaultsZeroFeeAndAmp(t *testing.T) {
	data := poolBytes(testMint(1), testMint(2), testAddr(10), testAddr(11), 1_000_000, 1_000_000, 0, 0)
	p, err := parsePool(testAddr(100), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.feeBps != defaultFeeBps || p.amp != defaultAmp {
		t.Fatalf("expected defaults applied, got feeBps=%d amp=%d", p.feeBps, p.amp)
	}
}

func TestComputeDBalancedPoolEqualsSumOfBalances(t *testing.T) {
	// at perfect balance, the StableSwap invariant D equals the sum of
	// reserves exactly (a well-known closed-form check of Newton convergence).
	d := computeD(1_000_000, 1_000_000, 100)
	if math.Abs(d-2_000_000) > 1 {
		t.Fatalf("expected D close to 2_000_000 for a balanced pool, got %f", d)
	}
}

func TestQuoteSmallTradeNearOneToOneForBalancedPool(t *testing.T) {
	a := New(testAddr(1), nil)
	pool := loadedPool(t, 1_000_000_000, 1_000_000_000, 4, 100)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2)}

	q, err := a.Quote(id, pool, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.OutAmount == 0 {
		t.Fatalf("expected a positive out-amount")
	}
	// a small trade against a deep, balanced stable pool should come back
	// very close to 1:1 minus the fee.
	diff := int64(1000) - int64(q.OutAmount)
	if diff < 0 || diff > 5 {
		t.Fatalf("expected near-1:1 pricing for a small trade, got out=%d", q.OutAmount)
	}
}

func TestQuoteZeroReserveReturnsNoLiquiditySentinel(t *testing.T) {
	a := New(testAddr(1), nil)
	pool := loadedPool(t, 0, 1_000_000, 4, 100)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2)}

	q, err := a.Quote(id, pool, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.OutAmount != 0 || q.FeeMint != core.NoLiquiditySentinel {
		t.Fatalf("expected the no-trade sentinel on zero reserve, got %+v", q)
	}
}

func TestQuoteMalformedLoadedValueRecoversToNoTrade(t *testing.T) {
	a := New(testAddr(1), nil)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2)}
	q, err := a.Quote(id, 42, nil, 1000)
	if err != nil || q.OutAmount != 0 {
		t.Fatalf("expected no-trade sentinel on a type-mismatched loaded value, got %+v err=%v", q, err)
	}
}

func TestQuoteExactOutRoundTripsWithQuote(t *testing.T) {
	a := New(testAddr(1), nil)
	pool := loadedPool(t, 1_000_000_000, 1_000_000_000, 4, 100)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2)}

	fwd, err := a.Quote(id, pool, nil, 100_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv, err := a.QuoteExactOut(id, pool, nil, fwd.OutAmount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := int64(inv.InAmount) - int64(100_000)
	if diff < -100 || diff > 100 {
		t.Fatalf("expected QuoteExactOut's in-amount near 100000, got %d", inv.InAmount)
	}
}

func TestQuoteExactOutExceedingReserveReturnsSentinel(t *testing.T) {
	a := New(testAddr(1), nil)
	pool := loadedPool(t, 1_000_000, 1_000_000, 4, 100)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2)}

	q, err := a.QuoteExactOut(id, pool, nil, 999_999_999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.FeeMint != core.NoLiquiditySentinel || q.InAmount != ^uint64(0) {
		t.Fatalf("expected the exact-out no-trade sentinel, got %+v", q)
	}
}

func TestBuildSwapInstructionAppliesSlippageFloor(t *testing.T) {
	a := New(testAddr(1), nil)
	id := core.EdgeIdentifier{InputMint: testMint(1), OutputMint: testMint(2), AdapterPayload: testAddr(100)}
	ins, err := a.BuildSwapInstruction(id, nil, testAddr(1), 1000, 2000, 50) // 0.5% slippage
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	minOut := binary.LittleEndian.Uint64(ins.Bytes[9:17])
	if minOut != 1990 {
		t.Fatalf("expected minOut 1990 (2000 * 0.995), got %d", minOut)
	}
	if ins.Bytes[0] != 0x11 {
		t.Fatalf("expected the stable-swap discriminator byte 0x11")
	}
}
