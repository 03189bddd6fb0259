package core

import (
	"encoding/binary"
	"testing"
)

func instructionWithInAmount(discriminator byte, inAmount uint64, offset int, totalLen int) []byte {
	b := make([]byte, totalLen)
	b[0] = discriminator
	binary.LittleEndian.PutUint64(b[offset:offset+8], inAmount)
	return b
}

func TestMaterializeRoutePatchesSecondHopInAmount(t *testing.T) {
	route := &Route{
		Steps: []RouteStep{
			{InAmount: 100, OutAmount: 250},
			{InAmount: 250, OutAmount: 500},
		},
	}
	hop0 := SwapInstruction{Bytes: instructionWithInAmount(1, 100, 1, 16), InAmountOffset: 1}
	hop1 := SwapInstruction{Bytes: instructionWithInAmount(2, 999, 1, 16), InAmountOffset: 1} // placeholder, should be overwritten

	tx, err := MaterializeRoute(route, []SwapInstruction{hop0, hop1}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.Instructions) != 32 {
		t.Fatalf("expected concatenated 32 bytes, got %d", len(tx.Instructions))
	}

	// first hop's in-amount must be untouched.
	if got := binary.LittleEndian.Uint64(tx.Instructions[1:9]); got != 100 {
		t.Fatalf("expected first hop's in-amount preserved as 100, got %d", got)
	}
	// second hop's in-amount must be patched to the first hop's realized out-amount.
	if got := binary.LittleEndian.Uint64(tx.Instructions[17:25]); got != 250 {
		t.Fatalf("expected second hop's in-amount patched to 250, got %d", got)
	}
}

func TestMaterializeRouteErrorsOnStepCountMismatch(t *testing.T) {
	route := &Route{Steps: []RouteStep{{}, {}}}
	_, err := MaterializeRoute(route, []SwapInstruction{{}}, nil, nil)
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed on step/instruction count mismatch, got %v", err)
	}
}

func TestPatchInAmountIgnoresOutOfRangeOffset(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	patchInAmount(data, 10, 999) // would overflow; must be a no-op, not a panic
	if data[0] != 1 {
		t.Fatalf("expected data untouched by an out-of-range patch offset")
	}
}

func TestSelectLookupTablesGreedyCoverage(t *testing.T) {
	addrs := map[Address]struct{}{
		addrN(1): {}, addrN(2): {}, addrN(3): {}, addrN(4): {}, addrN(5): {},
	}
	tableBig := AddressLookupTable{
		Address:   addrN(100),
		Addresses: map[Address]struct{}{addrN(1): {}, addrN(2): {}, addrN(3): {}},
	}
	tableSmall := AddressLookupTable{
		Address:   addrN(101),
		Addresses: map[Address]struct{}{addrN(4): {}, addrN(5): {}},
	}
	tableSingle := AddressLookupTable{
		Address:   addrN(102),
		Addresses: map[Address]struct{}{addrN(1): {}},
	}

	chosen := selectLookupTables(addrs, []AddressLookupTable{tableSingle, tableSmall, tableBig})
	if len(chosen) != 2 {
		t.Fatalf("expected 2 tables chosen to cover all 5 addresses, got %d", len(chosen))
	}
	if chosen[0].Address != addrN(100) {
		t.Fatalf("expected the largest-coverage table picked first, got %v", chosen[0].Address)
	}
}

func TestSelectLookupTablesStopsBelowMinCoverage(t *testing.T) {
	addrs := map[Address]struct{}{addrN(1): {}, addrN(2): {}}
	tableSingle := AddressLookupTable{
		Address:   addrN(100),
		Addresses: map[Address]struct{}{addrN(1): {}},
	}
	chosen := selectLookupTables(addrs, []AddressLookupTable{tableSingle})
	if len(chosen) != 0 {
		t.Fatalf("expected no table chosen when the best coverage is below the minimum, got %v", chosen)
	}
}

func TestMaterializeRouteAccumulatesCUEstimate(t *testing.T) {
	route := &Route{Steps: []RouteStep{{InAmount: 10, OutAmount: 20}, {InAmount: 20, OutAmount: 30}}}
	hop0 := SwapInstruction{Bytes: make([]byte, 8), InAmountOffset: 0, CUEstimate: 1000}
	hop1 := SwapInstruction{Bytes: make([]byte, 8), InAmountOffset: 0, CUEstimate: 1500}
	tx, err := MaterializeRoute(route, []SwapInstruction{hop0, hop1}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.CUEstimate != 2500 {
		t.Fatalf("expected accumulated CU estimate 2500, got %d", tx.CUEstimate)
	}
}
