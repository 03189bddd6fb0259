package core

// materializer.go – the route materializer (spec §4.10). Concatenates
// per-hop SwapInstructions, patches each hop's in_amount_offset with the
// previous hop's realized out_amount, and selects a minimal cover of
// address-lookup tables via a greedy largest-uncovered-first heuristic.

import "encoding/binary"

// AddressLookupTable is one known ALT: its own address plus the set of
// addresses it resolves.
type AddressLookupTable struct {
	Address   Address
	Addresses map[Address]struct{}
}

// MaterializedTx is the output of materializing a Route into an executable
// versioned transaction body (spec §4.10 "Emit a versioned message").
type MaterializedTx struct {
	Instructions []byte
	LookupTables []Address
	CUEstimate   uint32
}

const maxALTSelectionDepth = 8
const minALTCoverage = 2

// MaterializeRoute concatenates a route's per-hop instructions (patching
// each hop's in_amount with the previous hop's realized out_amount) and
// selects a lookup-table cover for the involved addresses.
func MaterializeRoute(route *Route, hopInstructions []SwapInstruction, txAddresses map[Address]struct{}, knownTables []AddressLookupTable) (*MaterializedTx, error) {
	if len(hopInstructions) != len(route.Steps) {
		return nil, ErrMalformed
	}

	out := make([]byte, 0, 128*len(hopInstructions))
	var cu uint32
	var prevOut uint64
	for i, ins := range hopInstructions {
		data := append([]byte(nil), ins.Bytes...)
		if i > 0 {
			patchInAmount(data, ins.InAmountOffset, prevOut)
		}
		out = append(out, data...)
		cu += ins.CUEstimate
		prevOut = route.Steps[i].OutAmount
	}

	tables := selectLookupTables(txAddresses, knownTables)
	tableAddrs := make([]Address, 0, len(tables))
	for _, t := range tables {
		tableAddrs = append(tableAddrs, t.Address)
	}

	return &MaterializedTx{Instructions: out, LookupTables: tableAddrs, CUEstimate: cu}, nil
}

// patchInAmount overwrites the little-endian u64 at offset with amount
// (spec §6 "Instruction-patching contract"). A malformed offset is a no-op:
// the adapter-supplied offset is trusted to fit within its own instruction.
func patchInAmount(data []byte, offset int, amount uint64) {
	if offset < 0 || offset+8 > len(data) {
		return
	}
	binary.LittleEndian.PutUint64(data[offset:offset+8], amount)
}

// selectLookupTables runs the greedy set-cover described in spec §4.10:
// repeatedly pick the table covering the most still-uncovered addresses,
// stopping when no remaining table covers at least minALTCoverage, or after
// maxALTSelectionDepth picks.
func selectLookupTables(txAddresses map[Address]struct{}, knownTables []AddressLookupTable) []AddressLookupTable {
	uncovered := make(map[Address]struct{}, len(txAddresses))
	for a := range txAddresses {
		uncovered[a] = struct{}{}
	}

	candidates := append([]AddressLookupTable(nil), knownTables...)
	var chosen []AddressLookupTable

	for depth := 0; depth < maxALTSelectionDepth && len(uncovered) > 0; depth++ {
		bestIx := -1
		bestCoverage := 0
		for i, t := range candidates {
			coverage := 0
			for a := range t.Addresses {
				if _, ok := uncovered[a]; ok {
					coverage++
				}
			}
			if coverage > bestCoverage {
				bestCoverage = coverage
				bestIx = i
			}
		}
		if bestIx < 0 || bestCoverage < minALTCoverage {
			break
		}
		chosen = append(chosen, candidates[bestIx])
		for a := range candidates[bestIx].Addresses {
			delete(uncovered, a)
		}
		candidates = append(candidates[:bestIx], candidates[bestIx+1:]...)
	}
	return chosen
}
