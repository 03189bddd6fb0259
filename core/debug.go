package core

// debug.go – in-process introspection surface (spec §4.11 supplement). The
// original ships a served debug_tools.rs endpoint; keeping this non-HTTP
// avoids re-adding the excluded external API while still giving tests and
// the composition root's shutdown logging something to report.

// DebugSnapshot is a point-in-time summary of a running router's state.
type DebugSnapshot struct {
	Mints         int
	Accounts      int
	NewestSlot    uint64
	HotMints      int
	HotMintFP     uint64
}

// Snapshot assembles a DebugSnapshot from the long-lived components that
// make up one router process.
func Snapshot(graph *MintGraph, view *ChainDataView, hot *HotMintTracker) DebugSnapshot {
	return DebugSnapshot{
		Mints:      graph.NumMints(),
		Accounts:   view.Len(),
		NewestSlot: view.NewestProcessedSlot(),
		HotMints:   len(hot.Get()),
		HotMintFP:  hot.Fingerprint(),
	}
}
