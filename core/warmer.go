package core

// warmer.go – the path warmer (spec §4.9). A background ticker that
// periodically refreshes pruning against the current hot set and sweeps the
// path cache warm for a configured set of mints, throttled by
// golang.org/x/time/rate so a large warmer-mode mint set cannot burst the
// routing engine with simultaneous searches. Loop shape grounded in the
// teacher's HealthChecker ticker (core/fault_tolerance.go).

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// WarmerMode selects which mints the warmer sweeps each cycle (spec §4.9).
type WarmerMode int

const (
	WarmerNone WarmerMode = iota
	WarmerConfiguredMints
	WarmerHotMints
	WarmerMangoMints
	WarmerAll
)

// WarmerConfig tunes the path warmer (spec §4.9).
type WarmerConfig struct {
	Mode             WarmerMode
	Interval         time.Duration // default 10s
	StartupGrace     time.Duration // default 60s
	ConfiguredMints  []Mint
	TargetMint       Mint // the mint every warm-up quotes against, e.g. a stable/base mint
	Pairs            []WarmPair
	SweepRatePerSec  float64 // rate.Limiter tokens/sec across the sweep's searches
}

// DefaultWarmerConfig mirrors the spec's stated defaults.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		Mode:            WarmerHotMints,
		Interval:        10 * time.Second,
		StartupGrace:    60 * time.Second,
		SweepRatePerSec: 50,
	}
}

// MangoMintSource supplies the "known liquid mints" set for WarmerMangoMints
// mode; the production implementation reads a curated registry (out of
// scope here — the router only needs the interface seam).
type MangoMintSource interface {
	MangoMints() []Mint
}

// PathWarmer periodically re-prunes and re-warms the routing engine's path
// cache (spec §4.9).
type PathWarmer struct {
	mu sync.Mutex

	engine   *RoutingEngine
	hotMints *HotMintTracker
	mango    MangoMintSource
	graph    *MintGraph
	cfg      WarmerConfig
	clock    Clock
	logger   *log.Logger
	limiter  *rate.Limiter

	stop chan struct{}
}

// NewPathWarmer wires a warmer over an already-constructed routing engine.
func NewPathWarmer(engine *RoutingEngine, hotMints *HotMintTracker, graph *MintGraph, mango MangoMintSource, cfg WarmerConfig, clk Clock, logger *log.Logger) *PathWarmer {
	limit := cfg.SweepRatePerSec
	if limit <= 0 {
		limit = 50
	}
	return &PathWarmer{
		engine:   engine,
		hotMints: hotMints,
		mango:    mango,
		graph:    graph,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(limit), int(limit)),
		stop:     make(chan struct{}),
	}
}

// Run blocks, sweeping every cfg.Interval after the startup grace, until
// Stop is called.
func (w *PathWarmer) Run(ctx context.Context) {
	select {
	case <-w.clock.After(w.cfg.StartupGrace):
	case <-w.stop:
		return
	case <-ctx.Done():
		return
	}

	ticker := w.clock.Ticker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop terminates the warmer's loop.
func (w *PathWarmer) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *PathWarmer) sweep(ctx context.Context) {
	w.engine.PreparePrunedEdgesAndCleanupCache()

	mints := w.targetMints()
	for _, m := range mints {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.engine.PrepareCacheForInputMint(m, w.cfg.Pairs, w.cfg.TargetMint)
	}
	w.logger.WithFields(log.Fields{"mode": w.cfg.Mode, "mints": len(mints)}).Debug("path warmer sweep complete")
}

func (w *PathWarmer) targetMints() []Mint {
	switch w.cfg.Mode {
	case WarmerNone:
		return nil
	case WarmerConfiguredMints:
		return w.cfg.ConfiguredMints
	case WarmerHotMints:
		set := w.hotMints.Get()
		out := make([]Mint, 0, len(set))
		for m := range set {
			out = append(out, m)
		}
		return out
	case WarmerMangoMints:
		if w.mango == nil {
			return nil
		}
		return w.mango.MangoMints()
	case WarmerAll:
		n := w.graph.NumMints()
		out := make([]Mint, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, w.graph.MintAt(MintIx(i)))
		}
		return out
	default:
		return nil
	}
}
