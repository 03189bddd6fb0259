// Command routerd is the swap router's composition root. It wires the
// chain-data view, the account-update pipeline, every configured DEX
// adapter's edge updater, the routing engine, the path warmer, and the
// execution-outcome watcher into one running process, replacing the
// teacher's manual sync.Once singleton wiring (cmd/dexserver/main.go) with
// fx's dependency-injected lifecycle hooks now that the process has a dozen
// interdependent long-lived components instead of one.
package main

import (
	"context"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"swaprouter/core"
	"swaprouter/core/dex/cpmm"
	"swaprouter/core/dex/stable"
	"swaprouter/internal/feed"
	"swaprouter/internal/rpcclient"
	"swaprouter/pkg/config"
)

func provideConfig() (*config.Config, error) {
	return config.LoadFromEnv()
}

func provideLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	lvl, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logger.SetOutput(f)
		} else {
			logger.WithFields(log.Fields{"file": cfg.Logging.File, "err": err}).Warn("could not open log file, using stderr")
		}
	}
	return logger
}

func provideClock() core.Clock { return core.NewClock() }

func provideGraph() *core.MintGraph { return core.NewMintGraph() }

func provideChainData() *core.ChainDataView { return core.NewChainDataView() }

func provideTokenCache(cfg *config.Config, logger *log.Logger) core.TokenCache {
	m := make(map[core.Mint]core.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		mint, err := core.ParseMint(t.Mint)
		if err != nil {
			logger.WithFields(log.Fields{"mint": t.Mint, "err": err}).Warn("skipping token with unparsable mint")
			continue
		}
		m[mint] = core.TokenInfo{Decimals: t.Decimals}
	}
	return core.NewStaticTokenCache(m)
}

func providePriceCache() *core.LivePriceCache { return core.NewLivePriceCache() }

func provideHotMints(cfg *config.Config, logger *log.Logger) *core.HotMintTracker {
	always := make([]core.Mint, 0, len(cfg.HotMints.AlwaysHot))
	for _, s := range cfg.HotMints.AlwaysHot {
		m, err := core.ParseMint(s)
		if err != nil {
			logger.WithFields(log.Fields{"mint": s, "err": err}).Warn("skipping always-hot mint with bad address")
			continue
		}
		always = append(always, m)
	}
	capacity := cfg.HotMints.LRUCapacity
	if capacity <= 0 {
		capacity = 64
	}
	return core.NewHotMintTracker(always, capacity)
}

func provideRoutingParams(cfg *config.Config) core.RoutingParams {
	p := core.DefaultRoutingParams()
	if cfg.Routing.MaxPathLength > 0 {
		p.MaxPathLength = cfg.Routing.MaxPathLength
	}
	if cfg.Routing.RetainPathCount > 0 {
		p.RetainPathCount = cfg.Routing.RetainPathCount
	}
	p.Overquote = cfg.Routing.Overquote
	if cfg.Routing.PathCacheValidityMS > 0 {
		p.PathCacheValidity = time.Duration(cfg.Routing.PathCacheValidityMS) * time.Millisecond
	}
	if cfg.Routing.MaxEdgePerPair > 0 {
		p.Prune.MaxEdgePerPair = cfg.Routing.MaxEdgePerPair
	}
	if cfg.Routing.MaxEdgePerColdPair > 0 {
		p.Prune.MaxEdgePerColdPair = cfg.Routing.MaxEdgePerColdPair
	}
	p.CheckQuoteOutAmountDeviation = cfg.Routing.CheckQuoteOutAmountDeviation
	p.MinQuoteOutToInAmountRatio = cfg.Routing.MinQuoteOutToInAmountRatio
	return p
}

func provideRoutingEngine(graph *core.MintGraph, hot *core.HotMintTracker, prices *core.LivePriceCache, tokens core.TokenCache, clk core.Clock, params core.RoutingParams, logger *log.Logger) *core.RoutingEngine {
	return core.NewRoutingEngine(graph, hot, prices, tokens, clk, params, logger)
}

func provideRegistry(cfg *config.Config, logger *log.Logger) *core.Registry {
	var adapters []core.Adapter
	for _, name := range cfg.Adapters.Enabled {
		programStr := cfg.Adapters.Programs[name]
		program, err := core.ParseMint(programStr)
		if err != nil {
			logger.WithFields(log.Fields{"adapter": name, "err": err}).Warn("skipping adapter: bad program id")
			continue
		}
		addr := core.Address(program)
		switch name {
		case "cpmm":
			adapters = append(adapters, cpmm.New(addr, logger))
		case "stable":
			adapters = append(adapters, stable.New(addr, logger))
		default:
			logger.WithFields(log.Fields{"adapter": name}).Warn("unknown adapter name, skipped")
		}
	}
	return core.NewRegistry(adapters...)
}

func providePipeline(view *core.ChainDataView, logger *log.Logger) *core.Pipeline {
	return core.NewPipeline(view, core.DefaultPipelineConfig(), logger)
}

func provideRPCClient(cfg *config.Config) *rpcclient.Client {
	return rpcclient.New(cfg.Feed.RPCURL)
}

func provideFeedClient(cfg *config.Config, logger *log.Logger) *feed.Client {
	return feed.NewClient(feed.DefaultConfig(cfg.Feed.WebsocketURL), logger)
}

func provideUpdaterConfig(cfg *config.Config) core.UpdaterConfig {
	u := core.DefaultUpdaterConfig()
	if cfg.Updater.RefreshTickMS > 0 {
		u.RefreshTick = time.Duration(cfg.Updater.RefreshTickMS) * time.Millisecond
	}
	if cfg.Updater.RefreshBudgetMS > 0 {
		u.RefreshBudget = time.Duration(cfg.Updater.RefreshBudgetMS) * time.Millisecond
	}
	if cfg.Updater.MicroBatchMax > 0 {
		u.MicroBatchMax = cfg.Updater.MicroBatchMax
	}
	if cfg.Updater.MicroBatchWindowUS > 0 {
		u.MicroBatchWindow = time.Duration(cfg.Updater.MicroBatchWindowUS) * time.Microsecond
	}
	if cfg.Updater.ExcessiveLagThreshold > 0 {
		u.ExcessiveLagThreshold = cfg.Updater.ExcessiveLagThreshold
	}
	if cfg.Updater.ExcessiveLagMaxDurationS > 0 {
		u.ExcessiveLagMaxDuration = time.Duration(cfg.Updater.ExcessiveLagMaxDurationS) * time.Second
	}
	return u
}

func provideOutcomeConfig(cfg *config.Config) core.OutcomeWatcherConfig {
	o := core.DefaultOutcomeWatcherConfig()
	if cfg.Outcome.MultiHopCooldownS > 0 {
		o.MultiHopCooldown = time.Duration(cfg.Outcome.MultiHopCooldownS) * time.Second
	}
	if cfg.Outcome.SingleHopCooldownS > 0 {
		o.SingleHopCooldown = time.Duration(cfg.Outcome.SingleHopCooldownS) * time.Second
	}
	return o
}

func provideWarmerConfig(cfg *config.Config) core.WarmerConfig {
	w := core.DefaultWarmerConfig()
	switch cfg.Warmer.Mode {
	case "none":
		w.Mode = core.WarmerNone
	case "configured":
		w.Mode = core.WarmerConfiguredMints
	case "mango":
		w.Mode = core.WarmerMangoMints
	case "all":
		w.Mode = core.WarmerAll
	case "hot", "hot_mints", "":
		w.Mode = core.WarmerHotMints
	}
	if cfg.Warmer.IntervalS > 0 {
		w.Interval = time.Duration(cfg.Warmer.IntervalS) * time.Second
	}
	if cfg.Warmer.StartupGraceS >= 0 {
		w.StartupGrace = time.Duration(cfg.Warmer.StartupGraceS) * time.Second
	}
	if cfg.Warmer.SweepRatePerSec > 0 {
		w.SweepRatePerSec = cfg.Warmer.SweepRatePerSec
	}
	for _, s := range cfg.Warmer.ConfiguredMints {
		if m, err := core.ParseMint(s); err == nil {
			w.ConfiguredMints = append(w.ConfiguredMints, m)
		}
	}
	if cfg.Warmer.TargetMint != "" {
		if m, err := core.ParseMint(cfg.Warmer.TargetMint); err == nil {
			w.TargetMint = m
		}
	}
	return w
}

// router bundles everything started/stopped by the lifecycle hook below.
type router struct {
	cfg      *config.Config
	logger   *log.Logger
	clock    core.Clock
	graph    *core.MintGraph
	view     *core.ChainDataView
	tokens   core.TokenCache
	prices   *core.LivePriceCache
	hotMints *core.HotMintTracker
	registry *core.Registry
	pipeline *core.Pipeline
	rpc      *rpcclient.Client
	feed     *feed.Client
	engine   *core.RoutingEngine

	updaterCfg core.UpdaterConfig
	outcomeCfg core.OutcomeWatcherConfig
	warmerCfg  core.WarmerConfig

	updaters []*core.EdgeUpdater
	outcome  *core.OutcomeWatcher
	warmer   *core.PathWarmer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   chan struct{}
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *log.Logger,
	clk core.Clock,
	graph *core.MintGraph,
	view *core.ChainDataView,
	tokens core.TokenCache,
	prices *core.LivePriceCache,
	hotMints *core.HotMintTracker,
	registry *core.Registry,
	pipeline *core.Pipeline,
	rpc *rpcclient.Client,
	feedClient *feed.Client,
	engine *core.RoutingEngine,
	updaterCfg core.UpdaterConfig,
	outcomeCfg core.OutcomeWatcherConfig,
	warmerCfg core.WarmerConfig,
) {
	r := &router{
		cfg: cfg, logger: logger, clock: clk, graph: graph, view: view,
		tokens: tokens, prices: prices, hotMints: hotMints, registry: registry,
		pipeline: pipeline, rpc: rpc, feed: feedClient, engine: engine,
		updaterCfg: updaterCfg, outcomeCfg: outcomeCfg, warmerCfg: warmerCfg,
		stop: make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: r.start,
		OnStop:  r.shutdown,
	})
}

// start discovers every adapter's venues, wires its edge updater into the
// pipeline, and starts every long-lived goroutine (spec §4.1–§4.9).
func (r *router) start(ctx context.Context) error {
	initCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	edgesByAccount := make(map[core.Address][]*core.Edge)

	for _, adapter := range r.registry.Adapters() {
		ids, err := adapter.Initialize(ctx, r.rpc, nil)
		if err != nil {
			r.logger.WithFields(log.Fields{"adapter": adapter.Name(), "err": err}).Error("adapter initialize failed")
			continue
		}

		edgesByKey := make(map[core.EdgeKey]*core.Edge, len(ids))
		edges := make([]*core.Edge, 0, len(ids))
		for _, id := range ids {
			e := core.NewEdge(id, adapter, r.clock, r.logger)
			r.graph.AddEdge(e)
			edgesByKey[e.Key()] = e
			edges = append(edges, e)
		}

		sub := adapter.SubscriptionMode()
		required := make(map[core.Address]struct{}, len(sub.Accounts))
		for a := range sub.Accounts {
			required[a] = struct{}{}
		}
		for account, accountEdges := range adapter.EdgesPerPK() {
			for _, id := range accountEdges {
				key := core.EdgeKey{Venue: id.Venue, InputMint: id.InputMint}
				if e, ok := edgesByKey[key]; ok {
					edgesByAccount[account] = append(edgesByAccount[account], e)
				}
			}
		}

		updater := core.NewEdgeUpdater(adapter, edges, required, r.view, r.tokens, r.prices, r.cfg.Routing.WarmupAmountsUI, r.clock, r.updaterCfg, r.logger)
		r.pipeline.Subscribe(adapter.Name(), updater.Writes(), updater.Slots(), updater.PriceUpdates(), updater.Metadata())
		r.updaters = append(r.updaters, updater)

		r.wg.Add(1)
		go func(u *core.EdgeUpdater) {
			defer r.wg.Done()
			u.Run()
		}(updater)
	}

	r.outcome = core.NewOutcomeWatcher(edgesByAccount, r.outcomeCfg, r.logger)
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.outcome.Run() }()

	r.warmer = core.NewPathWarmer(r.engine, r.hotMints, r.graph, nil, r.warmerCfg, r.clock, r.logger)
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.warmer.Run(initCtx) }()

	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.feed.Run() }()

	r.wg.Add(1)
	go r.drainFeed()

	r.logger.WithFields(log.Fields{"mints": r.graph.NumMints(), "adapters": len(r.registry.Adapters())}).Info("router started")
	return nil
}

// drainFeed pumps the feed client's output streams into the pipeline and the
// outcome watcher, and keeps the live price cache current (spec §4.2, §4.8).
func (r *router) drainFeed() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case w := <-r.feed.Writes():
			r.pipeline.HandleWrite(w)
		case s := <-r.feed.Slots():
			r.pipeline.HandleSlot(s)
		case p := <-r.feed.Prices():
			r.prices.Set(p.Mint, p.Price)
			r.pipeline.HandlePrice(p)
		case m := <-r.feed.Metadata():
			r.pipeline.HandleMetadata(m)
		case tx := <-r.feed.ExecutedTxs():
			r.outcome.Submit(tx)
		}
	}
}

func (r *router) shutdown(ctx context.Context) error {
	close(r.stop)
	r.feed.Stop()
	for _, u := range r.updaters {
		u.Stop()
	}
	if r.outcome != nil {
		r.outcome.Stop()
	}
	if r.warmer != nil {
		r.warmer.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	snap := core.Snapshot(r.graph, r.view, r.hotMints)
	r.logger.WithFields(log.Fields{
		"mints": snap.Mints, "accounts": snap.Accounts, "newest_slot": snap.NewestSlot,
	}).Info("router stopped")
	return nil
}

func main() {
	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideClock,
			provideGraph,
			provideChainData,
			provideTokenCache,
			providePriceCache,
			provideHotMints,
			provideRoutingParams,
			provideRoutingEngine,
			provideRegistry,
			providePipeline,
			provideRPCClient,
			provideFeedClient,
			provideUpdaterConfig,
			provideOutcomeConfig,
			provideWarmerConfig,
		),
		fx.Invoke(registerLifecycle),
	)
	app.Run()
}
