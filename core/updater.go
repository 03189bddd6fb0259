package core

// updater.go – the per-adapter edge updater (spec §4.5). One instance per
// registered Adapter; owns that adapter's dirty-edge bookkeeping and is the
// sole writer of its edges' EdgeState. Event-loop-over-channels-plus-ticker
// shape grounded in the teacher's HealthChecker (core/fault_tolerance.go):
// a ticker drives periodic work, a stop channel drives shutdown, and
// incoming events arrive on channels rather than being polled.

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// AccountWrite is one observed account mutation (spec §4.2/§6).
type AccountWrite struct {
	Address      Address
	Slot         uint64
	WriteVersion uint64
	Owner        Address
	Bytes        []byte
}

// SlotUpdate reports a new observed slot (spec §6).
type SlotUpdate struct {
	Slot uint64
}

// PriceUpdate reports a fresh UI price for a mint (spec §6).
type PriceUpdate struct {
	Mint  Mint
	Price float64
}

// MetadataEvent brackets a program's account backfill or flags an account
// as permanently invalid (spec §4.2).
type MetadataEvent struct {
	SnapshotStart *Address // program, nil means "global"
	SnapshotEnd   *Address
	InvalidAccount *Address
}

// UpdaterConfig tunes one edge updater instance (spec §4.5, §5).
type UpdaterConfig struct {
	RefreshTick          time.Duration // periodic tick, ~10ms
	RefreshBudget        time.Duration // per-tick wall-time cap, default 100ms
	MicroBatchMax        int           // default 10
	MicroBatchWindow     time.Duration // default 500µs
	ExcessiveLagThreshold uint64
	ExcessiveLagMaxDuration time.Duration
}

// DefaultUpdaterConfig mirrors the defaults spec.md calls out.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		RefreshTick:             10 * time.Millisecond,
		RefreshBudget:           100 * time.Millisecond,
		MicroBatchMax:           10,
		MicroBatchWindow:        500 * time.Microsecond,
		ExcessiveLagThreshold:   50,
		ExcessiveLagMaxDuration: 30 * time.Second,
	}
}

// EdgeUpdater owns readiness, slot-lag detection, and dirty-edge refresh for
// one adapter's edges (spec §4.5).
type EdgeUpdater struct {
	mu sync.Mutex

	adapter  Adapter
	edges    map[EdgeKey]*Edge
	cfg      UpdaterConfig
	view     *ChainDataView
	tokens   TokenCache
	prices   PriceCache
	warmups  []float64
	clock    Clock
	logger   *log.Logger

	isReady              bool
	latestSlotPending    uint64
	latestSlotProcessed  uint64
	lagSince             time.Time
	lagging              bool

	dirtyEdges map[EdgeKey]struct{}

	receivedAccounts map[Address]struct{}
	requiredAccounts map[Address]struct{}

	writes  chan AccountWrite
	slots   chan SlotUpdate
	prices2 chan PriceUpdate
	meta    chan MetadataEvent
	stop    chan struct{}
	ready   chan struct{}
	readyOnce sync.Once

	fatal chan error
}

// NewEdgeUpdater constructs an updater for one adapter's edges. requiredAccounts
// is the full set of subscription targets the readiness check waits on.
func NewEdgeUpdater(adapter Adapter, edges []*Edge, requiredAccounts map[Address]struct{}, view *ChainDataView, tokens TokenCache, prices PriceCache, warmups []float64, clk Clock, cfg UpdaterConfig, logger *log.Logger) *EdgeUpdater {
	em := make(map[EdgeKey]*Edge, len(edges))
	for _, e := range edges {
		em[e.Key()] = e
	}
	req := make(map[Address]struct{}, len(requiredAccounts))
	for a := range requiredAccounts {
		req[a] = struct{}{}
	}
	return &EdgeUpdater{
		adapter:          adapter,
		edges:            em,
		cfg:              cfg,
		view:             view,
		tokens:           tokens,
		prices:           prices,
		warmups:          warmups,
		clock:            clk,
		logger:           logger,
		dirtyEdges:       make(map[EdgeKey]struct{}),
		receivedAccounts: make(map[Address]struct{}),
		requiredAccounts: req,
		writes:           make(chan AccountWrite, 256),
		slots:            make(chan SlotUpdate, 16),
		prices2:          make(chan PriceUpdate, 64),
		meta:             make(chan MetadataEvent, 16),
		stop:             make(chan struct{}),
		ready:            make(chan struct{}),
		fatal:            make(chan error, 1),
	}
}

// Writes/Slots/PriceUpdates/Metadata return the channels the pipeline fans
// out to; callers of NewEdgeUpdater wire these as one adapter's subscription.
func (u *EdgeUpdater) Writes() chan<- AccountWrite    { return u.writes }
func (u *EdgeUpdater) Slots() chan<- SlotUpdate       { return u.slots }
func (u *EdgeUpdater) PriceUpdates() chan<- PriceUpdate { return u.prices2 }
func (u *EdgeUpdater) Metadata() chan<- MetadataEvent { return u.meta }

// Ready returns a channel closed exactly once, the moment readiness flips.
func (u *EdgeUpdater) Ready() <-chan struct{} { return u.ready }

// Fatal returns a channel that receives ErrExcessiveSlotLag if slot lag is
// sustained beyond the configured max duration (spec §4.5 "fail fatally").
func (u *EdgeUpdater) Fatal() <-chan error { return u.fatal }

// Run drives the event loop until Stop is called or a fatal condition
// fires. Intended to run in its own goroutine.
func (u *EdgeUpdater) Run() {
	tick := u.clock.Ticker(u.cfg.RefreshTick)
	defer tick.Stop()

	for {
		select {
		case <-u.stop:
			return
		case w := <-u.writes:
			u.handleWrite(w)
		case s := <-u.slots:
			u.mu.Lock()
			if s.Slot > u.latestSlotPending {
				u.latestSlotPending = s.Slot
			}
			u.mu.Unlock()
		case p := <-u.prices2:
			u.handlePriceUpdate(p)
		case m := <-u.meta:
			u.handleMetadata(m)
		case <-tick.C:
			u.checkSlotLag()
			u.refresh()
		}
	}
}

// Stop terminates the event loop.
func (u *EdgeUpdater) Stop() {
	select {
	case <-u.stop:
	default:
		close(u.stop)
	}
}

func (u *EdgeUpdater) handleWrite(first AccountWrite) {
	u.mu.Lock()
	u.markDirty(first.Address)
	u.receivedAccounts[first.Address] = struct{}{}
	if first.Slot > u.latestSlotPending {
		u.latestSlotPending = first.Slot
	}
	u.mu.Unlock()

	deadline := u.clock.Now().Add(u.cfg.MicroBatchWindow)
	drained := 1
	for drained < u.cfg.MicroBatchMax && u.clock.Now().Before(deadline) {
		select {
		case w := <-u.writes:
			u.mu.Lock()
			u.markDirty(w.Address)
			u.receivedAccounts[w.Address] = struct{}{}
			if w.Slot > u.latestSlotPending {
				u.latestSlotPending = w.Slot
			}
			u.mu.Unlock()
			drained++
		default:
			drained = u.cfg.MicroBatchMax
		}
	}
	u.checkReadiness()
}

// markDirty must be called with u.mu held.
func (u *EdgeUpdater) markDirty(addr Address) {
	for _, id := range u.adapter.EdgesPerPK()[addr] {
		u.dirtyEdges[keyOf(id)] = struct{}{}
	}
}

func (u *EdgeUpdater) handlePriceUpdate(p PriceUpdate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for key, e := range u.edges {
		if e.ID().InputMint == p.Mint || e.ID().OutputMint == p.Mint {
			u.dirtyEdges[key] = struct{}{}
		}
	}
}

func (u *EdgeUpdater) handleMetadata(m MetadataEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if m.InvalidAccount != nil {
		u.receivedAccounts[*m.InvalidAccount] = struct{}{}
	}
	if m.SnapshotEnd != nil {
		// Program backfill complete; nothing program-specific to mark beyond
		// contributing to the readiness superset check below.
		_ = m.SnapshotEnd
	}
	u.checkReadinessLocked()
}

func (u *EdgeUpdater) checkReadiness() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.checkReadinessLocked()
}

// checkReadinessLocked flips is_ready once received_accounts is a superset
// of required_accounts, signaling exactly once (spec §4.5 "Readiness").
func (u *EdgeUpdater) checkReadinessLocked() {
	if u.isReady {
		return
	}
	for a := range u.requiredAccounts {
		if _, ok := u.receivedAccounts[a]; !ok {
			return
		}
	}
	u.isReady = true
	u.readyOnce.Do(func() { close(u.ready) })
}

// checkSlotLag fails fatally if pending has stayed too far ahead of
// processed for too long (spec §4.5 "Slot lag").
func (u *EdgeUpdater) checkSlotLag() {
	u.mu.Lock()
	gap := u.latestSlotPending - u.latestSlotProcessed
	now := u.clock.Now()
	if gap >= u.cfg.ExcessiveLagThreshold {
		if !u.lagging {
			u.lagging = true
			u.lagSince = now
		} else if now.Sub(u.lagSince) >= u.cfg.ExcessiveLagMaxDuration {
			u.mu.Unlock()
			u.logger.WithFields(log.Fields{"adapter": u.adapter.Name(), "gap": gap}).Error("excessive slot lag")
			select {
			case u.fatal <- ErrExcessiveSlotLag:
			default:
			}
			return
		}
	} else {
		u.lagging = false
	}
	u.mu.Unlock()
}

// refresh drains dirty_edges, bounded to RefreshBudget wall time (spec §4.5
// "Periodic refresh tick").
func (u *EdgeUpdater) refresh() {
	u.mu.Lock()
	if !u.isReady || len(u.dirtyEdges) == 0 {
		u.mu.Unlock()
		return
	}
	pendingSlot := u.latestSlotPending
	keys := make([]EdgeKey, 0, len(u.dirtyEdges))
	for k := range u.dirtyEdges {
		keys = append(keys, k)
	}
	u.mu.Unlock()

	deadline := u.clock.Now().Add(u.cfg.RefreshBudget)
	done := make([]EdgeKey, 0, len(keys))
	for _, k := range keys {
		if !u.clock.Now().Before(deadline) {
			break
		}
		e, ok := u.edges[k]
		if !ok {
			done = append(done, k)
			continue
		}
		e.Update(u.view, u.tokens, u.prices, u.warmups)
		done = append(done, k)
	}

	u.mu.Lock()
	for _, k := range done {
		delete(u.dirtyEdges, k)
	}
	u.latestSlotProcessed = pendingSlot
	u.mu.Unlock()
}
