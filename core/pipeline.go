package core

// pipeline.go – the account-update pipeline (spec §4.2). A single consumer
// of the raw {AccountWrite, SlotUpdate, MetadataEvent} streams that dedups,
// orders, applies to the ChainDataView, and fans out to each adapter's
// EdgeUpdater subscription. Fan-out never blocks: an event that finds a
// subscriber's channel full is dropped for that subscriber with a logged
// warning; the subscriber stays registered and receives later events.
// Grounded in the teacher's
// fan-out-with-lag pattern from core/replication.go's subscriber broadcast.

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// PipelineConfig bounds the dedup window and fan-out behavior (spec §4.2).
type PipelineConfig struct {
	DedupWindow  int // bounded queue size for recent (address, write_version) pairs
	FanoutBuffer int // not read by Pipeline: subscriber channel capacities are set by whoever creates the channels
}

// DefaultPipelineConfig mirrors the defaults spec.md implies.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{DedupWindow: 4096, FanoutBuffer: 1024}
}

type subscriber struct {
	name    string
	writes  chan<- AccountWrite
	slots   chan<- SlotUpdate
	prices  chan<- PriceUpdate
	meta    chan<- MetadataEvent
}

type dedupKey struct {
	Address      Address
	WriteVersion uint64
}

// Pipeline is the sole writer of ChainDataView (spec §5).
type Pipeline struct {
	mu sync.Mutex

	view   *ChainDataView
	cfg    PipelineConfig
	logger *log.Logger

	subs []subscriber

	lastVersion map[Address]uint64 // highest write_version applied per address
	dedupOrder  []dedupKey
	dedupSeen   map[dedupKey]struct{}
}

// NewPipeline constructs a pipeline writing into view.
func NewPipeline(view *ChainDataView, cfg PipelineConfig, logger *log.Logger) *Pipeline {
	return &Pipeline{
		view:        view,
		cfg:         cfg,
		logger:      logger,
		lastVersion: make(map[Address]uint64),
		dedupSeen:   make(map[dedupKey]struct{}),
	}
}

// Subscribe registers one adapter's fan-out channels. The pipeline never
// blocks on a subscriber: a full channel means "dropped and logged" per
// spec §4.2's fan-out guarantee.
func (p *Pipeline) Subscribe(name string, writes chan<- AccountWrite, slots chan<- SlotUpdate, prices chan<- PriceUpdate, meta chan<- MetadataEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, subscriber{name: name, writes: writes, slots: slots, prices: prices, meta: meta})
}

// HandleWrite applies a deduplicated, in-order write and fans it out.
func (p *Pipeline) HandleWrite(w AccountWrite) {
	p.mu.Lock()
	dk := dedupKey{Address: w.Address, WriteVersion: w.WriteVersion}
	if _, seen := p.dedupSeen[dk]; seen {
		p.mu.Unlock()
		return
	}
	if last, ok := p.lastVersion[w.Address]; ok && w.WriteVersion <= last {
		// stale relative to what we've already applied for this address.
		p.mu.Unlock()
		return
	}
	p.lastVersion[w.Address] = w.WriteVersion
	p.rememberLocked(dk)
	subs := append([]subscriber(nil), p.subs...)
	p.mu.Unlock()

	p.view.Apply(w.Address, &AccountEntry{Bytes: w.Bytes, Slot: w.Slot, WriteVersion: w.WriteVersion, Owner: w.Owner})

	for _, s := range subs {
		select {
		case s.writes <- w:
		default:
			p.logger.WithFields(log.Fields{"subscriber": s.name, "address": w.Address.String()}).Warn("write fan-out lagged, dropped")
		}
	}
}

// rememberLocked must be called with p.mu held; maintains the bounded dedup
// window as a FIFO over the seen-set.
func (p *Pipeline) rememberLocked(dk dedupKey) {
	p.dedupSeen[dk] = struct{}{}
	p.dedupOrder = append(p.dedupOrder, dk)
	if len(p.dedupOrder) > p.cfg.DedupWindow {
		oldest := p.dedupOrder[0]
		p.dedupOrder = p.dedupOrder[1:]
		delete(p.dedupSeen, oldest)
	}
}

// HandleSlot fans a slot update out to every subscriber.
func (p *Pipeline) HandleSlot(s SlotUpdate) {
	p.mu.Lock()
	subs := append([]subscriber(nil), p.subs...)
	p.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.slots <- s:
		default:
			p.logger.WithFields(log.Fields{"subscriber": sub.name}).Warn("slot fan-out lagged, dropped")
		}
	}
}

// HandlePrice fans a price update out to every subscriber.
func (p *Pipeline) HandlePrice(u PriceUpdate) {
	p.mu.Lock()
	subs := append([]subscriber(nil), p.subs...)
	p.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.prices <- u:
		default:
			p.logger.WithFields(log.Fields{"subscriber": sub.name}).Warn("price fan-out lagged, dropped")
		}
	}
}

// HandleMetadata applies SnapshotStart/SnapshotEnd/InvalidAccount bracketing
// events, removing the account from chain-data on InvalidAccount and fanning
// all events out to every subscriber (spec §4.2 "Snapshot bracketing").
func (p *Pipeline) HandleMetadata(m MetadataEvent) {
	if m.InvalidAccount != nil {
		p.view.Remove(*m.InvalidAccount)
	}
	p.mu.Lock()
	subs := append([]subscriber(nil), p.subs...)
	p.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.meta <- m:
		default:
			p.logger.WithFields(log.Fields{"subscriber": sub.name}).Warn("metadata fan-out lagged, dropped")
		}
	}
}
