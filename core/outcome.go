package core

// outcome.go – the execution-outcome watcher (spec §4.8). Consumes executed
// transactions and applies cool-down or reset to every edge touched by the
// transaction, coarsened by whether the swap was single- or multi-hop.
// Grounded in the teacher's event-consumption-loop idiom (core/updater.go in
// this package; core/fault_tolerance.go's ticked goroutine in the teacher).

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ExecutedTx is one observed outcome of a submitted swap (spec §4.8, §6).
type ExecutedTx struct {
	Signature       string
	IsSuccess       bool
	TouchedAccounts []Address
	InstructionData []byte
	Logs            []string
}

// swapShapeMultiHopBit masks the low nibble of the executor's instruction discriminator
// byte: 0 means single-hop, any other value means multi-hop (spec §6
// "Cool-down wire format").
const swapShapeMultiHopBit = 0x0F

// swapShape classifies an executed transaction as single- or multi-hop from
// its instruction discriminator's low nibble.
func swapShape(instructionData []byte) (multiHop bool) {
	if len(instructionData) == 0 {
		return false
	}
	return instructionData[0]&swapShapeMultiHopBit != 0
}

// OutcomeWatcherConfig carries the cool-down durations (spec §4.8).
type OutcomeWatcherConfig struct {
	MultiHopCooldown  time.Duration
	SingleHopCooldown time.Duration
}

// DefaultOutcomeWatcherConfig mirrors the spec's stated defaults.
func DefaultOutcomeWatcherConfig() OutcomeWatcherConfig {
	return OutcomeWatcherConfig{
		MultiHopCooldown:  15 * time.Second,
		SingleHopCooldown: 45 * time.Second,
	}
}

// OutcomeWatcher maps touched accounts back to edges and applies the
// corresponding cool-down action (spec §4.8).
type OutcomeWatcher struct {
	mu sync.RWMutex

	cfg    OutcomeWatcherConfig
	logger *log.Logger

	edgesByAccount map[Address][]*Edge

	txs  chan ExecutedTx
	stop chan struct{}
}

// NewOutcomeWatcher builds a watcher over the given account→edges index,
// built by the caller from every adapter's EdgesPerPK() union.
func NewOutcomeWatcher(edgesByAccount map[Address][]*Edge, cfg OutcomeWatcherConfig, logger *log.Logger) *OutcomeWatcher {
	m := make(map[Address][]*Edge, len(edgesByAccount))
	for a, es := range edgesByAccount {
		m[a] = append([]*Edge(nil), es...)
	}
	return &OutcomeWatcher{
		edgesByAccount: m,
		cfg:            cfg,
		logger:         logger,
		txs:            make(chan ExecutedTx, 256),
		stop:           make(chan struct{}),
	}
}

// Submit feeds an observed executed transaction into the watcher.
func (w *OutcomeWatcher) Submit(tx ExecutedTx) {
	select {
	case w.txs <- tx:
	default:
		w.logger.WithFields(log.Fields{"signature": tx.Signature}).Warn("outcome watcher queue full, dropped tx")
	}
}

// Run drains submitted transactions until Stop is called.
func (w *OutcomeWatcher) Run() {
	for {
		select {
		case <-w.stop:
			return
		case tx := <-w.txs:
			w.apply(tx)
		}
	}
}

// Stop terminates the watcher's loop.
func (w *OutcomeWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// apply implements spec §4.8's per-transaction policy.
func (w *OutcomeWatcher) apply(tx ExecutedTx) {
	multiHop := swapShape(tx.InstructionData)
	base := w.cfg.SingleHopCooldown
	if multiHop {
		base = w.cfg.MultiHopCooldown
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	touched := map[*Edge]struct{}{}
	for _, addr := range tx.TouchedAccounts {
		for _, e := range w.edgesByAccount[addr] {
			touched[e] = struct{}{}
		}
	}
	for e := range touched {
		if tx.IsSuccess {
			e.ResetCooldown()
		} else {
			e.AddCooldown(base.Milliseconds())
		}
	}
	if len(touched) > 0 {
		w.logger.WithFields(log.Fields{
			"signature": tx.Signature,
			"success":   tx.IsSuccess,
			"multi_hop": multiHop,
			"edges":     len(touched),
		}).Debug("applied execution outcome to edges")
	}
}
