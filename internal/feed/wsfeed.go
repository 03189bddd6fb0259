// Package feed implements the single external stream source this router
// consumes: a websocket client that delivers account writes, slot updates,
// price updates, and metadata bracketing events (spec §6 "Consumes").
// Read-loop and reconnect shape grounded in the teacher pack's gorilla
// websocket usage (leanlp-BTC-coinjoin/internal/api/websocket.go runs the
// server side of this same read/write-deadline discipline; here we run the
// client side of it instead).
package feed

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"swaprouter/core"
)

// wireMessage is the envelope this router's feed speaks: exactly one of
// the payload fields is set. Kind is decoded but not consulted; dispatch
// selects on whichever payload field is non-nil.
type wireMessage struct {
	Kind string `json:"kind"`

	AccountWrite *wireAccountWrite `json:"account_write,omitempty"`
	SlotUpdate   *wireSlotUpdate   `json:"slot_update,omitempty"`
	PriceUpdate  *wirePriceUpdate  `json:"price_update,omitempty"`
	ExecutedTx   *wireExecutedTx   `json:"executed_tx,omitempty"`
	SnapshotStart *string          `json:"snapshot_start,omitempty"`
	SnapshotEnd   *string          `json:"snapshot_end,omitempty"`
	InvalidAccount *string         `json:"invalid_account,omitempty"`
}

type wireAccountWrite struct {
	Address      string `json:"address"`
	Slot         uint64 `json:"slot"`
	WriteVersion uint64 `json:"write_version"`
	Owner        string `json:"owner"`
	Data         []byte `json:"data"`
}

type wireSlotUpdate struct {
	Slot uint64 `json:"slot"`
}

type wirePriceUpdate struct {
	Mint  string  `json:"mint"`
	Price float64 `json:"price_ui"`
}

type wireExecutedTx struct {
	Signature       string   `json:"signature"`
	IsSuccess       bool     `json:"is_success"`
	TouchedAccounts []string `json:"touched_accounts"`
	InstructionData []byte   `json:"instruction_data"`
	Logs            []string `json:"logs"`
}

// Config tunes the websocket feed client.
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration
}

// DefaultConfig mirrors sane production defaults for a long-lived feed
// client.
func DefaultConfig(url string) Config {
	return Config{
		URL:                 url,
		HandshakeTimeout:    10 * time.Second,
		PingInterval:        30 * time.Second,
		ReconnectBackoffMin: 500 * time.Millisecond,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

// Client is a reconnecting websocket feed source that emits to the four
// consumed streams (spec §6). It never blocks its read loop on a slow
// consumer: each output channel is buffered and a full channel drops the
// message with a logged warning, the same fan-out discipline as the
// account-update pipeline.
type Client struct {
	cfg    Config
	logger *log.Logger

	writes chan core.AccountWrite
	slots  chan core.SlotUpdate
	prices chan core.PriceUpdate
	txs    chan core.ExecutedTx
	meta   chan core.MetadataEvent

	stop chan struct{}
}

// NewClient constructs a feed client. Call Run in its own goroutine.
func NewClient(cfg Config, logger *log.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		writes: make(chan core.AccountWrite, 1024),
		slots:  make(chan core.SlotUpdate, 64),
		prices: make(chan core.PriceUpdate, 256),
		txs:    make(chan core.ExecutedTx, 256),
		meta:   make(chan core.MetadataEvent, 64),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Writes() <-chan core.AccountWrite    { return c.writes }
func (c *Client) Slots() <-chan core.SlotUpdate        { return c.slots }
func (c *Client) Prices() <-chan core.PriceUpdate      { return c.prices }
func (c *Client) ExecutedTxs() <-chan core.ExecutedTx  { return c.txs }
func (c *Client) Metadata() <-chan core.MetadataEvent  { return c.meta }

// Stop terminates the client's reconnect loop.
func (c *Client) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Run dials the feed and reconnects until Stop is called. Failed dials are
// retried with exponential backoff; after a read error on an established
// connection it redials at once.
func (c *Client) Run() {
	backoff := c.cfg.ReconnectBackoffMin
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
		conn, _, err := dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.logger.WithFields(log.Fields{"url": c.cfg.URL, "err": err}).Warn("feed dial failed, backing off")
			if !c.sleepBackoff(&backoff) {
				return
			}
			continue
		}
		backoff = c.cfg.ReconnectBackoffMin

		if !c.readLoop(conn) {
			conn.Close()
			return
		}
		conn.Close()
	}
}

func (c *Client) sleepBackoff(backoff *time.Duration) bool {
	select {
	case <-c.stop:
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > c.cfg.ReconnectBackoffMax {
		*backoff = c.cfg.ReconnectBackoffMax
	}
	return true
}

// readLoop drains one connection until it errors or Stop is called.
// Returns false if the client should fully exit (Stop was called).
func (c *Client) readLoop(conn *websocket.Conn) bool {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	msgs := make(chan wireMessage, 64)
	errs := make(chan error, 1)
	go func() {
		for {
			var m wireMessage
			if err := conn.ReadJSON(&m); err != nil {
				errs <- err
				return
			}
			msgs <- m
		}
	}()

	for {
		select {
		case <-c.stop:
			return false
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true
			}
		case err := <-errs:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithFields(log.Fields{"err": err}).Warn("feed read error, reconnecting")
			}
			return true
		case m := <-msgs:
			c.dispatch(m)
		}
	}
}

func (c *Client) dispatch(m wireMessage) {
	switch {
	case m.AccountWrite != nil:
		w := m.AccountWrite
		addr, err := core.ParseMint(w.Address)
		if err != nil {
			return
		}
		owner, err := core.ParseMint(w.Owner)
		if err != nil {
			return
		}
		select {
		case c.writes <- core.AccountWrite{
			Address:      core.Address(addr),
			Slot:         w.Slot,
			WriteVersion: w.WriteVersion,
			Owner:        core.Address(owner),
			Bytes:        w.Data,
		}:
		default:
			c.logger.Warn("account-write channel full, dropped")
		}
	case m.SlotUpdate != nil:
		select {
		case c.slots <- core.SlotUpdate{Slot: m.SlotUpdate.Slot}:
		default:
			c.logger.Warn("slot channel full, dropped")
		}
	case m.PriceUpdate != nil:
		mint, err := core.ParseMint(m.PriceUpdate.Mint)
		if err != nil {
			return
		}
		select {
		case c.prices <- core.PriceUpdate{Mint: mint, Price: m.PriceUpdate.Price}:
		default:
			c.logger.Warn("price channel full, dropped")
		}
	case m.ExecutedTx != nil:
		tx := m.ExecutedTx
		touched := make([]core.Address, 0, len(tx.TouchedAccounts))
		for _, s := range tx.TouchedAccounts {
			a, err := core.ParseMint(s)
			if err != nil {
				continue
			}
			touched = append(touched, core.Address(a))
		}
		select {
		case c.txs <- core.ExecutedTx{
			Signature:       tx.Signature,
			IsSuccess:       tx.IsSuccess,
			TouchedAccounts: touched,
			InstructionData: tx.InstructionData,
			Logs:            tx.Logs,
		}:
		default:
			c.logger.Warn("executed-tx channel full, dropped")
		}
	case m.SnapshotStart != nil:
		a, err := core.ParseMint(*m.SnapshotStart)
		if err != nil {
			return
		}
		addr := core.Address(a)
		c.sendMeta(core.MetadataEvent{SnapshotStart: &addr})
	case m.SnapshotEnd != nil:
		a, err := core.ParseMint(*m.SnapshotEnd)
		if err != nil {
			return
		}
		addr := core.Address(a)
		c.sendMeta(core.MetadataEvent{SnapshotEnd: &addr})
	case m.InvalidAccount != nil:
		a, err := core.ParseMint(*m.InvalidAccount)
		if err != nil {
			return
		}
		addr := core.Address(a)
		c.sendMeta(core.MetadataEvent{InvalidAccount: &addr})
	}
}

func (c *Client) sendMeta(m core.MetadataEvent) {
	select {
	case c.meta <- m:
	default:
		c.logger.Warn("metadata channel full, dropped")
	}
}

var _ = json.Marshal // keep encoding/json imported for wireMessage's tags-driven (de)serialization via conn.ReadJSON
