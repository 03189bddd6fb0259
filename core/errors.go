package core

// errors.go – sentinel/typed errors for the kinds enumerated in spec §7,
// following the teacher's habit (liquidity_pools.go, amm.go) of exporting
// plain errors.New sentinels rather than a bespoke error-code hierarchy.

import (
	"errors"
	"fmt"
)

// ErrMissingAccount is returned by an adapter's load/quote/build_instruction
// when a required chain-data account is absent from the current snapshot.
var ErrMissingAccount = errors.New("swaprouter: missing account")

// ErrMalformed is returned when account bytes failed to parse.
var ErrMalformed = errors.New("swaprouter: malformed account data")

// ErrNoRoute is returned when the routing search found no candidate path.
var ErrNoRoute = errors.New("swaprouter: no route")

// ErrMissingPrice/ErrMissingDecimals are surfaced only by the post-route
// safety check; inside the per-edge quote loop a missing price/decimals
// just invalidates that edge instead of propagating an error.
var (
	ErrMissingPrice    = errors.New("swaprouter: missing ui price")
	ErrMissingDecimals = errors.New("swaprouter: missing token decimals")
)

// ErrExcessiveSlotLag is fatal: the process should restart and re-snapshot.
var ErrExcessiveSlotLag = errors.New("swaprouter: excessive slot lag")

// ErrInitTimeout is fatal: the initial snapshot did not become ready in time.
var ErrInitTimeout = errors.New("swaprouter: snapshot readiness timeout")

// ErrChannelClosed signals pipeline shutdown.
var ErrChannelClosed = errors.New("swaprouter: channel closed")

// BadRouteError carries the USD amounts that failed the safety check
// (spec §4.6.6), so callers can log/alert with the concrete numbers.
type BadRouteError struct {
	InUSD, OutUSD float64
	MinRatio      float64
}

func (e *BadRouteError) Error() string {
	return fmt.Sprintf("swaprouter: bad route: out_usd=%.6f in_usd=%.6f below min_ratio=%.4f",
		e.OutUSD, e.InUSD, e.MinRatio)
}

// LaggedError reports a dropped gap on a fanned-out update channel
// (spec §4.2 "Fan-out"). It is logged, not fatal.
type LaggedError struct {
	Adapter string
	Gap     int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("swaprouter: adapter %s lagged by %d updates, channel dropped", e.Adapter, e.Gap)
}
