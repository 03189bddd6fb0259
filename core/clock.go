package core

// clock.go – injectable time source so cool-down/backoff math (spec §4.4,
// testable properties 6-8) is deterministic in tests instead of racing the
// wall clock.

import "github.com/benbjohnson/clock"

// Clock is the time source used by EdgeState cool-downs and the periodic
// tickers in the edge updater and path warmer. clock.Clock's real
// implementation wraps the standard library; clock.Mock lets tests fast
// forward time deterministically.
type Clock = clock.Clock

// NewClock returns the real, wall-clock-backed implementation.
func NewClock() Clock { return clock.New() }
