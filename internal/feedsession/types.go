// Package feedsession implements the Feed Session (FS): the per-user state
// machine that owns the active underlying, ATM, live-strike window,
// per-instrument sequence counters, last-known ticks, pending switch state,
// and the update buffer.
package feedsession

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/relayforge/optionrelay/internal/wire"
)

// Status is the Feed Session's single-writer state-machine field.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusLive
	StatusResetting
	StatusMarketClosed
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusLive:
		return "LIVE"
	case StatusResetting:
		return "RESETTING"
	case StatusMarketClosed:
		return "MARKET_CLOSED"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// InstrumentState is the per-instrument aggregate FS keeps: the latest
// merged tick, sequence discipline, and analytics scheduling state.
type InstrumentState struct {
	Tick         wire.Tick
	LastSeq      uint64
	LastDeriveTS time.Time
	// MissedCycles counts consecutive window rebuilds this key has been absent
	// from the live-strike set; any tick for the key resets it to zero. A key
	// is purged after two, giving an ATM
	// bounce hysteresis instead of instant churn.
	MissedCycles int
}

// SessionConfig is the immutable-until-replaced configuration a Feed
// Session is bound to. Replaced atomically on switch_underlying /
// switch_expiry.
type SessionConfig struct {
	UserID        string
	UnderlyingKey string
	Expiry        string
	Step          float64
	HalfWidth     int // half-width of the live strike window, default 8
}

// PendingSwitch tracks a requested underlying/expiry change until the
// broker feed client becomes ready: capped at 3 retries and a 15s
// staleness window.
type PendingSwitch struct {
	NewUnderlyingKey string
	RequestedKeys    []string
	Expiry           string
	EnqueueTS        time.Time
	RetryCount       int
}

const (
	pendingSwitchMaxRetries = 3
	pendingSwitchStaleness  = 15 * time.Second
)

// Stale reports whether this pending switch has exceeded its staleness cap
// or retry budget and should be abandoned with ERROR{SwitchTimeout}.
func (p *PendingSwitch) Stale(now time.Time) bool {
	if p == nil {
		return false
	}
	return p.RetryCount >= pendingSwitchMaxRetries || now.Sub(p.EnqueueTS) > pendingSwitchStaleness
}

// UpdateBuffer holds the most-recent unflushed tick delta per instrument.
// Single-writer (ingest) / single-reader (flush); swapped atomically by
// pointer exchange so flush never blocks ingestion.
type UpdateBuffer struct {
	deltas map[wire.InstrumentKey]wire.Tick
}

func newUpdateBuffer() *UpdateBuffer {
	return &UpdateBuffer{deltas: make(map[wire.InstrumentKey]wire.Tick)}
}

func (b *UpdateBuffer) put(key wire.InstrumentKey, t wire.Tick) {
	b.deltas[key] = t
}

func (b *UpdateBuffer) empty() bool {
	return len(b.deltas) == 0
}

// Config bundles the tunables relevant to a single Feed Session.
type Config struct {
	LiveWindowHalfWidth  int
	FlushInterval        time.Duration
	HealthInterval       time.Duration
	ATMHysteresis        time.Duration
	ResetDeadline        time.Duration
	AnalyticsMinInterval time.Duration
}

// DefaultConfig returns the Feed Session's default tunables.
func DefaultConfig() Config {
	return Config{
		LiveWindowHalfWidth:  8,
		FlushInterval:        200 * time.Millisecond,
		HealthInterval:       1 * time.Second,
		ATMHysteresis:        250 * time.Millisecond,
		ResetDeadline:        5 * time.Second,
		AnalyticsMinInterval: 1 * time.Second,
	}
}

// zeroDecimal is the "no trade" ltp value that wire.Tick.Merge drops. No
// code in this package references it.
var zeroDecimal = decimal.Zero
