package broker

import "github.com/relayforge/optionrelay/internal/wire"

// EventKind tags the variant carried by an Event. Using a tagged-union
// struct instead of a Go interface keeps the hot path on a single channel
// type with no allocation-per-event type assertion, avoiding a
// control-flow-by-exception design with mixed return shapes.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventAuthInvalid
	EventEntitlementDenied
	EventTick
	EventUpstreamError
	EventMarketInfo
	EventHeartbeatTimeout
)

// UpstreamErrorKind classifies an UpstreamError event.
type UpstreamErrorKind int

const (
	ErrorParseError UpstreamErrorKind = iota
	ErrorUnknownMessageType
	ErrorOversizedFrame
)

// Event is the single variant type BFC emits on its EventStream. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventDisconnected
	Reason string

	// EventTick
	InstrumentKey wire.InstrumentKey
	Tick          wire.Tick

	// EventUpstreamError
	ErrorKind UpstreamErrorKind
	Msg       string

	// EventMarketInfo
	Segments []wire.MarketSegmentStatus
}
