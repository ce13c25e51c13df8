package wire

// FrameType identifies the kind of body carried by an upstream envelope: a
// single-byte discriminator, one byte per frame kind.
type FrameType byte

const (
	FrameTick              FrameType = 'T'
	FrameMarketInfo        FrameType = 'I'
	FrameHeartbeat         FrameType = 'H'
	FrameAuthAck           FrameType = 'K'
	FrameAuthReject        FrameType = 'N'
	FrameEntitlementReject FrameType = 'D'
	FrameMarketClosed      FrameType = 'C'
	FrameError             FrameType = 'E'
)

// MarketSegmentStatus mirrors the go-upstox MarketInfoMessage shape: a
// per-segment open/closed indicator broadcast periodically by the
// broker.
type MarketSegmentStatus struct {
	Segment string
	Status  string // "NORMAL_OPEN", "NORMAL_CLOSE", ...
}

// Frame is the decoded form of one upstream envelope. Only the fields
// relevant to Type are populated.
type Frame struct {
	Type FrameType

	// FrameTick
	InstrumentKey InstrumentKey
	Tick          Tick

	// FrameMarketInfo
	Segments []MarketSegmentStatus

	// FrameError / FrameAuthReject / FrameEntitlementReject
	ErrorKind string
	ErrorMsg  string
}
