package wire

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Outbound frame type tags, exactly as enumerated in the external
// interface contract.
const (
	TypeFeedConnected    = "UPSTOX_FEED_CONNECTED"
	TypeFeedDisconnected = "UPSTOX_FEED_DISCONNECTED"
	TypeMarketStatus     = "MARKET_STATUS"
	TypeFeedUnavailable  = "FEED_UNAVAILABLE"
	TypeFeedState        = "FEED_STATE"
	TypeFeedHealth       = "FEED_HEALTH"
	TypeMarketUpdate     = "MARKET_UPDATE"
	TypeSubscriptionAck  = "SUBSCRIPTION_ACK"
	TypeError            = "ERROR"
	TypeSessionExpired   = "SESSION_EXPIRED"
)

// Inbound action tags, as enumerated in the client command table.
const (
	ActionSwitchUnderlying = "switch_underlying"
	ActionSwitchExpiry     = "switch_expiry"
	ActionSubscribe        = "subscribe"
	ActionUnsubscribe      = "unsubscribe"
	ActionPing             = "ping"
)

// OutboundFrame is the envelope every server->client message shares: a
// top-level type tag and an optional data payload.
type OutboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InboundFrame is the envelope every client->server command arrives in.
type InboundFrame struct {
	Action        string   `json:"action"`
	UnderlyingKey string   `json:"underlying_key,omitempty"`
	Keys          []string `json:"keys,omitempty"`
	ExpiryDate    string   `json:"expiry_date,omitempty"`
	TS            int64    `json:"ts,omitempty"`
}

// FeedDisconnectedData is the payload of UPSTOX_FEED_DISCONNECTED.
type FeedDisconnectedData struct {
	Reason string `json:"reason"`
}

// MarketStatusData is the payload of MARKET_STATUS.
type MarketStatusData struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// FeedUnavailableData is the payload of FEED_UNAVAILABLE.
type FeedUnavailableData struct {
	Msg string `json:"msg"`
}

// FeedStateData is the payload of FEED_STATE: the authoritative live
// window. Clients must key off Version to switch their rendering filter
// atomically, never merging across versions.
type FeedStateData struct {
	Status            string    `json:"status"` // LIVE | RESETTING
	Underlying        string    `json:"underlying"`
	CurrentATM        float64   `json:"current_atm"`
	LiveStrikes       []float64 `json:"live_strikes"`
	MaxStrikeDistance int       `json:"max_strike_distance"`
	Version           int       `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
}

// FeedHealthData is the payload of FEED_HEALTH.
type FeedHealthData struct {
	State       string    `json:"state"`
	ActiveKeys  int       `json:"active_keys"`
	BufferSize  int       `json:"buffer_size"`
	ResetLocked bool      `json:"reset_locked"`
	Timestamp   time.Time `json:"timestamp"`
}

// SubscriptionAckData is the payload of SUBSCRIPTION_ACK.
type SubscriptionAckData struct {
	Count      int    `json:"count"`
	Underlying string `json:"underlying"`
}

// ErrorData is the payload of ERROR.
type ErrorData struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

// TickUpdate is the JSON shape of a single instrument inside
// MARKET_UPDATE.data. Money fields are emitted as strings, matching the
// upstream wire contract clients already parse against.
type TickUpdate struct {
	LTP       *decimal.Decimal `json:"ltp,omitempty"`
	Volume    *int64           `json:"volume,omitempty"`
	OI        *int64           `json:"oi,omitempty"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
	BidQty    *int64           `json:"bid_qty,omitempty"`
	AskQty    *int64           `json:"ask_qty,omitempty"`
	IV        *float64         `json:"iv,omitempty"`
	Delta     *float64         `json:"delta,omitempty"`
	Gamma     *float64         `json:"gamma,omitempty"`
	Theta     *float64         `json:"theta,omitempty"`
	Vega      *float64         `json:"vega,omitempty"`
	Seq       uint64           `json:"seq"`
	Synthetic bool             `json:"synthetic,omitempty"`
}

// MarketUpdateData is the payload of MARKET_UPDATE.
type MarketUpdateData struct {
	Data map[string]TickUpdate `json:"data"`
}

// TickToUpdate projects a merged Tick into its client-facing JSON shape.
func TickToUpdate(t Tick) TickUpdate {
	u := TickUpdate{Seq: t.Seq, Synthetic: t.SyntheticFlag}
	if t.LTP.Set {
		v := t.LTP.Value
		u.LTP = &v
	}
	if t.Volume.Set {
		v := t.Volume.Value
		u.Volume = &v
	}
	if t.OI.Set {
		v := t.OI.Value
		u.OI = &v
	}
	if t.Bid.Set {
		v := t.Bid.Value
		u.Bid = &v
	}
	if t.Ask.Set {
		v := t.Ask.Value
		u.Ask = &v
	}
	if t.BidQty.Set {
		v := t.BidQty.Value
		u.BidQty = &v
	}
	if t.AskQty.Set {
		v := t.AskQty.Value
		u.AskQty = &v
	}
	if t.IV.Set {
		v := t.IV.Value
		u.IV = &v
	}
	if t.Delta.Set {
		v := t.Delta.Value
		u.Delta = &v
	}
	if t.Gamma.Set {
		v := t.Gamma.Value
		u.Gamma = &v
	}
	if t.Theta.Set {
		v := t.Theta.Value
		u.Theta = &v
	}
	if t.Vega.Set {
		v := t.Vega.Value
		u.Vega = &v
	}
	return u
}

// EncodeOutbound marshals an outbound frame to its JSON text form.
func EncodeOutbound(f OutboundFrame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeInbound parses a client->server command frame.
func DecodeInbound(b []byte) (InboundFrame, error) {
	var f InboundFrame
	err := json.Unmarshal(b, &f)
	return f, err
}
