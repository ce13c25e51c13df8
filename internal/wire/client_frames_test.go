package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFeedStateRoundTrip(t *testing.T) {
	data := FeedStateData{
		Status:            "LIVE",
		Underlying:        "NSE_INDEX|Nifty 50",
		CurrentATM:        23500,
		LiveStrikes:       []float64{23400, 23500, 23600},
		MaxStrikeDistance: 8,
		Version:           1,
		Timestamp:         time.Unix(1700000000, 0).UTC(),
	}
	raw, err := EncodeOutbound(OutboundFrame{Type: TypeFeedState, Data: data})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, TypeFeedState, decoded["type"])
	payload := decoded["data"].(map[string]any)
	require.Equal(t, "LIVE", payload["status"])
	require.Equal(t, float64(1), payload["version"])
}

func TestMarketUpdateEmitsStringPrices(t *testing.T) {
	ltp := decimal.NewFromFloat(123.45)
	upd := TickUpdate{LTP: &ltp, Seq: 7}
	raw, err := json.Marshal(MarketUpdateData{Data: map[string]TickUpdate{"NSE_FO|1": upd}})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"ltp":"123.45"`)
}

func TestTickToUpdateOmitsAbsentFields(t *testing.T) {
	tick := Tick{LTP: Some(decimal.NewFromInt(100)), Seq: 3}
	upd := TickToUpdate(tick)
	raw, err := json.Marshal(upd)
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"delta"`)
	require.Contains(t, string(raw), `"ltp":"100"`)
}

func TestDecodeInboundSwitchUnderlying(t *testing.T) {
	raw := []byte(`{"action":"switch_underlying","underlying_key":"NSE_INDEX|Nifty 50","keys":["A","B"],"expiry_date":"2025-02-27"}`)
	f, err := DecodeInbound(raw)
	require.NoError(t, err)
	require.Equal(t, ActionSwitchUnderlying, f.Action)
	require.Equal(t, "NSE_INDEX|Nifty 50", f.UnderlyingKey)
	require.Equal(t, []string{"A", "B"}, f.Keys)
	require.Equal(t, "2025-02-27", f.ExpiryDate)
}
