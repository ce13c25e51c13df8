package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTickRoundTrip(t *testing.T) {
	tick := Tick{
		LTP:          Some(decimal.NewFromFloat(123.45)),
		Bid:          Some(decimal.NewFromFloat(123.40)),
		Ask:          Some(decimal.NewFromFloat(123.50)),
		BidQty:       Some(int64(300)),
		AskQty:       Some(int64(200)),
		IV:           Some(18.25),
		Delta:        Some(0.54),
		Gamma:        Some(0.002),
		Theta:        Some(-1.2),
		Vega:         Some(0.31),
		BidSimulated: Some(true),
		Seq:          42,
		RecvTS:       1700000000,
	}
	frame := &Frame{Type: FrameTick, InstrumentKey: "NSE_FO|12345", Tick: tick}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, frame.InstrumentKey, got.InstrumentKey)
	require.Equal(t, tick.Seq, got.Tick.Seq)
	require.True(t, got.Tick.LTP.Set)
	require.True(t, tick.LTP.Value.Equal(got.Tick.LTP.Value))
	require.True(t, got.Tick.Bid.Set)
	require.True(t, got.Tick.Ask.Set)
	require.Equal(t, tick.IV.Value, got.Tick.IV.Value)
	require.Equal(t, tick.Delta.Value, got.Tick.Delta.Value)
	require.True(t, got.Tick.BidSimulated.Value)
	require.False(t, got.Tick.AskSimulated.Set)
	// Absent fields must round-trip as absent, never as zero.
	require.False(t, got.Tick.Volume.Set)
	require.False(t, got.Tick.OI.Set)
}

func TestTickMergeNeverOverwritesWithAbsence(t *testing.T) {
	base := Tick{LTP: Some(decimal.NewFromInt(100)), Seq: 1}
	next := Tick{Seq: 2} // no LTP present
	merged := base.Merge(next)
	require.True(t, merged.LTP.Set)
	require.True(t, merged.LTP.Value.Equal(decimal.NewFromInt(100)))
	require.Equal(t, uint64(2), merged.Seq)
}

func TestTickMergeDropsZeroLTP(t *testing.T) {
	base := Tick{LTP: Some(decimal.NewFromInt(100))}
	next := Tick{LTP: Some(decimal.Zero)}
	merged := base.Merge(next)
	require.True(t, merged.LTP.Value.Equal(decimal.NewFromInt(100)), "zero ltp must never overwrite a good price")
}

func TestMarketInfoRoundTrip(t *testing.T) {
	frame := &Frame{
		Type: FrameMarketInfo,
		Segments: []MarketSegmentStatus{
			{Segment: "NSE_FO", Status: "NORMAL_OPEN"},
			{Segment: "NSE_EQ", Status: "NORMAL_CLOSE"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))
	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, frame.Segments, got.Segments)
}

func TestErrorLikeRoundTrip(t *testing.T) {
	frame := &Frame{Type: FrameAuthReject, ErrorKind: "AuthInvalid", ErrorMsg: "token expired"}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))
	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "AuthInvalid", got.ErrorKind)
	require.Equal(t, "token expired", got.ErrorMsg)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF}) // claims 65535 bytes, over MaxFrameSize
	buf.Write(make([]byte, 100))  // short body; reader should discard and error
	_, err := ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestNormalizeAliasForms(t *testing.T) {
	require.Equal(t, InstrumentKey("NSE_FO|12345"), Normalize("NSE_FO|12345"))
	require.Equal(t, InstrumentKey("NSE_FO|12345"), Normalize("NSE_FO:12345"))
}
