package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tick presence bitmask, in declaration order. Uses a bitmask instead of a
// fixed struct size, since most fields on a given update are absent.
const (
	bitLTP = 1 << iota
	bitVolume
	bitOI
	bitBid
	bitAsk
	bitBidQty
	bitAskQty
	bitBidTS
	bitAskTS
	bitBidSimulated
	bitAskSimulated
	bitIV
	bitDelta
	bitGamma
	bitTheta
	bitVega
	bitSynthetic
)

func encodeBody(f *Frame) ([]byte, error) {
	switch f.Type {
	case FrameTick:
		return encodeTick(f)
	case FrameMarketInfo:
		return encodeMarketInfo(f), nil
	case FrameHeartbeat:
		return nil, nil
	case FrameAuthAck:
		return nil, nil
	case FrameAuthReject, FrameEntitlementReject, FrameError:
		return encodeErrorLike(f), nil
	case FrameMarketClosed:
		return nil, nil
	default:
		return nil, fmt.Errorf("wire: unknown frame type %c", f.Type)
	}
}

func decodeBody(typ FrameType, body []byte) (*Frame, error) {
	f := &Frame{Type: typ}
	switch typ {
	case FrameTick:
		return decodeTick(f, body)
	case FrameMarketInfo:
		return decodeMarketInfo(f, body)
	case FrameHeartbeat, FrameAuthAck, FrameMarketClosed:
		return f, nil
	case FrameAuthReject, FrameEntitlementReject, FrameError:
		return decodeErrorLike(f, body)
	default:
		// ReadFrame wraps this error in *ErrMalformed, which the broker
		// feed client reports as a parse error and skips; we still return
		// a frame so the caller can log the raw type.
		return f, fmt.Errorf("wire: unknown frame type %c", typ)
	}
}

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func takeString(body []byte) (string, []byte, error) {
	if len(body) < 2 {
		return "", nil, fmt.Errorf("truncated string length")
	}
	n := int(binary.BigEndian.Uint16(body[0:2]))
	body = body[2:]
	if len(body) < n {
		return "", nil, fmt.Errorf("truncated string body")
	}
	return string(body[:n]), body[n:], nil
}

func putDecimal(buf []byte, d decimal.Decimal) ([]byte, error) {
	enc, err := d.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(enc) > 255 {
		return nil, fmt.Errorf("decimal encoding too large")
	}
	buf = append(buf, byte(len(enc)))
	return append(buf, enc...), nil
}

func takeDecimal(body []byte) (decimal.Decimal, []byte, error) {
	if len(body) < 1 {
		return decimal.Decimal{}, nil, fmt.Errorf("truncated decimal length")
	}
	n := int(body[0])
	body = body[1:]
	if len(body) < n {
		return decimal.Decimal{}, nil, fmt.Errorf("truncated decimal body")
	}
	var d decimal.Decimal
	if err := d.UnmarshalBinary(body[:n]); err != nil {
		return decimal.Decimal{}, nil, err
	}
	return d, body[n:], nil
}

func encodeTick(f *Frame) ([]byte, error) {
	t := f.Tick
	var mask uint32
	if t.LTP.Set {
		mask |= bitLTP
	}
	if t.Volume.Set {
		mask |= bitVolume
	}
	if t.OI.Set {
		mask |= bitOI
	}
	if t.Bid.Set {
		mask |= bitBid
	}
	if t.Ask.Set {
		mask |= bitAsk
	}
	if t.BidQty.Set {
		mask |= bitBidQty
	}
	if t.AskQty.Set {
		mask |= bitAskQty
	}
	if t.BidTS.Set {
		mask |= bitBidTS
	}
	if t.AskTS.Set {
		mask |= bitAskTS
	}
	if t.BidSimulated.Set {
		mask |= bitBidSimulated
	}
	if t.AskSimulated.Set {
		mask |= bitAskSimulated
	}
	if t.IV.Set {
		mask |= bitIV
	}
	if t.Delta.Set {
		mask |= bitDelta
	}
	if t.Gamma.Set {
		mask |= bitGamma
	}
	if t.Theta.Set {
		mask |= bitTheta
	}
	if t.Vega.Set {
		mask |= bitVega
	}
	if t.SyntheticFlag {
		mask |= bitSynthetic
	}

	buf := make([]byte, 0, 64)
	buf = putString(buf, string(f.InstrumentKey))

	var maskBuf [4]byte
	binary.BigEndian.PutUint32(maskBuf[:], mask)
	buf = append(buf, maskBuf[:]...)

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], t.Seq)
	buf = append(buf, seqBuf[:]...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(t.RecvTS))
	buf = append(buf, tsBuf[:]...)

	var err error
	if t.LTP.Set {
		if buf, err = putDecimal(buf, t.LTP.Value); err != nil {
			return nil, err
		}
	}
	if t.Volume.Set {
		buf = putInt64(buf, t.Volume.Value)
	}
	if t.OI.Set {
		buf = putInt64(buf, t.OI.Value)
	}
	if t.Bid.Set {
		if buf, err = putDecimal(buf, t.Bid.Value); err != nil {
			return nil, err
		}
	}
	if t.Ask.Set {
		if buf, err = putDecimal(buf, t.Ask.Value); err != nil {
			return nil, err
		}
	}
	if t.BidQty.Set {
		buf = putInt64(buf, t.BidQty.Value)
	}
	if t.AskQty.Set {
		buf = putInt64(buf, t.AskQty.Value)
	}
	if t.BidTS.Set {
		buf = putInt64(buf, t.BidTS.Value)
	}
	if t.AskTS.Set {
		buf = putInt64(buf, t.AskTS.Value)
	}
	if t.BidSimulated.Set {
		buf = append(buf, boolByte(t.BidSimulated.Value))
	}
	if t.AskSimulated.Set {
		buf = append(buf, boolByte(t.AskSimulated.Value))
	}
	if t.IV.Set {
		buf = putFloat64(buf, t.IV.Value)
	}
	if t.Delta.Set {
		buf = putFloat64(buf, t.Delta.Value)
	}
	if t.Gamma.Set {
		buf = putFloat64(buf, t.Gamma.Value)
	}
	if t.Theta.Set {
		buf = putFloat64(buf, t.Theta.Value)
	}
	if t.Vega.Set {
		buf = putFloat64(buf, t.Vega.Value)
	}
	return buf, nil
}

func decodeTick(f *Frame, body []byte) (*Frame, error) {
	key, body, err := takeString(body)
	if err != nil {
		return f, err
	}
	f.InstrumentKey = Normalize(key)

	if len(body) < 4+8+8 {
		return f, fmt.Errorf("truncated tick header")
	}
	mask := binary.BigEndian.Uint32(body[0:4])
	seq := binary.BigEndian.Uint64(body[4:12])
	recvTS := int64(binary.BigEndian.Uint64(body[12:20]))
	body = body[20:]

	t := Tick{Seq: seq, RecvTS: recvTS}
	t.SyntheticFlag = mask&bitSynthetic != 0

	var d decimal.Decimal
	if mask&bitLTP != 0 {
		if d, body, err = takeDecimal(body); err != nil {
			return f, err
		}
		t.LTP = Some(d)
	}
	if mask&bitVolume != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.Volume = Some(v)
	}
	if mask&bitOI != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.OI = Some(v)
	}
	if mask&bitBid != 0 {
		if d, body, err = takeDecimal(body); err != nil {
			return f, err
		}
		t.Bid = Some(d)
	}
	if mask&bitAsk != 0 {
		if d, body, err = takeDecimal(body); err != nil {
			return f, err
		}
		t.Ask = Some(d)
	}
	if mask&bitBidQty != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.BidQty = Some(v)
	}
	if mask&bitAskQty != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.AskQty = Some(v)
	}
	if mask&bitBidTS != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.BidTS = Some(v)
	}
	if mask&bitAskTS != 0 {
		var v int64
		if v, body, err = takeInt64(body); err != nil {
			return f, err
		}
		t.AskTS = Some(v)
	}
	if mask&bitBidSimulated != 0 {
		var v bool
		if v, body, err = takeBool(body); err != nil {
			return f, err
		}
		t.BidSimulated = Some(v)
	}
	if mask&bitAskSimulated != 0 {
		var v bool
		if v, body, err = takeBool(body); err != nil {
			return f, err
		}
		t.AskSimulated = Some(v)
	}
	if mask&bitIV != 0 {
		var v float64
		if v, body, err = takeFloat64(body); err != nil {
			return f, err
		}
		t.IV = Some(v)
	}
	if mask&bitDelta != 0 {
		var v float64
		if v, body, err = takeFloat64(body); err != nil {
			return f, err
		}
		t.Delta = Some(v)
	}
	if mask&bitGamma != 0 {
		var v float64
		if v, body, err = takeFloat64(body); err != nil {
			return f, err
		}
		t.Gamma = Some(v)
	}
	if mask&bitTheta != 0 {
		var v float64
		if v, body, err = takeFloat64(body); err != nil {
			return f, err
		}
		t.Theta = Some(v)
	}
	if mask&bitVega != 0 {
		var v float64
		if v, body, err = takeFloat64(body); err != nil {
			return f, err
		}
		t.Vega = Some(v)
	}

	f.Tick = t
	return f, nil
}

func encodeMarketInfo(f *Frame) []byte {
	buf := make([]byte, 0, 32)
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(f.Segments)))
	buf = append(buf, countBuf[:]...)
	for _, seg := range f.Segments {
		buf = putString(buf, seg.Segment)
		buf = putString(buf, seg.Status)
	}
	return buf
}

func decodeMarketInfo(f *Frame, body []byte) (*Frame, error) {
	if len(body) < 2 {
		return f, fmt.Errorf("truncated market info")
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	body = body[2:]
	segs := make([]MarketSegmentStatus, 0, count)
	var err error
	for i := 0; i < count; i++ {
		var seg, status string
		if seg, body, err = takeString(body); err != nil {
			return f, err
		}
		if status, body, err = takeString(body); err != nil {
			return f, err
		}
		segs = append(segs, MarketSegmentStatus{Segment: seg, Status: status})
	}
	f.Segments = segs
	return f, nil
}

func encodeErrorLike(f *Frame) []byte {
	buf := make([]byte, 0, 32)
	buf = putString(buf, f.ErrorKind)
	buf = putString(buf, f.ErrorMsg)
	return buf
}

func decodeErrorLike(f *Frame, body []byte) (*Frame, error) {
	kind, body, err := takeString(body)
	if err != nil {
		return f, err
	}
	msg, body, err := takeString(body)
	if err != nil {
		return f, err
	}
	f.ErrorKind = kind
	f.ErrorMsg = msg
	return f, nil
}

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func takeInt64(body []byte) (int64, []byte, error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("truncated int64")
	}
	return int64(binary.BigEndian.Uint64(body[0:8])), body[8:], nil
}

func putFloat64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], floatBits(v))
	return append(buf, b[:]...)
}

func takeFloat64(body []byte) (float64, []byte, error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("truncated float64")
	}
	return bitsFloat(binary.BigEndian.Uint64(body[0:8])), body[8:], nil
}

func takeBool(body []byte) (bool, []byte, error) {
	if len(body) < 1 {
		return false, nil, fmt.Errorf("truncated bool")
	}
	return body[0] != 0, body[1:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
