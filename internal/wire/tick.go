package wire

// InstrumentKey is the canonical normalized form of an upstream
// instrument identifier. Two separator forms exist upstream
// ("NSE_FO|12345" and "NSE_FO:12345"); Normalize folds both to the
// canonical pipe form so lookups never miss on alias drift.
type InstrumentKey string

// Normalize folds the alternate colon-separator form to the canonical
// pipe form. Unknown forms pass through unchanged.
func Normalize(raw string) InstrumentKey {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			b := []byte(raw)
			b[i] = '|'
			return InstrumentKey(b)
		}
	}
	return InstrumentKey(raw)
}

// Tick is the normalized representation of a single upstream market-data
// update, decoded from the binary envelope by the broker feed client.
// Every numeric field is Optional: absence means "not present in this
// update", not zero.
type Tick struct {
	LTP           OptDecimal
	Volume        OptInt64
	OI            OptInt64
	Bid           OptDecimal
	Ask           OptDecimal
	BidQty        OptInt64
	AskQty        OptInt64
	BidTS         OptInt64
	AskTS         OptInt64
	BidSimulated  OptBool
	AskSimulated  OptBool
	IV            OptFloat64
	Delta         OptFloat64
	Gamma         OptFloat64
	Theta         OptFloat64
	Vega          OptFloat64
	RecvTS        int64
	Seq           uint64
	SyntheticFlag bool
}

// Merge applies the present fields of next onto the receiver's copy,
// leaving absent fields untouched, and returns the result. ltp is never
// overwritten with a present-but-zero value: a zero trade price means
// "no trade" upstream and is dropped, per the feed's sequencing
// invariant.
func (t Tick) Merge(next Tick) Tick {
	out := t
	if next.LTP.Set && !next.LTP.Value.IsZero() {
		out.LTP = next.LTP
	}
	mergeOpt(&out.Volume, next.Volume)
	mergeOpt(&out.OI, next.OI)
	mergeOpt(&out.Bid, next.Bid)
	mergeOpt(&out.Ask, next.Ask)
	mergeOpt(&out.BidQty, next.BidQty)
	mergeOpt(&out.AskQty, next.AskQty)
	mergeOpt(&out.BidTS, next.BidTS)
	mergeOpt(&out.AskTS, next.AskTS)
	mergeOpt(&out.BidSimulated, next.BidSimulated)
	mergeOpt(&out.AskSimulated, next.AskSimulated)
	mergeOpt(&out.IV, next.IV)
	mergeOpt(&out.Delta, next.Delta)
	mergeOpt(&out.Gamma, next.Gamma)
	mergeOpt(&out.Theta, next.Theta)
	mergeOpt(&out.Vega, next.Vega)
	out.RecvTS = next.RecvTS
	out.Seq = next.Seq
	out.SyntheticFlag = next.SyntheticFlag
	return out
}

func mergeOpt[T any](dst *Optional[T], src Optional[T]) {
	if src.Set {
		*dst = src
	}
}

// HasAnalytics reports whether the upstream already supplied IV and the
// full Greeks set, in which case the Analytics Engine is skipped for
// this instrument.
func (t Tick) HasAnalytics() bool {
	return t.IV.Set && t.Delta.Set && t.Gamma.Set && t.Theta.Set && t.Vega.Set
}
