package simcore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/wire"
)

// ChainSpec describes one underlying's synthetic option chain: a strike
// ladder spaced Step apart, StrikesEachSide on either side of the spot at
// construction time (the chain itself never moves once built — only the
// quoted prices do, exactly like a real broker's instrument master).
type ChainSpec struct {
	Underlying      string
	Expiry          time.Time
	Step            float64
	StrikesEachSide int
	LotSize         int
	AnnualVol       float64
	RiskFreeRate    float64
}

// Chain is one underlying's built strike ladder plus the live Black-Scholes
// inputs needed to quote each leg.
type Chain struct {
	spec  ChainSpec
	rows  []catalog.StrikeRow
	u     *Underlying
}

// BuildChain snaps u.Spot to the nearest Step and lays out StrikesEachSide
// strikes on either side, mirroring feedsession.RoundToStep's
// convention so the simulated chain and the relay's live-window math agree
// on strike alignment.
func BuildChain(u *Underlying, spec ChainSpec) *Chain {
	atmStrike := roundToStep(u.Spot, spec.Step)
	rows := make([]catalog.StrikeRow, 0, 2*spec.StrikesEachSide+1)
	for i := -spec.StrikesEachSide; i <= spec.StrikesEachSide; i++ {
		strike := atmStrike + float64(i)*spec.Step
		if strike <= 0 {
			continue
		}
		rows = append(rows, catalog.StrikeRow{
			Strike:            strike,
			CallKey:           instrumentKey(spec.Underlying, spec.Expiry, strike, "CE"),
			PutKey:            instrumentKey(spec.Underlying, spec.Expiry, strike, "PE"),
			LotSize:           spec.LotSize,
			TradingSymbolCall: tradingSymbol(spec.Underlying, spec.Expiry, strike, "CE"),
			TradingSymbolPut:  tradingSymbol(spec.Underlying, spec.Expiry, strike, "PE"),
		})
	}
	return &Chain{spec: spec, rows: rows, u: u}
}

// Entry returns the catalog.Entry form of this chain, for seeding Mongo's
// catalog_entries collection (see cmd/brokersim's --seed-catalog mode).
func (c *Chain) Entry() *catalog.Entry {
	return &catalog.Entry{
		Underlying: c.spec.Underlying,
		Expiry:     c.spec.Expiry.Format("2006-01-02"),
		Step:       c.spec.Step,
		Rows:       c.rows,
	}
}

// Rows exposes the built strike ladder.
func (c *Chain) Rows() []catalog.StrikeRow {
	return c.rows
}

// QuoteLeg computes a synthetic tick for one option leg (call or put) at
// the chain's current spot, using analytics.Price/Greeks the same way the
// Analytics Engine derives them downstream, plus a synthetic bid/ask
// spread proportional to distance from the money (wider for deep OTM
// strikes, mirroring the wider synthetic spreads
// internal/orderbook/simulator.go assigns away from the touch).
func (c *Chain) QuoteLeg(row catalog.StrikeRow, typ analytics.OptionType, now time.Time, seq uint64, volMultiplier float64) wire.Tick {
	yearsToExpiry := c.spec.Expiry.Sub(now).Hours() / (24 * 365)
	if yearsToExpiry < 0 {
		yearsToExpiry = 0
	}
	if volMultiplier <= 0 {
		volMultiplier = 1
	}
	iv := c.spec.AnnualVol * volMultiplier

	price := analytics.Price(c.u.Spot, row.Strike, typ, yearsToExpiry, c.spec.RiskFreeRate, 0, iv)
	delta, gamma, theta, vega := analytics.Greeks(c.u.Spot, row.Strike, typ, yearsToExpiry, c.spec.RiskFreeRate, 0, iv)

	moneyness := (row.Strike - c.u.Spot) / c.u.Spot
	if moneyness < 0 {
		moneyness = -moneyness
	}
	spreadFrac := (0.01 + moneyness*0.05) * volMultiplier
	half := price * spreadFrac / 2
	if half < 0.05 {
		half = 0.05
	}
	bid := price - half
	if bid < 0 {
		bid = 0
	}
	ask := price + half

	return wire.Tick{
		LTP:    wire.Some(decimal.NewFromFloat(price).Round(2)),
		Bid:    wire.Some(decimal.NewFromFloat(bid).Round(2)),
		Ask:    wire.Some(decimal.NewFromFloat(ask).Round(2)),
		BidQty: wire.Some(int64(row.LotSize)),
		AskQty: wire.Some(int64(row.LotSize)),
		IV:     wire.Some(iv),
		Delta:  wire.Some(delta),
		Gamma:  wire.Some(gamma),
		Theta:  wire.Some(theta),
		Vega:   wire.Some(vega),
		RecvTS: now.UnixMilli(),
		Seq:    seq,
	}
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return float64(int(v/step+0.5)) * step
}

func instrumentKey(underlying string, expiry time.Time, strike float64, optType string) string {
	return fmt.Sprintf("NSE_FO|%s%s%d%s", underlying, expiry.Format("060102"), int(strike*100), optType)
}

func tradingSymbol(underlying string, expiry time.Time, strike float64, optType string) string {
	return fmt.Sprintf("%s%s%.0f%s", underlying, expiry.Format("02Jan06"), strike, optType)
}
