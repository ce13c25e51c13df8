// Package simcore is the synthetic price/option-chain generator behind
// cmd/brokersim: it stands in for a real broker market-data feed so the
// whole relay pipeline (BFC -> FS -> SB) is exercisable without a live
// upstream connection. Grounded on internal/engine's GBM price walk
// (internal/engine/market.go, internal/engine/random.go) and
// internal/orderbook's synthetic bid/ask spread idea
// (internal/orderbook/simulator.go), generalized from single-price equity
// ticks to a full underlying + its option chain.
package simcore

import (
	"math"

	"github.com/relayforge/optionrelay/internal/engine"
)

// Underlying drives one spot price's random walk: geometric Brownian
// motion with drift and no mean reversion, using a single configurable
// annualized vol per underlying.
type Underlying struct {
	Key        string
	Spot       float64
	AnnualVol  float64
	DriftPerYr float64

	rng *engine.RNG
}

// NewUnderlying constructs an Underlying seeded by rng. rng is owned by the
// caller so multiple Underlyings can share one deterministic PRNG stream,
// mirroring engine.NewMarketEngine's single shared *engine.RNG.
func NewUnderlying(key string, spot, annualVol, driftPerYr float64, rng *engine.RNG) *Underlying {
	return &Underlying{
		Key:        key,
		Spot:       spot,
		AnnualVol:  annualVol,
		DriftPerYr: driftPerYr,
		rng:        rng,
	}
}

// tradingDaysPerYear sets the trading-year length Step's default dt
// assumes; callers pick dt to match their actual tick cadence (see Step).
const tradingDaysPerYear = 252.0

// Step advances the spot price by one GBM increment over dt (a fraction of
// a trading year) and returns the new spot. Never lets price go
// non-positive.
func (u *Underlying) Step(dt float64) float64 {
	if dt <= 0 {
		dt = 1.0 / (tradingDaysPerYear * 6.5 * 3600)
	}
	drift := (u.DriftPerYr - 0.5*u.AnnualVol*u.AnnualVol) * dt
	shock := u.AnnualVol * math.Sqrt(dt) * u.rng.Gaussian()
	u.Spot *= math.Exp(drift + shock)
	if u.Spot < 0.01 {
		u.Spot = 0.01
	}
	return u.Spot
}
