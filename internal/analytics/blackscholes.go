// Package analytics computes Black-Scholes option prices and Greeks off the
// hot ingestion path. It is pure: no I/O, no shared mutable state, safe to
// call from any number of goroutines.
package analytics

import "math"

// OptionType distinguishes a call from a put.
type OptionType int

const (
	Call OptionType = iota
	Put
)

// Inputs bundles the parameters a single derivation needs.
type Inputs struct {
	Spot          float64
	Strike        float64
	Type          OptionType
	TimeYears     float64 // time to expiry, in years
	Rate          float64 // risk-free rate
	DividendYield float64
	ObservedPrice float64 // 0 means "not supplied"
	ObservedIV    float64 // 0 means "not supplied"
}

// Result holds the derived price and Greeks. Greeks are rescaled for UI
// consistency: Theta is per-day, Vega is per-1%-vol, both Delta and Gamma
// are per-1-point move in the underlying.
type Result struct {
	IV            float64
	Delta         float64
	Gamma         float64
	Theta         float64
	Vega          float64
	ModelPrice    float64
	InvalidInputs bool
}

const (
	minIV       = 0.005 // 0.5%
	maxIV       = 5.0   // 500%
	maxIterations = 64
	ivTolerance   = 1e-5
)

// d1d2 returns the standard Black-Scholes d1, d2 terms.
func d1d2(spot, strike, t, r, q, sigma float64) (d1, d2 float64) {
	sqrtT := math.Sqrt(t)
	d1 = (math.Log(spot/strike) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 = d1 - sigma*sqrtT
	return
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// intrinsic returns the intrinsic value of the option at expiry.
func intrinsic(spot, strike float64, typ OptionType) float64 {
	if typ == Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

// Price computes the European Black-Scholes price with continuous dividend
// yield, for a known volatility sigma. Guards: if t <= 0, returns intrinsic
// value; if spot or strike <= 0, returns 0 (caller should treat as invalid).
func Price(spot, strike float64, typ OptionType, t, r, q, sigma float64) float64 {
	if spot <= 0 || strike <= 0 {
		return 0
	}
	if t <= 0 {
		return intrinsic(spot, strike, typ)
	}
	if sigma <= 0 {
		return intrinsic(spot, strike, typ) * math.Exp(-r*t)
	}
	d1, d2 := d1d2(spot, strike, t, r, q, sigma)
	discSpot := spot * math.Exp(-q*t)
	discStrike := strike * math.Exp(-r*t)
	if typ == Call {
		return discSpot*normCDF(d1) - discStrike*normCDF(d2)
	}
	return discStrike*normCDF(-d2) - discSpot*normCDF(-d1)
}

// Greeks computes delta, gamma, theta, vega for known sigma, rescaled to
// per-1-point (delta, gamma), per-day (theta), and per-1%-vol (vega).
func Greeks(spot, strike float64, typ OptionType, t, r, q, sigma float64) (delta, gamma, theta, vega float64) {
	if t <= 0 || spot <= 0 || strike <= 0 || sigma <= 0 {
		return 0, 0, 0, 0
	}
	d1, d2 := d1d2(spot, strike, t, r, q, sigma)
	sqrtT := math.Sqrt(t)
	discQ := math.Exp(-q * t)
	discR := math.Exp(-r * t)

	if typ == Call {
		delta = discQ * normCDF(d1)
	} else {
		delta = -discQ * normCDF(-d1)
	}

	gamma = discQ * normPDF(d1) / (spot * sigma * sqrtT)

	vegaAnnual := spot * discQ * normPDF(d1) * sqrtT
	vega = vegaAnnual / 100 // per 1% vol move

	var thetaAnnual float64
	term1 := -spot * discQ * normPDF(d1) * sigma / (2 * sqrtT)
	if typ == Call {
		thetaAnnual = term1 - r*strike*discR*normCDF(d2) + q*spot*discQ*normCDF(d1)
	} else {
		thetaAnnual = term1 + r*strike*discR*normCDF(-d2) - q*spot*discQ*normCDF(-d1)
	}
	theta = thetaAnnual / 365 // per calendar day

	return
}

// Derive runs the full pipeline for one instrument: if an observed IV is
// supplied, Greeks are computed directly from it; otherwise IV is extracted
// from the observed price first. Numerical guards from spec: T <= 0 yields
// intrinsic + zero Greeks; spot or strike <= 0 flags InvalidInputs.
func Derive(in Inputs) Result {
	if in.Spot <= 0 || in.Strike <= 0 {
		return Result{InvalidInputs: true}
	}
	if in.TimeYears <= 0 {
		return Result{ModelPrice: intrinsic(in.Spot, in.Strike, in.Type)}
	}

	sigma := in.ObservedIV
	if sigma <= 0 {
		if in.ObservedPrice <= 0 {
			return Result{InvalidInputs: true}
		}
		var err error
		sigma, err = ImpliedVol(in.Spot, in.Strike, in.Type, in.TimeYears, in.Rate, in.DividendYield, in.ObservedPrice)
		if err != nil {
			return Result{InvalidInputs: true}
		}
	}

	delta, gamma, theta, vega := Greeks(in.Spot, in.Strike, in.Type, in.TimeYears, in.Rate, in.DividendYield, sigma)
	price := Price(in.Spot, in.Strike, in.Type, in.TimeYears, in.Rate, in.DividendYield, sigma)

	return Result{
		IV:         sigma,
		Delta:      delta,
		Gamma:      gamma,
		Theta:      theta,
		Vega:       vega,
		ModelPrice: price,
	}
}
