package analytics

import (
	"errors"
	"math"
)

// ErrIVNotFound is returned when the inputs are invalid or when no volatility
// in [minIV, maxIV] reproduces the observed price. When the bisection
// fallback exhausts maxIterations it returns its best estimate instead.
var ErrIVNotFound = errors.New("analytics: implied volatility did not converge")

// ImpliedVol extracts the volatility that reproduces observedPrice under the
// Black-Scholes model, using Newton-Raphson on vega with a bisection
// (Brent's-method-style bracket) fallback when vega collapses near deep
// in/out-of-the-money strikes. Bounded to [minIV, maxIV]; capped at
// maxIterations; tolerance is relative to price per spec (1e-5).
func ImpliedVol(spot, strike float64, typ OptionType, t, r, q, observedPrice float64) (float64, error) {
	if spot <= 0 || strike <= 0 || t <= 0 || observedPrice <= 0 {
		return 0, ErrIVNotFound
	}

	sigma := 0.3 // reasonable starting guess
	for i := 0; i < maxIterations; i++ {
		price := Price(spot, strike, typ, t, r, q, sigma)
		_, _, _, vegaPer1pct := Greeks(spot, strike, typ, t, r, q, sigma)
		vegaAnnual := vegaPer1pct * 100 // undo the per-1%-vol rescale for the NR step

		diff := price - observedPrice
		if math.Abs(diff) < ivTolerance*math.Max(observedPrice, 1) {
			return clampIV(sigma), nil
		}
		if vegaAnnual < 1e-8 {
			// Vega has collapsed (deep ITM/OTM): fall back to bisection.
			return bisectIV(spot, strike, typ, t, r, q, observedPrice)
		}

		next := sigma - diff/vegaAnnual
		if next <= 0 || math.IsNaN(next) || math.IsInf(next, 0) {
			return bisectIV(spot, strike, typ, t, r, q, observedPrice)
		}
		sigma = clampIV(next)
	}
	return bisectIV(spot, strike, typ, t, r, q, observedPrice)
}

// bisectIV brackets the implied volatility between minIV and maxIV and
// bisects until the price tolerance is met or maxIterations is exhausted.
// A plain bisection is used rather than Newton/Brent since it needs no
// derivative and is numerically robust across the full vol bracket.
func bisectIV(spot, strike float64, typ OptionType, t, r, q, observedPrice float64) (float64, error) {
	lo, hi := minIV, maxIV
	priceLo := Price(spot, strike, typ, t, r, q, lo) - observedPrice
	priceHi := Price(spot, strike, typ, t, r, q, hi) - observedPrice
	if priceLo > 0 == priceHi > 0 {
		// Observed price is outside what any volatility in range can produce.
		return 0, ErrIVNotFound
	}

	for i := 0; i < maxIterations; i++ {
		mid := (lo + hi) / 2
		priceMid := Price(spot, strike, typ, t, r, q, mid) - observedPrice
		if math.Abs(priceMid) < ivTolerance*math.Max(observedPrice, 1) {
			return mid, nil
		}
		if (priceMid > 0) == (priceLo > 0) {
			lo, priceLo = mid, priceMid
		} else {
			hi = mid
		}
	}
	return clampIV((lo + hi) / 2), nil
}

func clampIV(sigma float64) float64 {
	if sigma < minIV {
		return minIV
	}
	if sigma > maxIV {
		return maxIV
	}
	return sigma
}
