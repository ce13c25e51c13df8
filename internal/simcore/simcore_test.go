package simcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/engine"
)

func TestUnderlyingStepStaysPositive(t *testing.T) {
	rng := engine.NewRNG(42)
	u := NewUnderlying("NIFTY", 22000, 0.18, 0, rng)

	for i := 0; i < 10000; i++ {
		spot := u.Step(1.0 / (252 * 6.5 * 3600))
		require.Greater(t, spot, 0.0)
	}
}

func TestBuildChainLaysOutOddStrikeCount(t *testing.T) {
	rng := engine.NewRNG(7)
	u := NewUnderlying("NIFTY", 22010, 0.18, 0, rng)
	spec := ChainSpec{
		Underlying:      "NIFTY",
		Expiry:          time.Now().Add(7 * 24 * time.Hour),
		Step:            50,
		StrikesEachSide: 5,
		LotSize:         75,
		AnnualVol:       0.18,
		RiskFreeRate:    0.07,
	}
	c := BuildChain(u, spec)

	assert.Len(t, c.Rows(), 11)
	for _, row := range c.Rows() {
		assert.NotEmpty(t, row.CallKey)
		assert.NotEmpty(t, row.PutKey)
		assert.NotEqual(t, row.CallKey, row.PutKey)
	}
}

func TestQuoteLegProducesSaneBidAskSpread(t *testing.T) {
	rng := engine.NewRNG(7)
	u := NewUnderlying("NIFTY", 22000, 0.18, 0, rng)
	spec := ChainSpec{
		Underlying:      "NIFTY",
		Expiry:          time.Now().Add(7 * 24 * time.Hour),
		Step:            50,
		StrikesEachSide: 2,
		LotSize:         75,
		AnnualVol:       0.18,
		RiskFreeRate:    0.07,
	}
	c := BuildChain(u, spec)
	row := c.Rows()[2] // ATM row

	tick := c.QuoteLeg(row, analytics.Call, time.Now(), 1, 1.0)
	require.True(t, tick.Bid.Set)
	require.True(t, tick.Ask.Set)
	require.True(t, tick.LTP.Set)

	assert.True(t, tick.Bid.Value.LessThanOrEqual(tick.Ask.Value))
	assert.True(t, tick.IV.Set)
	assert.InDelta(t, 0.18, tick.IV.Value, 1e-9)
}

func TestQuoteLegWidensSpreadUnderStress(t *testing.T) {
	rng := engine.NewRNG(7)
	u := NewUnderlying("NIFTY", 22000, 0.18, 0, rng)
	spec := ChainSpec{
		Underlying:      "NIFTY",
		Expiry:          time.Now().Add(7 * 24 * time.Hour),
		Step:            50,
		StrikesEachSide: 2,
		LotSize:         75,
		AnnualVol:       0.18,
		RiskFreeRate:    0.07,
	}
	c := BuildChain(u, spec)
	row := c.Rows()[0] // OTM row, nonzero moneyness

	calm := c.QuoteLeg(row, analytics.Call, time.Now(), 1, 1.0)
	stressed := c.QuoteLeg(row, analytics.Call, time.Now(), 2, 1.6)

	calmSpread := calm.Ask.Value.Sub(calm.Bid.Value)
	stressedSpread := stressed.Ask.Value.Sub(stressed.Bid.Value)
	assert.True(t, stressedSpread.GreaterThan(calmSpread))
}

func TestEngineTickAdvancesEveryChainAndEmitsCallAndPut(t *testing.T) {
	specs := []ChainSpec{
		{Underlying: "NIFTY", Expiry: time.Now().Add(7 * 24 * time.Hour), Step: 50, StrikesEachSide: 3, LotSize: 75, AnnualVol: 0.18, RiskFreeRate: 0.07},
		{Underlying: "BANKNIFTY", Expiry: time.Now().Add(7 * 24 * time.Hour), Step: 100, StrikesEachSide: 3, LotSize: 25, AnnualVol: 0.22, RiskFreeRate: 0.07},
	}
	eng := NewEngine(1, specs, []float64{22000, 48000})

	updates := eng.Tick(1.0 / (252 * 6.5 * 3600))

	assert.Len(t, updates, (2*3+1)*2*2) // 2 chains * 7 strikes * 2 legs
	seen := make(map[string]bool)
	for _, u := range updates {
		seen[u.Key] = true
	}
	assert.Len(t, seen, len(updates), "every leg key should be unique")
}
