package simcore

import (
	"sync"
	"time"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/engine"
	"github.com/relayforge/optionrelay/internal/wire"
)

// LegUpdate is one instrument's freshly quoted tick.
type LegUpdate struct {
	Key  string
	Tick wire.Tick
}

// Engine owns every simulated underlying and its option chain, advancing
// all of them on each Tick call and handing back the full set of leg
// quotes. One Engine is shared by every upstream connection cmd/brokersim
// accepts. A shared engine.StressController (internal/engine/stress.go)
// drives a system-wide IV regime: its Intensity() scales every chain's
// quoted implied vol and spread for the tick, the same calm/active/burst
// phase cycling originally used to vary order-book action rates,
// repurposed here to vary volatility instead of order flow.
type Engine struct {
	mu      sync.Mutex
	rng     *engine.RNG
	stress  *engine.StressController
	chains  []*Chain
	seq     uint64
}

// NewEngine builds an Engine from specs, walking each underlying's spot
// from startSpot[i] via a shared deterministic RNG.
func NewEngine(seed int64, specs []ChainSpec, startSpots []float64) *Engine {
	rng := engine.NewRNG(seed)
	chains := make([]*Chain, 0, len(specs))
	for i, spec := range specs {
		u := NewUnderlying(spec.Underlying, startSpots[i], spec.AnnualVol, 0, rng)
		chains = append(chains, BuildChain(u, spec))
	}
	stress := engine.NewStressController(rng, engine.DefaultStressConfig())
	return &Engine{rng: rng, stress: stress, chains: chains}
}

// Chains exposes the built chains, e.g. for a one-time catalog_entries seed.
func (e *Engine) Chains() []*Chain {
	return e.chains
}

// Tick advances every underlying by dt and recomputes every leg's quote,
// returning one LegUpdate per call and put across all chains. The current
// stress phase's intensity widens implied vol and spreads system-wide,
// simulating the way real option chains re-price sharply during a spot
// shock rather than holding a flat vol surface forever.
func (e *Engine) Tick(dt float64) []LegUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stress.Tick()
	volMultiplier := 1 + e.stress.Intensity()*0.6

	now := time.Now()
	updates := make([]LegUpdate, 0, len(e.chains)*4)
	for _, c := range e.chains {
		c.u.Step(dt)
		for _, row := range c.rows {
			e.seq++
			updates = append(updates, LegUpdate{Key: row.CallKey, Tick: c.QuoteLeg(row, analytics.Call, now, e.seq, volMultiplier)})
			e.seq++
			updates = append(updates, LegUpdate{Key: row.PutKey, Tick: c.QuoteLeg(row, analytics.Put, now, e.seq, volMultiplier)})
		}
	}
	return updates
}

// StressPhase exposes the current system-wide volatility regime, e.g. for
// a /health response or a log line.
func (e *Engine) StressPhase() engine.StressPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stress.Phase()
}
