package feedsession

import (
	"math"

	"github.com/relayforge/optionrelay/internal/catalog"
)

// LiveWindow is the authoritative set of strikes and instrument keys the
// broadcaster is allowed to report as live. It is replaced
// wholesale on every ATM rebuild; clients key off Version to switch
// rendering filters atomically.
type LiveWindow struct {
	Underlying     string
	ATMStrike      float64
	Step           float64
	HalfWidth      int
	LiveStrikes    []float64 // sorted ascending
	SubscribedKeys map[string]struct{}
	strikeToKeys   map[float64][2]string // strike -> [callKey, putKey]
	Version        int
}

// buildWindow computes the new live window around atm, clipped to the
// chain the catalog returns. The underlying key is always a member of
// SubscribedKeys alongside every call/put key for a live strike.
func buildWindow(cat *catalog.Catalog, underlyingKey, expiry string, atm float64, step float64, halfWidth, version int) (*LiveWindow, error) {
	rows, err := cat.ChainAround(underlyingKey, expiry, atm, halfWidth)
	if err != nil {
		return nil, err
	}

	w := &LiveWindow{
		Underlying:     underlyingKey,
		ATMStrike:      atm,
		Step:           step,
		HalfWidth:      halfWidth,
		SubscribedKeys: make(map[string]struct{}, len(rows)*2+1),
		strikeToKeys:   make(map[float64][2]string, len(rows)),
		Version:        version,
	}
	w.SubscribedKeys[underlyingKey] = struct{}{}
	for _, row := range rows {
		w.LiveStrikes = append(w.LiveStrikes, row.Strike)
		w.strikeToKeys[row.Strike] = [2]string{row.CallKey, row.PutKey}
		if row.CallKey != "" {
			w.SubscribedKeys[row.CallKey] = struct{}{}
		}
		if row.PutKey != "" {
			w.SubscribedKeys[row.PutKey] = struct{}{}
		}
	}
	return w, nil
}

// diffKeys returns keys present in next but not in prev (add) and keys
// present in prev but not in next (drop). A nil prev yields add = all of
// next, drop = nil.
func diffKeys(prev, next *LiveWindow) (add, drop []string) {
	var prevKeys map[string]struct{}
	if prev != nil {
		prevKeys = prev.SubscribedKeys
	}
	for k := range next.SubscribedKeys {
		if _, ok := prevKeys[k]; !ok {
			add = append(add, k)
		}
	}
	for k := range prevKeys {
		if _, ok := next.SubscribedKeys[k]; !ok {
			drop = append(drop, k)
		}
	}
	return
}

// RoundToStep rounds spot to the nearest multiple of step: the candidate
// ATM strike is round(spot / step) * step.
func RoundToStep(spot, step float64) float64 {
	if step <= 0 {
		return spot
	}
	return math.Round(spot/step) * step
}

// ContainsStrike reports whether strike is part of the current live
// window.
func (w *LiveWindow) ContainsStrike(strike float64) bool {
	_, ok := w.strikeToKeys[strike]
	return ok
}

// ContainsKey reports whether key is currently subscribed (underlying or
// any live call/put key).
func (w *LiveWindow) ContainsKey(key string) bool {
	_, ok := w.SubscribedKeys[key]
	return ok
}
