package feedsession

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relayforge/optionrelay/internal/catalog"
)

func TestRoundToStep(t *testing.T) {
	require.Equal(t, 20000.0, RoundToStep(19980, 50))
	require.Equal(t, 20050.0, RoundToStep(20026, 50))
	require.Equal(t, 123.0, RoundToStep(123, 0), "a non-positive step must pass spot through unchanged")
}

func TestDiffKeysAgainstNilPrev(t *testing.T) {
	next := &LiveWindow{SubscribedKeys: map[string]struct{}{"a": {}, "b": {}}}
	add, drop := diffKeys(nil, next)
	require.ElementsMatch(t, []string{"a", "b"}, add)
	require.Empty(t, drop)
}

func TestDiffKeysAddAndDrop(t *testing.T) {
	prev := &LiveWindow{SubscribedKeys: map[string]struct{}{"a": {}, "b": {}}}
	next := &LiveWindow{SubscribedKeys: map[string]struct{}{"b": {}, "c": {}}}
	add, drop := diffKeys(prev, next)
	require.ElementsMatch(t, []string{"c"}, add)
	require.ElementsMatch(t, []string{"a"}, drop)
}

func TestBuildWindowClipsToChainBounds(t *testing.T) {
	cat := catalog.New()
	entry := &catalog.Entry{Underlying: "NSE_INDEX|NIFTY", Expiry: "2024-01-25", Step: 50}
	for i := 0; i <= 3; i++ {
		entry.Rows = append(entry.Rows, catalog.StrikeRow{
			Strike:  20000 + float64(i)*50,
			CallKey: "CE" + string(rune('0'+i)),
			PutKey:  "PE" + string(rune('0'+i)),
		})
	}
	cat.Load([]*catalog.Entry{entry})

	w, err := buildWindow(cat, "NSE_INDEX|NIFTY", "2024-01-25", 20000, 50, 8, 1)
	require.NoError(t, err)
	require.Len(t, w.LiveStrikes, 4, "a half-width larger than the chain must clip, not error or gap")
	require.Contains(t, w.SubscribedKeys, "NSE_INDEX|NIFTY")
}
