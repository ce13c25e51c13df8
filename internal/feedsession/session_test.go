package feedsession

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/broker"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/wire"
)

func failingDial(ctx context.Context, url string) (broker.Conn, error) {
	return nil, fmt.Errorf("dial refused in test")
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	entry := &catalog.Entry{
		Underlying: "NSE_INDEX|NIFTY",
		Expiry:     "2024-01-25",
		Step:       50,
	}
	for i := -10; i <= 10; i++ {
		strike := 20000 + float64(i)*50
		entry.Rows = append(entry.Rows, catalog.StrikeRow{
			Strike:  strike,
			CallKey: fmt.Sprintf("NSE_FO|CE%d", i),
			PutKey:  fmt.Sprintf("NSE_FO|PE%d", i),
			LotSize: 50,
		})
	}
	cat.Load([]*catalog.Entry{entry})
	return cat
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	cat := testCatalog(t)
	bfc := broker.New(failingDial, "wss://example.invalid", time.Millisecond, 10*time.Millisecond, zap.NewNop())
	s := New("user-1", cfg, bfc, cat, nil, nil, zap.NewNop())
	return s
}

func drainOutbox(s *Session) []wire.OutboundFrame {
	var out []wire.OutboundFrame
	for {
		select {
		case f := <-s.outbox:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHandleTickDiscardsSequenceRegression(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	key := wire.InstrumentKey("NSE_FO|CE0")

	s.handleTick(key, wire.Tick{LTP: wire.Some(decimal.NewFromInt(100)), Seq: 5})
	s.handleTick(key, wire.Tick{LTP: wire.Some(decimal.NewFromInt(999)), Seq: 3})

	s.stateMu.RLock()
	st := s.states[key]
	s.stateMu.RUnlock()

	require.Equal(t, uint64(5), st.LastSeq)
	require.True(t, st.Tick.LTP.Value.Equal(decimal.NewFromInt(100)), "a lower-seq tick must never overwrite newer state")
}

func TestHandleTickAcceptsUnseenInstrumentRegardlessOfSeq(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	key := wire.InstrumentKey("NSE_FO|CE1")

	s.handleTick(key, wire.Tick{LTP: wire.Some(decimal.NewFromInt(50)), Seq: 0})

	s.stateMu.RLock()
	st, ok := s.states[key]
	s.stateMu.RUnlock()

	require.True(t, ok)
	require.True(t, st.Tick.LTP.Set)
}

func TestATMHysteresisRequiresTwoQualifyingTicksSeparatedByInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ATMHysteresis = 20 * time.Millisecond
	s := newTestSession(t, cfg)

	s.sessionCfg = SessionConfig{
		UserID:        "user-1",
		UnderlyingKey: "NSE_INDEX|NIFTY",
		Expiry:        "2024-01-25",
		Step:          50,
		HalfWidth:     3,
	}

	// Establish an initial window at 20000 so the fast-path "no ATM yet"
	// branch doesn't fire on the next tick.
	s.doRebuild(20000)
	drainOutbox(s)
	require.True(t, s.window != nil)
	require.Equal(t, float64(20000), s.window.ATMStrike)
	initialVersion := s.version

	// Spot moves two steps: qualifies, but a single tick must not trigger a
	// rebuild immediately.
	s.handleUnderlyingTick(wire.Tick{LTP: wire.Some(decimal.NewFromInt(20100))}, 50)
	require.Equal(t, initialVersion, s.version, "a single qualifying tick must not trigger a rebuild")

	// Same candidate again before the hysteresis window elapses: still no
	// rebuild.
	s.handleUnderlyingTick(wire.Tick{LTP: wire.Some(decimal.NewFromInt(20100))}, 50)
	require.Equal(t, initialVersion, s.version)

	time.Sleep(cfg.ATMHysteresis + 10*time.Millisecond)

	s.handleUnderlyingTick(wire.Tick{LTP: wire.Some(decimal.NewFromInt(20100))}, 50)
	require.Eventually(t, func() bool {
		s.windowMu.RLock()
		defer s.windowMu.RUnlock()
		return s.version == initialVersion+1
	}, time.Second, 5*time.Millisecond, "rebuild should fire once hysteresis elapses on a sustained candidate")
}

func TestRebuildEmitsResettingBeforeLive(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	s.sessionCfg = SessionConfig{
		UserID:        "user-1",
		UnderlyingKey: "NSE_INDEX|NIFTY",
		Expiry:        "2024-01-25",
		Step:          50,
		HalfWidth:     2,
	}

	s.doRebuild(20000)
	frames := drainOutbox(s)

	require.GreaterOrEqual(t, len(frames), 2)
	require.Equal(t, wire.TypeFeedState, frames[0].Type)
	resetting := frames[0].Data.(wire.FeedStateData)
	require.Equal(t, "RESETTING", resetting.Status)

	last := frames[len(frames)-1]
	require.Equal(t, wire.TypeFeedState, last.Type)
	live := last.Data.(wire.FeedStateData)
	require.Equal(t, "LIVE", live.Status)
	require.Equal(t, 1, live.Version)
	require.NotEmpty(t, live.LiveStrikes)
}

func TestSwitchUnderlyingIdempotentWhileAlreadyLive(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	s.sessionCfg = SessionConfig{UnderlyingKey: "NSE_INDEX|NIFTY", Expiry: "2024-01-25", Step: 50, HalfWidth: 2}
	s.setStatus(StatusLive)
	s.doRebuild(20000)
	drainOutbox(s)
	require.Equal(t, StatusLive, s.Status())

	ctx := context.Background()
	err1 := s.SwitchUnderlying(ctx, "NSE_INDEX|NIFTY", "2024-01-25", nil)
	require.NoError(t, err1)
	require.Equal(t, StatusResetting, s.Status())

	err2 := s.SwitchUnderlying(ctx, "NSE_INDEX|NIFTY", "2024-01-25", nil)
	require.NoError(t, err2)
	require.Equal(t, StatusResetting, s.Status())

	s.sessionCfgMu.RLock()
	defer s.sessionCfgMu.RUnlock()
	require.Equal(t, "NSE_INDEX|NIFTY", s.sessionCfg.UnderlyingKey)
}

func TestSwitchUnderlyingRejectsUnknownInstrument(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	s.setStatus(StatusLive)

	err := s.SwitchUnderlying(context.Background(), "NSE_INDEX|BOGUS", "2024-01-25", nil)
	require.Error(t, err)

	frames := drainOutbox(s)
	require.Len(t, frames, 1)
	require.Equal(t, wire.TypeError, frames[0].Type)
	errData := frames[0].Data.(wire.ErrorData)
	require.Equal(t, string(ErrCatalogUnavailable), errData.Kind)
}

func TestFlushInjectsSpotWhenBufferEmpty(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	s.sessionCfg = SessionConfig{UnderlyingKey: "NSE_INDEX|NIFTY", Expiry: "2024-01-25", Step: 50, HalfWidth: 2}
	s.doRebuild(20000)
	drainOutbox(s)

	s.handleTick(wire.InstrumentKey("NSE_INDEX|NIFTY"), wire.Tick{LTP: wire.Some(decimal.NewFromInt(20010)), Seq: 1})
	s.flush() // handleTick only buffers the tick; this first flush sends it and leaves the buffer empty
	drainOutbox(s)

	s.flush()
	frames := drainOutbox(s)
	require.Len(t, frames, 1)
	require.Equal(t, wire.TypeMarketUpdate, frames[0].Type)
	data := frames[0].Data.(wire.MarketUpdateData)
	_, ok := data.Data["NSE_INDEX|NIFTY"]
	require.True(t, ok, "spot must be injected on every flush once known, even with no fresh option ticks")
}

func TestFlushFiltersKeysOutsideLiveWindow(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	s.sessionCfg = SessionConfig{UnderlyingKey: "NSE_INDEX|NIFTY", Expiry: "2024-01-25", Step: 50, HalfWidth: 1}
	s.doRebuild(20000)
	drainOutbox(s)

	// NSE_FO|CE9 sits far outside the +-1 strike window built above.
	s.bufMu.Lock()
	s.buffer.put(wire.InstrumentKey("NSE_FO|CE9"), wire.Tick{LTP: wire.Some(decimal.NewFromInt(5)), Seq: 1})
	s.bufMu.Unlock()

	s.flush()
	frames := drainOutbox(s)
	for _, f := range frames {
		if f.Type != wire.TypeMarketUpdate {
			continue
		}
		data := f.Data.(wire.MarketUpdateData)
		_, present := data.Data["NSE_FO|CE9"]
		require.False(t, present, "a key outside the live window must never be broadcast")
	}
}
