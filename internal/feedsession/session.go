package feedsession

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/broker"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/credential"
	"github.com/relayforge/optionrelay/internal/wire"
)

// Session is the per-user Feed Session: the core state machine that owns
// the active underlying, ATM, live-strike window,
// per-instrument sequence counters, last-known ticks, pending switch state,
// and the update buffer. One goroutine per task — ingest, flush timer,
// health timer, ATM rebuild — coordinated with plain channels and a
// sync.RWMutex-guarded state map, mirroring the lock-discipline idiom of
// internal/orderbook.Book and internal/engine.MarketEngine.
type Session struct {
	userID string
	cfg    Config
	logger *zap.Logger

	bfc       *broker.Client
	catalog   *catalog.Catalog
	aePool    *analytics.Pool
	credStore credential.Store

	outbox chan wire.OutboundFrame

	sessionCfgMu sync.RWMutex
	sessionCfg   SessionConfig

	statusMu sync.RWMutex
	status   Status

	stateMu sync.RWMutex
	states  map[wire.InstrumentKey]*InstrumentState

	bufMu  sync.Mutex
	buffer *UpdateBuffer

	windowMu     sync.RWMutex
	window       *LiveWindow
	version      int
	hasATM       bool
	candidateATM float64
	candidateAt  time.Time

	resetMu       sync.Mutex
	resetInFlight bool
	resetWaitKeys map[string]struct{}
	resetWaitCh   chan struct{}
	coalescedNext *float64

	pendingMu sync.Mutex
	pending   *PendingSwitch

	marketClosedMu     sync.Mutex
	marketClosedNotice bool
	lastMarketClosedAt time.Time

	bfcConnected bool
	bfcMu        sync.Mutex

	started bool
	startMu sync.Mutex

	cancel context.CancelFunc
}

// New constructs a Feed Session bound to userID. The Feed Session does not
// connect to the broker until the first SwitchUnderlying call, matching the
// DISCONNECTED -> CONNECTING transition.
func New(userID string, cfg Config, bfc *broker.Client, cat *catalog.Catalog, aePool *analytics.Pool, credStore credential.Store, logger *zap.Logger) *Session {
	return &Session{
		userID:    userID,
		cfg:       cfg,
		logger:    logger,
		bfc:       bfc,
		catalog:   cat,
		aePool:    aePool,
		credStore: credStore,
		outbox:    make(chan wire.OutboundFrame, 256),
		status:    StatusDisconnected,
		states:    make(map[wire.InstrumentKey]*InstrumentState),
		buffer:    newUpdateBuffer(),
	}
}

// Outbox is the channel the Session Broadcaster drains to fan frames out to
// this user's connected transports.
func (s *Session) Outbox() <-chan wire.OutboundFrame {
	return s.outbox
}

// Status returns the current state-machine status.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// Start begins the flush timer, health timer, and analytics result drain.
// Must be called once before any client command is processed.
func (s *Session) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.flushLoop(ctx)
	go s.healthLoop(ctx)
	go s.analyticsDrainLoop(ctx)
}

// Stop tears down all of this session's background goroutines and closes
// its broker connection.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.bfc.Close()
}

func (s *Session) emit(frame wire.OutboundFrame) {
	select {
	case s.outbox <- frame:
	default:
		// The intra-process outbox only backs up if the broadcaster has
		// stalled entirely; per-transport backpressure policy lives in
		// internal/broadcaster, not here.
		if s.logger != nil {
			s.logger.Warn("feed session outbox full, dropping frame", zap.String("type", frame.Type))
		}
	}
}

func (s *Session) emitError(kind ErrorKind, msg string) {
	s.emit(wire.OutboundFrame{Type: wire.TypeError, Data: wire.ErrorData{Kind: string(kind), Msg: msg}})
}

// --- Public contract ---

// SwitchUnderlying replaces the session's SessionConfig, subscribes to the
// underlying so a spot tick can arrive, and arms the pending switch that
// the first qualifying tick (or reset deadline) resolves into a LiveWindow.
func (s *Session) SwitchUnderlying(ctx context.Context, underlyingKey, expiry string, requestedKeys []string) error {
	step, err := s.catalog.StepFor(underlyingKey)
	if err != nil {
		s.emitError(ErrCatalogUnavailable, err.Error())
		return err
	}

	s.sessionCfgMu.Lock()
	s.sessionCfg = SessionConfig{
		UserID:        s.userID,
		UnderlyingKey: underlyingKey,
		Expiry:        expiry,
		Step:          step,
		HalfWidth:     s.cfg.LiveWindowHalfWidth,
	}
	s.sessionCfgMu.Unlock()

	s.pendingMu.Lock()
	s.pending = &PendingSwitch{
		NewUnderlyingKey: underlyingKey,
		RequestedKeys:    requestedKeys,
		Expiry:           expiry,
		EnqueueTS:        time.Now(),
	}
	s.pendingMu.Unlock()

	s.windowMu.Lock()
	s.hasATM = false
	s.candidateATM = 0
	s.window = nil
	s.windowMu.Unlock()

	wasDisconnected := s.Status() == StatusDisconnected
	if wasDisconnected {
		s.setStatus(StatusConnecting)
		s.ensureConnected(ctx)
	} else {
		s.setStatus(StatusResetting)
	}

	s.emit(wire.OutboundFrame{
		Type: wire.TypeFeedState,
		Data: wire.FeedStateData{Status: "RESETTING", Underlying: underlyingKey, LiveStrikes: []float64{}, Timestamp: time.Now()},
	})

	// Subscribe to the underlying alone so the first spot tick can arrive
	// and trigger the initial window build; option keys are added once ATM
	// is known.
	s.bfc.Subscribe([]string{underlyingKey}, "ltpc")

	s.emit(wire.OutboundFrame{
		Type: wire.TypeSubscriptionAck,
		Data: wire.SubscriptionAckData{Count: 1, Underlying: underlyingKey},
	})

	go s.watchResetDeadline(underlyingKey)

	return nil
}

// SwitchExpiry is equivalent to SwitchUnderlying with the same underlying.
func (s *Session) SwitchExpiry(ctx context.Context, expiry string) error {
	s.sessionCfgMu.RLock()
	underlying := s.sessionCfg.UnderlyingKey
	s.sessionCfgMu.RUnlock()
	if underlying == "" {
		return fmt.Errorf("feedsession: switch_expiry with no active underlying")
	}
	return s.SwitchUnderlying(ctx, underlying, expiry, nil)
}

func (s *Session) watchResetDeadline(underlyingKey string) {
	timer := time.NewTimer(s.cfg.ResetDeadline)
	defer timer.Stop()
	<-timer.C

	if s.Status() != StatusResetting && s.Status() != StatusConnecting {
		return
	}
	s.windowMu.RLock()
	resolved := s.hasATM
	s.windowMu.RUnlock()
	if resolved {
		return
	}

	s.pendingMu.Lock()
	if s.pending != nil && s.pending.NewUnderlyingKey == underlyingKey {
		s.sessionCfgMu.RLock()
		currentExpiry := s.sessionCfg.Expiry
		s.sessionCfgMu.RUnlock()
		if s.pending.Expiry != currentExpiry {
			// A later switch_expiry call replaced sessionCfg.Expiry before this
			// pending switch resolved: it no longer matches what the client
			// actually wants, so invalidate it instead of retrying it.
			s.pending = nil
			s.pendingMu.Unlock()
			s.emitError(ErrExpiryChanged, "pending switch superseded by a later expiry change")
			return
		}
		s.pending.RetryCount++
		if s.pending.Stale(time.Now()) {
			s.pending = nil
		}
		s.pendingMu.Unlock()
		// The session stays RESETTING.
		s.emitError(ErrSwitchTimeout, "reset deadline exceeded")
		return
	} else {
		s.pendingMu.Unlock()
	}
}

func (s *Session) ensureConnected(ctx context.Context) {
	s.bfcMu.Lock()
	defer s.bfcMu.Unlock()
	if s.bfcConnected {
		return
	}
	s.bfcConnected = true

	cred := broker.Credential{UserID: s.userID}
	if s.credStore != nil {
		if rec, err := s.credStore.Lookup(ctx, s.userID); err == nil {
			cred.Token = rec.BrokerToken
		}
	}
	events := s.bfc.Connect(ctx, cred)
	go s.ingestLoop(ctx, events)
}

// --- Ingest task ---

func (s *Session) ingestLoop(ctx context.Context, events <-chan broker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev broker.Event) {
	switch ev.Kind {
	case broker.EventConnected:
		s.emit(wire.OutboundFrame{Type: wire.TypeFeedConnected})
		if s.Status() == StatusConnecting {
			s.setStatus(StatusResetting)
		}
	case broker.EventDisconnected:
		s.emit(wire.OutboundFrame{Type: wire.TypeFeedDisconnected, Data: wire.FeedDisconnectedData{Reason: ev.Reason}})
	case broker.EventAuthInvalid:
		s.handleAuthInvalid()
	case broker.EventEntitlementDenied:
		s.handleEntitlementDenied(ev.Msg)
	case broker.EventTick:
		s.handleTick(ev.InstrumentKey, ev.Tick)
	case broker.EventUpstreamError:
		// Protocol-class errors are logged and skipped;
		// they never reach the client.
		if s.logger != nil {
			s.logger.Debug("upstream protocol error", zap.Int("kind", int(ev.ErrorKind)), zap.String("msg", ev.Msg))
		}
	case broker.EventMarketInfo:
		s.handleMarketInfo(ev.Segments)
	case broker.EventHeartbeatTimeout:
		s.handleMarketInfo([]wire.MarketSegmentStatus{{Status: "NORMAL_CLOSE"}})
	}
}

func (s *Session) handleAuthInvalid() {
	s.setStatus(StatusUnavailable)
	s.emitError(ErrBrokerTokenInvalid, "broker token invalid")
	if s.credStore != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.sessionCfgMu.RLock()
			userID := s.userID
			s.sessionCfgMu.RUnlock()
			if err := s.credStore.MarkInvalidated(ctx, userID); err != nil && s.logger != nil {
				s.logger.Error("mark credential invalidated", zap.Error(err))
			}
		}()
	}
}

func (s *Session) handleEntitlementDenied(msg string) {
	s.setStatus(StatusUnavailable)
	s.emit(wire.OutboundFrame{Type: wire.TypeFeedUnavailable, Data: wire.FeedUnavailableData{Msg: msg}})
}

func (s *Session) handleMarketInfo(segments []wire.MarketSegmentStatus) {
	closed := false
	for _, seg := range segments {
		if seg.Status == "NORMAL_CLOSE" {
			closed = true
			break
		}
	}
	if !closed {
		return
	}
	s.marketClosedMu.Lock()
	defer s.marketClosedMu.Unlock()
	if s.marketClosedNotice && time.Since(s.lastMarketClosedAt) < 5*time.Second {
		return // debounced
	}
	s.marketClosedNotice = true
	s.lastMarketClosedAt = time.Now()
	s.setStatus(StatusMarketClosed)
	s.emit(wire.OutboundFrame{Type: wire.TypeMarketStatus, Data: wire.MarketStatusData{Status: "CLOSED", Msg: "market closed"}})
}

func (s *Session) handleTick(key wire.InstrumentKey, t wire.Tick) {
	s.stateMu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = &InstrumentState{}
		s.states[key] = st
	} else if t.Seq <= st.LastSeq && ok {
		s.stateMu.Unlock()
		return // sequence regression or replay: discard
	}
	if ok && t.Seq > st.LastSeq+1 {
		if s.logger != nil {
			s.logger.Warn("sequence gap", zap.String("key", string(key)), zap.Uint64("have", st.LastSeq), zap.Uint64("got", t.Seq))
		}
	}
	st.Tick = st.Tick.Merge(t)
	st.LastSeq = t.Seq
	st.MissedCycles = 0
	merged := st.Tick
	s.stateMu.Unlock()

	s.sessionCfgMu.RLock()
	underlyingKey := s.sessionCfg.UnderlyingKey
	step := s.sessionCfg.Step
	s.sessionCfgMu.RUnlock()

	if string(key) == underlyingKey {
		s.handleUnderlyingTick(merged, step)
	} else if merged.LTP.Set && !merged.HasAnalytics() {
		s.maybeScheduleAnalytics(key, merged)
	}

	s.bufMu.Lock()
	s.buffer.put(key, merged)
	s.bufMu.Unlock()

	s.signalResetWaiters(string(key))
}

func (s *Session) handleUnderlyingTick(t wire.Tick, step float64) {
	if s.Status() == StatusMarketClosed {
		return // ATM triggers freeze once the market is closed
	}
	if !t.LTP.Set || t.LTP.Value.IsZero() || step <= 0 {
		return
	}
	spot, _ := t.LTP.Value.Float64()
	candidate := RoundToStep(spot, step)

	s.windowMu.Lock()
	if !s.hasATM {
		s.windowMu.Unlock()
		s.triggerRebuild(candidate)
		return
	}
	currentATM := s.window.ATMStrike
	qualifies := math.Abs(candidate-currentATM) >= step
	if !qualifies {
		s.candidateATM = 0
		s.windowMu.Unlock()
		return
	}
	now := time.Now()
	if s.candidateATM != candidate {
		s.candidateATM = candidate
		s.candidateAt = now
		s.windowMu.Unlock()
		return
	}
	elapsed := now.Sub(s.candidateAt) >= s.cfg.ATMHysteresis
	s.windowMu.Unlock()
	if elapsed {
		s.triggerRebuild(candidate)
	}
}

func (s *Session) maybeScheduleAnalytics(key wire.InstrumentKey, t wire.Tick) {
	now := time.Now()
	s.stateMu.Lock()
	st := s.states[key]
	if st == nil || now.Sub(st.LastDeriveTS) < s.cfg.AnalyticsMinInterval {
		s.stateMu.Unlock()
		return
	}
	st.LastDeriveTS = now
	s.stateMu.Unlock()

	if s.aePool == nil || !t.LTP.Set {
		return
	}
	price, _ := t.LTP.Value.Float64()

	s.sessionCfgMu.RLock()
	cfg := s.sessionCfg
	s.sessionCfgMu.RUnlock()

	s.windowMu.RLock()
	w := s.window
	s.windowMu.RUnlock()
	if w == nil {
		return
	}
	strike, typ, ok := w.lookupStrikeAndType(string(key))
	if !ok {
		return
	}

	spotState, spotOK := s.snapshotLTP(cfg.UnderlyingKey)
	if !spotOK {
		return
	}

	s.aePool.Submit(analytics.Request{
		Key: string(key),
		Inputs: analytics.Inputs{
			Spot:          spotState,
			Strike:        strike,
			Type:          typ,
			TimeYears:     yearsToExpiry(cfg.Expiry),
			Rate:          0.065,
			DividendYield: 0,
			ObservedPrice: price,
		},
	})
}

// lookupStrikeAndType finds which strike/side an instrument key belongs to
// in the current window.
func (w *LiveWindow) lookupStrikeAndType(key string) (strike float64, typ analytics.OptionType, ok bool) {
	for strikeVal, keys := range w.strikeToKeys {
		if keys[0] == key {
			return strikeVal, analytics.Call, true
		}
		if keys[1] == key {
			return strikeVal, analytics.Put, true
		}
	}
	return 0, 0, false
}

func (s *Session) snapshotLTP(key string) (float64, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st, ok := s.states[wire.InstrumentKey(key)]
	if !ok || !st.Tick.LTP.Set {
		return 0, false
	}
	v, _ := st.Tick.LTP.Value.Float64()
	return v, true
}

func yearsToExpiry(expiry string) float64 {
	loc := time.Now().Location()
	t, err := time.ParseInLocation("2006-01-02", expiry, loc)
	if err != nil {
		return 0
	}
	days := time.Until(t.Add(15*time.Hour + 30*time.Minute)).Hours() / 24
	if days < 0 {
		days = 0
	}
	return days / 365
}

// --- Analytics result merge ---

func (s *Session) analyticsDrainLoop(ctx context.Context) {
	if s.aePool == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-s.aePool.Results():
			if !ok {
				return
			}
			if res.Timedout || res.Result.InvalidInputs {
				continue
			}
			s.mergeAnalytics(wire.InstrumentKey(res.Key), res.Result)
		}
	}
}

func (s *Session) mergeAnalytics(key wire.InstrumentKey, r analytics.Result) {
	s.stateMu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.stateMu.Unlock()
		return
	}
	derived := wire.Tick{
		IV:     wire.Some(r.IV),
		Delta:  wire.Some(r.Delta),
		Gamma:  wire.Some(r.Gamma),
		Theta:  wire.Some(r.Theta),
		Vega:   wire.Some(r.Vega),
		Seq:    st.LastSeq,
		RecvTS: st.Tick.RecvTS,
	}
	st.Tick = st.Tick.Merge(derived)
	merged := st.Tick
	s.stateMu.Unlock()

	s.bufMu.Lock()
	s.buffer.put(key, merged)
	s.bufMu.Unlock()
}

// --- ATM rebuild task, single-flight via resetMu ---

func (s *Session) triggerRebuild(candidate float64) {
	s.resetMu.Lock()
	if s.resetInFlight {
		s.coalescedNext = &candidate
		s.resetMu.Unlock()
		return
	}
	s.resetInFlight = true
	s.resetMu.Unlock()

	go s.rebuildWindow(candidate)
}

func (s *Session) rebuildWindow(candidate float64) {
	for {
		s.doRebuild(candidate)

		s.resetMu.Lock()
		if s.coalescedNext == nil {
			s.resetInFlight = false
			s.resetMu.Unlock()
			return
		}
		next := *s.coalescedNext
		s.coalescedNext = nil
		s.resetMu.Unlock()
		candidate = next
	}
}

func (s *Session) doRebuild(candidate float64) {
	s.setStatus(StatusResetting)

	s.sessionCfgMu.RLock()
	cfg := s.sessionCfg
	s.sessionCfgMu.RUnlock()

	s.emit(wire.OutboundFrame{
		Type: wire.TypeFeedState,
		Data: wire.FeedStateData{Status: "RESETTING", Underlying: cfg.UnderlyingKey, CurrentATM: candidate, LiveStrikes: []float64{}, Timestamp: time.Now()},
	})

	s.windowMu.RLock()
	oldWindow := s.window
	s.windowMu.RUnlock()

	newWindow, err := buildWindow(s.catalog, cfg.UnderlyingKey, cfg.Expiry, candidate, cfg.Step, cfg.HalfWidth, s.version+1)
	if err != nil {
		s.emitError(ErrCatalogUnavailable, err.Error())
		return
	}

	add, drop := diffKeys(oldWindow, newWindow)
	if len(add) > 0 {
		s.bfc.Subscribe(add, "full")
	}

	waitCh := s.armResetWait(add)
	if len(add) > 0 {
		select {
		case <-waitCh:
		case <-time.After(500 * time.Millisecond):
		}
	}
	s.disarmResetWait()

	if len(drop) > 0 {
		s.bfc.Unsubscribe(drop)
	}

	s.windowMu.Lock()
	s.window = newWindow
	s.version++
	s.hasATM = true
	s.candidateATM = 0
	v := s.version
	s.windowMu.Unlock()

	s.purgeDroppedKeys(newWindow)

	s.pendingMu.Lock()
	s.pending = nil
	s.pendingMu.Unlock()

	s.setStatus(StatusLive)
	s.emit(wire.OutboundFrame{
		Type: wire.TypeFeedState,
		Data: wire.FeedStateData{
			Status:            "LIVE",
			Underlying:        cfg.UnderlyingKey,
			CurrentATM:        candidate,
			LiveStrikes:       newWindow.LiveStrikes,
			MaxStrikeDistance: cfg.HalfWidth,
			Version:           v,
			Timestamp:         time.Now(),
		},
	})
}

func (s *Session) armResetWait(keys []string) chan struct{} {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	s.resetWaitKeys = set
	s.resetWaitCh = make(chan struct{})
	return s.resetWaitCh
}

func (s *Session) disarmResetWait() {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	s.resetWaitKeys = nil
	s.resetWaitCh = nil
}

func (s *Session) signalResetWaiters(key string) {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	if s.resetWaitCh == nil {
		return
	}
	if _, ok := s.resetWaitKeys[key]; ok {
		select {
		case <-s.resetWaitCh:
		default:
			close(s.resetWaitCh)
		}
	}
}

// purgeDroppedKeys implements the hysteresis purge: a key absent from the
// live window for two consecutive rebuilds is dropped from InstrumentState.
func (s *Session) purgeDroppedKeys(w *LiveWindow) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for key, st := range s.states {
		if string(key) == w.Underlying || w.ContainsKey(string(key)) {
			continue
		}
		st.MissedCycles++
		if st.MissedCycles >= 2 {
			delete(s.states, key)
		}
	}
}

// --- Broadcast cadence ---

func (s *Session) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Session) flush() {
	s.bufMu.Lock()
	buf := s.buffer
	s.buffer = newUpdateBuffer()
	s.bufMu.Unlock()

	if s.Status() == StatusMarketClosed {
		return // last state stays frozen; no MARKET_UPDATE while closed
	}

	s.sessionCfgMu.RLock()
	underlyingKey := s.sessionCfg.UnderlyingKey
	s.sessionCfgMu.RUnlock()

	s.stateMu.RLock()
	var spotLTP *wire.Tick
	if underlyingKey != "" {
		if st, ok := s.states[wire.InstrumentKey(underlyingKey)]; ok && st.Tick.LTP.Set && !st.Tick.LTP.Value.IsZero() {
			t := st.Tick
			spotLTP = &t
		}
	}
	s.stateMu.RUnlock()

	if buf.empty() && spotLTP == nil {
		return
	}

	s.windowMu.RLock()
	w := s.window
	s.windowMu.RUnlock()

	data := make(map[string]wire.TickUpdate, len(buf.deltas)+1)
	for key, t := range buf.deltas {
		if string(key) != underlyingKey && (w == nil || !w.strikeForKey(string(key))) {
			continue // hysteresis-retained keys outside the live window are never broadcast
		}
		data[string(key)] = wire.TickToUpdate(t)
	}
	if spotLTP != nil {
		if _, already := data[underlyingKey]; !already {
			data[underlyingKey] = wire.TickToUpdate(*spotLTP)
		}
	}
	if len(data) == 0 {
		return
	}

	s.emit(wire.OutboundFrame{Type: wire.TypeMarketUpdate, Data: wire.MarketUpdateData{Data: data}})
}

func (w *LiveWindow) strikeForKey(key string) bool {
	if w == nil {
		return false
	}
	return w.ContainsKey(key)
}

// --- Health cadence (FEED_HEALTH) ---

func (s *Session) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitHealth()
		}
	}
}

func (s *Session) emitHealth() {
	s.stateMu.RLock()
	activeKeys := len(s.states)
	s.stateMu.RUnlock()

	s.bufMu.Lock()
	bufSize := len(s.buffer.deltas)
	s.bufMu.Unlock()

	s.resetMu.Lock()
	locked := s.resetInFlight
	s.resetMu.Unlock()

	s.emit(wire.OutboundFrame{
		Type: wire.TypeFeedHealth,
		Data: wire.FeedHealthData{
			State:       s.Status().String(),
			ActiveKeys:  activeKeys,
			BufferSize:  bufSize,
			ResetLocked: locked,
			Timestamp:   time.Now(),
		},
	})
}
