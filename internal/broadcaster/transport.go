// Package broadcaster implements the Session Broadcaster (SB): the
// WebSocket edge that fans a Feed Session's outbound frames to its
// connected client, applies the per-transport backpressure policy, and
// demultiplexes inbound client commands back into Feed Session calls, over
// the single JSON client-frame contract in internal/wire/client_frames.go.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/feedsession"
	"github.com/relayforge/optionrelay/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 20 * time.Second
	maxMessageSize = 4096

	// queueCap bounds the per-transport outbound queue.
	queueCap = 64

	// idleTimeout disconnects a transport from which nothing (no client
	// message and no pong) has been received in this long.
	idleTimeout = 20 * time.Minute
)

// Conn is the subset of *websocket.Conn the transport depends on, so tests
// can substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// CommandSink is the subset of feedsession.Session a Transport dispatches
// inbound commands to. Defined here rather than embedding *feedsession.Session,
// so broadcaster depends on feedsession only for this narrow contract and
// the shared ErrorKind vocabulary below, not feedsession's internal state.
type CommandSink interface {
	SwitchUnderlying(ctx context.Context, underlyingKey, expiry string, requestedKeys []string) error
	SwitchExpiry(ctx context.Context, expiry string) error
}

// Transport is one WebSocket connection fanning a single Feed Session's
// Outbox to one client and demultiplexing that client's inbound commands.
// A Feed Session can have at most one live Transport at a time in this
// model; a reconnect replaces the previous one.
type Transport struct {
	conn    Conn
	sink    CommandSink
	logger  *zap.Logger
	userID  string

	mu             sync.Mutex
	queue          []wire.OutboundFrame
	notify         chan struct{}
	lastActivity   time.Time
	done           chan struct{}
	closeOnce      sync.Once
}

// NewTransport wraps conn for userID, dispatching inbound commands to sink.
func NewTransport(conn Conn, userID string, sink CommandSink, logger *zap.Logger) *Transport {
	return &Transport{
		conn:         conn,
		sink:         sink,
		logger:       logger,
		userID:       userID,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Enqueue applies the transport's backpressure policy: MARKET_UPDATE
// frames are dropped oldest-first to make room; every other frame type
// (FEED_STATE, FEED_HEALTH, ERROR, acks, control notices) is never dropped,
// evicting a queued MARKET_UPDATE to make room for it if necessary.
func (t *Transport) Enqueue(f wire.OutboundFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) < queueCap {
		t.queue = append(t.queue, f)
		t.wake()
		return
	}

	if f.Type == wire.TypeMarketUpdate {
		if i := t.oldestMarketUpdateIndex(); i >= 0 {
			t.queue[i] = f
			t.wake()
			return
		}
		// Queue is saturated with control frames; a fresh MARKET_UPDATE is
		// stale by the time it could be delivered anyway.
		if t.logger != nil {
			t.logger.Warn("dropping market update, queue saturated with control frames", zap.String("user_id", t.userID))
		}
		return
	}

	if i := t.oldestMarketUpdateIndex(); i >= 0 {
		t.queue = append(t.queue[:i], t.queue[i+1:]...)
		t.queue = append(t.queue, f)
		t.wake()
		return
	}

	// No MARKET_UPDATE to evict and the queue is full of control frames:
	// grow past cap rather than drop one, per the never-drop-control rule.
	t.queue = append(t.queue, f)
	t.wake()
}

func (t *Transport) oldestMarketUpdateIndex() int {
	for i, f := range t.queue {
		if f.Type == wire.TypeMarketUpdate {
			return i
		}
	}
	return -1
}

func (t *Transport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *Transport) drain() []wire.OutboundFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queue
	t.queue = nil
	return out
}

// Done reports when this transport's connection has closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close tears the transport down. Safe to call multiple times.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

func (t *Transport) idleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastActivity)
}

// WritePump drains the queue to the socket until Close or a write error.
// Grounded on internal/session/handler.go's writePump, generalized from a
// raw-bytes sendCh to a frame queue with the drop-oldest policy above.
func (t *Transport) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.Close()
	}()

	for {
		select {
		case <-t.notify:
			for _, f := range t.drain() {
				b, err := wire.EncodeOutbound(f)
				if err != nil {
					continue
				}
				t.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := t.conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		case <-ticker.C:
			if t.idleFor() > idleTimeout {
				if t.logger != nil {
					t.logger.Info("transport idle timeout", zap.String("user_id", t.userID))
				}
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// ForwardFrom relays every frame the Feed Session emits on outbox into this
// transport's own queue, applying the transport's backpressure policy. It
// returns when outbox closes or the transport is done.
func (t *Transport) ForwardFrom(outbox <-chan wire.OutboundFrame) {
	for {
		select {
		case f, ok := <-outbox:
			if !ok {
				return
			}
			t.Enqueue(f)
		case <-t.done:
			return
		}
	}
}

// ReadPump processes inbound client commands. Grounded on
// internal/session/handler.go's readPump, generalized from the ITCH
// subscribe/unsubscribe/format control vocabulary to the switch_underlying /
// switch_expiry / subscribe / unsubscribe / ping action set in
// internal/wire/client_frames.go.
func (t *Transport) ReadPump(ctx context.Context) {
	defer t.Close()

	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.touch()
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if t.logger != nil {
					t.logger.Debug("transport read error", zap.String("user_id", t.userID), zap.Error(err))
				}
			}
			return
		}
		t.touch()

		frame, err := wire.DecodeInbound(message)
		if err != nil {
			if t.logger != nil {
				t.logger.Debug("malformed inbound frame", zap.String("user_id", t.userID), zap.Error(err))
			}
			continue
		}

		t.handleInbound(ctx, frame)
	}
}

func (t *Transport) handleInbound(ctx context.Context, f wire.InboundFrame) {
	switch f.Action {
	case wire.ActionSwitchUnderlying:
		if err := t.sink.SwitchUnderlying(ctx, f.UnderlyingKey, f.ExpiryDate, f.Keys); err != nil && t.logger != nil {
			t.logger.Debug("switch_underlying rejected", zap.String("user_id", t.userID), zap.Error(err))
		}
	case wire.ActionSwitchExpiry:
		if err := t.sink.SwitchExpiry(ctx, f.ExpiryDate); err != nil && t.logger != nil {
			t.logger.Debug("switch_expiry rejected", zap.String("user_id", t.userID), zap.Error(err))
		}
	case wire.ActionSubscribe, wire.ActionUnsubscribe:
		// Advisory only: the Feed Session derives its subscription set from
		// the ATM window, not from client hints. Accepted and ignored so
		// older clients that still send these don't trip UnknownAction.
	case wire.ActionPing:
		// The websocket-level ping/pong above already carries liveness;
		// an explicit ping action is a no-op at this layer.
	default:
		if t.logger != nil {
			t.logger.Debug("unknown inbound action", zap.String("user_id", t.userID), zap.String("action", f.Action))
		}
		t.Enqueue(wire.OutboundFrame{Type: wire.TypeError, Data: wire.ErrorData{Kind: string(feedsession.ErrUnknownAction), Msg: "unrecognized action: " + f.Action}})
	}
}
