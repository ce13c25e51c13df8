// Package broker implements the Broker Feed Client (BFC): a
// single-producer upstream decoder that owns one websocket to the broker,
// performs the login handshake, sends subscribe/unsubscribe commands, and
// decodes the binary wire envelope into normalized ticks.
package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/wire"
)

// Credential is the bearer token handed to the upstream login handshake.
type Credential struct {
	UserID string
	Token  string
}

// Conn abstracts the transport BFC reads frames from and writes commands
// to, so tests can substitute an in-memory pipe instead of a real
// websocket.
type Conn interface {
	WriteText(b []byte) error
	WriteBinary(b []byte) error
	Reader() *bufio.Reader
	Close() error
}

// Dialer opens a new upstream transport. Production wiring supplies a
// gorilla/websocket-backed dialer; tests supply an in-memory one.
type Dialer func(ctx context.Context, url string) (Conn, error)

// eventBufferSize bounds the outbound event channel. Once full, BFC stages
// the latest tick per instrument, replacing any older staged one: it must
// never block ingestion.
const eventBufferSize = 2048

// heartbeatSilenceLimit is how long BFC tolerates zero inbound frames
// before it starts treating the feed as closed, provided the clock also
// reads outside market hours (an upstream outage during live hours raises
// EventDisconnected/reconnect instead, not this path).
const heartbeatSilenceLimit = 60 * time.Second

const heartbeatCheckInterval = 5 * time.Second

// marketOpen/marketClose bound the trading session in local clock time.
var (
	marketOpen  = clockTime{9, 15}
	marketClose = clockTime{15, 30}
)

type clockTime struct {
	hour, minute int
}

func (c clockTime) before(t time.Time) bool {
	h, m, _ := t.Clock()
	return h > c.hour || (h == c.hour && m >= c.minute)
}

// inMarketHours reports whether t's local time-of-day falls within the
// trading session.
func inMarketHours(t time.Time) bool {
	return marketOpen.before(t) && !marketClose.before(t)
}

type command struct {
	method string // "sub" | "unsub" | "mode"
	keys   []string
	mode   string
}

// Client is the per-session upstream connection. One Client belongs to
// exactly one Feed Session.
type Client struct {
	dial   Dialer
	url    string
	logger *zap.Logger

	backoffBase time.Duration
	backoffCap  time.Duration

	mu         sync.Mutex
	subscribed map[string]string // instrument key -> mode, resent in full on reconnect
	cmdCh      chan command

	events chan Event

	pendingMu sync.Mutex
	pending   map[wire.InstrumentKey]wire.Tick // coalesce-on-overflow staging

	dropCount   uint64
	closed      chan struct{}
	closeOnce   sync.Once
	terminal    bool

	heartbeatMu   sync.Mutex
	lastFrameAt   time.Time
	closedNotice  bool
}

// New constructs a BFC bound to url, using dial to open transports.
func New(dial Dialer, url string, backoffBase, backoffCap time.Duration, logger *zap.Logger) *Client {
	return &Client{
		dial:        dial,
		url:         url,
		logger:      logger,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		subscribed:  make(map[string]string),
		cmdCh:       make(chan command, 256),
		events:      make(chan Event, eventBufferSize),
		pending:     make(map[wire.InstrumentKey]wire.Tick),
		closed:      make(chan struct{}),
	}
}

// Connect starts the connect-and-read loop in the background and returns
// the event stream. AuthInvalid and EntitlementDenied are terminal: once
// emitted, the loop stops retrying and Connect's goroutine exits.
func (c *Client) Connect(ctx context.Context, cred Credential) <-chan Event {
	go c.run(ctx, cred)
	return c.events
}

func (c *Client) run(ctx context.Context, cred Credential) {
	defer close(c.events)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoffBase
	eb.MaxInterval = c.backoffCap

	for {
		conn, err := backoff.Retry(ctx, func() (Conn, error) {
			conn, err := c.dial(ctx, c.url)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}, backoff.WithBackOff(eb), backoff.WithMaxElapsedTime(0))
		if err != nil {
			// ctx cancelled; give up quietly.
			return
		}

		reason, terminal := c.runConnection(ctx, conn, cred)
		conn.Close()
		if terminal {
			return
		}
		c.emit(Event{Kind: EventDisconnected, Reason: reason})

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// runConnection drives one connection lifecycle: login, resend the full
// subscription set, then read frames until error or ctx cancellation.
// Returns the disconnect reason and whether the failure was terminal
// (AuthInvalid / EntitlementDenied).
func (c *Client) runConnection(ctx context.Context, conn Conn, cred Credential) (string, bool) {
	login, err := json.Marshal(wire.LoginRequest{Method: "login", Token: cred.Token})
	if err != nil {
		return err.Error(), false
	}
	if err := conn.WriteText(login); err != nil {
		return err.Error(), false
	}

	c.mu.Lock()
	keys := make([]string, 0, len(c.subscribed))
	for k := range c.subscribed {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	if len(keys) > 0 {
		if b, err := wire.EncodeSubscribe(keys, "full"); err == nil {
			conn.WriteBinary(b)
		}
	}

	c.emit(Event{Kind: EventConnected})
	c.touchHeartbeat()

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	go c.commandPump(connCtx, conn)
	go c.heartbeatMonitor(connCtx)

	reader := conn.Reader()
	for {
		select {
		case <-ctx.Done():
			return "context cancelled", false
		default:
		}

		f, err := wire.ReadFrame(reader)
		if err != nil {
			if _, ok := err.(*wire.ErrMalformed); ok {
				c.emit(Event{Kind: EventUpstreamError, ErrorKind: ErrorParseError, Msg: err.Error()})
				continue
			}
			if err == wire.ErrFrameTooLarge {
				c.emit(Event{Kind: EventUpstreamError, ErrorKind: ErrorOversizedFrame, Msg: err.Error()})
				continue
			}
			return err.Error(), false
		}
		c.touchHeartbeat()

		switch f.Type {
		case wire.FrameTick:
			c.emitTick(f.InstrumentKey, f.Tick)
		case wire.FrameMarketInfo:
			c.emit(Event{Kind: EventMarketInfo, Segments: f.Segments})
		case wire.FrameHeartbeat, wire.FrameAuthAck:
			// no-op; liveness only
		case wire.FrameAuthReject:
			c.emit(Event{Kind: EventAuthInvalid, Msg: f.ErrorMsg})
			return "auth invalid", true
		case wire.FrameEntitlementReject:
			c.emit(Event{Kind: EventEntitlementDenied, Msg: f.ErrorMsg})
			return "entitlement denied", true
		case wire.FrameMarketClosed:
			c.emit(Event{Kind: EventMarketInfo, Segments: []wire.MarketSegmentStatus{{Status: "NORMAL_CLOSE"}}})
		default:
			c.emit(Event{Kind: EventUpstreamError, ErrorKind: ErrorUnknownMessageType, Msg: fmt.Sprintf("type %c", f.Type)})
		}
	}
}

// commandPump drains queued subscribe/unsubscribe/mode commands onto the
// wire for the lifetime of one connection.
func (c *Client) commandPump(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.cmdCh:
			if !ok {
				return
			}
			var b []byte
			var err error
			switch cmd.method {
			case "sub":
				b, err = wire.EncodeSubscribe(cmd.keys, cmd.mode)
			case "unsub":
				b, err = wire.EncodeUnsubscribe(cmd.keys)
			case "mode":
				b, err = wire.EncodeChangeMode(cmd.keys, cmd.mode)
			}
			if err != nil || b == nil {
				continue
			}
			conn.WriteBinary(b)
		}
	}
}

// Subscribe queues keys for subscription. Idempotent; queued if BFC is not
// yet connected and flushed once commandPump is running.
func (c *Client) Subscribe(keys []string, mode string) {
	c.mu.Lock()
	for _, k := range keys {
		c.subscribed[k] = mode
	}
	c.mu.Unlock()
	c.enqueue(command{method: "sub", keys: keys, mode: mode})
}

// Unsubscribe queues keys for removal from the subscription set.
func (c *Client) Unsubscribe(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.subscribed, k)
	}
	c.mu.Unlock()
	c.enqueue(command{method: "unsub", keys: keys})
}

// ChangeMode queues a mode change ("full" | "ltpc") for keys.
func (c *Client) ChangeMode(keys []string, mode string) {
	c.mu.Lock()
	for _, k := range keys {
		c.subscribed[k] = mode
	}
	c.mu.Unlock()
	c.enqueue(command{method: "mode", keys: keys, mode: mode})
}

func (c *Client) enqueue(cmd command) {
	select {
	case c.cmdCh <- cmd:
	default:
		if c.logger != nil {
			c.logger.Warn("broker command queue full, dropping", zap.String("method", cmd.method))
		}
	}
}

// touchHeartbeat records that a frame was just read off the wire,
// resetting the silence clock heartbeatMonitor watches.
func (c *Client) touchHeartbeat() {
	c.heartbeatMu.Lock()
	c.lastFrameAt = time.Now()
	c.closedNotice = false
	c.heartbeatMu.Unlock()
}

// heartbeatMonitor watches for heartbeat silence combined with a clock
// outside market hours and emits EventHeartbeatTimeout once per silence
// episode; it clears on the next received frame via touchHeartbeat.
func (c *Client) heartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeatMu.Lock()
			silent := time.Since(c.lastFrameAt) > heartbeatSilenceLimit
			alreadyNotified := c.closedNotice
			if silent && !alreadyNotified {
				c.closedNotice = true
			}
			c.heartbeatMu.Unlock()
			if silent && !alreadyNotified && !inMarketHours(time.Now()) {
				c.emit(Event{Kind: EventHeartbeatTimeout})
			}
		}
	}
}

// Close shuts the client down. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.cmdCh)
	})
}

// DropCount returns the number of ticks dropped due to event-channel
// backpressure (keep-latest-per-instrument).
func (c *Client) DropCount() uint64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.dropCount
}

// emit delivers a non-tick event without blocking; control events are rare
// enough that a full channel here indicates a stuck consumer, which the
// health timer will surface independently.
func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		// Even control events must not wedge the upstream reader; drop and
		// rely on FEED_HEALTH / reconnect cycles to resurface state.
	}
}

// emitTick delivers a tick event without blocking. On backpressure, the
// tick is staged per instrument and delivered by a later emitTick call once
// the channel has room; a newer tick for the same instrument replaces the
// staged one (keep-latest) and the replaced tick counts as a drop. Ticks
// already queued on the channel are never replaced.
func (c *Client) emitTick(key wire.InstrumentKey, t wire.Tick) {
	// Flush ticks staged by earlier overflows; t supersedes any staged tick
	// for its own instrument.
	c.pendingMu.Lock()
	if _, ok := c.pending[key]; ok {
		delete(c.pending, key)
		c.dropCount++
	}
	for k, staged := range c.pending {
		select {
		case c.events <- Event{Kind: EventTick, InstrumentKey: k, Tick: staged}:
			delete(c.pending, k)
		default:
		}
	}
	c.pendingMu.Unlock()

	select {
	case c.events <- Event{Kind: EventTick, InstrumentKey: key, Tick: t}:
		return
	default:
	}

	c.pendingMu.Lock()
	c.pending[key] = t
	c.pendingMu.Unlock()

	// Best-effort retry: try once more now that a slot may have freed.
	select {
	case c.events <- Event{Kind: EventTick, InstrumentKey: key, Tick: t}:
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	default:
	}
}
