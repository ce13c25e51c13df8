// Command brokersim is a standalone synthetic upstream broker: it speaks
// the exact wire protocol internal/broker decodes (binary length-prefixed
// envelopes after a JSON login handshake), so cmd/relay's whole pipeline
// is exercisable without a real broker connection. Adapted from
// cmd/feedsim/main.go's wiring shape (config load, signal handling,
// per-symbol tick loop), retargeted at a synthetic option chain via
// internal/simcore instead of equities via internal/engine+orderbook. Pass
// --seed-catalog to instead publish the built chains to MongoDB's
// catalog_entries collection and exit, for cmd/relay's Instrument Catalog
// to load at startup.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	catalogpkg "github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/config"
	"github.com/relayforge/optionrelay/internal/obslog"
	"github.com/relayforge/optionrelay/internal/persist"
	"github.com/relayforge/optionrelay/internal/simcore"
	"github.com/relayforge/optionrelay/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	bc := &config.BrokerSimConfig{}

	root := &cobra.Command{
		Use:   "brokersim",
		Short: "Synthetic upstream option-chain broker feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(bc)
		},
	}
	config.RegisterBrokerSimFlags(root.Flags(), bc)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(bc *config.BrokerSimConfig) error {
	logger, err := obslog.New(obslog.Config{Level: "info"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("broker simulator starting", zap.Strings("underlyings", bc.Underlyings))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	specs := make([]simcore.ChainSpec, 0, len(bc.Underlyings))
	startSpots := make([]float64, 0, len(bc.Underlyings))
	expiry := nextWeeklyExpiry()
	for _, u := range bc.Underlyings {
		specs = append(specs, simcore.ChainSpec{
			Underlying:      u,
			Expiry:          expiry,
			Step:            50,
			StrikesEachSide: 12,
			LotSize:         75,
			AnnualVol:       0.18,
			RiskFreeRate:    0.07,
		})
		startSpots = append(startSpots, baseSpot(u))
	}
	eng := simcore.NewEngine(bc.Seed, specs, startSpots)

	if bc.SeedCatalog {
		return seedCatalog(ctx, bc, eng, logger)
	}

	hub := newHub(eng, logger)
	go hub.run(ctx, bc.TickInterval())

	mux := http.NewServeMux()
	mux.HandleFunc("/broker", hub.handle)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d,"stress_phase":%q}`, hub.connCount(), eng.StressPhase())
	})

	addr := fmt.Sprintf("%s:%d", bc.Host, bc.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("broker simulator listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("broker simulator stopped")
	return nil
}

// seedCatalog writes the engine's built chains to MongoDB's catalog_entries
// collection and exits, so cmd/relay's Instrument Catalog has something to
// load without brokersim needing to stay up as the source of truth for the
// strike ladder (only for live quotes).
func seedCatalog(ctx context.Context, bc *config.BrokerSimConfig, eng *simcore.Engine, logger *zap.Logger) error {
	store, err := persist.NewStore(ctx, bc.MongoURI, logger)
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer store.Close(ctx)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	entries := make([]*catalogpkg.Entry, 0, len(eng.Chains()))
	for _, c := range eng.Chains() {
		entries = append(entries, c.Entry())
	}

	loader := persist.NewCatalogLoader(store.DB())
	if err := loader.UpsertEntries(ctx, entries); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	logger.Info("seeded catalog_entries", zap.Int("chains", len(entries)))
	return nil
}

func nextWeeklyExpiry() time.Time {
	now := time.Now()
	daysUntilThursday := (4 - int(now.Weekday()) + 7) % 7
	if daysUntilThursday == 0 {
		daysUntilThursday = 7
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, now.Location()).AddDate(0, 0, daysUntilThursday)
}

func baseSpot(underlying string) float64 {
	switch underlying {
	case "BANKNIFTY":
		return 48000
	default:
		return 22000
	}
}

// hub fans the shared simcore.Engine's per-tick quotes out to every
// connected broker client connection, filtering by each connection's
// current subscription set, mirroring session.Manager's per-client
// ResolveTickers+Broadcast split generalized from ITCH symbols to option
// instrument keys.
type hub struct {
	eng    *simcore.Engine
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

func newHub(eng *simcore.Engine, logger *zap.Logger) *hub {
	return &hub{eng: eng, logger: logger, conns: make(map[*conn]struct{})}
}

func (h *hub) connCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *hub) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dt := interval.Seconds() / (252 * 6.5 * 3600)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updates := h.eng.Tick(dt)
			h.broadcast(updates)
		}
	}
}

func (h *hub) broadcast(updates []simcore.LegUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.deliver(updates)
	}
}

func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("upgrade failed", zap.Error(err))
		}
		return
	}

	c := &conn{ws: wsConn, subscribed: make(map[string]string), logger: h.logger}

	var login wire.LoginRequest
	_, msg, err := wsConn.ReadMessage()
	if err != nil {
		wsConn.Close()
		return
	}
	if err := json.Unmarshal(msg, &login); err != nil || login.Method != "login" {
		wsConn.Close()
		return
	}
	if login.Token == "" {
		c.writeFrame(&wire.Frame{Type: wire.FrameAuthReject, ErrorKind: "AUTH_INVALID", ErrorMsg: "missing token"})
		wsConn.Close()
		return
	}
	c.writeFrame(&wire.Frame{Type: wire.FrameAuthAck})

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		wsConn.Close()
	}()

	for {
		_, msg, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		c.handleCommand(msg)
	}
}

// conn is one accepted upstream connection: the subset of client state
// this simulator needs to honor the subscription protocol
// internal/broker.Client's commandPump speaks against it.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	subscribed map[string]string
	logger *zap.Logger
}

// handleCommand decodes a subscribe/unsubscribe/mode JSON command. The
// real upstream BFC writes these JSON bytes as a binary websocket message
// (internal/broker/client.go's commandPump), not wrapped in the
// length-prefixed wire.Frame envelope that server->client ticks use.
func (c *conn) handleCommand(msg []byte) {
	var cmd wire.SubscribeCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Method {
	case "sub":
		for _, k := range cmd.Data.InstrumentKeys {
			c.subscribed[k] = cmd.Data.Mode
		}
	case "unsub":
		for _, k := range cmd.Data.InstrumentKeys {
			delete(c.subscribed, k)
		}
	case "mode":
		for _, k := range cmd.Data.InstrumentKeys {
			if _, ok := c.subscribed[k]; ok {
				c.subscribed[k] = cmd.Data.Mode
			}
		}
	}
}

func (c *conn) deliver(updates []simcore.LegUpdate) {
	c.mu.Lock()
	if len(c.subscribed) == 0 {
		c.mu.Unlock()
		return
	}
	var matched []simcore.LegUpdate
	for _, u := range updates {
		if _, ok := c.subscribed[u.Key]; ok {
			matched = append(matched, u)
		}
	}
	c.mu.Unlock()

	for _, u := range matched {
		c.writeFrame(&wire.Frame{Type: wire.FrameTick, InstrumentKey: wire.InstrumentKey(u.Key), Tick: u.Tick})
	}
}

func (c *conn) writeFrame(f *wire.Frame) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := wire.WriteFrame(w, f); err != nil {
		if c.logger != nil {
			c.logger.Warn("encode frame failed", zap.Error(err))
		}
		return
	}
	w.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		if c.logger != nil {
			c.logger.Warn("write frame failed", zap.Error(err))
		}
	}
}
