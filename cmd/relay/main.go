// Command relay is the production Option Feed Relay server: it wires the
// Instrument Catalog, Analytics Engine pool, credential store, per-user
// Feed Session registry, and the WebSocket edge together, grounded on
// cmd/feedsim/main.go's wiring shape (config load, signal handling, Mongo
// connect+migrate, background workers, HTTP mux, graceful shutdown).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/audit"
	"github.com/relayforge/optionrelay/internal/broadcaster"
	"github.com/relayforge/optionrelay/internal/broker"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/config"
	"github.com/relayforge/optionrelay/internal/feedsession"
	"github.com/relayforge/optionrelay/internal/obslog"
	"github.com/relayforge/optionrelay/internal/persist"
	"github.com/relayforge/optionrelay/internal/registry"
)

func main() {
	rc := &config.RelayConfig{}

	root := &cobra.Command{
		Use:   "relay",
		Short: "Option Feed Relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(rc)
		},
	}
	config.RegisterRelayFlags(root.Flags(), rc)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(rc *config.RelayConfig) error {
	logger, err := obslog.New(obslog.Config{
		Level:      rc.LogLevel,
		File:       rc.LogFile,
		MaxSizeMB:  rc.LogMaxMB,
		MaxBackups: rc.LogMaxBackups,
		MaxAgeDays: rc.LogMaxDays,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("option feed relay starting",
		zap.Int("port", rc.Port),
		zap.String("broker_url", rc.BrokerURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	store, err := persist.NewStore(ctx, rc.MongoURI, logger)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer store.Close(context.Background())

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	cat := catalog.New()
	if err := persist.NewCatalogLoader(store.DB()).Load(ctx, cat); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("instrument catalog loaded")

	credStore := persist.NewCredentialStore(store.DB())
	auditWriter := persist.NewAuditWriter(store.DB())

	aePool := analytics.NewPool(rc.AnalyticsWorkerCount, rc.AnalyticsWorkerCount*4)
	defer aePool.Close()

	fsCfg := feedsession.Config{
		LiveWindowHalfWidth:  rc.LiveWindowHalfWidth,
		FlushInterval:        rc.FlushInterval(),
		HealthInterval:       rc.HealthInterval(),
		ATMHysteresis:        rc.ATMHysteresis(),
		ResetDeadline:        rc.ResetDeadline(),
		AnalyticsMinInterval: rc.AnalyticsMinInterval(),
	}

	reg := registry.New(ctx, fsCfg, cat, credStore, aePool, broker.DialWebSocket, rc.BrokerURL,
		rc.BrokerReconnectMin(), rc.BrokerReconnectMax(), auditSink{auditWriter}, logger)
	defer reg.Shutdown()

	if rc.AuditDir != "" {
		archiver := audit.New(store.DB(), rc.AuditDir, rc.AuditMaxGB, rc.AuditIntervalHours, rc.AuditAfterHours, logger)
		go archiver.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", broadcaster.Handler(registrySource{reg}, userIDFromRequest, logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, reg.Count())
	})
	mux.HandleFunc("/catalog/search", catalogSearchHandler(cat))

	addr := fmt.Sprintf("%s:%d", rc.Host, rc.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("websocket server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("option feed relay stopped")
	return nil
}

// auditSink adapts *persist.AuditWriter to registry.AuditSink.
type auditSink struct {
	w *persist.AuditWriter
}

func (a auditSink) Write(ctx context.Context, rec registry.AuditRecord) error {
	return a.w.Write(ctx, persist.SessionAuditRecord{
		UserID:     rec.UserID,
		EventType:  rec.EventType,
		Underlying: rec.Underlying,
		Detail:     rec.Detail,
	})
}

// registrySource adapts *registry.Registry to broadcaster.SessionSource.
// registry.Registry.Attach returns the concrete *feedsession.Session type
// rather than the broadcaster.FeedSession interface, so a thin adapter is
// needed here rather than having internal/registry import internal/broadcaster.
type registrySource struct {
	reg *registry.Registry
}

func (s registrySource) Attach(userID string) (broadcaster.FeedSession, error) {
	sess, err := s.reg.Attach(userID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// catalogSearchHandler is the narrow REST introspection surface: a
// prefix search over the loaded catalog's instrument keys and trading
// symbols, for operators and client apps that need to resolve a symbol
// before opening /feed. Never consulted by the Feed Session itself.
func catalogSearchHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/json")
		if prefix == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing prefix"})
			return
		}
		json.NewEncoder(w).Encode(map[string][]string{"symbols": cat.Search(prefix)})
	}
}

// userIDFromRequest extracts the caller's user id from the "user_id" query
// parameter. Production deployments terminate real authentication (bearer
// token, session cookie) upstream of this process and forward the
// resolved identity; this mirrors that contract without implementing an
// auth provider itself, which is out of scope here.
func userIDFromRequest(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		return "", fmt.Errorf("missing user_id")
	}
	return userID, nil
}
