// Package registry holds the process-level map from user id to Feed
// Session. It is the attach/detach boundary between the WebSocket edge
// (internal/broadcaster) and the per-user state machine (internal/feedsession).
// Grounded on internal/session.Manager's clients map, generalized from
// per-connection Client objects to per-user Feed Sessions that outlive any
// single transport.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/analytics"
	"github.com/relayforge/optionrelay/internal/broker"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/credential"
	"github.com/relayforge/optionrelay/internal/feedsession"
)

// Dialer opens an upstream broker connection for a new Feed Session.
type Dialer = broker.Dialer

// AuditRecord is one Feed Session lifecycle event the registry reports to
// an AuditSink. Kept as a local type, rather than importing
// internal/persist's SessionAuditRecord directly, so registry stays
// decoupled from the Mongo-backed implementation (same collaborator-via-
// interface discipline as credential.Store).
type AuditRecord struct {
	UserID     string
	EventType  string
	Underlying string
	Detail     string
}

// AuditSink records Feed Session lifecycle events. Implemented by an
// adapter over internal/persist.AuditWriter in cmd/relay's wiring.
type AuditSink interface {
	Write(ctx context.Context, rec AuditRecord) error
}

// Registry owns every live Feed Session, keyed by user id. Exactly one
// Session exists per user at a time; reattaching an already-registered user
// returns the existing Session rather than creating a second one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*feedsession.Session

	cfg        feedsession.Config
	catalog    *catalog.Catalog
	credStore  credential.Store
	aePool     *analytics.Pool
	dial       Dialer
	brokerURL  string
	backoffMin time.Duration
	backoffMax time.Duration
	audit      AuditSink
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Registry. ctx bounds the lifetime of every Feed Session
// it creates: cancelling it tears the whole process's sessions down. audit
// may be nil, in which case lifecycle events are simply not recorded.
func New(ctx context.Context, cfg feedsession.Config, cat *catalog.Catalog, credStore credential.Store, aePool *analytics.Pool, dial Dialer, brokerURL string, backoffMin, backoffMax time.Duration, audit AuditSink, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		sessions:   make(map[string]*feedsession.Session),
		cfg:        cfg,
		catalog:    cat,
		credStore:  credStore,
		aePool:     aePool,
		dial:       dial,
		brokerURL:  brokerURL,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		audit:      audit,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (r *Registry) recordAudit(eventType, userID string) {
	if r.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.audit.Write(ctx, AuditRecord{UserID: userID, EventType: eventType}); err != nil && r.logger != nil {
		r.logger.Warn("session audit write failed", zap.String("event", eventType), zap.String("user_id", userID), zap.Error(err))
	}
}

// Attach returns the Feed Session for userID, creating and starting one on
// first attach. Safe for concurrent use across many broadcaster transports.
func (r *Registry) Attach(userID string) (*feedsession.Session, error) {
	r.mu.RLock()
	if s, ok := r.sessions[userID]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s, nil
	}

	bfc := broker.New(r.dial, r.brokerURL, r.backoffMin, r.backoffMax, r.logger)
	s := feedsession.New(userID, r.cfg, bfc, r.catalog, r.aePool, r.credStore, r.logger)
	s.Start(r.ctx)

	r.sessions[userID] = s
	if r.logger != nil {
		r.logger.Info("feed session attached", zap.String("user_id", userID), zap.Int("active", len(r.sessions)))
	}
	r.recordAudit("attach", userID)
	return s, nil
}

// Detach stops and removes userID's Feed Session, if any.
func (r *Registry) Detach(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	if ok {
		s.Stop()
		if r.logger != nil {
			r.logger.Info("feed session detached", zap.String("user_id", userID))
		}
		r.recordAudit("detach", userID)
	}
}

// Lookup returns the Feed Session for userID without creating one.
func (r *Registry) Lookup(userID string) (*feedsession.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Count returns the number of currently attached sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops every Feed Session and cancels their shared context.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*feedsession.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	r.cancel()
}
