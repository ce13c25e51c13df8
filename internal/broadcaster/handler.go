package broadcaster

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relayforge/optionrelay/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionSource resolves the Feed Session backing an authenticated
// connection, creating one on first attach. Implemented in cmd/relay by
// registrySource, an adapter over internal/registry.Registry.
type SessionSource interface {
	Attach(userID string) (FeedSession, error)
}

// FeedSession is the subset of feedsession.Session a Transport needs: its
// outbound frame stream plus the inbound-command contract.
type FeedSession interface {
	CommandSink
	Outbox() <-chan wire.OutboundFrame
}

// Handler upgrades a WebSocket connection, resolves the caller's Feed
// Session from src, and runs the read/write pumps until disconnect.
// Grounded on internal/session/handler.go's Handler entrypoint; userIDOf
// extracts the authenticated user id from the request (session cookie,
// bearer token, or similar upstream-terminated auth — out of scope here).
func Handler(src SessionSource, userIDOf func(*http.Request) (string, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDOf(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := src.Attach(userID)
		if err != nil {
			http.Error(w, "could not attach feed session", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Warn("websocket upgrade failed", zap.Error(err))
			}
			return
		}

		t := NewTransport(conn, userID, sess, logger)
		go t.ForwardFrom(sess.Outbox())
		go t.WritePump()
		t.ReadPump(r.Context())
	}
}
