package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// SessionAuditRecord is one audited lifecycle event for a Feed Session.
// The registry writes one on attach and one on detach; internal/audit's
// archiver reads them back later. RecordID is a client-generated
// correlation ID (independent of Mongo's _id) so a record can be traced
// through logs before it's ever persisted.
type SessionAuditRecord struct {
	RecordID   string    `bson:"record_id"`
	UserID     string    `bson:"user_id"`
	EventType  string    `bson:"event_type"`
	Underlying string    `bson:"underlying,omitempty"`
	Detail     string    `bson:"detail,omitempty"`
	OccurredAt time.Time `bson:"occurred_at"`
}

// AuditWriter appends session lifecycle events to the session_audit
// collection.
type AuditWriter struct {
	db *mongo.Database
}

// NewAuditWriter constructs an AuditWriter over db.
func NewAuditWriter(db *mongo.Database) *AuditWriter {
	return &AuditWriter{db: db}
}

// Write inserts one audit record. Errors are the caller's to log-and-drop;
// audit logging must never block or fail a Feed Session's own operation.
func (w *AuditWriter) Write(ctx context.Context, rec SessionAuditRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	_, err := w.db.Collection("session_audit").InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert session_audit: %w", err)
	}
	return nil
}
