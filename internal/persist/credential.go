package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relayforge/optionrelay/internal/credential"
)

// credentialDoc is the credentials collection's document shape.
type credentialDoc struct {
	UserID        string     `bson:"user_id"`
	BrokerToken   string     `bson:"broker_token"`
	ExpiresAt     time.Time  `bson:"expires_at"`
	InvalidatedAt *time.Time `bson:"invalidated_at,omitempty"`
}

// CredentialStore is the Mongo-backed implementation of credential.Store
// the Feed Session depends on for broker token lookup and invalidation.
type CredentialStore struct {
	db *mongo.Database
}

// NewCredentialStore constructs a CredentialStore over db.
func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return &CredentialStore{db: db}
}

var _ credential.Store = (*CredentialStore)(nil)

// Lookup returns the current credential record for userID.
func (s *CredentialStore) Lookup(ctx context.Context, userID string) (credential.Record, error) {
	var doc credentialDoc
	err := s.db.Collection("credentials").FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return credential.Record{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Record{}, fmt.Errorf("lookup credential: %w", err)
	}
	return credential.Record{
		UserID:        doc.UserID,
		BrokerToken:   doc.BrokerToken,
		ExpiresAt:     doc.ExpiresAt,
		InvalidatedAt: doc.InvalidatedAt,
	}, nil
}

// MarkInvalidated stamps the credential record as invalid, so the next
// lookup (e.g. on process restart) doesn't hand out a token the broker has
// already rejected.
func (s *CredentialStore) MarkInvalidated(ctx context.Context, userID string) error {
	now := time.Now()
	_, err := s.db.Collection("credentials").UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"invalidated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("mark credential invalidated: %w", err)
	}
	return nil
}

// Refresh replaces userID's broker token, clearing any prior invalidation.
func (s *CredentialStore) Refresh(ctx context.Context, userID, newToken string, expiresAt time.Time) error {
	_, err := s.db.Collection("credentials").UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set":   bson.M{"broker_token": newToken, "expires_at": expiresAt},
			"$unset": bson.M{"invalidated_at": ""},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("refresh credential: %w", err)
	}
	return nil
}
