package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// EnsureIndexes creates idempotent indexes on all collections. logger may
// be nil.
func EnsureIndexes(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "catalog_entries",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "underlying", Value: 1}, {Key: "expiry", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "credentials",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "session_audit",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "occurred_at", Value: -1}},
			},
		},
		{
			collection: "session_audit",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "occurred_at", Value: 1}},
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	if logger != nil {
		logger.Info("mongodb indexes ensured")
	}
	return nil
}
