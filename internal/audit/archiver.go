// Package audit periodically moves old session_audit records from MongoDB
// to local gzipped NDJSON files, applied to Feed Session lifecycle events.
package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// Archiver moves session_audit documents older than maxAge into
// dir/audit/YYYY/MM/DD.jsonl.gz, deleting the oldest archive files once
// total size exceeds maxBytes.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// New creates an audit Archiver. maxGB/intervalHours/afterHours mirror the
// teacher archiver's constructor shape.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int, logger *zap.Logger) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
		logger:   logger,
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	if a.logger != nil {
		a.logger.Info("session audit archiver starting",
			zap.String("dir", a.dir),
			zap.Int64("max_bytes", a.maxBytes),
			zap.Duration("interval", a.interval),
			zap.Duration("max_age", a.maxAge))
	}

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		a.logError("load cursor", err)
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	records, err := a.queryRecords(ctx, cursor, cutoff)
	if err != nil {
		a.logError("query", err)
		return
	}
	if len(records) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(records)
	for day, batch := range batches {
		if err := a.writeBatch(day, batch); err != nil {
			a.logError("write "+day, err)
			return
		}
		if err := a.deleteBatch(ctx, batch); err != nil {
			a.logError("delete "+day, err)
			return
		}
		if a.logger != nil {
			a.logger.Info("archived session audit batch", zap.String("day", day), zap.Int("count", len(batch)))
		}
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

// auditDoc mirrors persist.SessionAuditRecord, plus the object ID archiver
// needs to delete exactly the records it wrote out.
type auditDoc struct {
	ID         bson.ObjectID `bson:"_id"          json:"id"`
	RecordID   string        `bson:"record_id"    json:"record_id"`
	UserID     string        `bson:"user_id"       json:"user_id"`
	EventType  string        `bson:"event_type"    json:"event_type"`
	Underlying string        `bson:"underlying,omitempty" json:"underlying,omitempty"`
	Detail     string        `bson:"detail,omitempty"     json:"detail,omitempty"`
	OccurredAt time.Time     `bson:"occurred_at"  json:"occurred_at"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("sim_state").FindOne(ctx, bson.M{"key": "audit_archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": "audit_archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "audit_archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		a.logError("save cursor", err)
	}
}

func (a *Archiver) queryRecords(ctx context.Context, from, to time.Time) ([]auditDoc, error) {
	filter := bson.M{"occurred_at": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}})

	cur, err := a.db.Collection("session_audit").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find session_audit: %w", err)
	}
	defer cur.Close(ctx)

	var docs []auditDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode session_audit: %w", err)
	}
	return docs, nil
}

func groupByDay(records []auditDoc) map[string][]auditDoc {
	batches := make(map[string][]auditDoc)
	for _, r := range records {
		day := r.OccurredAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], r)
	}
	return batches
}

// writeBatch writes records as gzipped NDJSON to dir/audit/YYYY/MM/DD.jsonl.gz.
func (a *Archiver) writeBatch(day string, records []auditDoc) error {
	path := filepath.Join(a.dir, "audit", day+".jsonl.gz")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (a *Archiver) deleteBatch(ctx context.Context, records []auditDoc) error {
	ids := make([]bson.ObjectID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	_, err := a.db.Collection("session_audit").DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("delete archived session_audit: %w", err)
	}
	return nil
}

// rotate deletes the oldest archive files until total size is under maxBytes.
func (a *Archiver) rotate() {
	root := filepath.Join(a.dir, "audit")

	type entry struct {
		path string
		size int64
	}

	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			a.logError("remove "+f.path, err)
			continue
		}
		total -= f.size
	}
}

func (a *Archiver) logError(op string, err error) {
	if a.logger != nil {
		a.logger.Error("session audit archiver error", zap.String("op", op), zap.Error(err))
	}
}
