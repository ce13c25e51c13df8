package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relayforge/optionrelay/internal/catalog"
)

// catalogEntryDoc mirrors catalog.Entry for Mongo storage. Kept as a
// distinct type rather than adding bson tags to catalog.Entry, so the
// catalog package stays free of persistence concerns.
type catalogEntryDoc struct {
	Underlying string          `bson:"underlying"`
	Expiry     string          `bson:"expiry"`
	Step       float64         `bson:"step"`
	Rows       []strikeRowDoc  `bson:"rows"`
}

type strikeRowDoc struct {
	Strike            float64 `bson:"strike"`
	CallKey           string  `bson:"call_key"`
	PutKey            string  `bson:"put_key"`
	LotSize           int     `bson:"lot_size"`
	TradingSymbolCall string  `bson:"trading_symbol_call"`
	TradingSymbolPut  string  `bson:"trading_symbol_put"`
}

// CatalogLoader reads the full option-chain snapshot from the
// catalog_entries collection, maintained by an out-of-band ingestion job
// against the broker's instrument master. Called once at process startup;
// the catalog is immutable for the remainder of the process's life.
type CatalogLoader struct {
	db *mongo.Database
}

// NewCatalogLoader constructs a CatalogLoader over db.
func NewCatalogLoader(db *mongo.Database) *CatalogLoader {
	return &CatalogLoader{db: db}
}

// Load reads every catalog_entries document and populates cat.
func (l *CatalogLoader) Load(ctx context.Context, cat *catalog.Catalog) error {
	cursor, err := l.db.Collection("catalog_entries").Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("query catalog_entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []catalogEntryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("decode catalog_entries: %w", err)
	}

	entries := make([]*catalog.Entry, 0, len(docs))
	for _, d := range docs {
		rows := make([]catalog.StrikeRow, 0, len(d.Rows))
		for _, r := range d.Rows {
			rows = append(rows, catalog.StrikeRow{
				Strike:            r.Strike,
				CallKey:           r.CallKey,
				PutKey:            r.PutKey,
				LotSize:           r.LotSize,
				TradingSymbolCall: r.TradingSymbolCall,
				TradingSymbolPut:  r.TradingSymbolPut,
			})
		}
		entries = append(entries, &catalog.Entry{
			Underlying: d.Underlying,
			Expiry:     d.Expiry,
			Step:       d.Step,
			Rows:       rows,
		})
	}

	cat.Load(entries)
	return nil
}

// UpsertEntries writes entries to catalog_entries, replacing any existing
// document for the same underlying+expiry pair. Used by cmd/brokersim's
// --seed-catalog mode to publish the chains it just built, so cmd/relay's
// Load above has something to read at startup.
func (l *CatalogLoader) UpsertEntries(ctx context.Context, entries []*catalog.Entry) error {
	coll := l.db.Collection("catalog_entries")
	for _, e := range entries {
		rows := make([]strikeRowDoc, 0, len(e.Rows))
		for _, r := range e.Rows {
			rows = append(rows, strikeRowDoc{
				Strike:            r.Strike,
				CallKey:           r.CallKey,
				PutKey:            r.PutKey,
				LotSize:           r.LotSize,
				TradingSymbolCall: r.TradingSymbolCall,
				TradingSymbolPut:  r.TradingSymbolPut,
			})
		}
		doc := catalogEntryDoc{
			Underlying: e.Underlying,
			Expiry:     e.Expiry,
			Step:       e.Step,
			Rows:       rows,
		}
		filter := bson.M{"underlying": e.Underlying, "expiry": e.Expiry}
		_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("upsert catalog_entries for %s/%s: %w", e.Underlying, e.Expiry, err)
		}
	}
	return nil
}
