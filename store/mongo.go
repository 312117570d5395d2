package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/homemade/vaultsync/sync"
)

// duplicateKeyCode is the server error code for a unique index violation.
const duplicateKeyCode = 11000

// MongoStore writes events to one collection and cursors to another.
// Both carry unique indexes: events on id, cursors on eventType.
type MongoStore struct {
	client  *mongo.Client
	events  *mongo.Collection
	cursors *mongo.Collection
	now     func() time.Time
}

func openMongo(ctx context.Context, uri string, opts Options) (Store, error) {
	if opts.Database == "" {
		return nil, errors.New("mongodb store requires a database name")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	db := client.Database(opts.Database)
	s := &MongoStore{
		client:  client,
		events:  db.Collection(opts.Collection),
		cursors: db.Collection(opts.CursorCollection),
		now:     time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "blockTimestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	_, err = s.cursors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "eventType", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create cursor index: %w", err)
	}
	return nil
}

// InsertEvents performs one unordered InsertMany. Duplicate ids are counted,
// any other write error is returned once the rest of the batch was written.
func (s *MongoStore) InsertEvents(ctx context.Context, events []sync.StoredEvent) (sync.InsertResult, error) {
	result := sync.InsertResult{Attempted: len(events)}
	if len(events) == 0 {
		return result, nil
	}
	now := s.now().UTC()
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		var doc bson.D
		if err := bson.UnmarshalExtJSON(e.Document, false, &doc); err != nil {
			return result, fmt.Errorf("convert event %s: %w", e.ID, err)
		}
		doc = append(doc, bson.E{Key: "createdAt", Value: now}, bson.E{Key: "updatedAt", Value: now})
		docs = append(docs, doc)
	}

	_, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		result.Inserted = len(events)
		return result, nil
	}
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return result, fmt.Errorf("insert events: %w", err)
	}
	var failed int
	var firstFailure error
	for _, we := range bulkErr.WriteErrors {
		if we.Code == duplicateKeyCode {
			result.Duplicates++
			continue
		}
		failed++
		if firstFailure == nil {
			firstFailure = fmt.Errorf("event %s: %s", events[we.Index].ID, we.Message)
		}
	}
	result.Inserted = len(events) - result.Duplicates - failed
	if failed > 0 {
		return result, fmt.Errorf("insert events: %d document(s) failed, first: %w", failed, firstFailure)
	}
	if bulkErr.WriteConcernError != nil {
		return result, fmt.Errorf("insert events: %w", bulkErr.WriteConcernError)
	}
	return result, nil
}

type mongoCursor struct {
	EventType          string    `bson:"eventType"`
	LastBlockTimestamp string    `bson:"lastBlockTimestamp"`
	RunID              string    `bson:"runId,omitempty"`
	UpdatedAt          time.Time `bson:"updatedAt"`
}

func (s *MongoStore) GetCursor(ctx context.Context, category string) (sync.Watermark, bool, error) {
	var doc mongoCursor
	err := s.cursors.FindOne(ctx, bson.D{{Key: "eventType", Value: category}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find cursor %s: %w", category, err)
	}
	return sync.Watermark(doc.LastBlockTimestamp), true, nil
}

func (s *MongoStore) SetCursor(ctx context.Context, category string, w sync.Watermark, runID string) error {
	now := s.now().UTC()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "lastBlockTimestamp", Value: string(w)},
			{Key: "runId", Value: runID},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
	}
	_, err := s.cursors.UpdateOne(ctx, bson.D{{Key: "eventType", Value: category}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", category, err)
	}
	return nil
}

// LatestEvents sorts with a numeric collation since blockTimestamp is stored as a decimal string.
func (s *MongoStore) LatestEvents(ctx context.Context, eventType string, limit int) ([]sync.StoredEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "blockTimestamp", Value: -1}}).
		SetCollation(&options.Collation{Locale: "en", NumericOrdering: true}).
		SetProjection(bson.D{{Key: "_id", Value: 0}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := s.events.Find(ctx, bson.D{{Key: "type", Value: eventType}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s events: %w", eventType, err)
	}
	defer cur.Close(ctx)

	var category string
	if c, ok := sync.LookupCategory(eventType); ok {
		category = c.Key
	}
	var result []sync.StoredEvent
	for cur.Next(ctx) {
		raw := cur.Current
		doc, err := bson.MarshalExtJSON(raw, false, false)
		if err != nil {
			return nil, err
		}
		id, _ := raw.Lookup("id").StringValueOK()
		ts, _ := raw.Lookup("blockTimestamp").StringValueOK()
		result = append(result, sync.StoredEvent{
			ID:             id,
			Type:           eventType,
			Category:       category,
			BlockTimestamp: sync.Watermark(ts),
			Document:       doc,
		})
	}
	return result, cur.Err()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) drop(ctx context.Context) error {
	return s.events.Database().Drop(ctx)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
