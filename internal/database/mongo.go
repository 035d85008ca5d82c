package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	statsCollection  = "stats"
	memoryCollection = "memories"
)

// MongoStore keeps stats and memories in two collections.
type MongoStore struct {
	client   *mongo.Client
	stats    *mongo.Collection
	memories *mongo.Collection
	lineage  string
}

// NewMongoStore connects to uri and verifies the connection.
func NewMongoStore(ctx context.Context, uri, dbName, lineage string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "arcfork"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		stats:    db.Collection(statsCollection),
		memories: db.Collection(memoryCollection),
		lineage:  lineage,
	}

	_, err = s.stats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lineage", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create stats index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) versionFilter(version int) bson.M {
	return bson.M{"lineage": s.lineage, "version": version}
}

// EnsureVersionRecord inserts the record with $setOnInsert so concurrent
// callers create it at most once.
func (s *MongoStore) EnsureVersionRecord(ctx context.Context, version int, createdAtUnix int64, snapshot string) (Outcome, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"posts_sent":       int64(0),
		"replies_sent":     int64(0),
		"messages_read":    int64(0),
		"created_at_unix":  createdAtUnix,
		"persona_snapshot": snapshot,
	}}
	res, err := s.stats.UpdateOne(ctx, s.versionFilter(version), update, options.Update().SetUpsert(true))
	if err != nil {
		return Exists, fmt.Errorf("failed to ensure version record %d: %w", version, err)
	}
	if res.UpsertedCount > 0 {
		return Created, nil
	}
	return Exists, nil
}

func (s *MongoStore) IncrementCounter(ctx context.Context, version int, counter Counter, delta int64) error {
	if err := counter.Validate(); err != nil {
		return err
	}
	update := bson.M{"$inc": bson.M{string(counter): delta}}
	res, err := s.stats.UpdateOne(ctx, s.versionFilter(version), update)
	if err != nil {
		return fmt.Errorf("failed to increment %s for version %d: %w", counter, version, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s version %d", ErrNoRecord, s.lineage, version)
	}
	return nil
}

func (s *MongoStore) StoreMemory(ctx context.Context, id, text string, vector []float32) error {
	doc := Memory{ID: id, Content: text, Embedding: vector}
	_, err := s.memories.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store memory %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
