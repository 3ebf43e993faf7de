package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"xscraper/pkg/logger"
)

// MongoSink upserts records into a collection keyed by (keyword, text, author)
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        logger.Logger

	// Now is the clock; replaced in tests
	Now func() time.Time
}

// NewMongoSink connects, pings and ensures the unique index
func NewMongoSink(ctx context.Context, uri, database, collection string, log logger.Logger) (*MongoSink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	sink := &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		log:        log.WithField("component", "mongo_sink"),
		Now:        time.Now,
	}

	_, err = sink.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "keyword", Value: 1}, {Key: "text", Value: 1}, {Key: "author", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("keyword_text_author"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't create index: %w", err)
	}

	return sink, nil
}

// Save upserts every record. Re-saving the same records only refreshes last_seen.
func (m *MongoSink) Save(ctx context.Context, rs *ResultSet) error {
	models := upsertModels(rs, m.Now())
	if len(models) == 0 {
		return nil
	}

	res, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	m.log.InfoWithFields("records stored in MongoDB", map[string]interface{}{
		"upserted": res.UpsertedCount,
		"matched":  res.MatchedCount,
	})
	return nil
}

// Close disconnects the client
func (m *MongoSink) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func upsertModels(rs *ResultSet, now time.Time) []mongo.WriteModel {
	var models []mongo.WriteModel
	for _, kw := range rs.Keywords() {
		for _, rec := range rs.Records(kw) {
			filter := bson.D{
				{Key: "keyword", Value: rec.Keyword},
				{Key: "text", Value: rec.Text},
				{Key: "author", Value: rec.Author},
			}
			update := bson.D{
				{Key: "$setOnInsert", Value: bson.D{{Key: "first_seen", Value: now}}},
				{Key: "$set", Value: bson.D{{Key: "last_seen", Value: now}}},
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(filter).
				SetUpdate(update).
				SetUpsert(true))
		}
	}
	return models
}
