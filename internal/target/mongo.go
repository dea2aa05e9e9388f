package target

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// MongoWriter implements Writer using the MongoDB driver. Each entity is a
// collection and the record id becomes _id.
type MongoWriter struct {
	client   *mongo.Client
	database string
}

// NewMongoWriter creates a MongoWriter connected to the given MongoDB instance.
func NewMongoWriter(ctx context.Context, connectionString, database string) (*MongoWriter, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	return &MongoWriter{client: client, database: database}, nil
}

func (m *MongoWriter) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("pinging MongoDB: %w", err)
	}
	return nil
}

func (m *MongoWriter) Insert(ctx context.Context, rec *mapping.Record) error {
	if _, err := m.collection(rec.Entity).InsertOne(ctx, toDocument(rec)); err != nil {
		return fmt.Errorf("inserting into %s: %w", rec.Entity, err)
	}
	return nil
}

// Count returns the number of documents in an entity's collection.
func (m *MongoWriter) Count(ctx context.Context, entity string) (int64, error) {
	count, err := m.collection(entity).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("counting documents in %s: %w", entity, err)
	}
	return count, nil
}

func (m *MongoWriter) Clear(ctx context.Context, entities []string) error {
	order, err := clearOrder(entities)
	if err != nil {
		return err
	}
	for _, e := range order {
		if _, err := m.collection(e).DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("clearing %s: %w", e, err)
		}
	}
	return nil
}

func (m *MongoWriter) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoWriter) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func toDocument(rec *mapping.Record) bson.D {
	doc := make(bson.D, 0, len(rec.Columns))
	for i, c := range rec.Columns {
		key := c
		if c == "id" {
			key = "_id"
		}
		doc = append(doc, bson.E{Key: key, Value: rec.Values[i]})
	}
	return doc
}
