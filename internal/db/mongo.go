package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-presence/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentsCollection is the collection name holding key-value documents.
const DocumentsCollection = "documents"

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoDocuments stores documents as {_id: key, value: ...} in a MongoDB collection.
type MongoDocuments struct {
	Collection *mongo.Collection
}

// NewMongoDocuments returns a document store backed by the documents collection of database.
func NewMongoDocuments(database *mongo.Database) *MongoDocuments {
	return &MongoDocuments{Collection: database.Collection(DocumentsCollection)}
}

// Get decodes the document stored under key into out.
func (c *MongoDocuments) Get(ctx context.Context, key string, out interface{}) error {
	if c.Collection == nil {
		return fmt.Errorf("%w: mongo collection is nil", models.ErrStorage)
	}

	var env envelope
	err := c.Collection.FindOne(ctx, bson.M{"_id": key}).Decode(&env)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNoDocument
		}
		return fmt.Errorf("%w: %s: %v", models.ErrStorage, key, err)
	}
	if err := env.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("%w: %w: %s: %v", models.ErrStorage, ErrUndecodable, key, err)
	}
	return nil
}

// Set upserts value under key.
func (c *MongoDocuments) Set(ctx context.Context, key string, value interface{}) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.ReplaceOne(ctx,
		bson.M{"_id": key},
		bson.M{"_id": key, "value": value},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
