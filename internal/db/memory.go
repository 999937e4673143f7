package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/ukydev/fleet-presence/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// envelope is the on-disk shape of a document: {_id: key, value: ...}.
type envelope struct {
	Key   string        `bson:"_id"`
	Value bson.RawValue `bson:"value"`
}

// MemoryDocuments keeps documents in process memory, encoded the same way
// MongoDocuments stores them so values never alias caller data.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryDocuments creates an empty in-memory document store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string][]byte)}
}

// Get decodes the document stored under key into out.
func (m *MemoryDocuments) Get(ctx context.Context, key string, out interface{}) error {
	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNoDocument
	}

	var env envelope
	if err := bson.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %w: %s: %v", models.ErrStorage, ErrUndecodable, key, err)
	}
	if err := env.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("%w: %w: %s: %v", models.ErrStorage, ErrUndecodable, key, err)
	}
	return nil
}

// Set stores value under key, replacing any previous document.
func (m *MemoryDocuments) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := bson.Marshal(bson.M{"_id": key, "value": value})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
	return nil
}

// SetRaw stores raw bytes under key without encoding. Used to simulate a
// corrupt store.
func (m *MemoryDocuments) SetRaw(key string, raw []byte) {
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
}
