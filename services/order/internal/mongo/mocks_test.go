package mongo

import (
	"context"
	"sync"

	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MockCollection stands in for the transactions or balances collection. It
// keeps inserted entries by id and sums every balance $inc it receives.
type MockCollection struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*loyalty.Transaction
	balance int64
	matched bool

	InsertOneFunc func(ctx context.Context, document interface{}) error
	UpdateOneFunc func(ctx context.Context, filter, update interface{}) error
}

func NewMockCollection() *MockCollection {
	return &MockCollection{entries: make(map[uuid.UUID]*loyalty.Transaction), matched: true}
}

func (m *MockCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if m.InsertOneFunc != nil {
		if err := m.InsertOneFunc(ctx, document); err != nil {
			return nil, err
		}
	}
	tx := document.(*loyalty.Transaction)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[tx.ID]; ok {
		return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "duplicate key"}}}
	}
	m.entries[tx.ID] = tx
	return &mongo.InsertOneResult{InsertedID: tx.ID}, nil
}

func (m *MockCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if m.UpdateOneFunc != nil {
		if err := m.UpdateOneFunc(ctx, filter, update); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.matched {
		return &mongo.UpdateResult{}, nil
	}
	inc := update.(bson.M)["$inc"].(bson.M)
	m.balance += inc["balance"].(int64)
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (m *MockCollection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	id := filter.(bson.M)["_id"].(uuid.UUID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return &mongo.DeleteResult{}, nil
	}
	delete(m.entries, id)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func (m *MockCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *MockCollection) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MockCollection) points() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}
