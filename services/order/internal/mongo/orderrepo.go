package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/checkout/pkg/enums/orderstatus"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/order"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection = "orders"
	queueCollection  = "order_queue_counters"
)

type OrderRepo struct {
	collection *mongo.Collection
	queue      *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection(ordersCollection),
		queue:      db.Collection(queueCollection),
	}
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) List(ctx context.Context, tenantID uuid.UUID, status string) ([]*order.Order, error) {
	filter := bson.M{"tenant_id": tenantID}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*order.Order{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

func (r *OrderRepo) FindActiveByTable(ctx context.Context, tenantID, tableID uuid.UUID) (*order.Order, error) {
	st := orderstatus.Statuses
	filter := bson.M{
		"tenant_id": tenantID,
		"table_id":  tableID,
		"status":    bson.M{"$nin": bson.A{st.Delivered.Name, st.Cancelled.Name, st.Rejected.Name}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var o order.Order
	if err := r.collection.FindOne(ctx, filter, opts).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find table order: %w", err)
	}
	return &o, nil
}

// Save replaces the document only while its version is the one o was read
// at.
func (r *OrderRepo) Save(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	expected := o.Version
	o.Version++
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": expected}, o)
	if err != nil {
		o.Version = expected
		return fmt.Errorf("cannot update order: %w", err)
	}

	if result.MatchedCount == 0 {
		o.Version = expected
		return fault.Conflict("order")
	}

	return nil
}

type queueCounter struct {
	Seq int `bson:"seq"`
}

func (r *OrderRepo) NextQueuePosition(ctx context.Context, tenantID uuid.UUID, day string) (int, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c queueCounter
	err := r.queue.FindOneAndUpdate(ctx,
		bson.M{"_id": tenantID.String() + ":" + day},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("cannot advance queue counter: %w", err)
	}
	return c.Seq, nil
}
