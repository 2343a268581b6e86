package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/checkout/pkg/enums/paymentstatus"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/appetiteclub/checkout/services/order/internal/payment"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const paymentsCollection = "payments"

type PaymentRepo struct {
	collection *mongo.Collection
}

func NewPaymentRepo(db *mongo.Database) *PaymentRepo {
	return &PaymentRepo{
		collection: db.Collection(paymentsCollection),
	}
}

func (r *PaymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}

	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("cannot create payment: %w", err)
	}

	return nil
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *PaymentRepo) GetByProviderID(ctx context.Context, providerPaymentID string) (*payment.Payment, error) {
	if providerPaymentID == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"provider_payment_id": providerPaymentID})
}

func (r *PaymentRepo) findOne(ctx context.Context, filter bson.M) (*payment.Payment, error) {
	var p payment.Payment
	if err := r.collection.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get payment: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepo) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]*payment.Payment, error) {
	return r.find(ctx, bson.M{"tenant_id": tenantID, "order_id": orderID})
}

func (r *PaymentRepo) ListExpiredPending(ctx context.Context, before time.Time) ([]*payment.Payment, error) {
	return r.find(ctx, bson.M{
		"method":     payment.MethodPix,
		"status":     paymentstatus.Statuses.Pending.Name,
		"expires_at": bson.M{"$lt": before},
	})
}

func (r *PaymentRepo) find(ctx context.Context, filter bson.M) ([]*payment.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list payments: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*payment.Payment{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode payments: %w", err)
	}
	return result, nil
}

func (r *PaymentRepo) Save(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}

	expected := p.Version
	p.Version++
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": p.ID, "version": expected}, p)
	if err != nil {
		p.Version = expected
		return fmt.Errorf("cannot update payment: %w", err)
	}
	if result.MatchedCount == 0 {
		p.Version = expected
		return fault.Conflict("payment")
	}
	return nil
}
