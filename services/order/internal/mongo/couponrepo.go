package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/checkout/services/order/internal/coupon"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const couponsCollection = "coupons"

type CouponRepo struct {
	collection *mongo.Collection
}

func NewCouponRepo(db *mongo.Database) *CouponRepo {
	return &CouponRepo{
		collection: db.Collection(couponsCollection),
	}
}

func (r *CouponRepo) Create(ctx context.Context, c *coupon.Coupon) error {
	if c == nil {
		return fmt.Errorf("coupon is nil")
	}

	if _, err := r.collection.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("coupon %s already exists: %w", c.Code, err)
		}
		return fmt.Errorf("cannot create coupon: %w", err)
	}
	return nil
}

func (r *CouponRepo) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := r.collection.FindOne(ctx, bson.M{"tenant_id": tenantID, "code": coupon.NormalizeCode(code)}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get coupon: %w", err)
	}
	return &c, nil
}

func (r *CouponRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*coupon.Coupon, error) {
	opts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list coupons: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*coupon.Coupon{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode coupons: %w", err)
	}
	return result, nil
}

// IncrementUsage is a single conditional update, so two orders racing for
// the last use cannot both win.
func (r *CouponRepo) IncrementUsage(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	filter := bson.M{
		"_id":       id,
		"tenant_id": tenantID,
		"$or": bson.A{
			bson.M{"usage_limit": bson.M{"$lte": 0}},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$usage_count", "$usage_limit"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"usage_count": 1}, "$currentDate": bson.M{"updated_at": true}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("cannot register coupon usage: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *CouponRepo) DecrementUsage(ctx context.Context, tenantID, id uuid.UUID) error {
	filter := bson.M{"_id": id, "tenant_id": tenantID, "usage_count": bson.M{"$gt": 0}}
	update := bson.M{"$inc": bson.M{"usage_count": -1}, "$currentDate": bson.M{"updated_at": true}}
	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("cannot release coupon usage: %w", err)
	}
	return nil
}
