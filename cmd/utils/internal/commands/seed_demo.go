package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type demoCoupon struct {
	code          string
	description   string
	discountType  string
	discountValue decimal.Decimal
	minOrderValue decimal.Decimal
	maxDiscount   decimal.Decimal
	usageLimit    int
}

var demoCoupons = []demoCoupon{
	{code: "WELCOME10", description: "10% off the first order", discountType: "percentage",
		discountValue: decimal.NewFromInt(10), minOrderValue: decimal.NewFromInt(30), usageLimit: 500},
	{code: "HALF50", description: "Half price, capped at 40.00", discountType: "percentage",
		discountValue: decimal.NewFromInt(50), minOrderValue: decimal.NewFromInt(20), maxDiscount: decimal.NewFromInt(40), usageLimit: 100},
	{code: "FIVEOFF", description: "5.00 off any order", discountType: "fixed",
		discountValue: decimal.NewFromInt(5)},
}

// SeedDemo upserts the demo tenant's coupons and loyalty program. Existing
// documents are left untouched so usage counters survive a re-run.
func SeedDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo seeding process...")

	db, disconnect, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer disconnect()

	if err := seedCoupons(ctx, db, logger); err != nil {
		return fmt.Errorf("seed coupons: %w", err)
	}
	if err := seedLoyaltyProgram(ctx, db, logger); err != nil {
		return fmt.Errorf("seed loyalty program: %w", err)
	}
	return nil
}

func seedCoupons(ctx context.Context, db *mongo.Database, logger apt.Logger) error {
	coll := db.Collection("coupons")
	now := time.Now().UTC()

	for _, c := range demoCoupons {
		filter := bson.M{"tenant_id": uuidValue(DemoTenantID), "code": c.code}
		doc := bson.M{
			"_id":             uuidValue(apt.GenerateNewID()),
			"tenant_id":       uuidValue(DemoTenantID),
			"code":            c.code,
			"description":     c.description,
			"discount_type":   c.discountType,
			"discount_value":  decimalValue(c.discountValue),
			"min_order_value": decimalValue(c.minOrderValue),
			"max_discount":    decimalValue(c.maxDiscount),
			"usage_limit":     c.usageLimit,
			"usage_count":     0,
			"active":          true,
			"created_at":      now,
			"updated_at":      now,
		}

		res, err := coll.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("upsert coupon %s: %w", c.code, err)
		}
		if res.UpsertedCount == 0 {
			logger.Info("Coupon already present, skipping", "code", c.code)
			continue
		}
		logger.Info("Coupon created", "code", c.code)
	}
	return nil
}

func seedLoyaltyProgram(ctx context.Context, db *mongo.Database, logger apt.Logger) error {
	doc := bson.M{
		"_id":                 uuidValue(DemoTenantID),
		"points_per_currency": int64(1),
		"currency_value":      decimalValue(decimal.NewFromInt(10)),
		"min_order_value":     decimalValue(decimal.NewFromInt(20)),
		"active":              true,
		"updated_at":          time.Now().UTC(),
	}

	res, err := db.Collection("loyalty_programs").UpdateOne(ctx,
		bson.M{"_id": uuidValue(DemoTenantID)},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if res.UpsertedCount == 0 {
		logger.Info("Loyalty program already present, skipping")
		return nil
	}
	logger.Info("Loyalty program created", "tenant_id", DemoTenantID.String())
	return nil
}
