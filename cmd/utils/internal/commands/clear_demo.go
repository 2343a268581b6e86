package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
)

// tenantCollections hold documents keyed by tenant_id.
var tenantCollections = []string{
	"orders",
	"payments",
	"coupons",
	"customers",
	"loyalty_transactions",
	"loyalty_balances",
}

// ClearDemo removes every document the demo tenant owns.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo data cleanup...")

	db, disconnect, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer disconnect()

	filter := bson.M{"tenant_id": uuidValue(DemoTenantID)}
	for _, name := range tenantCollections {
		res, err := db.Collection(name).DeleteMany(ctx, filter)
		if err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
		logger.Info("Deleted demo documents", "collection", name, "count", res.DeletedCount)
	}

	if _, err := db.Collection("loyalty_programs").DeleteOne(ctx, bson.M{"_id": uuidValue(DemoTenantID)}); err != nil {
		return fmt.Errorf("clear loyalty program: %w", err)
	}
	return nil
}
