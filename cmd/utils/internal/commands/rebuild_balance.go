package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ledgerTotals struct {
	Balance       int64 `bson:"balance"`
	TotalEarned   int64 `bson:"total_earned"`
	TotalRedeemed int64 `bson:"total_redeemed"`
}

// RebuildBalance recomputes a customer's cached loyalty balance from the
// ledger. Run it while the checkout service is idle for that customer; the
// service takes a lock the CLI does not see.
func RebuildBalance(ctx context.Context, config *apt.Config, logger apt.Logger, tenantArg, customerArg string) error {
	tenantID, err := parseID("tenant id", tenantArg)
	if err != nil {
		return err
	}
	customerID, err := parseID("customer id", customerArg)
	if err != nil {
		return err
	}

	db, disconnect, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer disconnect()

	key := bson.M{"tenant_id": uuidValue(tenantID), "customer_id": uuidValue(customerID)}
	totals, err := sumLedger(ctx, db.Collection("loyalty_transactions"), key)
	if err != nil {
		return err
	}

	doc := bson.M{
		"tenant_id":      uuidValue(tenantID),
		"customer_id":    uuidValue(customerID),
		"balance":        totals.Balance,
		"total_earned":   totals.TotalEarned,
		"total_redeemed": totals.TotalRedeemed,
		"updated_at":     time.Now().UTC(),
	}
	if _, err := db.Collection("loyalty_balances").ReplaceOne(ctx, key, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("store balance: %w", err)
	}

	logger.Info("Loyalty balance rebuilt",
		"tenant_id", tenantID.String(),
		"customer_id", customerID.String(),
		"balance", totals.Balance)
	return nil
}

// sumLedger folds signed ledger points. Redeem rows carry negative points.
func sumLedger(ctx context.Context, coll *mongo.Collection, key bson.M) (ledgerTotals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: key}},
		{{Key: "$group", Value: bson.M{
			"_id":     nil,
			"balance": bson.M{"$sum": "$points"},
			"total_earned": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$type", "earn"}}, "$points", 0},
			}},
			"total_redeemed": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$type", "redeem"}}, bson.M{"$multiply": bson.A{"$points", -1}}, 0},
			}},
		}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return ledgerTotals{}, fmt.Errorf("aggregate ledger: %w", err)
	}
	defer cursor.Close(ctx)

	var totals ledgerTotals
	if cursor.Next(ctx) {
		if err := cursor.Decode(&totals); err != nil {
			return ledgerTotals{}, fmt.Errorf("decode ledger totals: %w", err)
		}
	}
	return totals, cursor.Err()
}
