package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/checkout/services/order/internal/loyalty"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	loyaltyProgramsCollection     = "loyalty_programs"
	loyaltyTransactionsCollection = "loyalty_transactions"
	loyaltyBalancesCollection     = "loyalty_balances"
)

var (
	errDuplicateEarn = errors.New("order already credited")
	errOverdraw      = errors.New("balance too low")
)

// LoyaltyStore keeps the ledger and its cached balances. With transactions
// enabled an append and its balance update commit together; otherwise the
// unique earn index and the conditional debit keep the ledger correct and
// RebuildBalance repairs a cache left behind by a crash between the writes.
type LoyaltyStore struct {
	client       *mongo.Client
	programs     *mongo.Collection
	transactions *mongo.Collection
	balances     *mongo.Collection
	useSessions  bool
}

func NewLoyaltyStore(db *mongo.Database, useSessions bool) *LoyaltyStore {
	return &LoyaltyStore{
		client:       db.Client(),
		programs:     db.Collection(loyaltyProgramsCollection),
		transactions: db.Collection(loyaltyTransactionsCollection),
		balances:     db.Collection(loyaltyBalancesCollection),
		useSessions:  useSessions,
	}
}

func (s *LoyaltyStore) GetProgram(ctx context.Context, tenantID uuid.UUID) (*loyalty.Program, error) {
	var p loyalty.Program
	if err := s.programs.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get loyalty program: %w", err)
	}
	return &p, nil
}

func (s *LoyaltyStore) SaveProgram(ctx context.Context, p *loyalty.Program) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.programs.ReplaceOne(ctx, bson.M{"_id": p.TenantID}, p, opts); err != nil {
		return fmt.Errorf("cannot save loyalty program: %w", err)
	}
	return nil
}

func (s *LoyaltyStore) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*loyalty.Balance, error) {
	var b loyalty.Balance
	err := s.balances.FindOne(ctx, balanceKey(tenantID, customerID)).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get loyalty balance: %w", err)
	}
	return &b, nil
}

func (s *LoyaltyStore) Append(ctx context.Context, tx *loyalty.Transaction) (loyalty.Outcome, error) {
	var err error
	if s.useSessions {
		err = s.inTransaction(ctx, func(sc context.Context) error { return s.apply(sc, tx, true) })
	} else {
		err = s.apply(ctx, tx, false)
	}

	switch {
	case err == nil:
		return loyalty.Applied, nil
	case errors.Is(err, errOverdraw):
		return loyalty.Insufficient, nil
	case errors.Is(err, errDuplicateEarn), mongo.IsDuplicateKeyError(err):
		return loyalty.Duplicate, nil
	default:
		return 0, fmt.Errorf("cannot append loyalty transaction: %w", err)
	}
}

func (s *LoyaltyStore) inTransaction(ctx context.Context, fn func(sc context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *LoyaltyStore) apply(ctx context.Context, tx *loyalty.Transaction, inTx bool) error {
	return applyEntry(ctx, s.transactions, s.balances, tx, inTx)
}

// ledgerCollection is the part of *mongo.Collection an append writes through.
type ledgerCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// applyEntry writes the ledger entry and its balance delta. Outside a
// transaction a failed second write undoes the first, so a retry of the
// same entry starts clean.
func applyEntry(ctx context.Context, transactions, balances ledgerCollection, tx *loyalty.Transaction, inTx bool) error {
	key := balanceKey(tx.TenantID, tx.CustomerID)

	if tx.Points < 0 {
		filter := balanceKey(tx.TenantID, tx.CustomerID)
		filter["balance"] = bson.M{"$gte": -tx.Points}
		res, err := balances.UpdateOne(ctx, filter, balanceDelta(tx, 1))
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errOverdraw
		}
		if _, err := transactions.InsertOne(ctx, tx); err != nil {
			if !inTx {
				_, _ = balances.UpdateOne(ctx, key, balanceDelta(tx, -1))
			}
			return err
		}
		return nil
	}

	if inTx && tx.Type == loyalty.Earn && tx.OrderID != nil {
		n, err := transactions.CountDocuments(ctx, bson.M{"tenant_id": tx.TenantID, "order_id": *tx.OrderID, "type": loyalty.Earn})
		if err != nil {
			return err
		}
		if n > 0 {
			return errDuplicateEarn
		}
	}

	if _, err := transactions.InsertOne(ctx, tx); err != nil {
		return err
	}
	if _, err := balances.UpdateOne(ctx, key, balanceDelta(tx, 1), options.Update().SetUpsert(true)); err != nil {
		if !inTx {
			if _, derr := transactions.DeleteOne(ctx, bson.M{"_id": tx.ID}); derr != nil {
				return fmt.Errorf("%w (entry %s left without balance: %v)", err, tx.ID, derr)
			}
		}
		return err
	}
	return nil
}

// balanceDelta folds tx into the cached balance the way Balance.Apply does;
// sign -1 reverts it.
func balanceDelta(tx *loyalty.Transaction, sign int64) bson.M {
	inc := bson.M{"balance": sign * tx.Points}
	switch tx.Type {
	case loyalty.Earn:
		inc["total_earned"] = sign * tx.Points
	case loyalty.Redeem:
		inc["total_redeemed"] = -sign * tx.Points
	}
	return bson.M{"$inc": inc, "$set": bson.M{"updated_at": tx.CreatedAt}}
}

func balanceKey(tenantID, customerID uuid.UUID) bson.M {
	return bson.M{"tenant_id": tenantID, "customer_id": customerID}
}

func (s *LoyaltyStore) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID) ([]*loyalty.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.transactions.Find(ctx, balanceKey(tenantID, customerID), opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list loyalty transactions: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*loyalty.Transaction{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode loyalty transactions: %w", err)
	}
	return result, nil
}

func (s *LoyaltyStore) ReplaceBalance(ctx context.Context, b *loyalty.Balance) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.balances.ReplaceOne(ctx, balanceKey(b.TenantID, b.CustomerID), b, opts); err != nil {
		return fmt.Errorf("cannot replace loyalty balance: %w", err)
	}
	return nil
}
