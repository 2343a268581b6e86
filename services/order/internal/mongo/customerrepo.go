package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/customer"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const customersCollection = "customers"

type customerDoc struct {
	ID        uuid.UUID `bson:"_id"`
	TenantID  uuid.UUID `bson:"tenant_id"`
	Phone     string    `bson:"phone"`
	Name      string    `bson:"name,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// CustomerRepo registers customers by phone when no customer service is
// configured.
type CustomerRepo struct {
	collection *mongo.Collection
}

func NewCustomerRepo(db *mongo.Database) *CustomerRepo {
	return &CustomerRepo{
		collection: db.Collection(customersCollection),
	}
}

func (r *CustomerRepo) ResolveCustomer(ctx context.Context, tenantID uuid.UUID, phone, name string) (uuid.UUID, error) {
	digits, err := customer.NormalizePhone(phone)
	if err != nil {
		return uuid.Nil, err
	}

	insert := customerDoc{
		ID:        apt.GenerateNewID(),
		TenantID:  tenantID,
		Phone:     digits,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc customerDoc
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"tenant_id": tenantID, "phone": digits},
		bson.M{"$setOnInsert": bson.M{"_id": insert.ID, "name": insert.Name, "created_at": insert.CreatedAt}},
		opts,
	).Decode(&doc)
	if err != nil {
		return uuid.Nil, fault.Transient(fmt.Errorf("cannot resolve customer: %w", err), "resolve customer")
	}
	return doc.ID, nil
}
