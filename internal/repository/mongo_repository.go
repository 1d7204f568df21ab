package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCartBackend is the remote, account-scoped cart store.
type MongoCartBackend struct {
	collection *mongo.Collection
}

func NewMongoCartBackend(db *mongo.Database) *MongoCartBackend {
	return &MongoCartBackend{
		collection: db.Collection("carts"),
	}
}

func (m *MongoCartBackend) Load(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	if owner.IsAnonymous() {
		return nil, ErrWrongOwnerKind
	}

	var cart domain.Cart
	err := m.collection.FindOne(ctx, bson.M{"_id": owner.AccountID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	return &cart, nil
}

// Save upserts the whole cart. created_at is written once, updated_at is
// assigned by the server.
func (m *MongoCartBackend) Save(ctx context.Context, cart *domain.Cart) error {
	if cart.Owner.IsAnonymous() {
		return ErrWrongOwnerKind
	}

	createdAt := cart.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	filter := bson.M{"_id": cart.Owner.AccountID}
	update := bson.M{
		"$set": bson.M{
			"owner":           cart.Owner,
			"items":           cart.Items,
			"subtotal":        cart.Subtotal,
			"tax":             cart.Tax,
			"shipping":        cart.Shipping,
			"discount":        cart.Discount,
			"total":           cart.Total,
			"merged_sessions": cart.MergedSessions,
		},
		"$setOnInsert": bson.M{"created_at": createdAt},
		"$currentDate": bson.M{"updated_at": true},
	}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}

	return nil
}

func (m *MongoCartBackend) Delete(ctx context.Context, owner domain.OwnerRef) error {
	if owner.IsAnonymous() {
		return ErrWrongOwnerKind
	}

	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": owner.AccountID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

func (m *MongoCartBackend) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
		{
			Keys: bson.D{{Key: "items.product_id", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
