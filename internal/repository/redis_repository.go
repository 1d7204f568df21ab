package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionTTL is how long an untouched anonymous cart survives.
const SessionTTL = 30 * 24 * time.Hour

// RedisCartBackend is the device-scoped store for anonymous session carts.
// Every save slides the key's expiry.
type RedisCartBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartBackend(client *redis.Client) *RedisCartBackend {
	return &RedisCartBackend{
		client: client,
		ttl:    SessionTTL,
	}
}

func (r *RedisCartBackend) Load(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	if !owner.IsAnonymous() {
		return nil, ErrWrongOwnerKind
	}

	data, err := r.client.Get(ctx, cartKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	return &cart, nil
}

func (r *RedisCartBackend) Save(ctx context.Context, cart *domain.Cart) error {
	if !cart.Owner.IsAnonymous() {
		return ErrWrongOwnerKind
	}

	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, cartKey(cart.Owner), jsonCart, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCartBackend) Delete(ctx context.Context, owner domain.OwnerRef) error {
	if !owner.IsAnonymous() {
		return ErrWrongOwnerKind
	}

	n, err := r.client.Del(ctx, cartKey(owner)).Result()
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}

	return nil
}

func cartKey(owner domain.OwnerRef) string {
	return fmt.Sprintf("cart:%s", owner.Key())
}
