package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/selection"
	"github.com/fjod/go_cart/storefront/internal/totals"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultStoreTimeout = 2 * time.Second

// CartService owns every cart mutation. Anonymous carts live in the local
// backend, account carts in the remote one.
type CartService struct {
	local     repository.CartBackend
	remote    repository.CartBackend
	totals    totals.Calculator
	selection *selection.Engine
	locks     *keyedMutex
	sfg       singleflight.Group // dedupes concurrent first loads per owner

	now          func() time.Time
	newID        func() string
	storeTimeout time.Duration
	logger       *zap.Logger

	pendingMu     sync.Mutex
	pendingClears map[string]struct{} // session ids whose clear after merge failed
}

type Option func(*CartService)

func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *CartService) { s.newID = newID }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *CartService) { s.storeTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *CartService) { s.logger = logger }
}

func NewCartService(local, remote repository.CartBackend, calc totals.Calculator, sel *selection.Engine, opts ...Option) *CartService {
	s := &CartService{
		local:         local,
		remote:        remote,
		totals:        calc,
		selection:     sel,
		locks:         newKeyedMutex(),
		now:           time.Now,
		newID:         uuid.NewString,
		storeTimeout:  DefaultStoreTimeout,
		logger:        zap.NewNop(),
		pendingClears: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CartService) backendFor(owner domain.OwnerRef) repository.CartBackend {
	if owner.IsAnonymous() {
		return s.local
	}
	return s.remote
}

func validateOwner(owner domain.OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return &ValidationError{Field: "owner", Reason: err.Error()}
	}
	return nil
}

// Get returns the owner's cart, creating and persisting an empty one on first use.
func (s *CartService) Get(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	v, err, _ := s.sfg.Do(owner.Key(), func() (interface{}, error) {
		if owner.IsAnonymous() && s.hasPendingClear(owner.SessionID) {
			unlock := s.locks.Lock(owner.Key())
			s.retryClearLocked(ctx, owner.SessionID)
			unlock()
		}

		cart, err := s.load(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}

		// create under the lock so a concurrent mutation is never overwritten
		unlock := s.locks.Lock(owner.Key())
		defer unlock()
		cart, err = s.load(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}
		fresh := s.totals.Recompute(*domain.NewCart(owner, s.now()))
		if err := s.save(ctx, &fresh); err != nil {
			return nil, err
		}
		return &fresh, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart).Clone(), nil
}

// AddItem puts quantity units of product into the cart. Products sold in
// sizes need a size they actually offer; the line is priced from it.
func (s *CartService) AddItem(ctx context.Context, owner domain.OwnerRef, product domain.Product, quantity int, size string) (*domain.Cart, error) {
	if product.ID == "" {
		return nil, &ValidationError{Field: "product_id", Reason: "required"}
	}
	if quantity < 1 {
		quantity = 1
	}

	item := domain.CartItem{
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductImage: product.Image,
		UnitPrice:    product.Price,
		Quantity:     quantity,
	}
	switch {
	case len(product.SizePrices) > 0:
		if size == "" {
			return nil, &ValidationError{Field: "size", Reason: "required for this product"}
		}
		v, ok := product.VariantFor(size)
		if !ok {
			return nil, &ValidationError{Field: "size", Reason: "not offered for this product"}
		}
		item.Variant = &v
		item.UnitPrice = v.Price
	case size != "":
		return nil, &ValidationError{Field: "size", Reason: "product is not sold in sizes"}
	}
	if item.UnitPrice.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "must not be negative"}
	}

	return s.mutate(ctx, owner, "cart.add", func(cart *domain.Cart) (func(), error) {
		now := s.now()
		if idx := cart.FindLine(item); idx >= 0 {
			cart.Items[idx].Quantity += item.Quantity
			cart.Items[idx].AddedAt = now
			return nil, nil
		}
		item.ID = s.newID()
		item.AddedAt = now
		item.Owner = owner
		cart.Items = append(cart.Items, item)
		return nil, nil
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.OwnerRef, itemID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, owner, itemID)
	}

	return s.mutate(ctx, owner, "cart.update_quantity", func(cart *domain.Cart) (func(), error) {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return nil, ErrItemNotFound
		}
		cart.Items[idx].Quantity = quantity
		return nil, nil
	})
}

// UpdateVariant swaps a line's variant and price. A line that ends up
// identical to another one is folded into it.
func (s *CartService) UpdateVariant(ctx context.Context, owner domain.OwnerRef, itemID string, variant domain.Variant) (*domain.Cart, error) {
	if variant.Size == "" {
		return nil, &ValidationError{Field: "size", Reason: "required"}
	}
	if variant.Price.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "must not be negative"}
	}

	return s.mutate(ctx, owner, "cart.update_variant", func(cart *domain.Cart) (func(), error) {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return nil, ErrItemNotFound
		}

		updated := cart.Items[idx]
		v := variant
		updated.Variant = &v
		updated.UnitPrice = variant.Price

		for j := range cart.Items {
			if j == idx || !cart.Items[j].SameLine(updated) {
				continue
			}
			survivor := cart.Items[j].ID
			cart.Items[j].Quantity += updated.Quantity
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return func() { s.selection.Replace(owner.Key(), itemID, survivor) }, nil
		}

		cart.Items[idx] = updated
		return nil, nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, owner domain.OwnerRef, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, owner, "cart.remove", func(cart *domain.Cart) (func(), error) {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return nil, ErrItemNotFound
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return func() { s.selection.Forget(owner.Key(), itemID) }, nil
	})
}

// RemoveItems drops several lines at once, ignoring ids already gone.
func (s *CartService) RemoveItems(ctx context.Context, owner domain.OwnerRef, itemIDs []string) (*domain.Cart, error) {
	return s.mutate(ctx, owner, "cart.remove_many", func(cart *domain.Cart) (func(), error) {
		drop := make(map[string]struct{}, len(itemIDs))
		for _, id := range itemIDs {
			drop[id] = struct{}{}
		}
		kept := cart.Items[:0]
		for _, item := range cart.Items {
			if _, ok := drop[item.ID]; !ok {
				kept = append(kept, item)
			}
		}
		cart.Items = kept
		return func() {
			for _, id := range itemIDs {
				s.selection.Forget(owner.Key(), id)
			}
		}, nil
	})
}

// Clear empties the cart but keeps its record.
func (s *CartService) Clear(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	return s.mutate(ctx, owner, "cart.clear", func(cart *domain.Cart) (func(), error) {
		cart.Items = []domain.CartItem{}
		cart.Discount = decimal.Zero
		return func() { s.selection.Drop(owner.Key()) }, nil
	})
}

// mutate runs the lock, load, change, recompute, save sequence. after runs
// only once the save succeeded.
func (s *CartService) mutate(ctx context.Context, owner domain.OwnerRef, op string, change func(cart *domain.Cart) (after func(), err error)) (*domain.Cart, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(owner.Key())
	defer unlock()

	if owner.IsAnonymous() {
		s.retryClearLocked(ctx, owner.SessionID)
	}

	cart, err := s.loadOrNew(ctx, owner)
	if err != nil {
		return nil, err
	}

	after, err := change(cart)
	if err != nil {
		return nil, err
	}

	next := s.totals.Recompute(*cart)
	next.UpdatedAt = s.now()
	if err := s.save(ctx, &next); err != nil {
		s.logger.Warn("cart save failed",
			zap.String("op", op),
			zap.String("owner", owner.Key()),
			zap.Error(err))
		return nil, err
	}
	if after != nil {
		after()
	}

	return next.Clone(), nil
}

func (s *CartService) load(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cart, err := s.backendFor(owner).Load(ctx, owner)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}
		return nil, storeError("cart.load", err)
	}
	return cart, nil
}

// loadOrNew returns the stored cart or a fresh, unsaved one.
func (s *CartService) loadOrNew(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	cart, err := s.load(ctx, owner)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(owner, s.now()), nil
	}
	return cart, err
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.backendFor(cart.Owner).Save(ctx, cart); err != nil {
		return storeError("cart.save", err)
	}
	return nil
}

// deleteAnonymous removes a session cart. An absent cart counts as deleted.
func (s *CartService) deleteAnonymous(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err := s.local.Delete(ctx, domain.SessionOwner(sessionID))
	if err == nil || errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	return storeError("cart.clear_anonymous", err)
}

func (s *CartService) queueClear(sessionID string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingClears[sessionID] = struct{}{}
}

func (s *CartService) hasPendingClear(sessionID string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	_, ok := s.pendingClears[sessionID]
	return ok
}

func (s *CartService) resolveClear(sessionID string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	delete(s.pendingClears, sessionID)
}

// retryClearLocked finishes a merge whose anonymous clear failed earlier.
// The caller holds the session's lock.
func (s *CartService) retryClearLocked(ctx context.Context, sessionID string) {
	if !s.hasPendingClear(sessionID) {
		return
	}
	if err := s.deleteAnonymous(ctx, sessionID); err != nil {
		s.logger.Warn("retry of anonymous cart clear failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	s.resolveClear(sessionID)
	s.selection.Drop(domain.SessionOwner(sessionID).Key())
	s.logger.Info("anonymous cart cleared on retry", zap.String("session_id", sessionID))
}
