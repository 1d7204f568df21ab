package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/selection"
	"github.com/fjod/go_cart/storefront/internal/totals"
	"github.com/shopspring/decimal"
)

// mockBackend wraps the in-memory backend with error injection and call counting.
type mockBackend struct {
	inner *repository.MemoryCartBackend

	m         sync.Mutex
	loadErr   error
	saveErr   error
	deleteErr error
	saveDelay time.Duration
	saves     int
	deletes   int
}

func newMockBackend(inner *repository.MemoryCartBackend) *mockBackend {
	return &mockBackend{inner: inner}
}

func (b *mockBackend) Load(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	b.m.Lock()
	err := b.loadErr
	b.m.Unlock()
	if err != nil {
		return nil, err
	}
	return b.inner.Load(ctx, owner)
}

func (b *mockBackend) Save(ctx context.Context, cart *domain.Cart) error {
	b.m.Lock()
	err, delay := b.saveErr, b.saveDelay
	b.saves++
	b.m.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return b.inner.Save(ctx, cart)
}

func (b *mockBackend) Delete(ctx context.Context, owner domain.OwnerRef) error {
	b.m.Lock()
	err := b.deleteErr
	b.deletes++
	b.m.Unlock()
	if err != nil {
		return err
	}
	return b.inner.Delete(ctx, owner)
}

func (b *mockBackend) setSaveErr(err error) {
	b.m.Lock()
	defer b.m.Unlock()
	b.saveErr = err
}

func (b *mockBackend) setDeleteErr(err error) {
	b.m.Lock()
	defer b.m.Unlock()
	b.deleteErr = err
}

func (b *mockBackend) deleteCount() int {
	b.m.Lock()
	defer b.m.Unlock()
	return b.deletes
}

type testClock struct {
	m   sync.Mutex
	now time.Time
}

// Now advances one millisecond per call so every save gets a distinct stamp.
func (c *testClock) Now() time.Time {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type sequentialIDs struct {
	m sync.Mutex
	n int
}

func (g *sequentialIDs) Next() string {
	g.m.Lock()
	defer g.m.Unlock()
	g.n++
	return fmt.Sprintf("line-%d", g.n)
}

type testEnv struct {
	carts     *CartService
	merges    *MergeService
	local     *mockBackend
	remote    *mockBackend
	selection *selection.Engine
}

func newTestEnv() *testEnv {
	local := newMockBackend(repository.NewMemorySessionBackend())
	remote := newMockBackend(repository.NewMemoryAccountBackend())
	sel := selection.NewEngine()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	ids := &sequentialIDs{}

	carts := NewCartService(local, remote,
		totals.NewCalculator(decimal.RequireFromString("0.05")),
		sel,
		WithClock(clock.Now),
		WithIDGenerator(ids.Next),
		WithStoreTimeout(200*time.Millisecond),
	)
	return &testEnv{
		carts:     carts,
		merges:    NewMergeService(carts),
		local:     local,
		remote:    remote,
		selection: sel,
	}
}

func product(id, price string) domain.Product {
	return domain.Product{ID: id, Name: id, Price: decimal.RequireFromString(price)}
}

func sizedProduct(id string, sizes ...string) domain.Product {
	p := domain.Product{ID: id, Name: id, Price: decimal.RequireFromString("20.00")}
	for i, size := range sizes {
		p.SizePrices = append(p.SizePrices, domain.SizePrice{
			Size:  size,
			Price: decimal.NewFromInt(int64(20 + i)),
		})
	}
	return p
}

type fixedRates struct {
	base  string
	rates map[string]decimal.Decimal
}

func (r fixedRates) Base() string { return r.base }

func (r fixedRates) Rate(_ context.Context, from, to string) decimal.Decimal {
	if from == to {
		return decimal.NewFromInt(1)
	}
	if rate, ok := r.rates[to]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

type mockPayments struct {
	m          sync.Mutex
	outcome    domain.PaymentStatus
	ref        string
	beginErr   error
	verifyErr  error
	begins     int
	verifies   int
	lastOrders []*domain.Order
}

func (p *mockPayments) Currency() string { return "IDR" }

func (p *mockPayments) BeginCheckout(_ context.Context, order *domain.Order) (string, string, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.begins++
	if p.beginErr != nil {
		return "", "", p.beginErr
	}
	p.lastOrders = append(p.lastOrders, order)
	return "https://pay.example.com/" + order.ID, order.ID, nil
}

func (p *mockPayments) Verify(_ context.Context, _ string) (domain.PaymentStatus, string, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.verifies++
	if p.verifyErr != nil {
		return "", "", p.verifyErr
	}
	return p.outcome, p.ref, nil
}

// failingOrders fails every write.
type failingOrders struct {
	*repository.MemoryOrderRepository
	err error
}

func (f failingOrders) CreateOrder(context.Context, *domain.Order) error {
	return f.err
}
