package currency

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL     = time.Hour
	DefaultTimeout = 3 * time.Second
)

type cacheEntry struct {
	table RateTable
	gen   uint64
}

// RateCache serves conversion rates from a TTL-bounded table, refetching it from
// the provider when stale and falling back to a static table when that fails.
type RateCache struct {
	provider Provider
	base     string
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	fallback RateTable
	logger   *zap.Logger

	mu    sync.RWMutex
	entry *cacheEntry
	sfg   singleflight.Group // at most one fetch per base in flight
	gen   atomic.Uint64
}

type Option func(*RateCache)

func WithClock(now func() time.Time) Option {
	return func(c *RateCache) { c.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *RateCache) { c.ttl = ttl }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *RateCache) { c.timeout = timeout }
}

func WithFallback(table RateTable) Option {
	return func(c *RateCache) { c.fallback = table }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *RateCache) { c.logger = logger }
}

func NewRateCache(provider Provider, base string, opts ...Option) *RateCache {
	c := &RateCache{
		provider: provider,
		base:     strings.ToUpper(base),
		ttl:      DefaultTTL,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback.Base == "" {
		c.fallback = DefaultFallback()
	}
	return c
}

func (c *RateCache) Base() string {
	return c.base
}

// Rate returns how many units of to one unit of from buys. It never fails:
// provider trouble degrades to the fallback table, and a code unknown to both
// yields 1.
func (c *RateCache) Rate(ctx context.Context, from, to string) decimal.Decimal {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1)
	}

	if r, ok := c.table(ctx).cross(from, to); ok {
		return r
	}
	if r, ok := c.fallback.cross(from, to); ok {
		c.logger.Warn("rate missing from live table, using fallback",
			zap.String("from", from), zap.String("to", to))
		return r
	}

	c.logger.Error("no rate for currency pair", zap.String("from", from), zap.String("to", to))
	return decimal.NewFromInt(1)
}

// Supported lists the codes the current table (or the fallback) can convert.
func (c *RateCache) Supported(ctx context.Context) []string {
	return c.table(ctx).Codes()
}

// Refresh forces a refetch regardless of freshness.
func (c *RateCache) Refresh(ctx context.Context) error {
	_, err := c.fetch(ctx, true)
	return err
}

func (c *RateCache) table(ctx context.Context) RateTable {
	if t, ok := c.cached(); ok {
		return t
	}

	t, err := c.fetch(ctx, false)
	if err != nil {
		c.logger.Warn("rate refetch failed, serving fallback table",
			zap.String("base", c.base), zap.Error(err))
		return c.fallback
	}
	return t
}

func (c *RateCache) cached() (RateTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return RateTable{}, false
	}
	if c.now().Sub(c.entry.table.FetchedAt) >= c.ttl {
		return RateTable{}, false
	}
	return c.entry.table, true
}

// fetch joins or starts the single in-flight fetch for the base. A forced
// fetch skips the freshness check when it is the one starting the flight.
func (c *RateCache) fetch(ctx context.Context, force bool) (RateTable, error) {
	v, err, _ := c.sfg.Do(c.base, func() (interface{}, error) {
		if !force {
			if t, ok := c.cached(); ok {
				return t, nil
			}
		}

		gen := c.gen.Add(1)
		// shared by every waiter, so one caller's cancellation must not abort it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		t, err := c.provider.Latest(fetchCtx, c.base)
		if err != nil {
			return nil, err
		}
		t.FetchedAt = c.now()
		c.store(t, gen)
		return t, nil
	})
	if err != nil {
		return RateTable{}, err
	}
	return v.(RateTable), nil
}

// store replaces the entry unless a fetch started later already landed.
func (c *RateCache) store(t RateTable, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != nil && c.entry.gen > gen {
		c.logger.Debug("discarding stale rate fetch", zap.Uint64("generation", gen))
		return
	}
	c.entry = &cacheEntry{table: t, gen: gen}
}
