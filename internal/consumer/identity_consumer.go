package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	IdentityTopic = "identity-events"
	groupID       = "cart-service"

	EventLogin  = "login"
	EventLogout = "logout"

	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
	fetchBackoff = time.Second
)

// IdentityEvent is published by the identity provider on every login and logout.
type IdentityEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Merger interface {
	Merge(ctx context.Context, sessionID, accountID string) (*domain.Cart, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer merges anonymous carts as login events arrive. Offsets are
// committed after handling, so a crash redelivers and the merge marker
// absorbs the replay.
type Consumer struct {
	merger       Merger
	reader       messageReader
	logger       *zap.Logger
	backoff      time.Duration
	fetchBackoff time.Duration
}

func NewConsumer(merger Merger, logger *zap.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    IdentityTopic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(merger, reader, logger)
}

func newConsumer(merger Merger, reader messageReader, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{merger: merger, reader: reader, logger: logger, backoff: retryBackoff, fetchBackoff: fetchBackoff}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("error reading message", zap.Error(err))
		// a broker that fails fast would otherwise spin the loop
		select {
		case <-time.After(c.fetchBackoff):
		case <-ctx.Done():
		}
		return
	}

	var event IdentityEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.Warn("error parsing identity event",
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		c.commit(ctx, m)
		return
	}

	if err := c.handleWithRetry(ctx, event); err != nil {
		if ctx.Err() != nil {
			// leave uncommitted so the event is redelivered after restart
			return
		}
		c.logger.Error("identity event dropped",
			zap.String("type", event.Type),
			zap.String("account_id", event.AccountID),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
	c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, event IdentityEvent) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.handleEvent(ctx, event)
		if err == nil || !errors.Is(err, service.ErrStoreUnavailable) {
			return err
		}
		c.logger.Warn("identity event handling failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Consumer) handleEvent(ctx context.Context, event IdentityEvent) error {
	switch event.Type {
	case EventLogin:
		if event.SessionID == "" {
			// a login from a device that never had an anonymous cart
			return nil
		}
		cart, err := c.merger.Merge(ctx, event.SessionID, event.AccountID)
		if err != nil {
			return err
		}
		c.logger.Info("login merged session cart",
			zap.String("account_id", event.AccountID),
			zap.String("session_id", event.SessionID),
			zap.Int("lines", len(cart.Items)))
		return nil
	case EventLogout:
		c.logger.Info("logout received",
			zap.String("account_id", event.AccountID),
			zap.String("session_id", event.SessionID))
		return nil
	default:
		c.logger.Debug("ignoring identity event", zap.String("type", event.Type))
		return nil
	}
}
