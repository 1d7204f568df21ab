package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrItemNotFound      = errors.New("item not found in cart")
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal transition of order status")
	ErrPaymentNotStarted = errors.New("payment has not been started for this order")
	ErrPaymentProcessor  = errors.New("payment processor error")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// ValidationError reports bad input. It is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreUnavailableError wraps a failed or timed-out backend call.
// Callers may retry and should re-read the cart with Get.
type StoreUnavailableError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *StoreUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: store timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Retryable() bool { return true }

// OrderCreationError means the order was not persisted at all.
type OrderCreationError struct {
	Err error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation failed: %v", e.Err)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

func storeError(op string, err error) error {
	return &StoreUnavailableError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
