package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

// maxMergeMarkers bounds how many completed merges an account cart remembers.
const maxMergeMarkers = 20

// MergeService folds an anonymous session cart into an account cart on login.
type MergeService struct {
	carts *CartService
}

func NewMergeService(carts *CartService) *MergeService {
	return &MergeService{carts: carts}
}

// Merge moves every line of the session cart into the account cart and empties
// the session cart. Replaying a merge of the same session contents adds nothing.
func (m *MergeService) Merge(ctx context.Context, sessionID, accountID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "required"}
	}
	if accountID == "" {
		return nil, &ValidationError{Field: "account_id", Reason: "required"}
	}

	s := m.carts
	anonOwner := domain.SessionOwner(sessionID)
	acctOwner := domain.AccountOwner(accountID)

	unlock := s.locks.LockAll(anonOwner.Key(), acctOwner.Key())
	defer unlock()

	anon, err := s.load(ctx, anonOwner)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	account, err := s.loadOrNew(ctx, acctOwner)
	if err != nil {
		return nil, err
	}

	if anon == nil || len(anon.Items) == 0 {
		s.resolveClear(sessionID)
		return account, nil
	}

	marker := mergeMarker(sessionID, anon)
	if account.HasMerged(marker) {
		// the lines already landed; only the session clear may be outstanding
		m.clearSession(ctx, sessionID)
		return account, nil
	}

	now := s.now()
	for _, item := range anon.Items {
		if idx := account.FindLine(item); idx >= 0 {
			account.Items[idx].Quantity += item.Quantity
			continue
		}
		moved := item
		if item.Variant != nil {
			v := *item.Variant
			moved.Variant = &v
		}
		moved.ID = s.newID()
		moved.Owner = acctOwner
		account.Items = append(account.Items, moved)
	}

	account.MergedSessions = append(account.MergedSessions, marker)
	if len(account.MergedSessions) > maxMergeMarkers {
		account.MergedSessions = account.MergedSessions[len(account.MergedSessions)-maxMergeMarkers:]
	}

	merged := s.totals.Recompute(*account)
	merged.UpdatedAt = now
	if err := s.save(ctx, &merged); err != nil {
		s.logger.Error("merge: account cart save failed",
			zap.String("session_id", sessionID),
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("merged anonymous cart",
		zap.String("session_id", sessionID),
		zap.String("account_id", accountID),
		zap.Int("lines", len(anon.Items)))

	m.clearSession(ctx, sessionID)
	return merged.Clone(), nil
}

// clearSession deletes the session cart, queueing a retry when that fails.
func (m *MergeService) clearSession(ctx context.Context, sessionID string) {
	s := m.carts
	if err := s.deleteAnonymous(ctx, sessionID); err != nil {
		s.queueClear(sessionID)
		s.logger.Warn("merge: anonymous cart clear failed, will retry",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	s.resolveClear(sessionID)
	s.selection.Drop(domain.SessionOwner(sessionID).Key())
}

// mergeMarker identifies one revision of a session cart, so a session that is
// refilled after a merge can merge again.
func mergeMarker(sessionID string, anon *domain.Cart) string {
	return fmt.Sprintf("%s@%d", sessionID, anon.UpdatedAt.UnixNano())
}
