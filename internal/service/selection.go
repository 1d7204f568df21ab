package service

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/selection"
	"github.com/shopspring/decimal"
)

// Selection is the checkout subset of a cart.
type Selection struct {
	Items []domain.CartItem `json:"items"`
	Total decimal.Decimal   `json:"total"`
}

func (s *CartService) ToggleSelection(ctx context.Context, owner domain.OwnerRef, itemID string) (bool, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return false, err
	}
	selected, err := s.selection.Toggle(cart, itemID)
	if errors.Is(err, selection.ErrItemNotInCart) {
		return false, ErrItemNotFound
	}
	return selected, err
}

func (s *CartService) SelectAll(ctx context.Context, owner domain.OwnerRef) (Selection, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return Selection{}, err
	}
	s.selection.SelectAll(cart)
	return s.selectionOf(cart), nil
}

func (s *CartService) DeselectAll(ctx context.Context, owner domain.OwnerRef) (Selection, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return Selection{}, err
	}
	s.selection.DeselectAll(cart)
	return s.selectionOf(cart), nil
}

func (s *CartService) Selected(ctx context.Context, owner domain.OwnerRef) (Selection, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return Selection{}, err
	}
	return s.selectionOf(cart), nil
}

func (s *CartService) selectionOf(cart *domain.Cart) Selection {
	items := s.selection.SelectedItems(cart)
	if items == nil {
		items = []domain.CartItem{}
	}
	return Selection{Items: items, Total: s.selection.SelectedTotal(cart)}
}
