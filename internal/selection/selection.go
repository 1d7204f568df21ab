// Package selection tracks which cart lines a shopper has marked for checkout.
// Selections live in memory for the running process only.
package selection

import (
	"errors"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrItemNotInCart = errors.New("item is not in cart")

type Engine struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{} // owner key -> selected item ids
}

func NewEngine() *Engine {
	return &Engine{sets: make(map[string]map[string]struct{})}
}

// Toggle flips the selection of itemID and returns whether it is now selected.
func (e *Engine) Toggle(cart *domain.Cart, itemID string) (bool, error) {
	if cart.FindItem(itemID) < 0 {
		return false, ErrItemNotInCart
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.setFor(cart.Owner.Key())
	if _, ok := set[itemID]; ok {
		delete(set, itemID)
		return false, nil
	}
	set[itemID] = struct{}{}
	return true, nil
}

func (e *Engine) SelectAll(cart *domain.Cart) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := make(map[string]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		set[item.ID] = struct{}{}
	}
	e.sets[cart.Owner.Key()] = set
}

func (e *Engine) DeselectAll(cart *domain.Cart) {
	e.Drop(cart.Owner.Key())
}

// SelectedItems returns the selected lines in cart order. Ids no longer present
// in the cart are pruned.
func (e *Engine) SelectedItems(cart *domain.Cart) []domain.CartItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := e.sets[cart.Owner.Key()]
	if len(set) == 0 {
		return []domain.CartItem{}
	}

	present := make(map[string]struct{}, len(cart.Items))
	selected := make([]domain.CartItem, 0, len(set))
	for _, item := range cart.Items {
		present[item.ID] = struct{}{}
		if _, ok := set[item.ID]; ok {
			selected = append(selected, item)
		}
	}
	for id := range set {
		if _, ok := present[id]; !ok {
			delete(set, id)
		}
	}
	return selected
}

// SelectedTotal sums unit price times quantity over the selected lines.
func (e *Engine) SelectedTotal(cart *domain.Cart) decimal.Decimal {
	total := decimal.Zero
	for _, item := range e.SelectedItems(cart) {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (e *Engine) IsSelected(cartKey, itemID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sets[cartKey][itemID]
	return ok
}

// Forget removes itemID from the cart's selection.
func (e *Engine) Forget(cartKey, itemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.sets[cartKey]; ok {
		delete(set, itemID)
		if len(set) == 0 {
			delete(e.sets, cartKey)
		}
	}
}

// Replace moves a selection from one line id to another, used when two lines
// are combined into one.
func (e *Engine) Replace(cartKey, from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.sets[cartKey]
	if !ok {
		return
	}
	if _, selected := set[from]; selected {
		delete(set, from)
		set[to] = struct{}{}
	}
}

// Drop discards the whole selection of a cart.
func (e *Engine) Drop(cartKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sets, cartKey)
}

func (e *Engine) setFor(cartKey string) map[string]struct{} {
	set, ok := e.sets[cartKey]
	if !ok {
		set = make(map[string]struct{})
		e.sets[cartKey] = set
	}
	return set
}
