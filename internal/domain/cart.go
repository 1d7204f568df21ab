package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidOwner = errors.New("owner must have exactly one of account id or session id")

// OwnerRef identifies who a cart belongs to. Exactly one field is set.
type OwnerRef struct {
	AccountID string `bson:"account_id,omitempty" json:"account_id,omitempty"`
	SessionID string `bson:"session_id,omitempty" json:"session_id,omitempty"`
}

func AccountOwner(accountID string) OwnerRef {
	return OwnerRef{AccountID: accountID}
}

func SessionOwner(sessionID string) OwnerRef {
	return OwnerRef{SessionID: sessionID}
}

func (o OwnerRef) Validate() error {
	if (o.AccountID == "") == (o.SessionID == "") {
		return ErrInvalidOwner
	}
	return nil
}

func (o OwnerRef) IsAnonymous() bool {
	return o.SessionID != ""
}

// ID returns the bare account or session id.
func (o OwnerRef) ID() string {
	if o.IsAnonymous() {
		return o.SessionID
	}
	return o.AccountID
}

// Key is the storage and lock key for the owner's cart.
func (o OwnerRef) Key() string {
	if o.IsAnonymous() {
		return "session:" + o.SessionID
	}
	return "account:" + o.AccountID
}

type Variant struct {
	Size  string          `bson:"size" json:"size"`
	Price decimal.Decimal `bson:"price" json:"price"`
}

func (v Variant) Equal(other Variant) bool {
	return v.Size == other.Size && v.Price.Equal(other.Price)
}

type CartItem struct {
	ID           string          `bson:"id" json:"id"`
	ProductID    string          `bson:"product_id" json:"product_id"`
	ProductName  string          `bson:"product_name" json:"product_name"`
	ProductImage string          `bson:"product_image" json:"product_image"`
	UnitPrice    decimal.Decimal `bson:"unit_price" json:"unit_price"`
	Quantity     int             `bson:"quantity" json:"quantity"`
	Variant      *Variant        `bson:"variant,omitempty" json:"variant,omitempty"`
	AddedAt      time.Time       `bson:"added_at" json:"added_at"`
	Owner        OwnerRef        `bson:"owner" json:"owner"`
}

// SameLine reports whether two items are the same cart line: same product and
// same variant (or both without one). The line id plays no part.
func (i CartItem) SameLine(other CartItem) bool {
	if i.ProductID != other.ProductID {
		return false
	}
	if i.Variant == nil || other.Variant == nil {
		return i.Variant == nil && other.Variant == nil
	}
	return i.Variant.Equal(*other.Variant)
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	ID             string          `bson:"_id" json:"id"`
	Owner          OwnerRef        `bson:"owner" json:"owner"`
	Items          []CartItem      `bson:"items" json:"items"`
	Subtotal       decimal.Decimal `bson:"subtotal" json:"subtotal"`
	Tax            decimal.Decimal `bson:"tax" json:"tax"`
	Shipping       decimal.Decimal `bson:"shipping" json:"shipping"`
	Discount       decimal.Decimal `bson:"discount" json:"discount"`
	Total          decimal.Decimal `bson:"total" json:"total"`
	MergedSessions []string        `bson:"merged_sessions,omitempty" json:"-"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at" json:"updated_at"`
}

func NewCart(owner OwnerRef, now time.Time) *Cart {
	return &Cart{
		ID:        owner.ID(),
		Owner:     owner,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FindLine returns the index of the item sharing item's line identity, or -1.
func (c *Cart) FindLine(item CartItem) int {
	for i := range c.Items {
		if c.Items[i].SameLine(item) {
			return i
		}
	}
	return -1
}

// FindItem returns the index of the item with the given line id, or -1.
func (c *Cart) FindItem(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) HasMerged(sessionID string) bool {
	for _, s := range c.MergedSessions {
		if s == sessionID {
			return true
		}
	}
	return false
}

// Clone deep-copies the cart so callers can mutate it without touching shared state.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		cp.Items[i] = item
		if item.Variant != nil {
			v := *item.Variant
			cp.Items[i].Variant = &v
		}
	}
	cp.MergedSessions = append([]string(nil), c.MergedSessions...)
	return &cp
}
