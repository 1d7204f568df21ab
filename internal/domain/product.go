package domain

import "github.com/shopspring/decimal"

type SizePrice struct {
	Size  string          `json:"size"`
	Price decimal.Decimal `json:"price"`
}

// Product is the slice of a catalog entry the cart needs.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Image      string          `json:"image"`
	Price      decimal.Decimal `json:"price"`
	SizePrices []SizePrice     `json:"size_prices,omitempty"`
}

// VariantFor returns the product's variant for size.
func (p Product) VariantFor(size string) (Variant, bool) {
	for _, sp := range p.SizePrices {
		if sp.Size == size {
			return Variant{Size: sp.Size, Price: sp.Price}, true
		}
	}
	return Variant{}, false
}
