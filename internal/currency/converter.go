package currency

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	xcurrency "golang.org/x/text/currency"
)

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"KRW": "₩",
	"CNY": "CN¥",
	"INR": "₹",
	"IDR": "Rp",
	"VND": "₫",
	"PHP": "₱",
	"SGD": "S$",
	"AUD": "A$",
	"CAD": "CA$",
	"CHF": "CHF ",
	"NGN": "₦",
	"BRL": "R$",
	"MXN": "MX$",
}

// RateSource is satisfied by RateCache.
type RateSource interface {
	Rate(ctx context.Context, from, to string) decimal.Decimal
}

type Converter struct {
	rates RateSource
}

func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert turns amount in from into to, rounded to to's minor units.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	return amount.Mul(c.rates.Rate(ctx, from, to)).Round(MinorUnits(to))
}

// IsISO reports whether code is a known ISO 4217 currency.
func IsISO(code string) bool {
	_, err := xcurrency.ParseISO(code)
	return err == nil
}

// MinorUnits is 0 for currencies without minor units and 2 for all others.
func MinorUnits(code string) int32 {
	unit, err := xcurrency.ParseISO(code)
	if err != nil {
		return 2
	}
	if scale, _ := xcurrency.Standard.Rounding(unit); scale == 0 {
		return 0
	}
	return 2
}

// Format renders amount with the currency's symbol, e.g. "$1,234.50" or "¥1,235".
func Format(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(code)
	symbol, ok := symbols[code]
	if !ok {
		symbol = code + " "
	}

	fixed := amount.Abs().StringFixed(MinorUnits(code))
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if amount.Round(MinorUnits(code)).IsNegative() {
		b.WriteByte('-')
	}
	b.WriteString(symbol)
	b.WriteString(group(intPart))
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
