package currency

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed fallback_rates.yaml
var fallbackYAML []byte

// RateTable holds rates for every code relative to Base.
type RateTable struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"-"`
}

func (t RateTable) rateOf(code string) (decimal.Decimal, bool) {
	if code == t.Base {
		return decimal.NewFromInt(1), true
	}
	r, ok := t.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// cross routes from -> to through the table's base.
func (t RateTable) cross(from, to string) (decimal.Decimal, bool) {
	rFrom, ok := t.rateOf(from)
	if !ok {
		return decimal.Zero, false
	}
	rTo, ok := t.rateOf(to)
	if !ok {
		return decimal.Zero, false
	}
	return rTo.DivRound(rFrom, 12), true
}

// Codes lists all currencies the table can convert, sorted.
func (t RateTable) Codes() []string {
	seen := map[string]struct{}{t.Base: {}}
	for code := range t.Rates {
		seen[code] = struct{}{}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type fallbackFile struct {
	Base  string            `yaml:"base"`
	Rates map[string]string `yaml:"rates"`
}

// ParseFallback reads a YAML rate table.
func ParseFallback(data []byte) (RateTable, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RateTable{}, fmt.Errorf("parse fallback rates: %w", err)
	}
	if f.Base == "" {
		return RateTable{}, fmt.Errorf("fallback rates: missing base")
	}

	table := RateTable{Base: strings.ToUpper(f.Base), Rates: make(map[string]decimal.Decimal, len(f.Rates))}
	for code, raw := range f.Rates {
		r, err := decimal.NewFromString(raw)
		if err != nil {
			return RateTable{}, fmt.Errorf("fallback rate %s: %w", code, err)
		}
		table.Rates[strings.ToUpper(code)] = r
	}
	return table, nil
}

// DefaultFallback returns the bundled offline table.
func DefaultFallback() RateTable {
	t, err := ParseFallback(fallbackYAML)
	if err != nil {
		panic(err)
	}
	return t
}
