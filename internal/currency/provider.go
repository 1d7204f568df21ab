package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRateProviderUnavailable covers every way a refetch can fail. It is logged
// by the cache and never returned to callers of Rate.
var ErrRateProviderUnavailable = errors.New("rate provider unavailable")

// Provider fetches the latest rates for a base currency.
type Provider interface {
	Latest(ctx context.Context, base string) (RateTable, error)
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// HTTPProvider calls GET {baseURL}/latest?base=XXX behind a circuit breaker.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[RateTable]
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[RateTable](gobreaker.Settings{
			Name:        "rate-provider",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (p *HTTPProvider) Latest(ctx context.Context, base string) (RateTable, error) {
	table, err := p.breaker.Execute(func() (RateTable, error) {
		return p.fetch(ctx, base)
	})
	if err != nil {
		return RateTable{}, fmt.Errorf("%w: %v", ErrRateProviderUnavailable, err)
	}
	return table, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, base string) (RateTable, error) {
	u := fmt.Sprintf("%s/latest?base=%s", p.baseURL, url.QueryEscape(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RateTable{}, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return RateTable{}, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return RateTable{}, errors.New("rate provider throttled the request")
	}
	if resp.StatusCode != http.StatusOK {
		return RateTable{}, fmt.Errorf("rate provider returned status %d", resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RateTable{}, fmt.Errorf("decode rate response: %w", err)
	}

	table := RateTable{Base: strings.ToUpper(body.Base), Rates: make(map[string]decimal.Decimal, len(body.Rates))}
	if table.Base == "" {
		table.Base = strings.ToUpper(base)
	}
	for code, r := range body.Rates {
		table.Rates[strings.ToUpper(code)] = r
	}
	if len(table.Rates) == 0 {
		return RateTable{}, errors.New("rate provider returned no rates")
	}
	return table, nil
}
