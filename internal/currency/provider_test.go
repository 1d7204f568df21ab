package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Latest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"eur":0.91,"JPY":149.8}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", time.Second)
	table, err := p.Latest(context.Background(), "USD")

	require.NoError(t, err)
	assert.Equal(t, "USD", table.Base)
	assert.True(t, decimal.RequireFromString("0.91").Equal(table.Rates["EUR"]))
	assert.True(t, decimal.RequireFromString("149.8").Equal(table.Rates["JPY"]))
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second).Latest(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrRateProviderUnavailable)
}

func TestHTTPProvider_EmptyRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","rates":{}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second).Latest(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrRateProviderUnavailable)
}

func TestHTTPProvider_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		_, err := p.Latest(context.Background(), "USD")
		assert.Error(t, err)
	}

	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, 20*time.Millisecond).Latest(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrRateProviderUnavailable)
}
