package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureIdentity(t *testing.T, got *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFrom(r.Context())
		require.True(t, ok)
		*got = id
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator("secret")
	token, err := auth.GenerateToken("acct-1", "admin", time.Minute)
	require.NoError(t, err)

	claims, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth := NewAuthenticator("secret")

	expired, err := auth.GenerateToken("acct-1", "", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewAuthenticator("other").GenerateToken("acct-1", "", time.Minute)
	require.NoError(t, err)

	noAccount, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{AccountID: "acct-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"no account":   noAccount,
		"alg none":     unsigned,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Parse(token)
			assert.Error(t, err)
		})
	}
}

func TestIdentityMiddleware_Account(t *testing.T) {
	auth := NewAuthenticator("secret")
	token, err := auth.GenerateToken("acct-1", "", time.Minute)
	require.NoError(t, err)

	var got Identity
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(SessionHeader, "sess-1")
	rec := httptest.NewRecorder()
	IdentityMiddleware(auth)(captureIdentity(t, &got)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, got.Authenticated())
	assert.Equal(t, "acct-1", got.Owner.AccountID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestIdentityMiddleware_InvalidTokenIsNotDowngraded(t *testing.T) {
	auth := NewAuthenticator("secret")

	for _, header := range []string{"Bearer nope", "Basic abc", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		IdentityMiddleware(auth)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestIdentityMiddleware_AnonymousFromHeader(t *testing.T) {
	var got Identity
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, " sess-9 ")
	rec := httptest.NewRecorder()
	IdentityMiddleware(NewAuthenticator("secret"))(captureIdentity(t, &got)).ServeHTTP(rec, req)

	assert.False(t, got.Authenticated())
	assert.Equal(t, "sess-9", got.Owner.SessionID)
	assert.Equal(t, "sess-9", rec.Header().Get(SessionHeader))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = getRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-given")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-given", seen)
	assert.Equal(t, "req-given", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
