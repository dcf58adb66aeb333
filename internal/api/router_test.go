package api

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/config"
	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	id  *auth.Identity
	err error
}

func (s stubVerifier) Verify(context.Context, string) (*auth.Identity, error) { return s.id, s.err }

func newRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	catalog, err := plans.Load("")
	require.NoError(t, err)
	stack := services.InitServices(services.Deps{
		Catalog: catalog,
		Config: &config.Config{
			TokenPrivateKey:   priv,
			TokenPublicKey:    pub,
			TokenTTL:          time.Hour,
			TrialDuration:     services.DefaultTrialDuration,
			HeartbeatInterval: time.Minute,
			HeartbeatTimeout:  time.Hour,
			LicenseHMACSecret: []byte("0123456789abcdef0123"),
			BaseURL:           "https://app.example.test",
		},
	})

	opts.Logger = zerolog.Nop()
	r := chi.NewRouter()
	Register(r, handlers.New(stack, nil, nil), opts)
	return r
}

func send(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func code(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 2)
	rl.now = func() time.Time { return now }

	ok, _ := rl.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := rl.allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	ok, _ = rl.allow("10.0.0.2")
	assert.True(t, ok, "buckets are per client")

	now = now.Add(time.Second)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok, "a token refills after one second at 60/min")
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")
	now = now.Add(limiterIdleTTL + time.Minute)
	rl.allow("10.0.0.3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.entries, 1)
	assert.Contains(t, rl.entries, "10.0.0.3")
}

func TestRateLimitedRoutesAnswer429(t *testing.T) {
	h := newRouter(t, Options{Limiter: NewRateLimiter(60, 1)})
	hdr := http.Header{"X-Real-Ip": {"203.0.113.7"}}

	first := send(h, http.MethodPost, "/api/trial", `{"fingerprint":""}`, hdr)
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := send(h, http.MethodPost, "/api/trial", `{"fingerprint":""}`, hdr)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "RATE_LIMITED", code(t, second))
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := send(h, http.MethodPost, "/api/trial", `{"fingerprint":""}`, http.Header{"X-Real-Ip": {"203.0.113.8"}})
	assert.Equal(t, http.StatusBadRequest, other.Code)

	health := send(h, http.MethodGet, "/healthz", "", hdr)
	assert.Equal(t, http.StatusOK, health.Code, "health checks are not limited")
}

func TestRequireIdentity(t *testing.T) {
	var seen *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	bearer := http.Header{"Authorization": {"Bearer tok"}}

	t.Run("not configured", func(t *testing.T) {
		rec := send(RequireIdentity(nil)(next), http.MethodGet, "/api/portal/me", "", bearer)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		v := stubVerifier{id: &auth.Identity{Subject: "sub-1"}}
		rec := send(RequireIdentity(v)(next), http.MethodGet, "/api/portal/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejected token", func(t *testing.T) {
		v := stubVerifier{err: errors.New("token is expired")}
		rec := send(RequireIdentity(v)(next), http.MethodGet, "/api/portal/me", "", bearer)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "expired")
	})

	t.Run("valid token", func(t *testing.T) {
		v := stubVerifier{id: &auth.Identity{Subject: "sub-1", Email: "ada@example.com"}}
		rec := send(RequireIdentity(v)(next), http.MethodGet, "/api/portal/me", "", bearer)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "sub-1", seen.Subject)
	})
}

func TestRequireAdmin(t *testing.T) {
	hash, err := auth.HashAdminKey("s3cret-admin-key")
	require.NoError(t, err)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		authn  *auth.AdminAuthenticator
		key    string
		status int
	}{
		{"disabled", auth.NewAdminAuthenticator(""), "s3cret-admin-key", http.StatusServiceUnavailable},
		{"missing key", auth.NewAdminAuthenticator(hash), "", http.StatusUnauthorized},
		{"wrong key", auth.NewAdminAuthenticator(hash), "guess", http.StatusUnauthorized},
		{"valid key", auth.NewAdminAuthenticator(hash), "s3cret-admin-key", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hdr := http.Header{}
			if tc.key != "" {
				hdr.Set("Authorization", "Bearer "+tc.key)
			}
			rec := send(RequireAdmin(tc.authn)(next), http.MethodGet, "/api/admin/licenses/1", "", hdr)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestContractValidation(t *testing.T) {
	contract, err := LoadContract(context.Background())
	require.NoError(t, err)
	h := newRouter(t, Options{Contract: contract, ValidateRequests: true})

	t.Run("schema violation", func(t *testing.T) {
		rec := send(h, http.MethodPost, "/api/license/activate", `{"licenseKey":"","fingerprint":"fp-1"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", code(t, rec))
	})

	t.Run("unknown property", func(t *testing.T) {
		rec := send(h, http.MethodPost, "/api/checkout", `{"plan":"team","coupon":"FREE"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad cycle", func(t *testing.T) {
		rec := send(h, http.MethodPost, "/api/checkout", `{"plan":"team","cycle":"weekly"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid request reaches handler", func(t *testing.T) {
		rec := send(h, http.MethodPost, "/api/checkout", `{"plan":"platinum"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "PLAN_NOT_FOUND", code(t, rec))
	})

	t.Run("webhooks bypass the contract", func(t *testing.T) {
		rec := send(h, http.MethodPost, "/api/webhooks/stripe", `{"anything":true}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServesContractAndOperationalEndpoints(t *testing.T) {
	contract, err := LoadContract(context.Background())
	require.NoError(t, err)
	h := newRouter(t, Options{Contract: contract})

	rec := send(h, http.MethodGet, "/api/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/api/license/activate")

	rec = send(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = send(h, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", code(t, rec))

	rec = send(h, http.MethodGet, "/api/license/activate", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = send(h, http.MethodGet, "/api/portal/me", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "portal without cognito")

	rec = send(h, http.MethodPost, "/api/admin/licenses", `{}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "admin without a key hash")
}
