package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

const sessionBody = `{"items":[{"id":"eagle-1oz","name":"American Gold Eagle","unitPrice":"2089.50","quantity":1}],"customerInfo":{"email":" Buyer@Example.com "}}`

func throttled(policy RateLimitPolicy, store rateLimiterStore) http.Handler {
	return RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Body-Len", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
	}))
}

func postSession(h http.Handler, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.4:41000"
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitCountsHashedBodyEmail(t *testing.T) {
	store := newCounterStore()
	h := throttled(NewRateLimitPolicy("Checkout", time.Minute, 5, 2), store)

	rec := postSession(h, sessionBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strconv.Itoa(len(sessionBody)), rec.Header().Get("X-Body-Len"), "handler must still see the full body")

	assert.Equal(t, int64(1), store.count("rl:checkout:email:"+hashBody([]byte("buyer@example.com"))))
	assert.Equal(t, int64(1), store.count("rl:checkout:ip:198.51.100.4"))
	for key := range store.counts {
		assert.NotContains(t, key, "example.com", "raw emails never become keys")
	}
}

func TestRateLimitRejectsPastEmailLimit(t *testing.T) {
	h := throttled(NewRateLimitPolicy("checkout", 90*time.Second, 0, 2), newCounterStore())

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, postSession(h, sessionBody).Code)
	}
	rec := postSession(h, sessionBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeRateLimit), payload.Error.Code)
}

func TestRateLimitPrefersSignedInEmail(t *testing.T) {
	store := newCounterStore()
	h := throttled(NewRateLimitPolicy("checkout", time.Minute, 0, 1), store)

	postSession(h, sessionBody, func(r *http.Request) {
		*r = *r.WithContext(WithIdentity(r.Context(), Identity{UserID: "user-7", Email: "member@example.com"}))
	})
	assert.Equal(t, int64(1), store.count("rl:checkout:email:"+hashBody([]byte("member@example.com"))))
	assert.Zero(t, store.count("rl:checkout:email:"+hashBody([]byte("buyer@example.com"))))
}

func TestRateLimitUsesFirstForwardedHop(t *testing.T) {
	store := newCounterStore()
	h := throttled(NewRateLimitPolicy("checkout", time.Minute, 1, 0), store)
	forwarded := func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.8, 10.0.0.1") }

	assert.Equal(t, http.StatusOK, postSession(h, `{}`, forwarded).Code)
	assert.Equal(t, http.StatusTooManyRequests, postSession(h, `{}`, forwarded).Code)
	assert.Equal(t, int64(2), store.count("rl:checkout:ip:203.0.113.8"))
	assert.Equal(t, http.StatusOK, postSession(h, `{}`).Code, "other clients keep their own window")
}

func TestRateLimitSkipsAnonymousEmailCounter(t *testing.T) {
	store := newCounterStore()
	h := throttled(NewRateLimitPolicy("checkout", time.Minute, 0, 1), store)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, postSession(h, `{"items":[]}`).Code)
	}
	assert.Empty(t, store.counts)
}

func TestRateLimitStoreFailureIsUnavailable(t *testing.T) {
	store := newCounterStore()
	store.err = errors.New("redis: connection refused")
	rec := postSession(throttled(NewRateLimitPolicy("checkout", time.Minute, 1, 0), store), `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := newCounterStore()
	for _, policy := range []RateLimitPolicy{
		NewRateLimitPolicy("checkout", 0, 1, 1),
		NewRateLimitPolicy("checkout", time.Minute, 0, 0),
	} {
		assert.Equal(t, http.StatusOK, postSession(throttled(policy, store), sessionBody).Code)
	}
	assert.Empty(t, store.counts)
	assert.Equal(t, http.StatusOK, postSession(throttled(NewRateLimitPolicy("checkout", time.Minute, 1, 1), nil), sessionBody).Code)
}

type counterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newCounterStore() *counterStore {
	return &counterStore{counts: map[string]int64{}}
}

func (s *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *counterStore) RateLimitKey(parts ...string) string {
	return "rl:" + strings.Join(parts, ":")
}

func (s *counterStore) count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}
