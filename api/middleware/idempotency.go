package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/bullionstore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/bullionstore-backend/pkg/redis"
)

// IdempotencyKeyHeader carries the client's charge key. The same value is
// forwarded to Square, so a replay that slips past the cache still settles at
// most once.
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultIdempotencyTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = 2 * time.Minute
	// maxIdempotencyKeyLen is Square's limit for payment idempotency keys.
	maxIdempotencyKeyLen = 45
	maxIdempotentBody    = 1 << 20
)

// keyedRoutes are the chi route patterns that demand an Idempotency-Key.
var keyedRoutes = map[string]bool{
	http.MethodPost + " /api/v1/checkout/charge": true,
}

type idempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// idempotencyRecord is what Redis holds per key. A record without a status is
// a claim by a request that is still running.
type idempotencyRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r idempotencyRecord) done() bool { return r.Status != 0 }

// Idempotency claims the key before the handler runs. A duplicate that
// arrives while the first request is running gets 409; one that arrives after
// gets the stored response; a reused key with a different body is rejected.
// 5xx responses release the claim so the client may retry under the same key.
func Idempotency(store idempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !keyedRoutes[r.Method+" "+routePattern(r)] {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey, err := idempotencyKeyFrom(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(idempotencyScope(r), clientKey)
			claim := idempotencyRecord{RequestHash: hashBody(body)}
			claimed, err := store.SetNX(ctx, key, encodeRecord(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, key, claim.RequestHash, w, logg)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			persistOutcome(ctx, store, key, ttl, claim, ww, captured.Bytes(), logg)
		})
	}
}

func idempotencyKeyFrom(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	if len(key) > maxIdempotencyKeyLen || strings.IndexFunc(key, func(c rune) bool { return c <= ' ' || c > '~' }) >= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key must be at most 45 printable characters without spaces")
	}
	return key, nil
}

// idempotencyScope keeps keys from colliding across buyers and routes.
func idempotencyScope(r *http.Request) string {
	buyer := UserIDFromContext(r.Context())
	if buyer == "" {
		buyer = "guest"
	}
	return strings.Join([]string{r.Method, r.URL.Path, buyer}, "|")
}

func replayOrReject(ctx context.Context, store idempotencyStore, key, requestHash string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if pkgredis.IsNil(err) {
		// The claim expired between SetNX and Get; the client should retry.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var stored idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}

	switch {
	case stored.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case !stored.done():
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// persistOutcome runs after the response is written, so it must not depend on
// the request context staying alive.
func persistOutcome(ctx context.Context, store idempotencyStore, key string, ttl time.Duration, claim idempotencyRecord, ww chimw.WrapResponseWriter, body []byte, logg *logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency key", err)
		}
		return
	}

	claim.Status = status
	claim.ContentType = ww.Header().Get("Content-Type")
	claim.Body = body
	if err := store.Set(ctx, key, encodeRecord(claim), ttl); err != nil && logg != nil {
		logg.Error(ctx, "persist idempotency record", err)
	}
}

func encodeRecord(rec idempotencyRecord) string {
	raw, _ := json.Marshal(rec)
	return string(raw)
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
