package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/bullionstore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
}

// RateLimitPolicy caps requests per client IP and per buyer email inside a
// fixed window. A zero limit switches that counter off.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "checkout"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, emailLimit: emailLimit}
}

// counter is one throttled dimension. subject returns "" when the request
// carries nothing to count against.
type counter struct {
	scope   string
	limit   int64
	subject func(*http.Request) (string, error)
}

func (p RateLimitPolicy) counters() []counter {
	if p.window <= 0 {
		return nil
	}
	var out []counter
	if p.ipLimit > 0 {
		out = append(out, counter{scope: "ip", limit: int64(p.ipLimit), subject: func(r *http.Request) (string, error) {
			return clientIP(r), nil
		}})
	}
	if p.emailLimit > 0 {
		out = append(out, counter{scope: "email", limit: int64(p.emailLimit), subject: buyerEmailHash})
	}
	return out
}

// RateLimit counts each request against every enabled dimension and rejects
// with 429 once any count passes its limit. Counter store failures surface as
// 503 rather than letting traffic through unmetered.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	counters := policy.counters()
	return func(next http.Handler) http.Handler {
		if len(counters) == 0 || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, c := range counters {
				subject, err := c.subject(r)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
					return
				}
				if subject == "" {
					continue
				}
				count, err := store.IncrWithTTL(ctx, store.RateLimitKey(policy.name, c.scope, subject), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > c.limit {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"policy":   policy.name,
							"scope":    c.scope,
							"subject":  subject,
							"attempts": count,
							"limit":    c.limit,
						}), "checkout.rate_limit.blocked")
					}
					w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many checkout attempts, please wait and try again"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// buyerEmailHash prefers the signed-in identity and otherwise peeks at
// customerInfo.email in the body, restoring the body for the handler. Only
// the hash reaches Redis and the logs.
func buyerEmailHash(r *http.Request) (string, error) {
	email := EmailFromContext(r.Context())
	if email == "" && r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxIdempotentBody))
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var payload struct {
			CustomerInfo struct {
				Email string `json:"email"`
			} `json:"customerInfo"`
		}
		if json.Unmarshal(body, &payload) == nil {
			email = payload.CustomerInfo.Email
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	return hashBody([]byte(email)), nil
}

// clientIP takes the first X-Forwarded-For hop set by the load balancer, then
// X-Real-IP, then the socket peer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
