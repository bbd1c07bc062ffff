package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	claimValue = "processing"
	doneValue  = "done"
	// claimTTL bounds how long a crashed handler can hold an event before
	// Stripe's next delivery may claim it again.
	claimTTL = 5 * time.Minute
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// ReplayGuard makes webhook delivery effectively once per Stripe event id. An
// event is claimed for a short window while it is handled, then remembered as
// done for the configured retention.
type ReplayGuard struct {
	store     replayStore
	retention time.Duration
	scope     string
}

func NewReplayGuard(store replayStore, retention time.Duration, scope string) (*ReplayGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("replay store is required")
	case retention < 0:
		return nil, errors.New("retention must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &ReplayGuard{store: store, retention: retention, scope: scope}, nil
}

// Claim reports whether the caller now owns eventID. false means another
// delivery is in flight or the event was already handled.
func (g *ReplayGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	ok, err := g.store.SetNX(ctx, g.key(eventID), claimValue, min(claimTTL, g.retentionOrClaim()))
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Complete remembers eventID for the full retention window.
func (g *ReplayGuard) Complete(ctx context.Context, eventID string) error {
	if err := g.store.Set(ctx, g.key(eventID), doneValue, g.retention); err != nil {
		return fmt.Errorf("complete event %s: %w", eventID, err)
	}
	return nil
}

// Release forgets a claim so Stripe's retry is processed again.
func (g *ReplayGuard) Release(ctx context.Context, eventID string) error {
	if err := g.store.Del(ctx, g.key(eventID)); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

func (g *ReplayGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}

// retentionOrClaim keeps a zero retention (no expiry) from shortening claims
// to nothing.
func (g *ReplayGuard) retentionOrClaim() time.Duration {
	if g.retention <= 0 {
		return claimTTL
	}
	return g.retention
}
