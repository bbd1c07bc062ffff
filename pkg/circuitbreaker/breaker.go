// Package circuitbreaker wraps sony/gobreaker with the settings shared by the
// payment provider clients.
package circuitbreaker

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// Breaker guards calls to a single upstream.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// Options customizes a breaker. Benign reports errors that must not count as
// upstream failures (a card decline is a healthy upstream answer).
type Options struct {
	Name   string
	Config config.BreakerConfig
	Benign func(error) bool
	Logger *logger.Logger
}

// New builds a breaker that opens after the configured run of consecutive failures.
func New[T any](opts Options) *Breaker[T] {
	threshold := opts.Config.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	benign := opts.Benign
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.Config.HalfOpenRequests,
		Timeout:     opts.Config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) {
				return true
			}
			return benign != nil && benign(err)
		},
	}
	if opts.Logger != nil {
		logg := opts.Logger
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state changed")
		}
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

// State reports the current breaker state name.
func (b *Breaker[T]) State() string {
	if b == nil || b.cb == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}

// IsOpen reports whether err was produced by a rejecting breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
