package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ae-safety-server/internal/domain"
)

// BreakerCollaborator guards a collaborator with a circuit breaker so a
// misbehaving inference backend sheds load instead of stacking timeouts.
type BreakerCollaborator struct {
	inner   Collaborator
	breaker *gobreaker.CircuitBreaker
}

// WrapWithBreaker wraps the collaborator in a gobreaker circuit breaker.
func WrapWithBreaker(inner Collaborator, cfg domain.CircuitBreakerConfig, logger *logrus.Logger) *BreakerCollaborator {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &BreakerCollaborator{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Name identifies the wrapped collaborator.
func (b *BreakerCollaborator) Name() string {
	return b.inner.Name()
}

// Infer executes the call through the circuit breaker.
func (b *BreakerCollaborator) Infer(ctx context.Context, req *Request) (*Response, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Infer(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%s collaborator unavailable: %w", b.inner.Name(), err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

// Healthy reports endpoint reachability, bypassing the breaker so health
// checks keep probing while the circuit is open.
func (b *BreakerCollaborator) Healthy(ctx context.Context) bool {
	return b.inner.Healthy(ctx)
}
