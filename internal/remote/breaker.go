package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// BreakerConfig holds configuration for the remote store circuit breaker
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold and MinRequests decide when to trip
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a default configuration for the circuit breaker
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// breakerStore fails fast while the remote store keeps failing.
type breakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps inner so that calls are rejected with an UNAVAILABLE
// error once the failure ratio trips the breaker. Context cancellation is not
// counted as a failure.
func WithBreaker(inner Store, config BreakerConfig, metrics *observability.Collector, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.SetBreakerState(config.Name, float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Only trip if we have enough requests to make a decision
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &breakerStore{inner: inner, cb: cb}
}

func (b *breakerStore) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.ListByOwner(ctx, kind, ownerID)
	})
	if err != nil {
		return nil, b.translate(err)
	}
	return out.([]medication.Record), nil
}

func (b *breakerStore) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Insert(ctx, kind, ownerID, fields)
	})
	if err != nil {
		return medication.Record{}, b.translate(err)
	}
	return out.(medication.Record), nil
}

func (b *breakerStore) translate(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return appErrors.NewUnavailable("remote store temporarily unavailable - too many failures", err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return appErrors.NewUnavailable("remote store temporarily unavailable - too many requests", err)
	default:
		return err
	}
}
