package functions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen indicates calls are short-circuited after repeated failures
var ErrCircuitOpen = errors.New("model provider circuit open")

// BreakerEngine guards an engine with a circuit breaker so a failing vendor
// is not called for every message in a batch.
type BreakerEngine struct {
	next Engine
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the circuit breaker
type BreakerSettings struct {
	MaxRequests uint32        // allowed in half-open state
	Interval    time.Duration // closed-state counter reset
	Timeout     time.Duration // open-state duration
	Failures    uint32        // consecutive failures that trip the breaker
}

// DefaultBreakerSettings are used when zero settings are passed
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests: 1,
	Interval:    60 * time.Second,
	Timeout:     30 * time.Second,
	Failures:    5,
}

// NewBreakerEngine wraps next with a breaker named name
func NewBreakerEngine(name string, next Engine, s BreakerSettings, log *slog.Logger) *BreakerEngine {
	if s.Failures == 0 {
		s = DefaultBreakerSettings
	}
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("model provider circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerEngine{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state name
func (e *BreakerEngine) State() string {
	return e.cb.State().String()
}

// Classify runs through the breaker
func (e *BreakerEngine) Classify(ctx context.Context, req ClassifyRequest) (*AnalysisResult, error) {
	out, err := e.cb.Execute(func() (interface{}, error) {
		return e.next.Classify(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*AnalysisResult), nil
}

// Draft runs through the breaker
func (e *BreakerEngine) Draft(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	out, err := e.cb.Execute(func() (interface{}, error) {
		return e.next.Draft(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*DraftResult), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}
