package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// apiBreaker wraps the Kubernetes Job-create call so a string of
// api_failure_category failures opens the circuit and fails fast with
// dispatch_uncertain instead of continuing to hammer a broken API server.
// Grounded in jordigilh-kubernaut's circuitbreaker.Manager usage
// (gobreaker.Settings{MaxRequests, Interval, Timeout, ReadyToTrip}) in its
// delivery-orchestrator integration suite, adapted from per-channel
// notification delivery to per-cluster Job dispatch.
type apiBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func newAPIBreaker(name string) *apiBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &apiBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// errCircuitOpen is returned (wrapped) when the breaker itself refuses the
// call without ever reaching the Kubernetes API.
var errCircuitOpen = errors.New("dispatch: circuit breaker open")

// call executes fn through the breaker. When the breaker is open it returns
// errCircuitOpen without invoking fn, which the caller maps to
// api_failure_category = "unknown" and dispatch_uncertain = true per spec
// §4.3 — the breaker only changes how fast repeated failures surface, it
// never introduces a new retry.
func (b *apiBreaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errCircuitOpen
	}
	return err
}
