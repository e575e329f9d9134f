package resilience

import (
	"context"

	"go.uber.org/zap"
)

// Guard wraps calls to one store backend with a circuit breaker and a retry
// policy. Retries happen inside the breaker, so an exhausted retry loop
// counts as a single failure.
type Guard struct {
	name    string
	retry   RetryConfig
	breaker *CircuitBreaker
}

// NewGuard creates a guard for the named store.
func NewGuard(name string, retry RetryConfig, breaker CircuitBreakerConfig) *Guard {
	if breaker.OnStateChange == nil {
		breaker.OnStateChange = func(from, to CircuitState) {
			zap.L().Warn("store circuit changed state",
				zap.String("store", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	return &Guard{
		name:    name,
		retry:   retry,
		breaker: NewCircuitBreaker(breaker),
	}
}

// Run executes fn under the guard.
func (g *Guard) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call executes fn under the guard and returns its value.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	retry := g.retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(g.name, op)
	}
	return ExecuteVal(ctx, g.breaker, func(ctx context.Context) (T, error) {
		return DoVal(ctx, retry, fn)
	})
}

// State returns the breaker state for observability.
func (g *Guard) State() CircuitState {
	if g == nil {
		return CircuitClosed
	}
	return g.breaker.State()
}
