package store

import (
	"context"
	"time"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/resilience"
)

// Guarded decorates a Store with retries, a circuit breaker and a per-call
// timeout. Update is safe to retry because UpdateFunc is re-applied to a
// fresh read.
type Guarded struct {
	inner   Store
	guard   *resilience.Guard
	timeout time.Duration
}

// NewGuarded wraps inner. A zero timeout disables the per-call deadline.
func NewGuarded(inner Store, guard *resilience.Guard, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, guard: guard, timeout: timeout}
}

func (g *Guarded) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Guarded) Get(ctx context.Context, id string) (*model.Deal, error) {
	return resilience.Call(ctx, g.guard, "get", func(ctx context.Context) (*model.Deal, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.inner.Get(ctx, id)
	})
}

func (g *Guarded) Create(ctx context.Context, d *model.Deal) error {
	return g.guard.Run(ctx, "create", func(ctx context.Context) error {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.inner.Create(ctx, d)
	})
}

type updateResult struct {
	deal    *model.Deal
	changed bool
}

func (g *Guarded) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Deal, bool, error) {
	res, err := resilience.Call(ctx, g.guard, "update", func(ctx context.Context) (updateResult, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		d, changed, err := g.inner.Update(ctx, id, fn)
		return updateResult{deal: d, changed: changed}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.deal, res.changed, nil
}

func (g *Guarded) FindByField(ctx context.Context, f model.Field, value string) ([]*model.Deal, error) {
	return resilience.Call(ctx, g.guard, "find", func(ctx context.Context) ([]*model.Deal, error) {
		ctx, cancel := g.withTimeout(ctx)
		defer cancel()
		return g.inner.FindByField(ctx, f, value)
	})
}

// State reports the breaker state of the underlying backend.
func (g *Guarded) State() resilience.CircuitState {
	return g.guard.State()
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.guard.Run(ctx, "ping", g.inner.Ping)
}

func (g *Guarded) Migrate(ctx context.Context) error {
	return g.inner.Migrate(ctx)
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}
