package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/resilience"
)

// flakyStore fails the first n calls to Get with a transient error.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, resilience.NewTransientError(errors.New("database is locked"), "get")
	}
	return f.Store.Get(ctx, id)
}

func testGuard() *resilience.Guard {
	return resilience.NewGuard("test",
		resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxProbes: 1},
	)
}

func TestGuarded_RetriesTransient(t *testing.T) {
	inner := newTestSQLiteStore(t)
	d := model.NewDeal()
	require.NoError(t, inner.Create(context.Background(), d))

	flaky := &flakyStore{Store: inner, failures: 2}
	g := NewGuarded(flaky, testGuard(), time.Second)

	got, err := g.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, 3, flaky.calls)
}

func TestGuarded_NotFoundNotRetried(t *testing.T) {
	flaky := &flakyStore{Store: newTestSQLiteStore(t)}
	guard := testGuard()
	g := NewGuarded(flaky, guard, 0)

	for range 3 {
		_, err := g.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, resilience.CircuitClosed, guard.State())
}

func TestGuarded_OpensCircuit(t *testing.T) {
	flaky := &flakyStore{Store: newTestSQLiteStore(t), failures: 100}
	guard := testGuard()
	g := NewGuarded(flaky, guard, 0)

	for range 2 {
		_, err := g.Get(context.Background(), "any")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, guard.State())
	assert.Equal(t, resilience.CircuitOpen, g.State())

	calls := flaky.calls
	_, err := g.Get(context.Background(), "any")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, calls, flaky.calls)
}

func TestGuarded_UpdatePassesThrough(t *testing.T) {
	inner := newTestSQLiteStore(t)
	d := model.NewDeal()
	require.NoError(t, inner.Create(context.Background(), d))
	g := NewGuarded(inner, nil, time.Second)

	out, changed, err := g.Update(context.Background(), d.ID, func(d *model.Deal) (bool, error) {
		return d.Register(model.FieldBLNumbers, "BL1", false), nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"BL1"}, out.BLNumbers)

	found, err := g.FindByField(context.Background(), model.FieldBLNumbers, "BL1")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
