package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/resilience"
)

// runContract exercises behaviour every backend must share. newStore returns
// a migrated, empty store whose optimistic retry budget is maxAttempts.
func runContract(t *testing.T, newStore func(t *testing.T, maxAttempts int) Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		st := newStore(t, 8)
		d := model.NewDeal()
		d.Register(model.FieldBLNumbers, "ZIMU001234AB", false)
		d.Register(model.FieldClientName, "Acme Imports", false)
		d.Confidence = 0.9
		require.NoError(t, st.Create(ctx, d))

		got, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
		assert.Equal(t, []string{"ZIMU001234AB"}, got.BLNumbers)
		assert.Equal(t, "Acme Imports", got.ClientName)
		assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	})

	t.Run("GetMissing", func(t *testing.T) {
		st := newStore(t, 8)
		_, err := st.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdatePersists", func(t *testing.T) {
		st := newStore(t, 8)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))

		out, changed, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
			return d.Register(model.FieldContainerNumbers, "MSKU9070323", false), nil
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []string{"MSKU9070323"}, out.ContainerNumbers)

		got, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"MSKU9070323"}, got.ContainerNumbers)
	})

	t.Run("UpdateUnchangedSkipsWrite", func(t *testing.T) {
		st := newStore(t, 8)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))
		before, err := st.Get(ctx, d.ID)
		require.NoError(t, err)

		_, changed, err := st.Update(ctx, d.ID, func(*model.Deal) (bool, error) { return false, nil })
		require.NoError(t, err)
		assert.False(t, changed)

		after, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, before.LastUpdated.Equal(after.LastUpdated))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		st := newStore(t, 8)
		_, _, err := st.Update(ctx, "missing", func(*model.Deal) (bool, error) { return true, nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateFuncError", func(t *testing.T) {
		st := newStore(t, 8)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))

		boom := errors.New("boom")
		_, _, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
			d.Register(model.FieldBLNumbers, "BL1", false)
			return true, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Empty(t, got.BLNumbers)
	})

	t.Run("FindByField", func(t *testing.T) {
		st := newStore(t, 8)
		a := model.NewDeal()
		a.Register(model.FieldContainerNumbers, "MSKU9070323", false)
		a.Register(model.FieldFileNumber, "F-1", false)
		require.NoError(t, st.Create(ctx, a))
		b := model.NewDeal()
		b.Register(model.FieldContainerNumbers, "CSQU3054383", false)
		require.NoError(t, st.Create(ctx, b))

		got, err := st.FindByField(ctx, model.FieldContainerNumbers, "msku9070323")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = st.FindByField(ctx, model.FieldFileNumber, "F-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = st.FindByField(ctx, model.FieldBLNumbers, "MSKU9070323")
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = st.FindByField(ctx, model.FieldBLNumbers, "  ")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = st.FindByField(ctx, model.Field("vessel"), "ZIM")
		assert.Error(t, err)
	})

	t.Run("FindByFieldSeesUpdates", func(t *testing.T) {
		st := newStore(t, 8)
		d := model.NewDeal()
		d.Register(model.FieldBLNumbers, "BL1", false)
		require.NoError(t, st.Create(ctx, d))

		_, _, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
			return d.Register(model.FieldThreadIDs, "thread-1", false), nil
		})
		require.NoError(t, err)
		got, err := st.FindByField(ctx, model.FieldThreadIDs, "thread-1")
		require.NoError(t, err)
		require.Len(t, got, 1)

		// Tombstoning drops every identifier.
		_, _, err = st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
			d.Tombstone("other")
			return true, nil
		})
		require.NoError(t, err)
		got, err = st.FindByField(ctx, model.FieldBLNumbers, "BL1")
		require.NoError(t, err)
		assert.Empty(t, got)

		tomb, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "other", tomb.MergedInto)
	})

	t.Run("ConcurrentUpdatesNotLost", func(t *testing.T) {
		const writers = 20
		st := newStore(t, writers+5)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
					return d.Register(model.FieldInvoiceNumbers, fmt.Sprintf("INV-%02d", i), false), nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, got.InvoiceNumbers, writers)
	})

	t.Run("LostRaceIsReapplied", func(t *testing.T) {
		st := newStore(t, 3)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))

		calls := 0
		_, changed, err := st.Update(ctx, d.ID, func(cur *model.Deal) (bool, error) {
			calls++
			if calls == 1 {
				// A competing writer lands between our read and write.
				_, _, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
					return d.Register(model.FieldPONumbers, "PO-1", false), nil
				})
				require.NoError(t, err)
			}
			return cur.Register(model.FieldPONumbers, "PO-2", false), nil
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 2, calls)

		got, err := st.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"PO-1", "PO-2"}, got.PONumbers)
	})

	t.Run("RetryBudgetExhausted", func(t *testing.T) {
		st := newStore(t, 1)
		d := model.NewDeal()
		require.NoError(t, st.Create(ctx, d))

		n := 0
		_, _, err := st.Update(ctx, d.ID, func(cur *model.Deal) (bool, error) {
			n++
			_, _, err := st.Update(ctx, d.ID, func(d *model.Deal) (bool, error) {
				return d.Register(model.FieldPONumbers, fmt.Sprintf("PO-%d", n), false), nil
			})
			require.NoError(t, err)
			return cur.Register(model.FieldPONumbers, "PO-X", false), nil
		})
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err))
	})
}
