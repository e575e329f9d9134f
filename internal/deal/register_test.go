package deal

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/model"
)

func TestConfidence(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Confidence(nil))
	assert.InDelta(t, 0.3, Confidence([]model.Identifier{ident(model.FieldClientName, "Acme")}), 1e-9)
	assert.InDelta(t, 0.95, Confidence([]model.Identifier{
		ident(model.FieldPONumbers, "PO-1"),
		ident(model.FieldBLNumbers, "BL1"),
	}), 1e-9)
}

func TestRegisterIdentifier_Idempotent(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.5)

	assert.True(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldContainerNumbers, "MSKU9070323", false))
	assert.False(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldContainerNumbers, " msku9070323 ", false))

	got, err := st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSKU9070323"}, got.ContainerNumbers)
}

func TestRegisterIdentifier_RejectsEmpty(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.5)

	assert.False(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldBLNumbers, "   ", false))
	assert.False(t, reg.RegisterIdentifier(ctx, "", model.FieldBLNumbers, "BL1", false))
	assert.False(t, reg.RegisterIdentifier(ctx, d.ID, model.Field("vessel"), "BL1", false))
}

func TestRegisterIdentifier_ScalarFirstWins(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.5)

	assert.True(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldFileNumber, "F-1", false))
	assert.False(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldFileNumber, "F-2", false))

	got, err := st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "F-1", got.FileNumber)

	assert.True(t, reg.RegisterIdentifier(ctx, d.ID, model.FieldFileNumber, "F-2", true))
	got, err = st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "F-2", got.FileNumber)
}

func TestRegisterIdentifier_MissingDeal(t *testing.T) {
	reg := NewRegistrar(newTestStore(t))

	assert.False(t, reg.RegisterIdentifier(context.Background(), "no-such-deal", model.FieldBLNumbers, "BL1", false))
}

func TestRegisterIdentifier_LandsOnSurvivor(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	reg := NewRegistrar(st)
	ctx := context.Background()

	a := seedDeal(t, st, 0.9, ident(model.FieldBLNumbers, "BL1"))
	b := seedDeal(t, st, 0.9, ident(model.FieldBLNumbers, "BL2"))
	require.True(t, NewMerger(st, r).MergeDeals(ctx, a.ID, b.ID).Merged)

	assert.True(t, reg.RegisterIdentifier(ctx, b.ID, model.FieldInvoiceNumbers, "INV-9", false))

	survivor, err := st.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-9"}, survivor.InvoiceNumbers)

	loser, err := st.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, loser.IsTombstone())
	assert.Empty(t, loser.InvoiceNumbers)
}

func TestRegisterIdentifier_ConcurrentWriters(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.5)

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.RegisterIdentifier(ctx, d.ID, model.FieldPONumbers, fmt.Sprintf("PO-%d", i), false)
		}()
	}
	wg.Wait()

	got, err := st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.PONumbers, writers)
}

func TestRegisterIdentifier_StoreDown(t *testing.T) {
	reg := NewRegistrar(downStore{})

	assert.False(t, reg.RegisterIdentifier(context.Background(), "deal-1", model.FieldBLNumbers, "BL1", false))
}

func TestRegisterSet(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.3, ident(model.FieldClientName, "Acme Ltd"))

	ids := []model.Identifier{
		ident(model.FieldContainerNumbers, "MSKU9070323"),
		ident(model.FieldJobOrder, "JO-55"),
	}
	assert.True(t, reg.RegisterSet(ctx, d.ID, ids, "RE: Shipment MSKU9070323"))
	assert.False(t, reg.RegisterSet(ctx, d.ID, ids, "Shipment MSKU9070323"))

	got, err := st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSKU9070323"}, got.ContainerNumbers)
	assert.Equal(t, "JO-55", got.JobOrder)
	assert.Len(t, got.EmailSubjects, 1)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestRegisterSet_ConfidenceNeverDrops(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()
	d := seedDeal(t, st, 0.95, ident(model.FieldBLNumbers, "BL1"))

	reg.RegisterSet(ctx, d.ID, []model.Identifier{ident(model.FieldClientName, "Acme")}, "")

	got, err := st.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	assert.Equal(t, "Acme", got.ClientName)
}

func TestCreateDeal(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistrar(st)
	ctx := context.Background()

	id, ok := reg.CreateDeal(ctx, []model.Identifier{
		ident(model.FieldThreadIDs, "thread-9"),
		ident(model.FieldAWBNumbers, "176-12345675"),
	}, "AWB 176-12345675")
	require.True(t, ok)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread-9"}, got.ThreadIDs)
	assert.Equal(t, []string{"176-12345675"}, got.AWBNumbers)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)

	found, ok := NewResolver(st).FindDealByIdentifier(ctx, "176-12345675")
	require.True(t, ok)
	assert.Equal(t, id, found)
}

func TestCreateDeal_StoreDown(t *testing.T) {
	_, ok := NewRegistrar(downStore{}).CreateDeal(context.Background(), nil, "")
	assert.False(t, ok)
}
