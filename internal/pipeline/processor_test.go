package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/deal"
	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

func TestProcess_EndToEndThreadPriority(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	first := p.Process(ctx, Message{
		ID:       "m1",
		ThreadID: "thread-1",
		Subject:  "Re: Shipment B/L ZIMU001234AB",
		Body:     "Container MSKU9070323 arrived",
	})
	require.True(t, first.Created)
	require.NotEmpty(t, first.DealID)
	assert.Nil(t, first.Via, "empty graph yields no match")
	assert.Contains(t, first.Identifiers, model.Identifier{Field: model.FieldBLNumbers, Value: "ZIMU001234AB"})
	assert.Contains(t, first.Identifiers, model.Identifier{Field: model.FieldContainerNumbers, Value: "MSKU9070323"})

	second := p.Process(ctx, Message{
		ID:       "m2",
		ThreadID: "thread-1",
		Subject:  "Container update",
		Body:     "MSKU9070323 gated out",
	})
	assert.False(t, second.Created)
	assert.Equal(t, first.DealID, second.DealID)
	require.NotNil(t, second.Via)
	assert.Equal(t, model.FieldThreadIDs, second.Via.Field)
	assert.Empty(t, second.Merges)

	d, err := st.Get(ctx, first.DealID)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread-1"}, d.ThreadIDs)
	assert.Equal(t, []string{"ZIMU001234AB"}, d.BLNumbers)
	assert.Equal(t, []string{"MSKU9070323"}, d.ContainerNumbers)
	assert.Contains(t, d.EmailSubjects, "Shipment B/L ZIMU001234AB")
	assert.InDelta(t, 0.95, d.Confidence, 1e-9)
}

func TestProcess_IdentifierMatchWithoutThread(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	first := p.Process(ctx, Message{ID: "m1", ThreadID: "t-1", Body: "B/L ZIMU001234AB"})
	require.True(t, first.Created)

	second := p.Process(ctx, Message{ID: "m2", ThreadID: "t-2", Body: "Re B/L ZIMU001234AB, invoice INV-2291"})
	assert.Equal(t, first.DealID, second.DealID)
	require.NotNil(t, second.Via)
	assert.Equal(t, model.FieldBLNumbers, second.Via.Field)
	assert.True(t, second.Changed)

	d, err := st.Get(ctx, first.DealID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, d.ThreadIDs)
	assert.Equal(t, []string{"INV-2291"}, d.InvoiceNumbers)
}

func TestProcess_AutoMergesDuplicates(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	a := p.Process(ctx, Message{ID: "a", ThreadID: "t-a", Body: "B/L ZIMU001234AB"})
	b := p.Process(ctx, Message{ID: "b", ThreadID: "t-b", Body: "Container MSKU9070323"})
	require.True(t, a.Created)
	require.True(t, b.Created)
	require.NotEqual(t, a.DealID, b.DealID)

	c := p.Process(ctx, Message{ID: "c", ThreadID: "t-c", Body: "B/L ZIMU001234AB covers container MSKU9070323"})
	assert.Equal(t, a.DealID, c.DealID)
	require.Len(t, c.Merges, 1)
	assert.True(t, c.Merges[0].Merged)
	assert.Equal(t, b.DealID, c.Merges[0].Secondary)

	found, ok := deal.NewResolver(st).FindDealByIdentifier(ctx, "t-b")
	require.True(t, ok)
	assert.Equal(t, a.DealID, found)
}

func TestProcess_AutoMergeOff(t *testing.T) {
	st := newTestStore(t)
	cfg := testPipelineConfig()
	cfg.AutoMerge = false
	p := NewProcessor(st, cfg)
	ctx := context.Background()

	p.Process(ctx, Message{ID: "a", Body: "B/L ZIMU001234AB"})
	b := p.Process(ctx, Message{ID: "b", Body: "Container MSKU9070323"})
	c := p.Process(ctx, Message{ID: "c", Body: "B/L ZIMU001234AB covers container MSKU9070323"})
	assert.Empty(t, c.Merges)

	got, err := st.Get(ctx, b.DealID)
	require.NoError(t, err)
	assert.False(t, got.IsTombstone())
}

func TestProcess_NoIdentifiers(t *testing.T) {
	p := NewProcessor(newTestStore(t), testPipelineConfig())

	out := p.Process(context.Background(), Message{ID: "m1", ThreadID: "t-1", Subject: "Lunch?", Body: "See you at noon"})
	assert.Empty(t, out.DealID)
	assert.Equal(t, "no identifiers", out.Skipped)
	assert.False(t, out.Created)
}

func TestProcess_ThreadOnlyFollowUp(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	first := p.Process(ctx, Message{ID: "m1", ThreadID: "t-1", Subject: "B/L ZIMU001234AB"})
	second := p.Process(ctx, Message{ID: "m2", ThreadID: "t-1", Subject: "RE: thanks", Body: "Noted."})
	assert.Equal(t, first.DealID, second.DealID)
	assert.True(t, second.Changed, "new subject recorded")
}

type failingStore struct {
	store.Store
}

var errUnavailable = errors.New("connection refused")

func (failingStore) FindByField(context.Context, model.Field, string) ([]*model.Deal, error) {
	return nil, errUnavailable
}

func (failingStore) Create(context.Context, *model.Deal) error { return errUnavailable }

func TestProcess_StoreDownDoesNotCreate(t *testing.T) {
	p := NewProcessor(failingStore{}, testPipelineConfig())

	out := p.Process(context.Background(), Message{ID: "m1", Body: "B/L ZIMU001234AB"})
	assert.True(t, out.Degraded)
	assert.False(t, out.Created)
	assert.Empty(t, out.DealID)
}

func TestProcessBatch(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	var msgs []Message
	for i := range 12 {
		msgs = append(msgs, Message{
			ID:       fmt.Sprintf("m%d", i),
			ThreadID: fmt.Sprintf("t-%d", i),
			Body:     fmt.Sprintf("Invoice INV-%04d", i),
		})
	}
	outs, err := p.ProcessBatch(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, outs, len(msgs))
	for i, o := range outs {
		assert.Equal(t, msgs[i].ID, o.MessageID)
		assert.True(t, o.Created, o.MessageID)
	}
}

func TestProcessBatch_ConcurrentSameDeal(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	seed := p.Process(ctx, Message{ID: "seed", ThreadID: "t-1", Body: "B/L ZIMU001234AB"})
	require.True(t, seed.Created)

	var msgs []Message
	for i := range 10 {
		msgs = append(msgs, Message{
			ID:       fmt.Sprintf("m%d", i),
			ThreadID: "t-1",
			Body:     fmt.Sprintf("PO PO-%03d", i),
		})
	}
	_, err := p.ProcessBatch(ctx, msgs)
	require.NoError(t, err)

	d, err := st.Get(ctx, seed.DealID)
	require.NoError(t, err)
	assert.Len(t, d.PONumbers, len(msgs), "no concurrent registration lost")
}

func TestProcessBatch_RateLimited(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxMessagesPerSec = 1000
	p := NewProcessor(newTestStore(t), cfg)
	require.NotNil(t, p.limiter)

	outs, err := p.ProcessBatch(context.Background(), []Message{{ID: "m1", Body: "B/L ZIMU001234AB"}})
	require.NoError(t, err)
	assert.True(t, outs[0].Created)
}

func TestProcessBatch_Cancelled(t *testing.T) {
	p := NewProcessor(newTestStore(t), testPipelineConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := p.ProcessBatch(ctx, []Message{{ID: "m1", Body: "B/L ZIMU001234AB"}})
	assert.Error(t, err)
}

func TestProcess_RepeatClientGetsSeparateDeals(t *testing.T) {
	st := newTestStore(t)
	p := NewProcessor(st, testPipelineConfig())
	ctx := context.Background()

	a := p.Process(ctx, Message{ID: "a", ThreadID: "t-a", Body: "Client: Acme Imports Ltd\nB/L ZIMU001234AB"})
	b := p.Process(ctx, Message{ID: "b", ThreadID: "t-b", Body: "Client: Acme Imports Ltd\nB/L MEDU7777777"})
	require.True(t, a.Created)
	require.True(t, b.Created, "a new B/L from a known client is a new shipment")
	assert.NotEqual(t, a.DealID, b.DealID)
	assert.Empty(t, b.Merges)

	got, err := st.Get(ctx, a.DealID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ZIMU001234AB"}, got.BLNumbers)
	assert.Equal(t, []string{"t-a"}, got.ThreadIDs)
	assert.Equal(t, "Acme Imports Ltd", got.ClientName)

	// The client name on a follow-up does not pull in the other deal.
	c := p.Process(ctx, Message{ID: "c", ThreadID: "t-a", Body: "Client: Acme Imports Ltd\nnothing new"})
	assert.Equal(t, a.DealID, c.DealID)
	assert.Empty(t, c.Merges)
}

func TestProcess_ClientNameOnlyIsSkipped(t *testing.T) {
	p := NewProcessor(newTestStore(t), testPipelineConfig())

	out := p.Process(context.Background(), Message{ID: "m1", ThreadID: "t-1", Body: "Customer: Acme Imports Ltd\nImport license: IL-55512"})
	assert.Empty(t, out.DealID)
	assert.Equal(t, "no identifiers", out.Skipped)
}
