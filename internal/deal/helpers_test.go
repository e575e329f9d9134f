package deal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "deals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedDeal stores a new deal holding ids.
func seedDeal(t *testing.T, st store.Store, confidence float64, ids ...model.Identifier) *model.Deal {
	t.Helper()
	d := model.NewDeal()
	for _, id := range ids {
		d.Register(id.Field, id.Value, false)
	}
	d.Confidence = confidence
	require.NoError(t, st.Create(context.Background(), d))
	return d
}

func ident(f model.Field, v string) model.Identifier {
	return model.Identifier{Field: f, Value: v}
}

var errDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

// downStore fails every call as an unreachable backend would.
type downStore struct {
	store.Store
}

func (downStore) Get(context.Context, string) (*model.Deal, error) { return nil, errDown }
func (downStore) Create(context.Context, *model.Deal) error        { return errDown }
func (downStore) Update(context.Context, string, store.UpdateFunc) (*model.Deal, bool, error) {
	return nil, false, errDown
}
func (downStore) FindByField(context.Context, model.Field, string) ([]*model.Deal, error) {
	return nil, errDown
}
