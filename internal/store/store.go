// Package store persists the deal identity graph.
//
// Every backend offers the same per-record atomic read-modify-write through
// Update; no backend relies on an in-process lock, so several instances of
// the service may share one store.
package store

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/model"
)

// ErrNotFound is returned when no deal has the requested id.
var ErrNotFound = eris.New("store: deal not found")

// errCASExhausted reports that optimistic retries kept losing races.
var errCASExhausted = eris.New("store: concurrent update retries exhausted")

const defaultMaxCASAttempts = 8

// UpdateFunc mutates d in place and reports whether it changed. It may be
// invoked more than once when a backend retries after a lost race, so it
// must derive its result from d alone.
type UpdateFunc func(d *model.Deal) (bool, error)

// Store defines the persistence interface for the identity graph.
type Store interface {
	// Get returns the deal with the given id, tombstones included.
	Get(ctx context.Context, id string) (*model.Deal, error)
	// Create inserts a new deal.
	Create(ctx context.Context, d *model.Deal) error
	// Update atomically applies fn to the current record and persists the
	// result when fn reports a change. It returns the record as written (or
	// as read, when unchanged).
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Deal, bool, error)
	// FindByField returns deals whose field f holds value (array contains
	// or scalar equality), oldest first.
	FindByField(ctx context.Context, f model.Field, value string) ([]*model.Deal, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		st, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.maxAttempts = cfg.MaxCASAttempts
		return st, nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, cfg.MaxCASAttempts)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// containmentDoc builds the JSON fragment {field: [value]} or {field: value}
// used for containment queries.
func containmentDoc(f model.Field, value string) ([]byte, error) {
	var v any = value
	if f.IsArray() {
		v = []string{value}
	}
	return json.Marshal(map[model.Field]any{f: v})
}

func decodeDeal(raw []byte) (*model.Deal, error) {
	var d model.Deal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, eris.Wrap(err, "store: decode deal")
	}
	return &d, nil
}

func checkQuery(f model.Field, value string) (string, error) {
	if !f.Valid() {
		return "", eris.Errorf("store: unknown field %q", f)
	}
	return model.NormalizeValue(f, value), nil
}

func sortOldestFirst(deals []*model.Deal) {
	slices.SortStableFunc(deals, func(a, b *model.Deal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
