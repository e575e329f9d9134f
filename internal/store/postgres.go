package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealtrack/internal/db"
	"github.com/sells-group/dealtrack/internal/model"
)

// PostgresStore implements Store using pgxpool. Records live as JSONB
// documents; Update locks the row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetDeal    = `SELECT doc FROM deals WHERE id = $1`
	pgLockDeal   = `SELECT doc FROM deals WHERE id = $1 FOR UPDATE`
	pgInsertDeal = `INSERT INTO deals (id, doc, merged_into, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	pgUpdateDeal = `UPDATE deals SET doc = $2, merged_into = $3, updated_at = $4 WHERE id = $1`
	pgFindDeals  = `SELECT doc FROM deals WHERE doc @> $1::jsonb ORDER BY created_at, id`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	merged_into TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_doc ON deals USING GIN (doc jsonb_path_ops);
CREATE INDEX IF NOT EXISTS idx_deals_merged_into ON deals(merged_into) WHERE merged_into <> '';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, pgGetDeal, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get deal %s", id)
	}
	return decodeDeal(raw)
}

func (s *PostgresStore) Create(ctx context.Context, d *model.Deal) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal deal")
	}
	_, err = s.pool.Exec(ctx, pgInsertDeal,
		d.ID, doc, d.MergedInto, d.CreatedAt, d.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: insert deal %s", d.ID)
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Deal, bool, error) {
	var (
		out     *model.Deal
		changed bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, pgLockDeal, id).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock deal %s", id)
		}

		d, err := decodeDeal(raw)
		if err != nil {
			return err
		}
		changed, err = fn(d)
		if err != nil {
			return err
		}
		out = d
		if !changed {
			return nil
		}

		d.LastUpdated = time.Now().UTC()
		doc, err := json.Marshal(d)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal deal")
		}
		_, err = tx.Exec(ctx, pgUpdateDeal, id, doc, d.MergedInto, d.LastUpdated)
		return eris.Wrapf(err, "postgres: update deal %s", id)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (s *PostgresStore) FindByField(ctx context.Context, f model.Field, value string) ([]*model.Deal, error) {
	value, err := checkQuery(f, value)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	filter, err := containmentDoc(f, value)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal filter")
	}

	rows, err := s.pool.Query(ctx, pgFindDeals, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find by %s", f)
	}
	defer rows.Close()

	var deals []*model.Deal
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		d, err := decodeDeal(raw)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: iterate deals")
}
