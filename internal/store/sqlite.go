package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Update is an
// optimistic compare-and-swap on the version column.
type SQLiteStore struct {
	db          *sql.DB
	maxAttempts int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// The pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, maxAttempts: defaultMaxCASAttempts}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	doc         TEXT NOT NULL,
	merged_into TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_merged_into ON deals(merged_into);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	d, _, err := s.get(ctx, id)
	return d, err
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*model.Deal, int64, error) {
	var (
		raw     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM deals WHERE id = ?`, id,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: get deal %s", id)
	}
	d, err := decodeDeal([]byte(raw))
	return d, version, err
}

func (s *SQLiteStore) Create(ctx context.Context, d *model.Deal) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal deal")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deals (id, doc, merged_into, version, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		d.ID, string(doc), d.MergedInto, d.CreatedAt, d.LastUpdated,
	)
	return eris.Wrapf(err, "sqlite: insert deal %s", d.ID)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Deal, bool, error) {
	attempts := s.maxAttempts
	if attempts <= 0 {
		attempts = defaultMaxCASAttempts
	}

	for range attempts {
		d, version, err := s.get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(d)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return d, false, nil
		}

		d.LastUpdated = time.Now().UTC()
		doc, err := json.Marshal(d)
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: marshal deal")
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE deals SET doc = ?, merged_into = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			string(doc), d.MergedInto, d.LastUpdated, id, version,
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: update deal %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 1 {
			return d, true, nil
		}
		// Lost the race; re-read and reapply.
	}
	return nil, false, resilience.NewTransientError(errCASExhausted, "sqlite: update deal "+id)
}

func (s *SQLiteStore) FindByField(ctx context.Context, f model.Field, value string) ([]*model.Deal, error) {
	value, err := checkQuery(f, value)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	// f is a validated enum value, safe to splice into the JSON path.
	path := "$." + string(f)
	query := `SELECT doc FROM deals WHERE json_extract(doc, ?) = ? ORDER BY created_at, id`
	if f.IsArray() {
		query = `SELECT doc FROM deals WHERE EXISTS (
			SELECT 1 FROM json_each(deals.doc, ?) WHERE json_each.value = ?
		) ORDER BY created_at, id`
	}

	rows, err := s.db.QueryContext(ctx, query, path, value)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find by %s", f)
	}
	defer rows.Close() //nolint:errcheck

	var deals []*model.Deal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		d, err := decodeDeal([]byte(raw))
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: iterate deals")
}
