package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/resilience"
)

// RedisStore implements Store on Redis. Each deal is a JSON string under
// <prefix>:deal:<id>; every identifier has an index set
// <prefix>:idx:<field>:<value> holding deal ids. Update runs as a
// WATCH/MULTI optimistic transaction on the deal key.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
}

// NewRedis connects to the Redis server at url.
func NewRedis(ctx context.Context, url, prefix string, maxAttempts int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisFromClient(client, prefix, maxAttempts), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient, prefix string, maxAttempts int) *RedisStore {
	if prefix == "" {
		prefix = "dealtrack"
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxCASAttempts
	}
	return &RedisStore{client: client, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *RedisStore) dealKey(id string) string {
	return s.prefix + ":deal:" + id
}

func (s *RedisStore) indexKey(f model.Field, value string) string {
	return s.prefix + ":idx:" + string(f) + ":" + value
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

// Migrate is a no-op: Redis keys need no schema.
func (s *RedisStore) Migrate(context.Context) error {
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	raw, err := s.client.Get(ctx, s.dealKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get deal %s", id)
	}
	return decodeDeal(raw)
}

// Create writes the deal and its index entries in one MULTI block, watching
// the deal key so a concurrent create of the same id fails instead of
// interleaving. Replaying a create that already landed is a no-op, which
// keeps a retried call from reporting its own write as a conflict.
func (s *RedisStore) Create(ctx context.Context, d *model.Deal) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "redis: marshal deal")
	}
	key := s.dealKey(d.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if bytes.Equal(raw, doc) {
				return nil
			}
			return eris.Errorf("redis: deal %s already exists", d.ID)
		case !errors.Is(err, redis.Nil):
			return eris.Wrapf(err, "redis: check deal %s", d.ID)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, doc, 0)
			for _, id := range d.Identifiers() {
				p.SAdd(ctx, s.indexKey(id.Field, id.Value), d.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return eris.Errorf("redis: deal %s already exists", d.ID)
	}
	return eris.Wrapf(err, "redis: insert deal %s", d.ID)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Deal, bool, error) {
	key := s.dealKey(id)

	for range s.maxAttempts {
		var (
			out     *model.Deal
			changed bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return eris.Wrapf(err, "redis: get deal %s", id)
			}
			d, err := decodeDeal(raw)
			if err != nil {
				return err
			}

			before := d.Identifiers()
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
				return eris.Wrap(err, "redis: marshal deal")
			}
			added, removed := diffIdentifiers(before, d.Identifiers())

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, doc, 0)
				for _, ident := range removed {
					p.SRem(ctx, s.indexKey(ident.Field, ident.Value), id)
				}
				for _, ident := range added {
					p.SAdd(ctx, s.indexKey(ident.Field, ident.Value), id)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return out, changed, nil
	}
	return nil, false, resilience.NewTransientError(errCASExhausted, "redis: update deal "+id)
}

func (s *RedisStore) FindByField(ctx context.Context, f model.Field, value string) ([]*model.Deal, error) {
	value, err := checkQuery(f, value)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	ids, err := s.client.SMembers(ctx, s.indexKey(f, value)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: find by %s", f)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dealKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: load deals")
	}

	var deals []*model.Deal
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeDeal([]byte(raw))
		if err != nil {
			return nil, err
		}
		// The index is maintained in the same transaction as the record,
		// but a record is the source of truth.
		if d.Has(f, value) {
			deals = append(deals, d)
		}
	}
	sortOldestFirst(deals)
	return deals, nil
}

// diffIdentifiers returns identifiers present only in after (added) and only
// in before (removed).
func diffIdentifiers(before, after []model.Identifier) (added, removed []model.Identifier) {
	seen := make(map[model.Identifier]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	next := make(map[model.Identifier]bool, len(after))
	for _, id := range after {
		next[id] = true
		if !seen[id] {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !next[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}
