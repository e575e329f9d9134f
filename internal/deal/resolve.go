// Package deal resolves identifiers to canonical deals, registers new
// aliases on them and merges duplicates.
//
// Every operation that touches the store degrades instead of failing: a
// store error is logged and the operation returns its no-effect value, so
// a storage hiccup never blocks message processing.
package deal

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

// maxRedirectHops bounds merge-pointer walks.
const maxRedirectHops = 16

// Resolver finds the canonical deal for an identifier. Results are never
// cached: a reader racing a merge re-checks merged_into on the next call.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolution is the outcome of resolving one message's identifiers.
type Resolution struct {
	// DealID is the canonical deal matched first, or "".
	DealID string
	// Via is the identifier that produced DealID.
	Via model.Identifier
	// Candidates are other canonical deals the identifiers point at; each is
	// a duplicate of DealID.
	Candidates []string
	// Degraded is set when a store error cut the lookup short.
	Degraded bool
}

// Found reports whether a canonical deal was matched.
func (r Resolution) Found() bool {
	return r.DealID != ""
}

// FindDealByIdentifier searches thread ids, then array fields in priority
// order, then identifying scalar fields, and returns the canonical id of the
// first hit.
// It returns false when nothing matches or the store is unavailable.
func (r *Resolver) FindDealByIdentifier(ctx context.Context, value string) (string, bool) {
	if strings.TrimSpace(value) == "" {
		return "", false
	}
	for _, f := range model.ResolveOrder {
		if !f.Identifying() {
			continue
		}
		deals, err := r.store.FindByField(ctx, f, value)
		if err != nil {
			zap.L().Warn("resolve: store lookup failed",
				zap.String("field", string(f)),
				zap.Error(err),
			)
			return "", false
		}
		if len(deals) == 0 {
			continue
		}
		d, err := r.follow(ctx, deals[0])
		if err != nil {
			zap.L().Warn("resolve: follow merge pointer failed",
				zap.String("deal_id", deals[0].ID),
				zap.Error(err),
			)
			return "", false
		}
		zap.L().Debug("resolve: matched",
			zap.String("field", string(f)),
			zap.String("deal_id", d.ID),
		)
		return d.ID, true
	}
	return "", false
}

// ResolveSet resolves a message. The thread id is consulted first; the
// typed identifiers (in the order given) then supply the match when the
// thread is unknown, and any other canonical deals they hit are reported as
// merge candidates. Non-identifying fields are skipped.
func (r *Resolver) ResolveSet(ctx context.Context, threadID string, ids []model.Identifier) Resolution {
	var res Resolution
	seen := make(map[string]bool)

	consider := func(id model.Identifier) bool {
		if !id.Field.Identifying() {
			return true
		}
		deals, err := r.store.FindByField(ctx, id.Field, id.Value)
		if err != nil {
			zap.L().Warn("resolve: store lookup failed",
				zap.String("field", string(id.Field)),
				zap.Error(err),
			)
			res.Degraded = true
			return false
		}
		for _, hit := range deals {
			d, err := r.follow(ctx, hit)
			if err != nil {
				zap.L().Warn("resolve: follow merge pointer failed",
					zap.String("deal_id", hit.ID),
					zap.Error(err),
				)
				res.Degraded = true
				return false
			}
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			if res.DealID == "" {
				res.DealID = d.ID
				res.Via = id
			} else {
				res.Candidates = append(res.Candidates, d.ID)
			}
		}
		return true
	}

	if threadID = strings.TrimSpace(threadID); threadID != "" {
		if !consider(model.Identifier{Field: model.FieldThreadIDs, Value: threadID}) {
			return Resolution{Degraded: true}
		}
	}
	for _, id := range ids {
		if !consider(id) {
			return Resolution{Degraded: true}
		}
	}
	return res
}

// Canonical re-resolves id through merge pointers and returns the live
// record it ends at.
func (r *Resolver) Canonical(ctx context.Context, id string) (*model.Deal, error) {
	d, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "deal: get %s", id)
	}
	return r.follow(ctx, d)
}

// follow walks merged_into pointers from d to the terminal record.
func (r *Resolver) follow(ctx context.Context, d *model.Deal) (*model.Deal, error) {
	start := d.ID
	visited := map[string]bool{d.ID: true}
	for hops := 0; d.IsTombstone(); hops++ {
		if hops >= maxRedirectHops {
			return nil, eris.Errorf("deal: redirect chain from %s exceeds %d hops", start, maxRedirectHops)
		}
		if visited[d.MergedInto] {
			return nil, eris.Errorf("deal: redirect cycle from %s at %s", start, d.MergedInto)
		}
		next, err := r.store.Get(ctx, d.MergedInto)
		if err != nil {
			return nil, eris.Wrapf(err, "deal: follow %s -> %s", d.ID, d.MergedInto)
		}
		visited[next.ID] = true
		d = next
	}
	return d, nil
}
