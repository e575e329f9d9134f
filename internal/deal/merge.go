package deal

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

// DefaultClaimTTL is how long a merge claim blocks other merges. A claim
// left behind by a crashed process expires after this.
const DefaultClaimTTL = time.Minute

var errClaimLost = eris.New("deal: merge claim lost")

// MergeResult describes one MergeDeals call.
type MergeResult struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Merged    bool   `json:"merged"`
	// Reason explains why nothing was merged.
	Reason string `json:"reason,omitempty"`
}

// Merger folds duplicate deals together. Both records are claimed before
// the loser is tombstoned, so the survivor cannot itself be merged away
// while the loser's pointer is written; this keeps merge pointers acyclic
// with only per-record atomicity.
type Merger struct {
	store    store.Store
	resolver *Resolver
	claimTTL time.Duration
	now      func() time.Time
}

// NewMerger creates a merger over st.
func NewMerger(st store.Store, resolver *Resolver) *Merger {
	return &Merger{
		store:    st,
		resolver: resolver,
		claimTTL: DefaultClaimTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MergeDeals merges secondary into primary. Arrays are unioned, primary's
// empty scalars are filled from secondary, confidence takes the max and
// secondary becomes a tombstone pointing at primary. Both ids are first
// resolved to their canonical records. It is a no-op when either id is
// empty or both resolve to the same deal.
func (m *Merger) MergeDeals(ctx context.Context, primary, secondary string) MergeResult {
	res := MergeResult{Primary: primary, Secondary: secondary}
	if primary == "" || secondary == "" {
		res.Reason = "empty id"
		return res
	}
	if primary == secondary {
		res.Reason = "same deal"
		return res
	}

	for attempt := range maxRedirectHops {
		if attempt > 0 && !m.backoff(ctx, attempt) {
			return m.degraded(res, ctx.Err())
		}
		p, err := m.resolver.Canonical(ctx, primary)
		if err != nil {
			return m.degraded(res, err)
		}
		s, err := m.resolver.Canonical(ctx, secondary)
		if err != nil {
			return m.degraded(res, err)
		}
		res.Primary, res.Secondary = p.ID, s.ID
		if p.ID == s.ID {
			res.Reason = "already merged"
			return res
		}

		retry, err := m.mergeCanonical(ctx, p.ID, s.ID)
		if err != nil {
			return m.degraded(res, err)
		}
		if !retry {
			res.Merged = true
			zap.L().Info("merge: deals merged",
				zap.String("primary", p.ID),
				zap.String("secondary", s.ID),
			)
			return res
		}
	}
	res.Reason = "contended"
	zap.L().Warn("merge: gave up after repeated contention",
		zap.String("primary", res.Primary),
		zap.String("secondary", res.Secondary),
	)
	return res
}

// backoff sleeps a jittered, growing interval so two merges that claimed
// each other's records do not retry in lockstep.
func (m *Merger) backoff(ctx context.Context, attempt int) bool {
	d := time.Duration(attempt)*time.Millisecond + rand.N(2*time.Millisecond)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Merger) degraded(res MergeResult, err error) MergeResult {
	zap.L().Warn("merge: store unavailable",
		zap.String("primary", res.Primary),
		zap.String("secondary", res.Secondary),
		zap.Error(err),
	)
	res.Reason = "store unavailable"
	return res
}

// mergeCanonical merges two records that were canonical when read. It
// reports retry=true when either record changed state underneath it.
func (m *Merger) mergeCanonical(ctx context.Context, primaryID, secondaryID string) (retry bool, err error) {
	token := uuid.New().String()

	ok, err := m.claim(ctx, secondaryID, token)
	if err != nil || !ok {
		return true, err
	}
	ok, err = m.claim(ctx, primaryID, token)
	if err != nil || !ok {
		m.release(ctx, secondaryID, token)
		return true, err
	}

	// Copy the loser's identifiers onto the survivor before the loser drops
	// them, so every identifier stays resolvable throughout.
	snap, err := m.store.Get(ctx, secondaryID)
	if err != nil {
		m.release(ctx, secondaryID, token)
		m.release(ctx, primaryID, token)
		return false, eris.Wrap(err, "deal: snapshot secondary")
	}
	if err := m.absorb(ctx, primaryID, token, snap, false); err != nil {
		m.release(ctx, secondaryID, token)
		m.release(ctx, primaryID, token)
		return false, err
	}

	var final *model.Deal
	_, _, err = m.store.Update(ctx, secondaryID, func(d *model.Deal) (bool, error) {
		if d.MergeClaim != token {
			return false, errClaimLost
		}
		final = d.Clone()
		d.Tombstone(primaryID)
		return true, nil
	})
	if err != nil {
		m.release(ctx, secondaryID, token)
		m.release(ctx, primaryID, token)
		return false, eris.Wrap(err, "deal: tombstone secondary")
	}

	// Pick up anything registered on the loser after the snapshot.
	return false, m.absorb(ctx, primaryID, token, final, true)
}

func (m *Merger) absorb(ctx context.Context, id, token string, from *model.Deal, release bool) error {
	_, _, err := m.store.Update(ctx, id, func(d *model.Deal) (bool, error) {
		if d.MergeClaim != token {
			return false, errClaimLost
		}
		changed := d.Absorb(from)
		if release && d.Release(token) {
			changed = true
		}
		return changed, nil
	})
	return eris.Wrapf(err, "deal: absorb into %s", id)
}

func (m *Merger) claim(ctx context.Context, id, token string) (bool, error) {
	_, changed, err := m.store.Update(ctx, id, func(d *model.Deal) (bool, error) {
		return d.Claim(token, m.now(), m.claimTTL), nil
	})
	if err != nil {
		return false, eris.Wrapf(err, "deal: claim %s", id)
	}
	return changed, nil
}

func (m *Merger) release(ctx context.Context, id, token string) {
	_, _, err := m.store.Update(ctx, id, func(d *model.Deal) (bool, error) {
		return d.Release(token), nil
	})
	if err != nil {
		zap.L().Warn("merge: release claim failed", zap.String("deal_id", id), zap.Error(err))
	}
}
