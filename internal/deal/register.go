package deal

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/model"
	"github.com/sells-group/dealtrack/internal/store"
)

// fieldWeights is how strongly one identifier kind pins down a shipment.
// A deal's confidence is the strongest weight it has seen.
var fieldWeights = map[model.Field]float64{
	model.FieldBLNumbers:        0.95,
	model.FieldAWBNumbers:       0.95,
	model.FieldContainerNumbers: 0.9,
	model.FieldBookingRefs:      0.85,
	model.FieldEntryNumber:      0.85,
	model.FieldInternalRef:      0.8,
	model.FieldFileNumber:       0.8,
	model.FieldJobOrder:         0.75,
	model.FieldInvoiceNumbers:   0.7,
	model.FieldImportLicense:    0.7,
	model.FieldExportLicense:    0.7,
	model.FieldPONumbers:        0.65,
	model.FieldThreadIDs:        0.6,
	model.FieldPackingListRefs:  0.6,
	model.FieldClientRef:        0.6,
	model.FieldClientName:       0.3,
}

// Confidence returns the confidence implied by ids.
func Confidence(ids []model.Identifier) float64 {
	best := 0.0
	for _, id := range ids {
		best = max(best, fieldWeights[id.Field])
	}
	return best
}

// Registrar records identifiers on deals with per-record atomic updates.
type Registrar struct {
	store store.Store
}

// NewRegistrar creates a registrar over st.
func NewRegistrar(st store.Store) *Registrar {
	return &Registrar{store: st}
}

// RegisterIdentifier adds value to field on the deal and reports whether the
// record changed. Array fields append when absent; scalar fields are set
// when empty, or replaced when overwrite is true. If the deal has been
// merged away the identifier lands on its canonical survivor.
func (r *Registrar) RegisterIdentifier(ctx context.Context, dealID string, field model.Field, value string, overwrite bool) bool {
	if dealID == "" || strings.TrimSpace(value) == "" || !field.Valid() {
		return false
	}
	return r.apply(ctx, dealID, func(d *model.Deal) bool {
		return d.Register(field, value, overwrite)
	})
}

// RegisterSet records every identifier and the subject on the deal in one
// atomic update, raising confidence to the strongest identifier's weight.
func (r *Registrar) RegisterSet(ctx context.Context, dealID string, ids []model.Identifier, subject string) bool {
	if dealID == "" {
		return false
	}
	conf := Confidence(ids)
	return r.apply(ctx, dealID, func(d *model.Deal) bool {
		changed := false
		for _, id := range ids {
			if d.Register(id.Field, id.Value, false) {
				changed = true
			}
		}
		if d.AddSubject(subject) {
			changed = true
		}
		if d.RaiseConfidence(conf) {
			changed = true
		}
		return changed
	})
}

// CreateDeal stores a new canonical deal holding ids and returns its id.
func (r *Registrar) CreateDeal(ctx context.Context, ids []model.Identifier, subject string) (string, bool) {
	d := model.NewDeal()
	for _, id := range ids {
		d.Register(id.Field, id.Value, false)
	}
	d.AddSubject(subject)
	d.RaiseConfidence(Confidence(ids))

	if err := r.store.Create(ctx, d); err != nil {
		zap.L().Warn("register: create deal failed", zap.Error(err))
		return "", false
	}
	zap.L().Info("register: created deal",
		zap.String("deal_id", d.ID),
		zap.Int("identifiers", len(ids)),
	)
	return d.ID, true
}

// apply runs mutate on the live record for dealID, hopping over tombstones.
func (r *Registrar) apply(ctx context.Context, dealID string, mutate func(d *model.Deal) bool) bool {
	id := dealID
	for range maxRedirectHops {
		var next string
		_, changed, err := r.store.Update(ctx, id, func(d *model.Deal) (bool, error) {
			next = ""
			if d.IsTombstone() {
				next = d.MergedInto
				return false, nil
			}
			return mutate(d), nil
		})
		if err != nil {
			zap.L().Warn("register: update failed",
				zap.String("deal_id", id),
				zap.Error(err),
			)
			return false
		}
		if next == "" {
			return changed
		}
		id = next
	}
	zap.L().Warn("register: redirect chain too long", zap.String("deal_id", dealID))
	return false
}
