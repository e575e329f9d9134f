package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Deal is the canonical identity record for one physical shipment. A deal
// with MergedInto set is a tombstone and only redirects readers.
type Deal struct {
	ID string `json:"deal_id"`

	BLNumbers        []string `json:"bl_numbers,omitempty"`
	BookingRefs      []string `json:"booking_refs,omitempty"`
	AWBNumbers       []string `json:"awb_numbers,omitempty"`
	ContainerNumbers []string `json:"container_numbers,omitempty"`
	InvoiceNumbers   []string `json:"invoice_numbers,omitempty"`
	PONumbers        []string `json:"po_numbers,omitempty"`
	PackingListRefs  []string `json:"packing_list_refs,omitempty"`
	ThreadIDs        []string `json:"thread_ids,omitempty"`

	ClientName    string `json:"client_name,omitempty"`
	ClientRef     string `json:"client_ref,omitempty"`
	InternalRef   string `json:"internal_ref,omitempty"`
	JobOrder      string `json:"job_order,omitempty"`
	FileNumber    string `json:"file_number,omitempty"`
	ImportLicense string `json:"import_license,omitempty"`
	ExportLicense string `json:"export_license,omitempty"`
	EntryNumber   string `json:"entry_number,omitempty"`

	EmailSubjects []string  `json:"email_subjects,omitempty"`
	Confidence    float64   `json:"confidence"`
	MergedInto    string    `json:"merged_into,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`

	// MergeClaim is held by an in-flight merge touching this deal.
	MergeClaim   string    `json:"merge_claim,omitempty"`
	MergeClaimAt time.Time `json:"merge_claim_at,omitzero"`
}

// NewDeal returns an empty canonical deal with a fresh, never reused id.
func NewDeal() *Deal {
	now := time.Now().UTC()
	return &Deal{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// IsTombstone reports whether the deal was merged away.
func (d *Deal) IsTombstone() bool {
	return d.MergedInto != ""
}

func (d *Deal) array(f Field) *[]string {
	switch f {
	case FieldBLNumbers:
		return &d.BLNumbers
	case FieldBookingRefs:
		return &d.BookingRefs
	case FieldAWBNumbers:
		return &d.AWBNumbers
	case FieldContainerNumbers:
		return &d.ContainerNumbers
	case FieldInvoiceNumbers:
		return &d.InvoiceNumbers
	case FieldPONumbers:
		return &d.PONumbers
	case FieldPackingListRefs:
		return &d.PackingListRefs
	case FieldThreadIDs:
		return &d.ThreadIDs
	}
	return nil
}

func (d *Deal) scalar(f Field) *string {
	switch f {
	case FieldClientName:
		return &d.ClientName
	case FieldClientRef:
		return &d.ClientRef
	case FieldInternalRef:
		return &d.InternalRef
	case FieldJobOrder:
		return &d.JobOrder
	case FieldFileNumber:
		return &d.FileNumber
	case FieldImportLicense:
		return &d.ImportLicense
	case FieldExportLicense:
		return &d.ExportLicense
	case FieldEntryNumber:
		return &d.EntryNumber
	}
	return nil
}

// Values returns the values held under f. Scalars yield at most one value.
func (d *Deal) Values(f Field) []string {
	if a := d.array(f); a != nil {
		return *a
	}
	if s := d.scalar(f); s != nil && *s != "" {
		return []string{*s}
	}
	return nil
}

// Has reports whether v (after normalisation) is recorded under f.
func (d *Deal) Has(f Field, v string) bool {
	return slices.Contains(d.Values(f), NormalizeValue(f, v))
}

// Register records v under f. Array fields append when absent. Scalar
// fields are set when empty, or replaced when overwrite is true and the
// value differs. Empty values never change the record.
func (d *Deal) Register(f Field, v string, overwrite bool) bool {
	v = NormalizeValue(f, v)
	if v == "" {
		return false
	}
	if a := d.array(f); a != nil {
		if slices.Contains(*a, v) {
			return false
		}
		*a = append(*a, v)
		return true
	}
	s := d.scalar(f)
	if s == nil || *s == v {
		return false
	}
	if *s != "" && !overwrite {
		return false
	}
	*s = v
	return true
}

// AddSubject records a normalised subject line.
func (d *Deal) AddSubject(subject string) bool {
	subject = strings.TrimSpace(subject)
	if subject == "" || slices.Contains(d.EmailSubjects, subject) {
		return false
	}
	d.EmailSubjects = append(d.EmailSubjects, subject)
	return true
}

// RaiseConfidence sets confidence to c when c is higher. Confidence never
// decreases after creation.
func (d *Deal) RaiseConfidence(c float64) bool {
	c = min(max(c, 0), 1)
	if c <= d.Confidence {
		return false
	}
	d.Confidence = c
	return true
}

// Identifiers lists every identifier on the deal in resolver priority order.
func (d *Deal) Identifiers() []Identifier {
	var out []Identifier
	for _, f := range ResolveOrder {
		for _, v := range d.Values(f) {
			out = append(out, Identifier{Field: f, Value: v})
		}
	}
	return out
}

// Absorb folds other into d: array fields are unioned, empty scalars are
// filled from other, subjects are unioned and confidence takes the max.
func (d *Deal) Absorb(other *Deal) bool {
	changed := false
	for _, id := range other.Identifiers() {
		if d.Register(id.Field, id.Value, false) {
			changed = true
		}
	}
	for _, s := range other.EmailSubjects {
		if d.AddSubject(s) {
			changed = true
		}
	}
	if d.RaiseConfidence(other.Confidence) {
		changed = true
	}
	return changed
}

// Claim marks d as taking part in the merge identified by token. It fails
// when another merge holds an unexpired claim or d is a tombstone.
func (d *Deal) Claim(token string, now time.Time, ttl time.Duration) bool {
	if d.IsTombstone() {
		return false
	}
	if d.MergeClaim != "" && d.MergeClaim != token && now.Sub(d.MergeClaimAt) < ttl {
		return false
	}
	d.MergeClaim = token
	d.MergeClaimAt = now
	return true
}

// Release drops the claim if token still holds it.
func (d *Deal) Release(token string) bool {
	if d.MergeClaim != token {
		return false
	}
	d.MergeClaim = ""
	d.MergeClaimAt = time.Time{}
	return true
}

// Tombstone retires d in favour of into, discarding every other field.
func (d *Deal) Tombstone(into string) {
	*d = Deal{
		ID:          d.ID,
		MergedInto:  into,
		CreatedAt:   d.CreatedAt,
		LastUpdated: d.LastUpdated,
	}
}

// Clone returns a deep copy of d.
func (d *Deal) Clone() *Deal {
	c := *d
	for _, f := range ArrayFields {
		if a := c.array(f); *a != nil {
			*a = slices.Clone(*a)
		}
	}
	c.EmailSubjects = slices.Clone(d.EmailSubjects)
	return &c
}
