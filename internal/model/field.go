// Package model defines the identifier vocabulary shared by extraction,
// resolution and storage.
package model

import "strings"

// Field names one identifier slot on a deal record. The string value is the
// storage column / document key.
type Field string

// Array identifier fields (set semantics).
const (
	FieldBLNumbers        Field = "bl_numbers"
	FieldBookingRefs      Field = "booking_refs"
	FieldAWBNumbers       Field = "awb_numbers"
	FieldContainerNumbers Field = "container_numbers"
	FieldInvoiceNumbers   Field = "invoice_numbers"
	FieldPONumbers        Field = "po_numbers"
	FieldPackingListRefs  Field = "packing_list_refs"
	FieldThreadIDs        Field = "thread_ids"
)

// Scalar identifier fields (first confirmed value wins).
const (
	FieldClientName    Field = "client_name"
	FieldClientRef     Field = "client_ref"
	FieldInternalRef   Field = "internal_ref"
	FieldJobOrder      Field = "job_order"
	FieldFileNumber    Field = "file_number"
	FieldImportLicense Field = "import_license"
	FieldExportLicense Field = "export_license"
	FieldEntryNumber   Field = "entry_number"
)

// ArrayFields lists array fields in resolver priority order. Thread ids come
// first because a shared conversation is authoritative.
var ArrayFields = []Field{
	FieldThreadIDs,
	FieldBLNumbers,
	FieldAWBNumbers,
	FieldContainerNumbers,
	FieldBookingRefs,
	FieldInvoiceNumbers,
	FieldPONumbers,
	FieldPackingListRefs,
}

// ScalarFields lists scalar fields in resolver priority order.
var ScalarFields = []Field{
	FieldInternalRef,
	FieldFileNumber,
	FieldJobOrder,
	FieldClientRef,
	FieldEntryNumber,
	FieldImportLicense,
	FieldExportLicense,
	FieldClientName,
}

// ResolveOrder is the full lookup order: arrays, then scalars.
var ResolveOrder = append(append([]Field{}, ArrayFields...), ScalarFields...)

var fieldIndex = func() map[Field]int {
	m := make(map[Field]int, len(ResolveOrder))
	for i, f := range ResolveOrder {
		m[f] = i
	}
	return m
}()

// IsArray reports whether f holds a set of values.
func (f Field) IsArray() bool {
	switch f {
	case FieldBLNumbers, FieldBookingRefs, FieldAWBNumbers, FieldContainerNumbers,
		FieldInvoiceNumbers, FieldPONumbers, FieldPackingListRefs, FieldThreadIDs:
		return true
	}
	return false
}

// Identifying reports whether a value of f names a single shipment. Client
// names and licenses are shared by many shipments, so they are recorded on a
// deal but never used to find one.
func (f Field) Identifying() bool {
	switch f {
	case FieldClientName, FieldImportLicense, FieldExportLicense:
		return false
	}
	return f.Valid()
}

// Valid reports whether f is a known identifier field.
func (f Field) Valid() bool {
	_, ok := fieldIndex[f]
	return ok
}

// Rank returns f's position in ResolveOrder, or len(ResolveOrder) when unknown.
func (f Field) Rank() int {
	if i, ok := fieldIndex[f]; ok {
		return i
	}
	return len(ResolveOrder)
}

// ParseField maps a user-supplied name to a Field. Accepts the column name in
// any case; returns false for unknown names.
func ParseField(name string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	return f, f.Valid()
}

// NormalizeValue canonicalises v for storage and comparison under f.
// Whitespace is collapsed; identifiers are upper-cased, while thread ids and
// client names keep their case.
func NormalizeValue(f Field, v string) string {
	v = strings.Join(strings.Fields(v), " ")
	switch f {
	case FieldThreadIDs, FieldClientName:
		return v
	}
	return strings.ToUpper(v)
}

// Identifier is one (field, value) observation.
type Identifier struct {
	Field Field  `json:"field"`
	Value string `json:"value"`
}
