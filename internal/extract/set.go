package extract

import (
	"encoding/json"
	"slices"

	"github.com/sells-group/dealtrack/internal/model"
)

// IdentifierSet holds the identifiers found in one message, keyed by field.
// The zero value is empty and ready to use.
type IdentifierSet struct {
	values map[model.Field][]string
}

// Add records v under f after normalisation. Array fields ignore duplicates;
// scalar fields keep their first value. Reports whether the set changed.
func (s *IdentifierSet) Add(f model.Field, v string) bool {
	if !f.Valid() {
		return false
	}
	v = model.NormalizeValue(f, v)
	if v == "" {
		return false
	}
	if s.values == nil {
		s.values = make(map[model.Field][]string)
	}

	cur := s.values[f]
	if !f.IsArray() && len(cur) > 0 {
		return false
	}
	if slices.Contains(cur, v) {
		return false
	}
	s.values[f] = append(cur, v)
	return true
}

// Get returns the values recorded for f.
func (s IdentifierSet) Get(f model.Field) []string {
	return s.values[f]
}

// Scalar returns the value of a scalar field, or "".
func (s IdentifierSet) Scalar(f model.Field) string {
	if v := s.values[f]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Len returns the total number of identifier values.
func (s IdentifierSet) Len() int {
	n := 0
	for _, v := range s.values {
		n += len(v)
	}
	return n
}

// Empty reports whether no identifier was found.
func (s IdentifierSet) Empty() bool {
	return s.Len() == 0
}

// Linkable reports whether the set holds a value that identifies a single
// shipment, as opposed to only client names or licenses.
func (s IdentifierSet) Linkable() bool {
	for f, v := range s.values {
		if len(v) > 0 && f.Identifying() {
			return true
		}
	}
	return false
}

// Values flattens the set into (field, value) pairs in resolver priority
// order, preserving discovery order within a field.
func (s IdentifierSet) Values() []model.Identifier {
	out := make([]model.Identifier, 0, s.Len())
	for _, f := range model.ResolveOrder {
		for _, v := range s.values[f] {
			out = append(out, model.Identifier{Field: f, Value: v})
		}
	}
	return out
}

// MarshalJSON renders the set as an object of field name to values.
func (s IdentifierSet) MarshalJSON() ([]byte, error) {
	m := make(map[model.Field][]string, len(s.values))
	for f, v := range s.values {
		m[f] = v
	}
	return json.Marshal(m)
}
