// Package records defines the Record type shared by the parser, schema
// inference, and API layers.
//
// A Record is one element of a dataset's ordered collection: a mapping from
// field name to a JSON-compatible value (string, number, boolean, null, nested
// object/array). Records within one dataset are not required to share identical
// field sets.
package records

import "sort"

// Record maps a field name to a JSON-compatible value.
type Record map[string]any

// Fields returns the record's field names in sorted order.
//
// Go maps are unordered; sorting gives callers (schema inference, rendering)
// a deterministic iteration order.
func (r Record) Fields() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy of the record. Nested objects and arrays are
// shared with the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
