// Package schema implements field-level schema inference for a dataset's
// record collection.
//
// Inference is a deterministic value-shape classifier, not a learned model:
// it samples exactly one record (the first) and derives, per field, a
// suggested modern column name, a coarse SQL-ish type, and free-text notes.
//
// Design constraints:
//   - Pure function: never mutates the dataset, never touches storage.
//   - The first record is assumed representative; fields present only in
//     later records are not reported.
//   - Suggested names may collide after normalization; uniqueness is not
//     enforced.
package schema

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"

	"datarest/pkg/records"
)

// ErrNoData is returned when inference is requested for an empty collection.
var ErrNoData = errors.New("schema: no data to analyze")

// Inferred types. The values are SQL-flavored labels meant for display and
// migration suggestions, not for direct DDL generation.
const (
	TypeInteger   = "INTEGER"
	TypeDecimal   = "DECIMAL(10,2)"
	TypeBoolean   = "BOOLEAN"
	TypeTimestamp = "TIMESTAMP"
	TypeVarchar   = "VARCHAR(255)"
	TypeText      = "TEXT"
)

// InferredField describes one field of the sampled record. It is derived on
// every request and never persisted.
type InferredField struct {
	SourceField   string `json:"source_field"`
	SuggestedName string `json:"suggested_name"`
	InferredType  string `json:"inferred_type"`
	Notes         string `json:"notes,omitempty"`
}

var (
	// isoDatePrefix matches an ISO-date-like prefix (YYYY-MM-DD at the start).
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

	// looksLikeEmail is intentionally conservative: local@domain.tld.
	looksLikeEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Infer derives one InferredField per field of the first record.
//
// Field order is the sorted field-name order of the sampled record, which
// keeps output deterministic regardless of how the record map was built.
//
// Errors:
//   - ErrNoData if the collection is empty.
func Infer(recs []records.Record) ([]InferredField, error) {
	if len(recs) == 0 {
		return nil, ErrNoData
	}

	first := recs[0]
	out := make([]InferredField, 0, len(first))
	for _, name := range first.Fields() {
		typ, notes := classify(first[name])
		out = append(out, InferredField{
			SourceField:   name,
			SuggestedName: SuggestName(name),
			InferredType:  typ,
			Notes:         notes,
		})
	}
	return out, nil
}

// classify maps a single value to an inferred type plus optional notes.
//
// Numbers are classified by integrality of the value, not by the wire type:
// 7 and 7.0 are both INTEGER, 19.99 is DECIMAL(10,2).
func classify(v any) (typ, notes string) {
	switch t := v.(type) {
	case bool:
		return TypeBoolean, ""

	case int:
		return TypeInteger, ""
	case int64:
		return TypeInteger, ""

	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return TypeInteger, ""
		}
		return TypeDecimal, ""

	case json.Number:
		if _, err := t.Int64(); err == nil {
			return TypeInteger, ""
		}
		return TypeDecimal, ""

	case string:
		switch {
		case isoDatePrefix.MatchString(t):
			return TypeTimestamp, ""
		case looksLikeEmail.MatchString(t):
			return TypeVarchar, "email field"
		case len(t) > 255:
			return TypeText, "exceeds 255 characters"
		default:
			return TypeVarchar, ""
		}

	default:
		// null, nested objects and arrays: no better guess than a varchar.
		return TypeVarchar, ""
	}
}
