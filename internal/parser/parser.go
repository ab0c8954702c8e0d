// Package parser normalizes uploaded file content into a uniform ordered
// sequence of records.
//
// The parser is responsible for:
//   - Decoding JSON payloads (objects are wrapped into a one-element array)
//   - Decoding CSV payloads with a header row
//   - Extracting rows from the first table of an HTML payload
//   - Falling back heuristically when the declared kind is unknown
//
// Design constraints:
//   - Parsing is side-effect free and deterministic for identical input.
//   - A parse that yields zero records is an error; callers must reject the
//     upload rather than persist an empty dataset.
//   - The "try JSON, fall back to CSV" policy is a heuristic, not a guarantee;
//     callers that know the content type should declare it.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"datarest/pkg/records"
)

// ErrEmptyContent is returned when parsing produced zero records, e.g. empty
// input or a CSV consisting of only a header line.
var ErrEmptyContent = errors.New("parser: empty or invalid content")

// Format identifies the payload format detected or declared for an upload.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatJSON
	FormatHTML
)

// Parse converts raw uploaded bytes plus a declared file extension into an
// ordered sequence of records.
//
// Dispatch rules:
//   - "json":        parse as JSON; if that fails, fall back to CSV.
//   - "csv":         parse as CSV.
//   - "html", "htm": extract the first HTML table.
//   - anything else (including "txt"): try JSON, then sniff for markup, then
//     fall back to CSV.
//
// Errors:
//   - ErrEmptyContent when the resulting sequence has zero records.
func Parse(content []byte, declaredExt string) ([]records.Record, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declaredExt), "."))

	switch ext {
	case "json":
		if recs, err := parseJSON(content); err == nil {
			return recs, nil
		}
		return parseCSV(content)

	case "csv":
		return parseCSV(content)

	case "html", "htm":
		return parseHTMLTable(content)

	default:
		if recs, err := parseJSON(content); err == nil {
			return recs, nil
		}
		if SniffFormat(content) == FormatHTML {
			return parseHTMLTable(content)
		}
		return parseCSV(content)
	}
}

// SniffFormat guesses the payload format from its leading bytes.
// Detection is heuristic and intentionally conservative.
func SniffFormat(content []byte) Format {
	trim := bytes.TrimSpace(content)
	if len(trim) == 0 {
		return FormatUnknown
	}
	switch trim[0] {
	case '{', '[':
		return FormatJSON
	case '<':
		return FormatHTML
	default:
		return FormatCSV
	}
}

// parseJSON decodes a JSON payload into records.
//
// A top-level array keeps its element order; a top-level object becomes a
// single-element sequence. Array elements that are not objects are skipped,
// since a record is by definition a field-to-value mapping.
func parseJSON(content []byte) ([]records.Record, error) {
	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var out []records.Record
	switch v := root.(type) {
	case []any:
		out = make([]records.Record, 0, len(v))
		for _, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				out = append(out, records.Record(m))
			}
		}
	case map[string]any:
		out = []records.Record{records.Record(v)}
	default:
		// Scalar root: not a record sequence.
	}

	if len(out) == 0 {
		return nil, ErrEmptyContent
	}
	return out, nil
}
