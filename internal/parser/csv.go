package parser

import (
	"strings"

	"datarest/pkg/records"
)

// parseCSV parses CSV bytes into records.
//
// The algorithm deliberately matches the upload contract rather than full
// RFC 4180:
//   - the content is split into non-empty lines
//   - the first line is the header row, split on comma, values trimmed and
//     stripped of leading/trailing single or double quotes
//   - each subsequent line is split the same way and zipped positionally
//     against the header; missing trailing values default to ""
//
// Quoted fields containing embedded commas are therefore split; this mirrors
// the original ingestion behavior and keeps parsing deterministic.
//
// Errors:
//   - ErrEmptyContent when there is no data row after the header.
func parseCSV(content []byte) ([]records.Record, error) {
	lines := splitNonEmptyLines(string(content))
	if len(lines) < 2 {
		return nil, ErrEmptyContent
	}

	headers := splitCSVLine(lines[0])

	out := make([]records.Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values := splitCSVLine(line)

		rec := make(records.Record, len(headers))
		for i, h := range headers {
			if i < len(values) {
				rec[h] = values[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, ErrEmptyContent
	}
	return out, nil
}

func splitNonEmptyLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, trimEdgeQuotes(strings.TrimSpace(p)))
	}
	return out
}

// trimEdgeQuotes strips leading and trailing single or double quotes from a
// value. Interior quotes are preserved.
func trimEdgeQuotes(s string) string {
	return strings.Trim(s, `"'`)
}
