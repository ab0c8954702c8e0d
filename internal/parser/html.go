package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"datarest/pkg/records"
)

// parseHTMLTable extracts records from the first <table> in an HTML payload.
//
// The first row supplies the field names (header cells preferred, plain cells
// accepted); every subsequent row is zipped positionally against those names,
// with missing trailing cells defaulting to "". Rows are returned in DOM order.
//
// Resilience:
//   - Rows with zero cells are skipped.
//   - A header cell with empty text gets a positional "column_<n>" name so the
//     record keeps its value.
//
// Errors:
//   - ErrEmptyContent when there is no table, no header, or no data rows.
func parseHTMLTable(content []byte) ([]records.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrEmptyContent
	}

	rows := table.Find("tr")
	if rows.Length() < 2 {
		return nil, ErrEmptyContent
	}

	headers := headerNames(rows.First())
	if len(headers) == 0 {
		return nil, ErrEmptyContent
	}

	out := make([]records.Record, 0, rows.Length()-1)
	rows.Slice(1, rows.Length()).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() == 0 {
			return
		}

		values := make([]string, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			values = append(values, strings.TrimSpace(cell.Text()))
		})

		rec := make(records.Record, len(headers))
		for i, h := range headers {
			if i < len(values) {
				rec[h] = values[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	})

	if len(out) == 0 {
		return nil, ErrEmptyContent
	}
	return out, nil
}

func headerNames(headerRow *goquery.Selection) []string {
	var out []string
	headerRow.Find("th, td").Each(func(i int, cell *goquery.Selection) {
		name := strings.TrimSpace(cell.Text())
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		out = append(out, name)
	})
	return out
}
