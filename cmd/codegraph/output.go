package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// printer renders command results in one of the three CLI output formats.
type printer struct {
	format string // json | pretty | table
	w      io.Writer
}

func newPrinter(format string, w io.Writer) *printer {
	switch format {
	case "json", "table":
	default:
		format = "pretty"
	}
	return &printer{format: format, w: w}
}

// field is one name/value pair of a "pretty" record, order-preserving
// (a map would sort randomly or need re-sorting for every render).
type field struct {
	Name  string
	Value string
}

// record renders either as one JSON object, one "pretty" block of
// "name: value" lines, or one row of a table alongside sibling records.
type record struct {
	fields []field
	raw    any // the JSON-marshalable source value
}

func rec(raw any, fields ...field) record {
	return record{fields: fields, raw: raw}
}

func (p *printer) One(r record) error {
	switch p.format {
	case "json":
		return p.writeJSON(r.raw)
	case "table":
		return p.writeTable([]record{r})
	default:
		return p.writePretty(r)
	}
}

func (p *printer) Many(items []record, rawAll any) error {
	switch p.format {
	case "json":
		return p.writeJSON(rawAll)
	case "table":
		return p.writeTable(items)
	default:
		for _, r := range items {
			if err := p.writePretty(r); err != nil {
				return err
			}
			fmt.Fprintln(p.w)
		}
		return nil
	}
}

func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) writePretty(r record) error {
	for _, f := range r.fields {
		fmt.Fprintf(p.w, "%s: %s\n", f.Name, f.Value)
	}
	return nil
}

func (p *printer) writeTable(items []record) error {
	if len(items) == 0 {
		return nil
	}
	headers := make([]string, len(items[0].fields))
	for i, f := range items[0].fields {
		headers[i] = f.Name
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	rows := make([][]string, len(items))
	for i, r := range items {
		row := make([]string, len(headers))
		for j := range headers {
			if j < len(r.fields) {
				row[j] = r.fields[j].Value
			}
			if len(row[j]) > widths[j] {
				widths[j] = len(row[j])
			}
		}
		rows[i] = row
	}

	fmt.Fprintln(p.w, padRow(headers, widths))
	for _, row := range rows {
		fmt.Fprintln(p.w, padRow(row, widths))
	}
	return nil
}

func padRow(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, c := range cells {
		padded[i] = c + strings.Repeat(" ", widths[i]-len(c))
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}
