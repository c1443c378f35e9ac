package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"html/template"
	"io"
	"time"

	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/resources"
)

var listTemplate = template.Must(template.New("list").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>
body{font-family:sans-serif;font-size:11px;color:#1f2933}
h1{font-size:18px;margin:0 0 4px}
p{color:#616e7c;margin:0 0 12px}
table{border-collapse:collapse;width:100%}
th,td{border-bottom:1px solid #d9e2ec;padding:4px 6px;text-align:left}
th{background:#f0f4f8}
</style></head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.Generated.Format "02 Jan 2006 15:04 MST"}} &middot; {{len .Rows}} records</p>
<table>
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</tbody>
</table>
</body></html>`))

// Renderer converts HTML to PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// Exporter renders resource listings.
type Exporter struct {
	renderer Renderer
	now      func() time.Time
}

// NewExporter builds an Exporter; renderer may be nil when PDF export is
// not configured.
func NewExporter(renderer Renderer) *Exporter {
	return &Exporter{renderer: renderer, now: time.Now}
}

// WriteCSV writes the list columns of items, preceded by a header row.
func (e *Exporter) WriteCSV(w io.Writer, def resources.Definition, items []backend.Record) error {
	headers, rows := table(def, items)
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// RenderPDF renders items as an HTML table and converts it to PDF.
func (e *Exporter) RenderPDF(ctx context.Context, def resources.Definition, items []backend.Record) ([]byte, error) {
	if e.renderer == nil {
		return nil, ErrPDFDisabled
	}
	headers, rows := table(def, items)
	var buf bytes.Buffer
	err := listTemplate.Execute(&buf, struct {
		Title     string
		Generated time.Time
		Headers   []string
		Rows      [][]string
	}{Title: def.Title, Generated: e.now(), Headers: headers, Rows: rows})
	if err != nil {
		return nil, err
	}
	return e.renderer.RenderHTML(ctx, buf.Bytes())
}

func table(def resources.Definition, items []backend.Record) ([]string, [][]string) {
	columns := def.Columns()
	headers := make([]string, 0, len(columns)+1)
	headers = append(headers, "ID")
	for _, col := range columns {
		headers = append(headers, col.Label)
	}
	rows := make([][]string, 0, len(items))
	for _, rec := range items {
		row := make([]string, 0, len(headers))
		row = append(row, rec.ID())
		for _, col := range columns {
			row = append(row, rec.String(col.Name))
		}
		rows = append(rows, row)
	}
	return headers, rows
}
