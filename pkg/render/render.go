/*
 * Copyright 2024 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package render turns grids of typed cells into tables, delimited text, markup, JSON or custom templates.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Format is the output format.
type Format string

const (
	// TableFormat renders the box-drawn table.
	TableFormat Format = "table"
	// CSVFormat renders comma-separated values.
	CSVFormat Format = "csv"
	// MarkdownFormat renders the Markdown table.
	MarkdownFormat Format = "markdown"
	// HTMLFormat renders the HTML table.
	HTMLFormat Format = "html"
	// JSONFormat renders the JSON document with columns and rows.
	JSONFormat Format = "json"
	// TemplateFormat renders each grid with the user template.
	TemplateFormat Format = "template"
)

// Formats lists all supported formats.
var Formats = []Format{TableFormat, CSVFormat, MarkdownFormat, HTMLFormat, JSONFormat, TemplateFormat}

// ParseFormat parses the format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Renderer writes grids in the configured format.
type Renderer struct {
	w      io.Writer
	format Format
	tmpl   *template.Template
}

// New creates the renderer. The template text is only required by the template format.
func New(w io.Writer, format Format, tmpl string) (*Renderer, error) {
	r := &Renderer{w: w, format: format}
	if format != TemplateFormat {
		return r, nil
	}
	if tmpl == "" {
		return nil, fmt.Errorf("template output format requires the template")
	}
	var err error
	r.tmpl, err = template.New("grid").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("invalid output template: %v", err)
	}
	return r, nil
}

// Render writes the grid.
func (r *Renderer) Render(g *Grid) error {
	switch r.format {
	case JSONFormat:
		return r.renderJSON(g)
	case TemplateFormat:
		return r.renderTemplate(g)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	// keep the declared column names as they are in every format
	t.Style().Format.Header = text.FormatDefault
	header := make(table.Row, len(g.columns))
	configs := make([]table.ColumnConfig, len(g.columns))
	for i, col := range g.columns {
		header[i] = col.Name
		configs[i] = table.ColumnConfig{Number: i + 1}
		if col.Kind != TextKind {
			configs[i].Align = text.AlignRight
		}
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)
	for _, cells := range g.rows {
		row := make(table.Row, len(cells))
		for i, c := range cells {
			row[i] = c.String()
		}
		t.AppendRow(row)
	}

	switch r.format {
	case CSVFormat:
		t.RenderCSV()
	case MarkdownFormat:
		t.RenderMarkdown()
	case HTMLFormat:
		t.RenderHTML()
	default:
		if g.Title != "" {
			t.SetTitle("%s", g.Title)
		}
		t.SetCaption("%s row(s)", humanize.Comma(int64(g.Len())))
		t.Render()
	}
	return nil
}

type jsonGrid struct {
	Title   string          `json:"title,omitempty"`
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func (r *Renderer) renderJSON(g *Grid) error {
	doc := jsonGrid{Title: g.Title, Columns: g.names(), Rows: make([][]interface{}, 0, g.Len())}
	for _, cells := range g.rows {
		row := make([]interface{}, len(cells))
		for i, c := range cells {
			row[i] = c.Value()
		}
		doc.Rows = append(doc.Rows, row)
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// templateData is the value the output template is executed with.
// Each row maps the column name to the formatted cell.
type templateData struct {
	Title   string
	Columns []string
	Rows    []map[string]string
}

func (r *Renderer) renderTemplate(g *Grid) error {
	data := templateData{Title: g.Title, Columns: g.names(), Rows: make([]map[string]string, 0, g.Len())}
	for _, cells := range g.rows {
		row := make(map[string]string, len(cells))
		for i, c := range cells {
			row[g.columns[i].Name] = c.String()
		}
		data.Rows = append(data.Rows, row)
	}
	return r.tmpl.Execute(r.w, data)
}
