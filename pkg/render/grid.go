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

package render

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/kernel"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

// ErrSchema signals the row doesn't match the column schema of the grid.
var ErrSchema = errors.New("row doesn't match grid schema")

// Kind is the type of the grid cell.
type Kind uint8

const (
	// TextKind is the free-form text cell.
	TextKind Kind = iota
	// AddressKind is the zero-padded 64-bit address.
	AddressKind
	// HexKind is the hexadecimal number.
	HexKind
	// OffsetKind is the structure offset that may be unresolved.
	OffsetKind
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case TextKind:
		return "text"
	case AddressKind:
		return "address"
	case HexKind:
		return "hex"
	case OffsetKind:
		return "offset"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Column declares the name and the cell kind of the grid column.
type Column struct {
	Name string
	Kind Kind
}

// Cell is the typed grid value.
type Cell struct {
	kind     Kind
	text     string
	value    uint64
	resolved bool
}

// Text creates the text cell.
func Text(s string) Cell { return Cell{kind: TextKind, text: s, resolved: true} }

// Address creates the address cell.
func Address(addr va.Address) Cell {
	return Cell{kind: AddressKind, value: addr.Uint64(), resolved: true}
}

// Hex creates the hexadecimal number cell.
func Hex(n uint64) Cell { return Cell{kind: HexKind, value: n, resolved: true} }

// Offset creates the offset cell.
func Offset(o kernel.Offset) Cell {
	return Cell{kind: OffsetKind, value: o.Addr.Uint64(), resolved: o.Resolved}
}

// Kind returns the cell kind.
func (c Cell) Kind() Kind { return c.kind }

// String formats the cell value.
func (c Cell) String() string {
	switch c.kind {
	case TextKind:
		return c.text
	case AddressKind:
		return va.Address(c.value).Hex()
	case HexKind:
		return fmt.Sprintf("%#x", c.value)
	case OffsetKind:
		return kernel.Offset{Addr: va.Address(c.value), Resolved: c.resolved}.String()
	default:
		return ""
	}
}

// Value returns the raw cell value. Numeric cells yield the number, and
// unresolved offsets yield nil.
func (c Cell) Value() interface{} {
	switch {
	case c.kind == TextKind:
		return c.text
	case !c.resolved:
		return nil
	default:
		return c.value
	}
}

// Grid is the presentation-agnostic table of typed cells.
type Grid struct {
	// Title describes the grid contents.
	Title   string
	columns []Column
	rows    [][]Cell
}

// NewGrid creates the empty grid with the given column schema.
func NewGrid(title string, cols ...Column) *Grid {
	return &Grid{Title: title, columns: cols}
}

// Columns returns the column schema.
func (g *Grid) Columns() []Column { return g.columns }

// Rows returns the grid rows.
func (g *Grid) Rows() [][]Cell { return g.rows }

// Len returns the number of rows.
func (g *Grid) Len() int { return len(g.rows) }

// Append adds the row to the grid. The row must have a cell for every
// column, and each cell must be of the column kind.
func (g *Grid) Append(cells ...Cell) error {
	if len(cells) != len(g.columns) {
		return errors.Wrapf(ErrSchema, "got %d cells for %d columns", len(cells), len(g.columns))
	}
	for i, c := range cells {
		if c.kind != g.columns[i].Kind {
			return errors.Wrapf(ErrSchema, "%s column expects %s cell, got %s", g.columns[i].Name, g.columns[i].Kind, c.kind)
		}
	}
	g.rows = append(g.rows, cells)
	return nil
}

func (g *Grid) names() []string {
	names := make([]string, len(g.columns))
	for i, col := range g.columns {
		names[i] = col.Name
	}
	return names
}
