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

package layout

import (
	"fmt"
	"sort"

	kerrors "github.com/rabbitstack/modscan/pkg/errors"
)

// Kind determines how the field bytes are interpreted.
type Kind string

const (
	// Uint8 is the unsigned byte.
	Uint8 Kind = "uint8"
	// Uint16 is the unsigned word.
	Uint16 Kind = "uint16"
	// Uint32 is the unsigned double word.
	Uint32 Kind = "uint32"
	// Uint64 is the unsigned quad word.
	Uint64 Kind = "uint64"
	// Pointer is the virtual address with the width of the profile pointer size.
	Pointer Kind = "pointer"
	// Bytes is the fixed-width byte buffer.
	Bytes Kind = "bytes"
	// Struct is the embedded structure whose layout is named by the field type.
	Struct Kind = "struct"
)

func (k Kind) width(ptrSize uint32) uint32 {
	switch k {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32:
		return 4
	case Uint64:
		return 8
	case Pointer:
		return ptrSize
	default:
		return 0
	}
}

func (k Kind) integer() bool {
	switch k {
	case Uint8, Uint16, Uint32, Uint64, Pointer:
		return true
	default:
		return false
	}
}

// Field describes the location and the interpretation of the structure member.
type Field struct {
	// Name is the field name.
	Name string `mapstructure:"-"`
	// Offset is the byte offset from the start of the structure.
	Offset uint32 `mapstructure:"offset"`
	// Width is the number of bytes the field occupies.
	Width uint32 `mapstructure:"width"`
	// Kind is the field interpretation.
	Kind Kind `mapstructure:"kind"`
	// Type names the layout of the embedded structure.
	Type string `mapstructure:"type"`
}

// End returns the offset of the first byte past the field.
func (f Field) End() uint32 { return f.Offset + f.Width }

// String returns the field representation.
func (f Field) String() string {
	return fmt.Sprintf("%s@%#x (%s, %d)", f.Name, f.Offset, f.Kind, f.Width)
}

// Layout is the table of fields of the named kernel structure.
type Layout struct {
	// Name is the structure name, e.g. _LDR_DATA_TABLE_ENTRY.
	Name string `mapstructure:"-"`
	// Size is the full size of the structure. It serves as the
	// stride when structures are laid out in arrays.
	Size uint32 `mapstructure:"size"`
	// Fields contains the declared fields keyed by name.
	Fields map[string]Field `mapstructure:"fields"`

	extent uint32
}

// Field returns the field with the given name.
func (l *Layout) Field(name string) (Field, error) {
	f, ok := l.Fields[name]
	if !ok {
		return Field{}, kerrors.ErrFieldNotFound(l.Name, name)
	}
	return f, nil
}

// Extent returns the offset past the last declared field. Only
// this many bytes are read when the structure is instantiated.
func (l *Layout) Extent() uint32 { return l.extent }

// FieldNames returns the sorted field names.
func (l *Layout) FieldNames() []string {
	names := make([]string, 0, len(l.Fields))
	for name := range l.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
