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

package kernel

import (
	"fmt"

	"github.com/rabbitstack/modscan/pkg/addrspace"
	"github.com/rabbitstack/modscan/pkg/util/filetime"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

// Text is the optional string decoded from the kernel memory. The
// string is absent when the buffer is null or resides in a page that
// is missing from the image.
type Text struct {
	s     string
	valid bool
}

// NewText creates the present text value.
func NewText(s string) Text { return Text{s: s, valid: true} }

// String returns the decoded string or the empty string if the text is absent.
func (t Text) String() string { return t.s }

// Valid determines if the string was decoded.
func (t Text) Valid() bool { return t.valid }

// Or returns the string if it is present and non-empty, or the default value otherwise.
func (t Text) Or(def string) string {
	if !t.valid || t.s == "" {
		return def
	}
	return t.s
}

// Timestamp is the FILETIME value, i.e. the number of 100-nanosecond
// intervals since January 1, 1601 (UTC). The value is reported as-is,
// so it may be zero or garbage in corrupted records.
type Timestamp uint64

// TimeFormat is the layout used for rendering timestamps.
const TimeFormat = "2006-01-02 15:04:05 UTC+0000"

// Valid determines if the timestamp denotes a representable point in time.
func (t Timestamp) Valid() bool { return t != 0 && filetime.Valid(uint64(t)) }

// String formats the timestamp. Zero timestamps yield the empty string and
// timestamps that can't be represented as calendar time are printed in hex.
func (t Timestamp) String() string {
	switch {
	case t == 0:
		return ""
	case !t.Valid():
		return fmt.Sprintf("%#x", uint64(t))
	default:
		return filetime.ToEpoch(uint64(t)).Format(TimeFormat)
	}
}

// Module represents the loaded kernel module as described by
// the _LDR_DATA_TABLE_ENTRY structure.
type Module struct {
	// Offset is the virtual address of the module descriptor.
	Offset va.Address
	// Base is the address where the module image is mapped.
	Base va.Address
	// Size is the size of the module image in bytes.
	Size uint32
	// BaseName is the module file name.
	BaseName Text
	// FullPath is the full path of the module file.
	FullPath Text

	as addrspace.AddressSpace
}

// AddressSpace returns the address space the descriptor was read from.
func (m Module) AddressSpace() addrspace.AddressSpace { return m.as }

// End returns the address past the last byte of the module image.
func (m Module) End() va.Address { return m.Base.Inc(uint64(m.Size)) }

// String returns the module summary.
func (m Module) String() string {
	return fmt.Sprintf("%s base: %s size: %#x", m.BaseName.Or("<unknown>"), m.Base.Hex(), m.Size)
}

// UnloadedDriver represents the populated slot of the unloaded drivers array.
type UnloadedDriver struct {
	// Offset is the virtual address of the slot.
	Offset va.Address
	// Slot is the slot index within the array.
	Slot int
	// Name is the driver name.
	Name Text
	// StartAddress is the start of the range the driver image occupied.
	StartAddress va.Address
	// EndAddress is the end of the range the driver image occupied.
	EndAddress va.Address
	// UnloadTime is the time the driver was unloaded.
	UnloadTime Timestamp
}

// String returns the unloaded driver summary.
func (d UnloadedDriver) String() string {
	return fmt.Sprintf("%s [%s-%s] %s", d.Name.Or("<unknown>"), d.StartAddress.Hex(), d.EndAddress.Hex(), d.UnloadTime)
}
