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
	"github.com/rabbitstack/modscan/pkg/addrspace"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

// Mode designates the address space offsets are reported in.
type Mode uint8

const (
	// Virtual reports the virtual address of the descriptor.
	Virtual Mode = iota
	// Physical reports the physical address the descriptor translates to.
	Physical
)

// String returns the mode letter.
func (m Mode) String() string {
	if m == Physical {
		return "P"
	}
	return "V"
}

// Tag returns the column tag of the mode.
func (m Mode) Tag() string { return "(" + m.String() + ")" }

// Unresolved is the rendering of the offset that couldn't be translated.
const Unresolved = "-"

// Offset is the structure offset in the requested mode.
type Offset struct {
	Addr     va.Address
	Mode     Mode
	Resolved bool
}

// String renders the offset or the unresolved sentinel.
func (o Offset) String() string {
	if !o.Resolved {
		return Unresolved
	}
	return o.Addr.Hex()
}

// ResolveOffset produces the offset of the structure at the given virtual
// address. In the physical mode, the address is translated by the space
// the structure was read from. Translation failures yield the unresolved
// offset.
func ResolveOffset(as addrspace.AddressSpace, addr va.Address, mode Mode) Offset {
	if mode == Virtual {
		return Offset{Addr: addr, Mode: mode, Resolved: true}
	}
	phys, err := as.Translate(addr)
	if err != nil {
		return Offset{Mode: mode}
	}
	return Offset{Addr: va.Address(phys), Mode: mode, Resolved: true}
}
