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

package addrspace

import (
	"encoding/binary"

	"github.com/rabbitstack/modscan/pkg/util/va"
)

// AddressSpace translates addresses to the offsets in the underlying
// physical memory image and reads bytes at those addresses. Implementations
// must be safe for concurrent reads.
type AddressSpace interface {
	// Translate returns the physical offset of the address or the
	// unmapped error if the address doesn't resolve to a page present
	// in the image.
	Translate(addr va.Address) (uint64, error)
	// Read reads size bytes starting at the address. It fails with the
	// unmapped error if any page in the range is not resident and with
	// the short read error if the image ends before the range does.
	Read(addr va.Address, size int) ([]byte, error)
}

// Page describes the mapped page.
type Page struct {
	// Addr is the address of the first byte in the page.
	Addr va.Address
	// Phys is the physical offset backing the page.
	Phys uint64
	// Size is the page size in bytes.
	Size uint64
}

// PageEnumerator is implemented by address spaces that can
// enumerate their mapped pages. Pages are visited in ascending
// address order until the callback returns false.
type PageEnumerator interface {
	Pages(fn func(Page) bool)
}

// ReadPointer reads the little-endian pointer of the given size in bytes.
func ReadPointer(as AddressSpace, addr va.Address, size int) (va.Address, error) {
	b, err := as.Read(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 4:
		return va.Address(binary.LittleEndian.Uint32(b)), nil
	default:
		return va.Address(binary.LittleEndian.Uint64(b)), nil
	}
}
