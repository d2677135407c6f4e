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
	"expvar"
	"fmt"
	"io"

	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

var physShortReads = expvar.NewInt("addrspace.physical.short.reads")

// Source is the memory image the physical address space reads from.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Physical is the identity address space over the memory image. Every
// address is the offset into the image.
type Physical struct {
	src Source
}

// NewPhysical creates the physical address space backed by the memory image.
func NewPhysical(src Source) *Physical { return &Physical{src: src} }

// Size returns the size of the physical memory.
func (p *Physical) Size() uint64 { return uint64(p.src.Size()) }

// Translate returns the address unchanged if it falls inside the image.
func (p *Physical) Translate(addr va.Address) (uint64, error) {
	if uint64(addr) >= p.Size() {
		return 0, kerrors.Unmapped(uint64(addr))
	}
	return uint64(addr), nil
}

// Read reads bytes at the physical offset.
func (p *Physical) Read(addr va.Address, size int) ([]byte, error) {
	return p.ReadPhys(uint64(addr), size)
}

// ReadPhys reads size bytes at the physical offset. Reads that
// cross the end of the image fail with the short read error.
func (p *Physical) ReadPhys(off uint64, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid read size %d", size)
	}
	if off >= p.Size() {
		return nil, kerrors.Unmapped(off)
	}
	b := make([]byte, size)
	n, err := p.src.ReadAt(b, int64(off))
	if n < size {
		physShortReads.Add(1)
		return nil, kerrors.ShortRead(off, n, size)
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}

// Pages visits every page of the physical memory.
func (p *Physical) Pages(fn func(Page) bool) {
	for off := uint64(0); off < p.Size(); off += va.PageSize {
		if !fn(Page{Addr: va.Address(off), Phys: off, Size: va.PageSize}) {
			return
		}
	}
}
