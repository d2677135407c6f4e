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

// Package astest provides utilities for building synthetic physical
// memory images with x64 page tables.
package astest

import (
	"encoding/binary"
	"fmt"

	"github.com/rabbitstack/modscan/pkg/addrspace"
	"github.com/rabbitstack/modscan/pkg/image"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

const (
	present = 0x3 // present and writable
	large   = 0x80
	mask    = 0x000ffffffffff000
)

// Builder lays out the physical memory with the page table hierarchy.
// Frame zero is left unused so that a zero physical address never refers
// to a table. The PML4 lives in the first allocated frame.
type Builder struct {
	mem []byte
	dtb uint64
}

// NewBuilder creates the builder with an empty PML4.
func NewBuilder() *Builder {
	b := &Builder{mem: make([]byte, va.PageSize)}
	b.dtb = b.Alloc()
	return b
}

// DTB returns the directory table base.
func (b *Builder) DTB() uint64 { return b.dtb }

// Bytes returns the physical memory.
func (b *Builder) Bytes() []byte { return b.mem }

// Alloc appends a zeroed frame to the physical memory and returns its offset.
func (b *Builder) Alloc() uint64 {
	off := uint64(len(b.mem))
	b.mem = append(b.mem, make([]byte, va.PageSize)...)
	return off
}

// Grow extends the physical memory to at least size bytes.
func (b *Builder) Grow(size uint64) {
	if uint64(len(b.mem)) < size {
		b.mem = append(b.mem, make([]byte, size-uint64(len(b.mem)))...)
	}
}

func (b *Builder) read(off uint64) uint64 { return binary.LittleEndian.Uint64(b.mem[off:]) }

func (b *Builder) write(off, v uint64) { binary.LittleEndian.PutUint64(b.mem[off:], v) }

// next returns the table referenced by the entry, allocating it if needed.
func (b *Builder) next(table, index uint64) uint64 {
	off := table + index*8
	e := b.read(off)
	if e&1 == 0 {
		e = b.Alloc() | present
		b.write(off, e)
	}
	return e & mask
}

// Map maps the 4K virtual page to the physical frame.
func (b *Builder) Map(addr va.Address, phys uint64) {
	v := uint64(addr)
	pdpt := b.next(b.dtb, v>>39&0x1ff)
	pd := b.next(pdpt, v>>30&0x1ff)
	pt := b.next(pd, v>>21&0x1ff)
	b.write(pt+(v>>12&0x1ff)*8, phys&mask|present)
}

// Map2M maps the 2MB virtual page to the physical offset.
func (b *Builder) Map2M(addr va.Address, phys uint64) {
	v := uint64(addr)
	pdpt := b.next(b.dtb, v>>39&0x1ff)
	pd := b.next(pdpt, v>>30&0x1ff)
	b.write(pd+(v>>21&0x1ff)*8, phys|present|large)
}

// Map1G maps the 1GB virtual page to the physical offset.
func (b *Builder) Map1G(addr va.Address, phys uint64) {
	v := uint64(addr)
	pdpt := b.next(b.dtb, v>>39&0x1ff)
	b.write(pdpt+(v>>30&0x1ff)*8, phys|present|large)
}

// Unmap clears the page table entry of the 4K virtual page.
func (b *Builder) Unmap(addr va.Address) {
	v := uint64(addr)
	pdpt := b.next(b.dtb, v>>39&0x1ff)
	pd := b.next(pdpt, v>>30&0x1ff)
	pt := b.next(pd, v>>21&0x1ff)
	b.write(pt+(v>>12&0x1ff)*8, 0)
}

// Write copies data to the virtual address. Pages that aren't
// mapped yet are backed by freshly allocated frames.
func (b *Builder) Write(addr va.Address, data []byte) {
	for len(data) > 0 {
		phys, ok := b.lookup(addr)
		if !ok {
			phys = b.Alloc()
			b.Map(addr.PageBase(), phys)
			phys |= addr.PageOffset()
		}
		n := copy(b.mem[phys:phys+va.PageSize-addr.PageOffset()], data)
		data = data[n:]
		addr = addr.Inc(uint64(n))
	}
}

// WriteUint64 writes the little-endian quad word to the virtual address.
func (b *Builder) WriteUint64(addr va.Address, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(addr, buf[:])
}

// WritePhys copies data to the physical offset.
func (b *Builder) WritePhys(off uint64, data []byte) {
	b.Grow(off + uint64(len(data)))
	copy(b.mem[off:], data)
}

func (b *Builder) lookup(addr va.Address) (uint64, bool) {
	v := uint64(addr)
	e := b.read(b.dtb + (v>>39&0x1ff)*8)
	for _, shift := range []uint64{30, 21, 12} {
		if e&1 == 0 {
			return 0, false
		}
		e = b.read(e&mask + (v>>shift&0x1ff)*8)
	}
	if e&1 == 0 {
		return 0, false
	}
	return e&mask | addr.PageOffset(), true
}

// Space builds the paged address space over the physical memory laid out so far.
func (b *Builder) Space() *addrspace.AMD64 {
	as, err := addrspace.NewAMD64(addrspace.NewPhysical(image.FromBytes("astest", b.mem)), b.dtb)
	if err != nil {
		panic(fmt.Sprintf("astest: %v", err))
	}
	return as
}
