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
	"expvar"
	"fmt"

	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
	log "github.com/sirupsen/logrus"
)

const (
	entryPresent    = 1 << 0
	entryLarge      = 1 << 7
	entryPrototype  = 1 << 10
	entryTransition = 1 << 11

	frameMask   = 0x000ffffffffff000
	frame2MMask = 0x000fffffffe00000
	frame1GMask = 0x000fffffc0000000

	entries   = 512
	tableSize = entries * 8

	size2M = 1 << 21
	size1G = 1 << 30
)

var unmappedTranslations = expvar.NewInt("addrspace.amd64.unmapped.translations")

// AMD64 is the address space that translates virtual addresses through
// x64 4-level page tables rooted at the directory table base (DTB). Large
// (2MB) and huge (1GB) pages are supported. Page table entries in the
// transition state are treated as valid since the page contents are still
// in the physical memory.
type AMD64 struct {
	base *Physical
	dtb  uint64
}

// NewAMD64 builds the paged address space on top of the physical
// address space. The directory table base must reside in the image.
func NewAMD64(base *Physical, dtb uint64) (*AMD64, error) {
	dtb &= frameMask
	if _, err := base.ReadPhys(dtb, tableSize); err != nil {
		return nil, fmt.Errorf("invalid directory table base %#x: %v", dtb, err)
	}
	log.Debugf("amd64 address space with dtb %#x", dtb)
	return &AMD64{base: base, dtb: dtb}, nil
}

// DTB returns the directory table base.
func (a *AMD64) DTB() uint64 { return a.dtb }

// Base returns the physical address space.
func (a *AMD64) Base() *Physical { return a.base }

func (a *AMD64) entry(table uint64, index uint64) (uint64, error) {
	b, err := a.base.ReadPhys(table&frameMask|index<<3, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (a *AMD64) table(table uint64) (*[entries]uint64, error) {
	b, err := a.base.ReadPhys(table&frameMask, tableSize)
	if err != nil {
		return nil, err
	}
	var t [entries]uint64
	for i := range t {
		t[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return &t, nil
}

func present(e uint64) bool { return e&entryPresent != 0 }

func validPTE(pte uint64) bool {
	return present(pte) || (pte&entryTransition != 0 && pte&entryPrototype == 0)
}

// Translate walks the page tables to resolve the physical offset of the address.
func (a *AMD64) Translate(addr va.Address) (uint64, error) {
	phys, ok := a.translate(uint64(addr))
	if !ok || phys >= a.base.Size() {
		unmappedTranslations.Add(1)
		return 0, kerrors.Unmapped(uint64(addr))
	}
	return phys, nil
}

func (a *AMD64) translate(v uint64) (uint64, bool) {
	pml4e, err := a.entry(a.dtb, v>>39&0x1ff)
	if err != nil || !present(pml4e) {
		return 0, false
	}
	pdpte, err := a.entry(pml4e, v>>30&0x1ff)
	if err != nil || !present(pdpte) {
		return 0, false
	}
	if pdpte&entryLarge != 0 {
		return pdpte&frame1GMask | v&(size1G-1), true
	}
	pde, err := a.entry(pdpte, v>>21&0x1ff)
	if err != nil || !present(pde) {
		return 0, false
	}
	if pde&entryLarge != 0 {
		return pde&frame2MMask | v&(size2M-1), true
	}
	pte, err := a.entry(pde, v>>12&0x1ff)
	if err != nil || !validPTE(pte) {
		return 0, false
	}
	return pte&frameMask | v&(va.PageSize-1), true
}

// Read reads the virtual range page by page. The whole range
// must be resident for the read to succeed.
func (a *AMD64) Read(addr va.Address, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid read size %d", size)
	}
	buf := make([]byte, 0, size)
	for len(buf) < size {
		cur := addr.Inc(uint64(len(buf)))
		phys, err := a.Translate(cur)
		if err != nil {
			return nil, err
		}
		n := int(va.PageSize - cur.PageOffset())
		if rem := size - len(buf); n > rem {
			n = rem
		}
		b, err := a.base.ReadPhys(phys, n)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// Pages visits every mapped page in the address space.
func (a *AMD64) Pages(fn func(Page) bool) { a.pages(0, fn) }

// KernelPages visits mapped pages in the upper half of the address space.
func (a *AMD64) KernelPages(fn func(Page) bool) { a.pages(entries/2, fn) }

func (a *AMD64) pages(from int, fn func(Page) bool) {
	pml4, err := a.table(a.dtb)
	if err != nil {
		return
	}
	for i := from; i < entries; i++ {
		if !present(pml4[i]) {
			continue
		}
		pdpt, err := a.table(pml4[i])
		if err != nil {
			continue
		}
		for j := 0; j < entries; j++ {
			pdpte := pdpt[j]
			if !present(pdpte) {
				continue
			}
			vaddr := uint64(i)<<39 | uint64(j)<<30
			if pdpte&entryLarge != 0 {
				if !a.visit(vaddr, pdpte&frame1GMask, size1G, fn) {
					return
				}
				continue
			}
			pd, err := a.table(pdpte)
			if err != nil {
				continue
			}
			if !a.walkPD(pd, vaddr, fn) {
				return
			}
		}
	}
}

func (a *AMD64) walkPD(pd *[entries]uint64, vaddr uint64, fn func(Page) bool) bool {
	for k := 0; k < entries; k++ {
		pde := pd[k]
		if !present(pde) {
			continue
		}
		vaddr := vaddr | uint64(k)<<21
		if pde&entryLarge != 0 {
			if !a.visit(vaddr, pde&frame2MMask, size2M, fn) {
				return false
			}
			continue
		}
		pt, err := a.table(pde)
		if err != nil {
			continue
		}
		for l := 0; l < entries; l++ {
			if !validPTE(pt[l]) {
				continue
			}
			if !a.visit(vaddr|uint64(l)<<12, pt[l]&frameMask, va.PageSize, fn) {
				return false
			}
		}
	}
	return true
}

// visit skips pages that lie beyond the end of the image.
func (a *AMD64) visit(vaddr, phys, size uint64, fn func(Page) bool) bool {
	if phys >= a.base.Size() {
		return true
	}
	return fn(Page{Addr: va.Canonical(vaddr), Phys: phys, Size: size})
}
