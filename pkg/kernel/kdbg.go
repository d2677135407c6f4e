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
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/addrspace"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/layout"
	"github.com/rabbitstack/modscan/pkg/util/va"
	log "github.com/sirupsen/logrus"
)

// DebugBlockTag is the owner tag of the debugger data block.
const DebugBlockTag = "KDBG"

// DebugBlockSizeConstant is the profile constant holding the expected
// value of the debugger data block size field.
const DebugBlockSizeConstant = "KdDebuggerDataSize"

// DebugBlock is the kernel debugger data block, _KDDEBUGGER_DATA64. It
// carries the addresses of the kernel variables the enumerations start from.
type DebugBlock struct {
	v    *layout.View
	lays *layouts
}

// ReadDebugBlock reads the debugger data block at the given address.
func ReadDebugBlock(as addrspace.AddressSpace, p *layout.Profile, addr va.Address) (*DebugBlock, error) {
	lays, err := resolve(p)
	if err != nil {
		return nil, err
	}
	v, err := layout.Read(as, addr, lays.kdbg.l)
	if err != nil {
		return nil, err
	}
	return &DebugBlock{v: v, lays: lays}, nil
}

// Addr returns the address of the debugger data block.
func (d *DebugBlock) Addr() va.Address { return d.v.Addr() }

// AddressSpace returns the address space the block was read from.
func (d *DebugBlock) AddressSpace() addrspace.AddressSpace { return d.v.AddressSpace() }

// OwnerTag returns the block tag.
func (d *DebugBlock) OwnerTag() string {
	b, err := d.v.Bytes(d.lays.kdbg.ownerTag)
	if err != nil {
		return ""
	}
	return string(bytes.TrimRight(b, "\x00"))
}

// Size returns the value of the size field.
func (d *DebugBlock) Size() uint32 { return uint32(d.uint(d.lays.kdbg.size)) }

// KernBase returns the base address of the kernel image.
func (d *DebugBlock) KernBase() va.Address { return d.pointer(d.lays.kdbg.kernBase) }

// PsLoadedModuleList returns the address of the loaded modules list head.
func (d *DebugBlock) PsLoadedModuleList() va.Address {
	return d.pointer(d.lays.kdbg.psLoadedModuleList)
}

// PsActiveProcessHead returns the address of the active processes list head.
func (d *DebugBlock) PsActiveProcessHead() va.Address {
	return d.pointer(d.lays.kdbg.psActiveProcessHead)
}

// MmUnloadedDrivers returns the address of the variable that points
// to the unloaded drivers array.
func (d *DebugBlock) MmUnloadedDrivers() va.Address { return d.pointer(d.lays.kdbg.mmUnloadedDrivers) }

// MmLastUnloadedDriver returns the address of the variable that holds
// the index of the most recently written unloaded drivers slot.
func (d *DebugBlock) MmLastUnloadedDriver() va.Address {
	return d.pointer(d.lays.kdbg.mmLastUnloadedDriver)
}

// LastUnloadedSlot dereferences the MmLastUnloadedDriver variable.
func (d *DebugBlock) LastUnloadedSlot() (uint32, error) {
	addr := d.MmLastUnloadedDriver()
	if addr.IsZero() {
		return 0, kerrors.Unmapped(0)
	}
	b, err := d.AddressSpace().Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Valid determines if the block carries the KDBG owner tag.
func (d *DebugBlock) Valid() bool { return d.OwnerTag() == DebugBlockTag }

// Validate returns the invalid debug block error if the block tag or size
// don't match the expectations.
func (d *DebugBlock) Validate(p *layout.Profile) error {
	if !d.Valid() {
		return errors.Wrapf(kerrors.ErrInvalidDebugBlock, "unexpected owner tag %q at %s", d.OwnerTag(), d.Addr().Hex())
	}
	if size, ok := p.Constant(DebugBlockSizeConstant); ok && size != 0 && uint64(d.Size()) != size {
		return errors.Wrapf(kerrors.ErrInvalidDebugBlock, "size %#x at %s doesn't match %#x", d.Size(), d.Addr().Hex(), size)
	}
	return nil
}

func (d *DebugBlock) uint(f layout.Field) uint64 {
	n, _ := d.v.Uint(f)
	return n
}

func (d *DebugBlock) pointer(f layout.Field) va.Address { return va.Address(d.uint(f)) }

// Space is the address space that can enumerate its mapped pages.
type Space interface {
	addrspace.AddressSpace
	addrspace.PageEnumerator
}

// kernelPager is implemented by spaces that can restrict
// the page enumeration to the kernel half.
type kernelPager interface {
	KernelPages(fn func(addrspace.Page) bool)
}

// ScanOption tweaks the debugger data block scan.
type ScanOption func(*scanOpts)

type scanOpts struct {
	kernelOnly bool
	limit      int
}

// WithKernelOnly restricts the scan to the kernel half of the address space.
func WithKernelOnly(enabled bool) ScanOption {
	return func(o *scanOpts) { o.kernelOnly = enabled }
}

// WithLimit stops the scan after the given number of candidates is found.
func WithLimit(n int) ScanOption {
	return func(o *scanOpts) { o.limit = n }
}

// ScanDebugBlocks searches the mapped pages of the space for valid
// debugger data blocks and returns their virtual addresses. Every
// physical frame is scanned once, even when mapped at several
// virtual addresses.
func ScanDebugBlocks(space Space, p *layout.Profile, opts ...ScanOption) ([]va.Address, error) {
	lays, err := resolve(p)
	if err != nil {
		return nil, err
	}
	o := scanOpts{kernelOnly: true}
	for _, opt := range opts {
		opt(&o)
	}
	tagOffset := lays.kdbg.ownerTag.Offset
	if tagOffset%8 != 0 {
		return nil, errors.Errorf("owner tag offset %#x isn't 8-byte aligned", tagOffset)
	}
	tag := []byte(DebugBlockTag)

	var (
		frames  bitset.BitSet
		hits    []va.Address
		scanned int
	)
	visit := func(pg addrspace.Page) bool {
		for off := uint64(0); off < pg.Size; off += va.PageSize {
			frame := uint((pg.Phys + off) / va.PageSize)
			if frames.Test(frame) {
				continue
			}
			frames.Set(frame)
			addr := pg.Addr.Inc(off)
			b, err := space.Read(addr, va.PageSize)
			if err != nil {
				continue
			}
			scanned++
			for pos := 0; pos+len(tag) <= len(b); pos += 8 {
				if !bytes.Equal(b[pos:pos+len(tag)], tag) || addr.Uint64()+uint64(pos) < uint64(tagOffset) {
					continue
				}
				candidate := addr.Inc(uint64(pos)).Dec(uint64(tagOffset))
				block, err := ReadDebugBlock(space, p, candidate)
				if err != nil || block.Validate(p) != nil {
					continue
				}
				log.Debugf("debugger data block candidate at %s", candidate.Hex())
				hits = append(hits, candidate)
				if o.limit > 0 && len(hits) >= o.limit {
					return false
				}
			}
		}
		return true
	}

	if kp, ok := space.(kernelPager); ok && o.kernelOnly {
		kp.KernelPages(visit)
	} else {
		space.Pages(visit)
	}
	log.Debugf("scanned %d frames for debugger data blocks, %d candidate(s) found", scanned, len(hits))
	return hits, nil
}
