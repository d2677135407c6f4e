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
	"encoding/binary"
	"testing"

	"github.com/rabbitstack/modscan/pkg/addrspace"
	"github.com/rabbitstack/modscan/pkg/image"
	"github.com/rabbitstack/modscan/pkg/layout"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/stretchr/testify/require"
)

// Win7SP1x64 structure offsets used by the fixtures.
const (
	ldrSize         = 0xe0
	ldrDllBase      = 0x30
	ldrSizeOfImage  = 0x40
	ldrFullDllName  = 0x48
	ldrBaseDllName  = 0x58
	kdbgTag         = 0x10
	kdbgSize        = 0x14
	kdbgKernBase    = 0x18
	kdbgModuleList  = 0x48
	kdbgUnloaded    = 0x220
	kdbgLastUnload  = 0x228
	unloadedSize    = 0x28
	unloadedStart   = 0x10
	unloadedEnd     = 0x18
	unloadedTime    = 0x20
	unloadedMaxSlot = 50
)

// writer is the memory the fixtures are laid out in.
type writer interface {
	Write(addr va.Address, data []byte)
}

// flat is the identity-mapped memory.
type flat struct {
	b []byte
}

func (f *flat) Write(addr va.Address, data []byte) {
	end := addr.Uint64() + uint64(len(data))
	if end > uint64(len(f.b)) {
		f.b = append(f.b, make([]byte, end-uint64(len(f.b)))...)
	}
	copy(f.b[addr:], data)
}

func (f *flat) space() *addrspace.Physical {
	return addrspace.NewPhysical(image.FromBytes("flat", f.b))
}

type fixture struct {
	w    writer
	strs va.Address
}

func newFixture(w writer, strs va.Address) *fixture {
	return &fixture{w: w, strs: strs}
}

func win7(t *testing.T) *layout.Profile {
	p, err := layout.Get("Win7SP1x64")
	require.NoError(t, err)
	return p
}

func (f *fixture) u16(addr va.Address, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	f.w.Write(addr, b[:])
}

func (f *fixture) u32(addr va.Address, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	f.w.Write(addr, b[:])
}

func (f *fixture) u64(addr va.Address, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	f.w.Write(addr, b[:])
}

// ustr writes the _UNICODE_STRING at the given address. The string
// buffer is allocated from the strings area.
func (f *fixture) ustr(addr va.Address, s string) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	buf := f.strs
	f.w.Write(buf, append(b, 0, 0))
	f.strs = f.strs.Inc(uint64(len(b)+2+7) &^ 7)
	f.u16(addr, uint16(len(b)))
	f.u16(addr.Inc(2), uint16(len(b)+2))
	f.u64(addr.Inc(8), buf.Uint64())
}

// entry writes the module descriptor fields except the links.
func (f *fixture) entry(addr va.Address, base uint64, size uint32, name, path string) {
	f.w.Write(addr, make([]byte, ldrSize))
	f.u64(addr.Inc(ldrDllBase), base)
	f.u32(addr.Inc(ldrSizeOfImage), size)
	if name != "" {
		f.ustr(addr.Inc(ldrBaseDllName), name)
	}
	if path != "" {
		f.ustr(addr.Inc(ldrFullDllName), path)
	}
}

// list links the anchor and the descriptors into the circular list.
func (f *fixture) list(anchor va.Address, entries ...va.Address) {
	nodes := append([]va.Address{anchor}, entries...)
	for i, node := range nodes {
		next := nodes[(i+1)%len(nodes)]
		prev := nodes[(i+len(nodes)-1)%len(nodes)]
		f.u64(node, next.Uint64())
		f.u64(node.Inc(8), prev.Uint64())
	}
}

// kdbg writes the debugger data block.
func (f *fixture) kdbg(addr va.Address, moduleList, unloaded, lastUnloaded va.Address) {
	f.w.Write(addr, make([]byte, 0x340))
	f.w.Write(addr.Inc(kdbgTag), []byte(DebugBlockTag))
	f.u32(addr.Inc(kdbgSize), 0x340)
	f.u64(addr.Inc(kdbgKernBase), 0xfffff80002a4b000)
	f.u64(addr.Inc(kdbgModuleList), moduleList.Uint64())
	f.u64(addr.Inc(kdbgUnloaded), unloaded.Uint64())
	f.u64(addr.Inc(kdbgLastUnload), lastUnloaded.Uint64())
}

// unloaded writes the unloaded driver record into the slot of the array.
func (f *fixture) unloaded(array va.Address, slot int, name string, start, end, ts uint64) {
	addr := array.Inc(uint64(slot) * unloadedSize)
	f.ustr(addr, name)
	f.u64(addr.Inc(unloadedStart), start)
	f.u64(addr.Inc(unloadedEnd), end)
	f.u64(addr.Inc(unloadedTime), ts)
}
