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
	"sync"

	"github.com/rabbitstack/modscan/pkg/layout"
	"golang.org/x/text/encoding/unicode"
)

// maxUnicodeStringLength caps the number of bytes read for the string buffer.
const maxUnicodeStringLength = 1024

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

type listEntry struct {
	l     *layout.Layout
	flink layout.Field
	blink layout.Field
}

type unicodeString struct {
	l      *layout.Layout
	length layout.Field
	buffer layout.Field
}

type ldrEntry struct {
	l           *layout.Layout
	links       layout.Field
	dllBase     layout.Field
	sizeOfImage layout.Field
	fullDllName layout.Field
	baseDllName layout.Field
}

type debugData struct {
	l                    *layout.Layout
	ownerTag             layout.Field
	size                 layout.Field
	kernBase             layout.Field
	psLoadedModuleList   layout.Field
	psActiveProcessHead  layout.Field
	mmUnloadedDrivers    layout.Field
	mmLastUnloadedDriver layout.Field
}

type unloadedDriver struct {
	l            *layout.Layout
	name         layout.Field
	startAddress layout.Field
	endAddress   layout.Field
	currentTime  layout.Field
}

// layouts holds the fields of every structure the traversals touch,
// resolved from the profile once.
type layouts struct {
	ptrSize  int
	list     listEntry
	ustr     unicodeString
	ldr      ldrEntry
	kdbg     debugData
	unloaded unloadedDriver
}

// resolver remembers the first resolution failure.
type resolver struct {
	p   *layout.Profile
	err error
}

func (r *resolver) layout(name string) *layout.Layout {
	if r.err != nil {
		return nil
	}
	l, err := r.p.Layout(name)
	if err != nil {
		r.err = err
	}
	return l
}

func (r *resolver) field(l *layout.Layout, name string) layout.Field {
	if r.err != nil || l == nil {
		return layout.Field{}
	}
	f, err := l.Field(name)
	if err != nil {
		r.err = err
	}
	return f
}

var resolved sync.Map // *layout.Profile -> *layouts

func resolve(p *layout.Profile) (*layouts, error) {
	if lays, ok := resolved.Load(p); ok {
		return lays.(*layouts), nil
	}
	r := &resolver{p: p}
	lays := &layouts{ptrSize: int(p.PointerSize)}

	lays.list.l = r.layout("_LIST_ENTRY")
	lays.list.flink = r.field(lays.list.l, "Flink")
	lays.list.blink = r.field(lays.list.l, "Blink")

	lays.ustr.l = r.layout("_UNICODE_STRING")
	lays.ustr.length = r.field(lays.ustr.l, "Length")
	lays.ustr.buffer = r.field(lays.ustr.l, "Buffer")

	lays.ldr.l = r.layout("_LDR_DATA_TABLE_ENTRY")
	lays.ldr.links = r.field(lays.ldr.l, "InLoadOrderLinks")
	lays.ldr.dllBase = r.field(lays.ldr.l, "DllBase")
	lays.ldr.sizeOfImage = r.field(lays.ldr.l, "SizeOfImage")
	lays.ldr.fullDllName = r.field(lays.ldr.l, "FullDllName")
	lays.ldr.baseDllName = r.field(lays.ldr.l, "BaseDllName")

	lays.kdbg.l = r.layout("_KDDEBUGGER_DATA64")
	lays.kdbg.ownerTag = r.field(lays.kdbg.l, "OwnerTag")
	lays.kdbg.size = r.field(lays.kdbg.l, "Size")
	lays.kdbg.kernBase = r.field(lays.kdbg.l, "KernBase")
	lays.kdbg.psLoadedModuleList = r.field(lays.kdbg.l, "PsLoadedModuleList")
	lays.kdbg.psActiveProcessHead = r.field(lays.kdbg.l, "PsActiveProcessHead")
	lays.kdbg.mmUnloadedDrivers = r.field(lays.kdbg.l, "MmUnloadedDrivers")
	lays.kdbg.mmLastUnloadedDriver = r.field(lays.kdbg.l, "MmLastUnloadedDriver")

	lays.unloaded.l = r.layout("_UNLOADED_DRIVERS")
	lays.unloaded.name = r.field(lays.unloaded.l, "Name")
	lays.unloaded.startAddress = r.field(lays.unloaded.l, "StartAddress")
	lays.unloaded.endAddress = r.field(lays.unloaded.l, "EndAddress")
	lays.unloaded.currentTime = r.field(lays.unloaded.l, "CurrentTime")

	if r.err != nil {
		return nil, r.err
	}
	actual, _ := resolved.LoadOrStore(p, lays)
	return actual.(*layouts), nil
}

// text decodes the UTF-16 buffer the _UNICODE_STRING view refers to.
func (lays *layouts) text(us *layout.View) Text {
	length, err := us.Uint(lays.ustr.length)
	if err != nil {
		return Text{}
	}
	buf, err := us.Pointer(lays.ustr.buffer)
	if err != nil || buf.IsZero() {
		return Text{}
	}
	if length > maxUnicodeStringLength {
		length = maxUnicodeStringLength
	}
	length &^= 1
	if length == 0 {
		return NewText("")
	}
	b, err := us.AddressSpace().Read(buf, int(length))
	if err != nil {
		return Text{}
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return Text{}
	}
	return NewText(string(s))
}

// embeddedText decodes the _UNICODE_STRING embedded in the structure.
func (lays *layouts) embeddedText(v *layout.View, f layout.Field) Text {
	us, err := v.Embedded(f, lays.ustr.l)
	if err != nil {
		return Text{}
	}
	return lays.text(us)
}

func (lays *layouts) module(v *layout.View) Module {
	base, _ := v.Pointer(lays.ldr.dllBase)
	size, _ := v.Uint(lays.ldr.sizeOfImage)
	return Module{
		Offset:   v.Addr(),
		Base:     base,
		Size:     uint32(size),
		BaseName: lays.embeddedText(v, lays.ldr.baseDllName),
		FullPath: lays.embeddedText(v, lays.ldr.fullDllName),
		as:       v.AddressSpace(),
	}
}

func (lays *layouts) unloadedDriver(v *layout.View, slot int) UnloadedDriver {
	start, _ := v.Pointer(lays.unloaded.startAddress)
	end, _ := v.Pointer(lays.unloaded.endAddress)
	ts, _ := v.Uint(lays.unloaded.currentTime)
	return UnloadedDriver{
		Offset:       v.Addr(),
		Slot:         slot,
		Name:         lays.embeddedText(v, lays.unloaded.name),
		StartAddress: start,
		EndAddress:   end,
		UnloadTime:   Timestamp(ts),
	}
}
