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
	"errors"
	"testing"

	"github.com/rabbitstack/modscan/pkg/addrspace/astest"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkModules(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x800)
	f.entry(0x100, 0x1000, 0x2000, "drv1.sys", `\SystemRoot\system32\drivers\drv1.sys`)
	f.entry(0x200, 0x5000, 0x1000, "drv2.sys", `\SystemRoot\system32\drivers\drv2.sys`)
	f.list(0, 0x100, 0x200)

	as := mem.space()
	w, err := WalkModules(as, win7(t), 0)
	require.NoError(t, err)
	mods := w.Collect()
	require.NoError(t, w.Err())
	require.Len(t, mods, 2)

	assert.Equal(t, va.Address(0x100), mods[0].Offset)
	assert.Equal(t, va.Address(0x1000), mods[0].Base)
	assert.Equal(t, uint32(0x2000), mods[0].Size)
	assert.Equal(t, "drv1.sys", mods[0].BaseName.String())
	assert.Equal(t, `\SystemRoot\system32\drivers\drv1.sys`, mods[0].FullPath.String())
	assert.Equal(t, va.Address(0x3000), mods[0].End())
	assert.Equal(t, as, mods[0].AddressSpace())

	assert.Equal(t, va.Address(0x200), mods[1].Offset)
	assert.Equal(t, va.Address(0x5000), mods[1].Base)
	assert.Equal(t, uint32(0x1000), mods[1].Size)
	assert.Equal(t, "drv2.sys", mods[1].BaseName.String())

	// the walker is single-pass
	assert.False(t, w.Next())
}

func TestWalkModulesWellFormedLists(t *testing.T) {
	for n := 0; n <= 6; n++ {
		mem := &flat{}
		f := newFixture(mem, 0x2000)
		entries := make([]va.Address, n)
		for i := range entries {
			entries[i] = va.Address(0x100 + i*0x100)
			f.entry(entries[i], uint64(0x10000*(i+1)), 0x1000, "drv.sys", "")
		}
		f.list(0x40, entries...)

		w, err := WalkModules(mem.space(), win7(t), 0x40)
		require.NoError(t, err)
		mods := w.Collect()
		require.NoError(t, w.Err())
		require.Len(t, mods, n)
		for i, m := range mods {
			assert.Equal(t, entries[i], m.Offset)
		}
	}
}

func TestWalkModulesSelfLoop(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x800)
	f.entry(0x100, 0x1000, 0x2000, "drv1.sys", "")
	f.list(0, 0x100)
	// the last node links to itself instead of the anchor
	f.u64(0x100, 0x100)

	w, err := WalkModules(mem.space(), win7(t), 0)
	require.NoError(t, err)
	mods := w.Collect()
	require.Len(t, mods, 1)
	assert.True(t, errors.Is(w.Err(), kerrors.ErrNonTerminatingList))
}

func TestWalkModulesMaxEntries(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x2000)
	entries := []va.Address{0x100, 0x200, 0x300, 0x400, 0x500}
	for _, e := range entries {
		f.entry(e, 0x1000, 0x1000, "drv.sys", "")
	}
	f.list(0, entries...)

	w, err := WalkModules(mem.space(), win7(t), 0, WithMaxEntries(2))
	require.NoError(t, err)
	mods := w.Collect()
	require.Len(t, mods, 2)
	assert.True(t, errors.Is(w.Err(), kerrors.ErrNonTerminatingList))

	w, err = WalkModules(mem.space(), win7(t), 0, WithMaxEntries(5))
	require.NoError(t, err)
	assert.Len(t, w.Collect(), 5)
	assert.NoError(t, w.Err())
}

func TestWalkModulesNullLink(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x800)
	f.entry(0x100, 0x1000, 0x2000, "drv1.sys", "")
	f.entry(0x200, 0x5000, 0x1000, "drv2.sys", "")
	f.list(0, 0x100, 0x200)
	f.u64(0x200, 0)

	w, err := WalkModules(mem.space(), win7(t), 0)
	require.NoError(t, err)
	assert.Len(t, w.Collect(), 2)
	assert.NoError(t, w.Err())
}

func TestWalkModulesTruncatedDescriptor(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x800)
	f.entry(0x100, 0x1000, 0x2000, "drv1.sys", "")
	f.list(0, 0x100)
	f.w.Write(0xfc0, make([]byte, 0x40))
	// the next descriptor starts 0x20 bytes before the end of the image
	f.u64(0x100, 0xfe0)

	w, err := WalkModules(mem.space(), win7(t), 0)
	require.NoError(t, err)
	mods := w.Collect()
	require.Len(t, mods, 1)
	assert.True(t, errors.Is(w.Err(), kerrors.ErrTruncatedStructure))
}

func TestWalkModulesUnreadableAnchor(t *testing.T) {
	mem := &flat{b: make([]byte, 0x100)}
	w, err := WalkModules(mem.space(), win7(t), 0x1000)
	require.NoError(t, err)
	assert.Empty(t, w.Collect())
	assert.True(t, kerrors.IsUnmapped(w.Err()))
}

func TestWalkModulesPaged(t *testing.T) {
	const (
		anchor   va.Address = 0xfffff80002c4b890
		ntoskrnl va.Address = 0xfffffa8000c39890
		hal      va.Address = 0xfffffa8000c39790
		missing  va.Address = 0xfffffa8000e00000
	)

	b := astest.NewBuilder()
	f := newFixture(b, 0xfffff8a000100000)
	f.entry(ntoskrnl, 0xfffff80002a4b000, 0x5e7000, "ntoskrnl.exe", `\SystemRoot\system32\ntoskrnl.exe`)
	f.entry(hal, 0xfffff80002a02000, 0x49000, "hal.dll", `\SystemRoot\system32\hal.dll`)
	f.list(anchor, ntoskrnl, hal)
	// the name buffer of hal.dll resides in the page missing from the image
	f.u64(hal.Inc(ldrBaseDllName+8), missing.Uint64())

	as := b.Space()
	w, err := WalkModules(as, win7(t), anchor)
	require.NoError(t, err)
	mods := w.Collect()
	require.NoError(t, w.Err())
	require.Len(t, mods, 2)

	assert.Equal(t, "ntoskrnl.exe", mods[0].BaseName.String())
	assert.Equal(t, va.Address(0xfffff80002a4b000), mods[0].Base)
	assert.Equal(t, as, mods[0].AddressSpace())

	assert.False(t, mods[1].BaseName.Valid())
	assert.Equal(t, "", mods[1].BaseName.Or(""))
	assert.Equal(t, `\SystemRoot\system32\hal.dll`, mods[1].FullPath.String())
}

func TestWalkModulesUnmappedDescriptor(t *testing.T) {
	const (
		anchor  va.Address = 0xfffff80002c4b890
		first   va.Address = 0xfffffa8000c39890
		missing va.Address = 0xfffffa8000e00000
	)

	b := astest.NewBuilder()
	f := newFixture(b, 0xfffff8a000100000)
	f.entry(first, 0xfffff80002a4b000, 0x5e7000, "ntoskrnl.exe", "")
	f.list(anchor, first)
	f.u64(first, missing.Uint64())

	w, err := WalkModules(b.Space(), win7(t), anchor)
	require.NoError(t, err)
	mods := w.Collect()
	require.Len(t, mods, 1)
	assert.Equal(t, first, mods[0].Offset)
	assert.True(t, kerrors.IsUnmapped(w.Err()))
}
