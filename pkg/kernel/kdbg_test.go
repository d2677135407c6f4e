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

	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDebugBlock(t *testing.T) {
	b, f := unloadedSpace(arrAddr)
	f.u32(kdbgAddr.Inc(kdbgSize), 0x100)
	as := b.Space()
	p := win7(t)

	kdbg, err := ReadDebugBlock(as, p, kdbgAddr)
	require.NoError(t, err)
	assert.True(t, kdbg.Valid())
	assert.Equal(t, DebugBlockTag, kdbg.OwnerTag())
	assert.Equal(t, kdbgAddr, kdbg.Addr())
	assert.Equal(t, uint32(0x100), kdbg.Size())
	assert.Equal(t, va.Address(0xfffff80002a4b000), kdbg.KernBase())
	assert.Equal(t, va.Address(0xfffff80002c4b890), kdbg.PsLoadedModuleList())
	assert.Equal(t, va.Address(0), kdbg.PsActiveProcessHead())
	assert.Equal(t, ringAddr, kdbg.MmUnloadedDrivers())
	assert.Equal(t, lastAddr, kdbg.MmLastUnloadedDriver())

	slot, err := kdbg.LastUnloadedSlot()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), slot)

	err = kdbg.Validate(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrInvalidDebugBlock))

	f.u32(kdbgAddr.Inc(kdbgSize), 0x340)
	kdbg, err = ReadDebugBlock(b.Space(), p, kdbgAddr)
	require.NoError(t, err)
	assert.NoError(t, kdbg.Validate(p))

	// no owner tag
	kdbg, err = ReadDebugBlock(b.Space(), p, kdbgAddr.Inc(0x400))
	require.NoError(t, err)
	assert.False(t, kdbg.Valid())
	assert.True(t, errors.Is(kdbg.Validate(p), kerrors.ErrInvalidDebugBlock))
	_, err = kdbg.LastUnloadedSlot()
	assert.True(t, kerrors.IsUnmapped(err))
}

func TestScanDebugBlocks(t *testing.T) {
	const (
		decoy va.Address = 0xfffff80002bf7800
		alias va.Address = 0xfffff80003000000
		user  va.Address = 0x00000000010000a0
	)
	b, f := unloadedSpace(arrAddr)
	f.kdbg(user, 0, 0, 0)
	f.w.Write(decoy.Inc(kdbgTag), []byte(DebugBlockTag))
	f.u32(decoy.Inc(kdbgSize), 0x100)

	phys, err := b.Space().Translate(kdbgAddr.PageBase())
	require.NoError(t, err)
	b.Map(alias, phys)
	as := b.Space()
	p := win7(t)

	hits, err := ScanDebugBlocks(as, p)
	require.NoError(t, err)
	assert.Equal(t, []va.Address{kdbgAddr}, hits)

	hits, err = ScanDebugBlocks(as, p, WithKernelOnly(false))
	require.NoError(t, err)
	assert.Equal(t, []va.Address{user, kdbgAddr}, hits)

	hits, err = ScanDebugBlocks(as, p, WithKernelOnly(false), WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, []va.Address{user}, hits)
}

func TestScanDebugBlocksPhysical(t *testing.T) {
	mem := &flat{}
	f := newFixture(mem, 0x4000)
	f.kdbg(0x20a0, 0x100, 0x200, 0)
	f.w.Write(0x5000, make([]byte, 0x10))

	hits, err := ScanDebugBlocks(mem.space(), win7(t))
	require.NoError(t, err)
	assert.Equal(t, []va.Address{0x20a0}, hits)
}
