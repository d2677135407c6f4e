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

package layout

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rabbitstack/modscan/pkg/addrspace"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView(t *testing.T) {
	p, err := Get("Win7SP1x64")
	require.NoError(t, err)
	entry, err := p.Layout("_LDR_DATA_TABLE_ENTRY")
	require.NoError(t, err)
	ustr, err := p.Layout("_UNICODE_STRING")
	require.NoError(t, err)

	mem := make([]byte, 0x1000)
	binary.LittleEndian.PutUint64(mem[0x100+0x30:], 0xfffff80002a4b000)
	binary.LittleEndian.PutUint32(mem[0x100+0x40:], 0x5e7000)
	binary.LittleEndian.PutUint16(mem[0x100+0x58:], 24)
	binary.LittleEndian.PutUint64(mem[0x100+0x60:], 0x800)

	as := addrspace.NewPhysical(image.FromBytes("view", mem))
	v, err := Read(as, 0x100, entry)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), v.Addr().Uint64())
	assert.Equal(t, as, v.AddressSpace())

	base, err := v.Pointer(entry.Fields["DllBase"])
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffff80002a4b000), base.Uint64())

	size, err := v.Uint(entry.Fields["SizeOfImage"])
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5e7000), size)

	name, err := v.Embedded(entry.Fields["BaseDllName"], ustr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x158), name.Addr().Uint64())
	n, err := name.Uint(ustr.Fields["Length"])
	require.NoError(t, err)
	assert.Equal(t, uint64(24), n)

	zeroed, err := v.Zeroed(entry.Fields["FullDllName"])
	require.NoError(t, err)
	assert.True(t, zeroed)

	b, err := v.Bytes(entry.Fields["SizeOfImage"])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x70, 0x5e, 0x00}, b)

	// field outside the bytes read for the view
	_, err = v.Uint(Field{Name: "Bogus", Offset: 0xd8, Width: 8, Kind: Uint64})
	assert.True(t, errors.Is(err, kerrors.ErrTruncatedStructure))
}

func TestReadTruncated(t *testing.T) {
	p, err := Get("Win7SP1x64")
	require.NoError(t, err)
	entry, err := p.Layout("_LDR_DATA_TABLE_ENTRY")
	require.NoError(t, err)

	as := addrspace.NewPhysical(image.FromBytes("short", make([]byte, 0x40)))
	_, err = Read(as, 0x10, entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrTruncatedStructure))

	_, err = Read(as, 0x100, entry)
	require.Error(t, err)
	assert.True(t, kerrors.IsUnmapped(err))
}

func TestDeref(t *testing.T) {
	p, err := Get("Win7SP1x64")
	require.NoError(t, err)
	list, err := p.Layout("_LIST_ENTRY")
	require.NoError(t, err)

	mem := make([]byte, 0x100)
	binary.LittleEndian.PutUint64(mem[0x0:], 0x40)
	binary.LittleEndian.PutUint64(mem[0x40:], 0x80)

	as := addrspace.NewPhysical(image.FromBytes("deref", mem))
	head, err := Read(as, 0, list)
	require.NoError(t, err)
	next, err := head.Deref(list.Fields["Flink"], list)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40), next.Addr().Uint64())

	// null Blink
	_, err = head.Deref(list.Fields["Blink"], list)
	assert.True(t, kerrors.IsUnmapped(err))
}
