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
	"errors"
	"testing"

	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhysical(t *testing.T) {
	mem := make([]byte, 0x2100)
	mem[0x2000] = 0x41
	mem[0x2008] = 0x08
	p := NewPhysical(image.FromBytes("phys", mem))

	off, err := p.Translate(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000), off)

	_, err = p.Translate(0x3000)
	assert.True(t, kerrors.IsUnmapped(err))

	b, err := p.Read(0x2000, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41}, b)

	_, err = p.Read(0x20f0, 0x20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrShortRead))

	ptr, err := ReadPointer(p, 0x2008, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), ptr.Uint64())

	var n int
	p.Pages(func(pg Page) bool {
		n++
		return true
	})
	assert.Equal(t, 3, n)
}
