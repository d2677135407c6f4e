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

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverableErrors(t *testing.T) {
	err := Unmapped(0xfffff80002a4b000)
	assert.True(t, IsUnmapped(err))
	assert.True(t, IsRecoverable(err))
	assert.Contains(t, err.Error(), "0xfffff80002a4b000")

	err = Truncated("_LDR_DATA_TABLE_ENTRY", 0x1000, ShortRead(0x1000, 4, 0xe0))
	assert.True(t, errors.Is(err, ErrTruncatedStructure))
	assert.False(t, IsUnmapped(err))
	assert.True(t, IsRecoverable(err))

	assert.False(t, IsRecoverable(ErrProfileNotFound))
	assert.False(t, IsRecoverable(errors.New("open image: no such file")))
}
