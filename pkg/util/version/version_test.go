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

package version

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	Set("", "", "")
	once = sync.Once{}
	assert.True(t, IsDev())
	assert.Equal(t, "dev", Get())
	assert.Equal(t, "0.0.0", Sem().String())

	Set("1.2.0", "8c9f03a", "2024-06-01")
	once = sync.Once{}
	assert.False(t, IsDev())
	assert.Equal(t, "1.2.0", Get())
	assert.Equal(t, "1.2.0", Sem().String())

	var b bytes.Buffer
	Render(&b)
	assert.Contains(t, b.String(), "1.2.0")
	assert.Contains(t, b.String(), "8c9f03a")
	assert.Contains(t, b.String(), "built-in")
}
