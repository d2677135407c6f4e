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

package image

import (
	"fmt"
	"os"
	"sync"

	"github.com/valyala/bytebufferpool"
	zstd "github.com/valyala/gozstd"
)

// compressed is the image inflated from the zstd stream.
type compressed struct {
	name string
	bb   *bytebufferpool.ByteBuffer
	once sync.Once
}

func openZstd(path string, f *os.File) (Image, error) {
	defer f.Close()
	zr := zstd.NewReader(f)
	defer zr.Release()

	bb := bytebufferpool.Get()
	if _, err := bb.ReadFrom(zr); err != nil {
		bytebufferpool.Put(bb)
		return nil, fmt.Errorf("couldn't decompress %s image: %v", path, err)
	}
	if bb.Len() == 0 {
		bytebufferpool.Put(bb)
		return nil, errEmptyImage
	}
	return &compressed{name: path, bb: bb}, nil
}

func (c *compressed) ReadAt(p []byte, off int64) (int, error) { return readAt(c.bb.B, p, off) }
func (c *compressed) Size() int64                              { return int64(c.bb.Len()) }
func (c *compressed) Name() string                             { return c.name }

// Close returns the buffer to the pool. The image must not be read afterwards.
func (c *compressed) Close() error {
	c.once.Do(func() { bytebufferpool.Put(c.bb) })
	return nil
}
