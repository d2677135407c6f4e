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
	"bytes"
	"expvar"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// zstdMagic identifies zstd frames. Compressed images are
// transparently decompressed into memory when opened.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var imageBytesLoaded = expvar.NewInt("image.bytes.loaded")

// Image represents the raw physical memory image. Reads are
// served from immutable bytes, so the image can be read from
// multiple goroutines.
type Image interface {
	io.ReaderAt
	io.Closer
	// Size returns the number of bytes in the image.
	Size() int64
	// Name returns the name or the path of the image.
	Name() string
}

// Open opens the memory image located at the given path. The image format
// is determined by sniffing the first bytes of the file. Uncompressed images
// are memory-mapped, while zstd images are inflated into a pooled buffer.
func Open(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%q memory image does not exist", path)
		}
		return nil, err
	}
	magic := make([]byte, len(zstdMagic))
	n, err := f.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		_ = f.Close()
		return nil, err
	}

	var img Image
	if n == len(zstdMagic) && bytes.Equal(magic, zstdMagic) {
		img, err = openZstd(path, f)
	} else {
		img, err = openRaw(path, f)
	}
	if err != nil {
		return nil, err
	}
	imageBytesLoaded.Add(img.Size())
	log.Infof("opened %s memory image (%s)", path, humanize.Bytes(uint64(img.Size())))
	return img, nil
}

// FromBytes wraps the byte slice into the memory image.
func FromBytes(name string, b []byte) Image { return &mem{name: name, b: b} }

// mem is the image backed by the byte slice.
type mem struct {
	name string
	b    []byte
}

func (m *mem) ReadAt(p []byte, off int64) (int, error) { return readAt(m.b, p, off) }
func (m *mem) Size() int64                              { return int64(len(m.b)) }
func (m *mem) Name() string                             { return m.name }
func (m *mem) Close() error                             { return nil }

func readAt(b, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
