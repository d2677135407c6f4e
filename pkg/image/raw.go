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
	"errors"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

var errEmptyImage = errors.New("memory image is empty")

// raw is the memory-mapped image of the physical memory laid out flat in the file.
type raw struct {
	name string
	f    *os.File
	m    mmap.MMap
	once sync.Once
}

func openRaw(path string, f *os.File) (Image, error) {
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		_ = f.Close()
		return nil, errEmptyImage
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &raw{name: path, f: f, m: m}, nil
}

func (r *raw) ReadAt(p []byte, off int64) (int, error) { return readAt(r.m, p, off) }
func (r *raw) Size() int64                              { return int64(len(r.m)) }
func (r *raw) Name() string                             { return r.name }

func (r *raw) Close() error {
	var err error
	r.once.Do(func() {
		if err = r.m.Unmap(); err != nil {
			_ = r.f.Close()
			return
		}
		err = r.f.Close()
	})
	return err
}
