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

	"github.com/rabbitstack/modscan/pkg/addrspace"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
)

// View is the typed view of the structure bytes read from the address
// space. The view retains the address space, so pointers found in the
// structure are always resolved against the space it was read from.
type View struct {
	layout *Layout
	as     addrspace.AddressSpace
	addr   va.Address
	b      []byte
}

// Read instantiates the structure at the given address. Only the
// bytes spanned by the declared fields are read. The returned error
// is the unmapped error when the structure resides in a page missing
// from the image and the truncated structure error when the image
// ends before the structure does.
func Read(as addrspace.AddressSpace, addr va.Address, l *Layout) (*View, error) {
	b, err := as.Read(addr, int(l.Extent()))
	if err != nil {
		if errors.Is(err, kerrors.ErrShortRead) {
			return nil, kerrors.Truncated(l.Name, addr.Uint64(), err)
		}
		return nil, err
	}
	return &View{layout: l, as: as, addr: addr, b: b}, nil
}

// Addr returns the address of the structure.
func (v *View) Addr() va.Address { return v.addr }

// AddressSpace returns the address space the structure was read from.
func (v *View) AddressSpace() addrspace.AddressSpace { return v.as }

// Layout returns the structure layout.
func (v *View) Layout() *Layout { return v.layout }

// FieldAddr returns the address of the field.
func (v *View) FieldAddr(f Field) va.Address { return v.addr.Inc(uint64(f.Offset)) }

func (v *View) bytes(f Field) ([]byte, error) {
	if f.End() > uint32(len(v.b)) {
		return nil, kerrors.Truncated(v.layout.Name+"."+f.Name, v.FieldAddr(f).Uint64(), kerrors.ErrShortRead)
	}
	return v.b[f.Offset:f.End()], nil
}

// Uint returns the value of the integer or pointer field.
func (v *View) Uint(f Field) (uint64, error) {
	b, err := v.bytes(f)
	if err != nil {
		return 0, err
	}
	switch f.Width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// Pointer returns the value of the pointer field as the address.
func (v *View) Pointer(f Field) (va.Address, error) {
	n, err := v.Uint(f)
	return va.Address(n), err
}

// Bytes returns a copy of the raw field bytes.
func (v *View) Bytes(f Field) ([]byte, error) {
	b, err := v.bytes(f)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Zeroed determines if all the field bytes are zero.
func (v *View) Zeroed(f Field) (bool, error) {
	b, err := v.bytes(f)
	if err != nil {
		return false, err
	}
	for _, c := range b {
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Embedded returns the view of the embedded structure field. The
// view shares the bytes with the enclosing structure.
func (v *View) Embedded(f Field, l *Layout) (*View, error) {
	b, err := v.bytes(f)
	if err != nil {
		return nil, err
	}
	return &View{layout: l, as: v.as, addr: v.FieldAddr(f), b: b}, nil
}

// Deref reads the structure the pointer field points to.
func (v *View) Deref(f Field, l *Layout) (*View, error) {
	ptr, err := v.Pointer(f)
	if err != nil {
		return nil, err
	}
	if ptr.IsZero() {
		return nil, kerrors.Unmapped(0)
	}
	return Read(v.as, ptr, l)
}
