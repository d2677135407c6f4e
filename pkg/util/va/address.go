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

package va

import (
	"fmt"
	"strconv"
	"strings"
)

// PageSize is the size of the smallest page on x64.
const PageSize = 0x1000

// Address represents the memory address
type Address uint64

// String returns the hexadecimal representation of the memory address.
func (a Address) String() string { return strconv.FormatUint(uint64(a), 16) }
func (a Address) Uint64() uint64 { return uint64(a) }
func (a Address) IsZero() bool   { return a == 0 }

// Hex returns the address as zero-padded 64-bit hexadecimal number prefixed with 0x.
func (a Address) Hex() string { return fmt.Sprintf("0x%016x", uint64(a)) }

// Inc increments the address by given offset.
func (a Address) Inc(offset uint64) Address {
	a += Address(offset)
	return a
}

// Dec decrements the address by given offset.
func (a Address) Dec(offset uint64) Address {
	a -= Address(offset)
	return a
}

// PageBase returns the address of the page containing this address.
func (a Address) PageBase() Address { return a &^ (PageSize - 1) }

// PageOffset returns the offset of the address within its page.
func (a Address) PageOffset() uint64 { return uint64(a) & (PageSize - 1) }

// InSystemRange determines if this address is in the system address space range.
func (a Address) InSystemRange() bool { return a >= 0xffff800000000000 }

// Canonical sign-extends the 48-bit address to the canonical 64-bit form.
func Canonical(a uint64) Address {
	if a&(1<<47) != 0 {
		return Address(a | 0xffff000000000000)
	}
	return Address(a & 0x0000ffffffffffff)
}

// Parse parses the address from the hexadecimal (0x prefixed or bare) or decimal string.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
		base = 16
	case strings.ContainsAny(s, "abcdefABCDEF"):
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %v", s, err)
	}
	return Address(v), nil
}
