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
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrUnmapped signals the virtual address doesn't translate to a page present in the memory image
	ErrUnmapped = errors.New("address is not mapped")
	// ErrShortRead is returned when fewer bytes are available in the image than requested
	ErrShortRead = errors.New("short read")
	// ErrTruncatedStructure indicates the structure couldn't be read in its entirety
	ErrTruncatedStructure = errors.New("truncated structure")
	// ErrNonTerminatingList is returned when the circular list walk doesn't close within the iteration bound
	ErrNonTerminatingList = errors.New("linked list doesn't terminate")
	// ErrInvalidDebugBlock signals the kernel debugger data block lacks the expected owner tag
	ErrInvalidDebugBlock = errors.New("invalid kernel debugger data block")
	// ErrProfileNotFound is returned when the requested profile is neither built-in nor loaded from a file
	ErrProfileNotFound = errors.New("profile not found")

	// ErrFieldNotFound is thrown when the structure layout doesn't declare the field
	ErrFieldNotFound = func(layout, field string) error {
		return fmt.Errorf("%s layout has no %s field", layout, field)
	}
)

// Unmapped wraps the unmapped error with the offending address.
func Unmapped(addr uint64) error { return pkgerrors.Wrapf(ErrUnmapped, "%#x", addr) }

// ShortRead wraps the short read error with the offset and the number of bytes read/requested.
func ShortRead(off uint64, n, size int) error {
	return pkgerrors.Wrapf(ErrShortRead, "read %d of %d bytes at %#x", n, size, off)
}

// Truncated wraps the truncated structure error.
func Truncated(name string, addr uint64, err error) error {
	return pkgerrors.Wrapf(ErrTruncatedStructure, "%s at %#x: %v", name, addr, err)
}

// IsUnmapped determines if the error originates from the address translation failure.
func IsUnmapped(err error) bool { return errors.Is(err, ErrUnmapped) }

// IsRecoverable returns true for errors that stem from the missing or
// corrupted memory. These errors degrade the result instead of failing it.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnmapped) ||
		errors.Is(err, ErrShortRead) ||
		errors.Is(err, ErrTruncatedStructure) ||
		errors.Is(err, ErrNonTerminatingList) ||
		errors.Is(err, ErrInvalidDebugBlock)
}
