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

package filetime

import (
	"time"
)

const (
	// epochDelta is the number of 100-nanosecond intervals between
	// January 1, 1601 and January 1, 1970.
	epochDelta = 116444736000000000
	// maxDelta is the largest distance from the Unix epoch, expressed
	// in 100-nanosecond intervals, that still fits into int64 nanoseconds.
	maxDelta = (1<<63 - 1) / 100
)

// ToEpoch converts file timestamp to Unix time. Timestamps that can't be
// represented as Unix nanoseconds are clamped to the zero time. Use Valid
// to tell them apart.
func ToEpoch(ts uint64) time.Time {
	if !Valid(ts) {
		return time.Time{}
	}
	return time.Unix(0, nanoseconds(ts)).UTC()
}

// Valid determines if the timestamp is representable as Unix time.
func Valid(ts uint64) bool {
	if ts > 1<<63-1 {
		return false
	}
	d := int64(ts) - epochDelta
	return d <= maxDelta && d >= -maxDelta
}

// nanoseconds returns Filetime ft in nanoseconds
// since Epoch (00:00:00 UTC, January 1, 1970).
func nanoseconds(ts uint64) int64 {
	// 100-nanosecond intervals since January 1, 1601
	nsec := int64(ts)
	// change starting time to the Epoch (00:00:00 UTC, January 1, 1970)
	nsec -= epochDelta
	// convert into nanoseconds
	nsec *= 100
	return nsec
}
