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

// Package spinner shows the progress indicator while long-running scans are in flight.
package spinner

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner is the progress indicator that can be stopped.
type Spinner interface {
	Stop()
}

type noop struct{}

func (noop) Stop() {}

// Show creates a new spinner writing to standard error and starts it.
func Show(prefix string) Spinner { return ShowTo(os.Stderr, prefix) }

// ShowTo creates a new spinner writing to w and starts it. A nil
// writer yields the spinner that shows nothing.
func ShowTo(w io.Writer, prefix string) Spinner {
	if w == nil {
		return noop{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Prefix = "> " + prefix + " "
	s.HideCursor = true
	s.Start()
	return s
}
