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
	"fmt"
	"io"
	"runtime"
	"sync"

	semver "github.com/hashicorp/go-version"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/modscan/pkg/layout"
)

var (
	version string
	commit  string
	date    string
)

var (
	once sync.Once
	sem  *semver.Version
)

// Set initializes the build information as global variables.
func Set(v, c, d string) {
	version, commit, date = v, c, d
}

// Get returns the version string.
func Get() string {
	if IsDev() {
		return "dev"
	}
	return version
}

// IsDev determines if this is a dev version.
func IsDev() bool { return version == "0.0.0" || version == "" }

// Sem returns a semver spec. Dev builds are reported as 0.0.0.
func Sem() *semver.Version {
	once.Do(func() {
		var err error
		sem, err = semver.NewSemver(version)
		if err != nil {
			sem = semver.Must(semver.NewSemver("0.0.0"))
		}
	})
	return sem
}

// Render dumps the build information along with the profiles supported by this build.
func Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	v := Get()
	if !IsDev() {
		v = Sem().String()
	}
	t.AppendRow(table.Row{"Version", v})
	t.AppendRow(table.Row{"Commit", commit})
	t.AppendRow(table.Row{"Build date", date})

	t.AppendSeparator()

	t.AppendRow(table.Row{"Go compiler", runtime.Version()})
	t.AppendRow(table.Row{"Profile format", fmt.Sprintf("%s (%d built-in)", layout.FormatConstraint(), len(layout.Names()))})

	t.Render()
}
