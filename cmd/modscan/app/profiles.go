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

package app

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/modscan/pkg/layout"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List built-in layout profiles",
	RunE:  listProfiles,
}

// listProfiles renders a table with the built-in profiles showing the architecture and the number of structures.
func listProfiles(cmd *cobra.Command, args []string) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Name", "Arch", "Format", "Structures"})
	t.SetStyle(table.StyleLight)

	for _, name := range layout.Names() {
		p, err := layout.Get(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{p.Name, p.Arch, p.FormatVersion, len(p.Structs)})
	}
	t.Render()

	return nil
}
