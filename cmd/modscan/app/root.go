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
	"github.com/rabbitstack/modscan/cmd/modscan/app/config"
	"github.com/rabbitstack/modscan/pkg/util/version"
	"github.com/spf13/cobra"
)

// RootCmd is the entrance to modscan CLI
var RootCmd = &cobra.Command{
	Use:   "modscan",
	Short: "Kernel module enumeration from physical memory images",
	Long: `
	modscan enumerates the kernel modules recorded in the physical memory image
	of the 64-bit Windows system. It walks the loaded modules list anchored at the
	PsLoadedModuleList kernel variable and parses the unloaded drivers array that
	keeps the traces of recently unloaded drivers. Kernel structures are decoded
	with layout profiles, so new builds can be supported without recompiling.
	`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		version.Set(ver, commit, built)
	},
}

func init() {
	RootCmd.AddCommand(modulesCmd)
	RootCmd.AddCommand(unloadedCmd)
	RootCmd.AddCommand(kdbgscanCmd)
	RootCmd.AddCommand(profilesCmd)
	RootCmd.AddCommand(config.Cmd)
	RootCmd.AddCommand(versionCmd)
}
