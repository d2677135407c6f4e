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
	"github.com/rabbitstack/modscan/cmd/modscan/common"
	"github.com/rabbitstack/modscan/internal/bootstrap"
	"github.com/rabbitstack/modscan/pkg/config"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List loaded kernel modules",
	Long: `
	Walks the PsLoadedModuleList doubly linked list and prints the module
	descriptors in the load order. The descriptor offsets are virtual unless
	the -P flag is given.
	`,
	Example: "  modscan modules -f win7.raw --dtb 0x187000 -P",
	RunE:    modules,
}

var modulesConfig = config.NewWithOpts(config.WithModules())

func init() {
	modulesConfig.MustViperize(modulesCmd)
}

func modules(cmd *cobra.Command, args []string) error {
	return common.Run(modulesConfig, (*bootstrap.App).Modules)
}
