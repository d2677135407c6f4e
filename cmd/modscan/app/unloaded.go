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

var unloadedCmd = &cobra.Command{
	Use:   "unloaded",
	Short: "List recently unloaded kernel drivers",
	Long: `
	Parses the MmUnloadedDrivers array and prints the name, the address range
	and the unload time of every populated slot.
	`,
	Example: "  modscan unloaded -f win7.raw --kdbg 0xfffff80002bf70a0",
	RunE:    unloaded,
}

var unloadedConfig = config.NewWithOpts(config.WithUnloaded())

func init() {
	unloadedConfig.MustViperize(unloadedCmd)
}

func unloaded(cmd *cobra.Command, args []string) error {
	return common.Run(unloadedConfig, (*bootstrap.App).Unloaded)
}
