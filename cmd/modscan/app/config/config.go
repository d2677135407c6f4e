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

package config

import (
	"fmt"
	"os"

	"github.com/rabbitstack/modscan/pkg/config"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Show runtime config",
	RunE:  printConfig,
}

var cfg = config.NewWithOpts(config.WithDump())

func init() {
	cfg.MustViperize(Cmd)
}

func printConfig(cmd *cobra.Command, args []string) error {
	if file := cfg.File(); file != "" {
		if err := cfg.TryLoadFile(file); err != nil {
			return err
		}
	}
	if err := cfg.Init(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, cfg.Print())
	return err
}
