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

package bootstrap

import (
	"github.com/rabbitstack/modscan/pkg/config"
	"github.com/rabbitstack/modscan/pkg/util/log"
	"github.com/sirupsen/logrus"
)

// InitConfigAndLogger reads the optional config file, initializes the
// configuration from flags, env variables and the file, and sets up the
// logger. A config file that fails to load is reported once the logger
// is ready, and the analysis continues with the remaining sources. A
// loaded file must pass the schema validation.
func InitConfigAndLogger(cfg *config.Config) error {
	file := cfg.File()
	var loadErr error
	if file != "" {
		loadErr = cfg.TryLoadFile(file)
	}
	if err := cfg.Init(); err != nil {
		return err
	}
	if file != "" && loadErr == nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := log.InitFromConfig(cfg.Log, "modscan.log"); err != nil {
		return err
	}
	switch {
	case loadErr != nil:
		logrus.Warnf("unable to load configuration from %s: %v", file, loadErr)
	case file != "":
		logrus.Infof("configuration loaded from %s", file)
	}
	return nil
}
