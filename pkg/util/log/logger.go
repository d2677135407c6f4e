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

package log

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rabbitstack/modscan/pkg/util/log/rotate"
	fs "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// loggerErrors counts the failures to set up the rotated log file
var loggerErrors = expvar.NewMap("logger.errors")

// Dir returns the logs directory for the given config.
func Dir(c Config) string {
	if c.Path != "" {
		return c.Path
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "modscan", "logs")
}

func newFormatter(name string) logrus.Formatter {
	if name == "text" {
		return &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	}
	return &logrus.JSONFormatter{}
}

// InitFromConfig sets up the global logrus logger. Log lines are written to
// the rotated file in the logs directory, and mirrored to standard error
// if requested.
func InitFromConfig(c Config, filename string) error {
	if filename == "" {
		return errors.New("got an empty log file name")
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	dir := Dir(c)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("unable to create the %s logs directory: %v", dir, err)
	}
	file := filepath.Join(dir, filename)
	formatter := newFormatter(c.Formatter)

	logrus.SetFormatter(formatter)
	logrus.SetLevel(level)
	var out io.Writer = io.Discard
	if c.LogStderr {
		out = os.Stderr
	}
	logrus.SetOutput(out)

	hook, err := rotate.NewHook(rotate.Config{
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		MaxSize:    c.MaxSize,
		Level:      level,
		Formatter:  formatter,
		Filename:   file,
	})
	if err == nil {
		logrus.AddHook(hook)
		return nil
	}
	// the rotate hook couldn't be set up, so we fall back to the plain file hook
	loggerErrors.Add(err.Error(), 1)
	paths := make(fs.PathMap, len(logrus.AllLevels))
	for _, lvl := range logrus.AllLevels {
		paths[lvl] = file
	}
	logrus.AddHook(fs.NewHook(paths, formatter))
	logrus.Warnf("unable to initialize rotate file hook: %v", err)
	return nil
}
