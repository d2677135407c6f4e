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

// Package rotate provides the logrus hook that writes log entries to size-rotated files.
package rotate

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the configuration for the rotate file hook.
type Config struct {
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	Level      logrus.Level
	Formatter  logrus.Formatter
}

// File represents the rotate file hook. Each entry is decorated
// with the source location of the logging call.
type File struct {
	config Config
	w      io.Writer
}

// NewHook builds a new rotate file hook.
func NewHook(config Config) (logrus.Hook, error) {
	if config.Filename == "" {
		return nil, errors.New("log file name is empty")
	}
	if config.Formatter == nil {
		return nil, errors.New("log formatter is required")
	}
	return &File{
		config: config,
		w: &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		},
	}, nil
}

// Levels determines log levels that for which the logs are written.
func (hook *File) Levels() []logrus.Level {
	return logrus.AllLevels[:hook.config.Level+1]
}

// Fire is called by logrus when it is about to write the log entry.
func (hook *File) Fire(entry *logrus.Entry) error {
	modified := entry.WithField("source", source())
	modified.Level = entry.Level
	modified.Message = entry.Message
	modified.Time = entry.Time
	b, err := hook.config.Formatter.Format(modified)
	if err != nil {
		return err
	}
	_, err = hook.w.Write(b)
	return err
}

// ignored frames belong to the logging machinery rather than the caller
var ignoredFiles = []string{"log/logger.go", "rotate/rotate.go"}

func ignored(frame runtime.Frame) bool {
	if strings.HasPrefix(frame.Function, "runtime.") || strings.HasPrefix(frame.Function, "github.com/sirupsen/logrus.") {
		return true
	}
	for _, suffix := range ignoredFiles {
		if strings.HasSuffix(frame.File, suffix) {
			return true
		}
	}
	return false
}

// source returns the last two path elements of the file that
// issued the logging call along with the line number.
func source() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !ignored(frame) {
			return fmt.Sprintf("%s:%d", lastElems(frame.File, 2), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

func lastElems(path string, n int) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			n--
			if n == 0 {
				return path[i+1:]
			}
		}
	}
	return path
}
