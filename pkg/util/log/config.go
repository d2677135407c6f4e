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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	logLevel      = "logging.level"
	logMaxAge     = "logging.max-age"
	logMaxBackups = "logging.max-backups"
	logMaxSize    = "logging.max-size"
	logFormatter  = "logging.formatter"
	logPath       = "logging.path"
	logStderr     = "logging.log-stderr"
)

// Config controls where the log lines go and how the log files are rotated.
type Config struct {
	// Level is the minimum level of the emitted log lines.
	Level string `json:"level" yaml:"level"`
	// MaxAge is the number of days the rotated files are kept for. Zero keeps them forever.
	MaxAge int `json:"max-age" yaml:"max-age"`
	// MaxBackups is the number of rotated files kept on disk.
	MaxBackups int `json:"max-backups" yaml:"max-backups"`
	// MaxSize is the size in megabytes that triggers the rotation.
	MaxSize int `json:"max-size" yaml:"max-size"`
	// Formatter is either json or text.
	Formatter string `json:"formatter" yaml:"formatter"`
	// Path is the logs directory. The user cache directory is used if empty.
	Path string `json:"path" yaml:"path"`
	// LogStderr mirrors the log lines to standard error. Standard output
	// is reserved for the rendered results.
	LogStderr bool `json:"log-stderr" yaml:"log-stderr"`
}

var defaults = Config{
	Level:      "info",
	MaxBackups: 15,
	MaxSize:    100,
	Formatter:  "json",
}

// InitFromViper initializes logging configuration from Viper.
func (c *Config) InitFromViper(v *viper.Viper) {
	c.Level = v.GetString(logLevel)
	c.MaxAge = v.GetInt(logMaxAge)
	c.MaxBackups = v.GetInt(logMaxBackups)
	c.MaxSize = v.GetInt(logMaxSize)
	c.Formatter = v.GetString(logFormatter)
	c.Path = v.GetString(logPath)
	c.LogStderr = v.GetBool(logStderr)
}

// AddFlags registers persistent logging flags.
func (c *Config) AddFlags(flags *pflag.FlagSet) {
	flags.String(logLevel, defaults.Level, "Minimum level of the emitted log lines (panic|fatal|error|warn|info|debug|trace)")
	flags.Int(logMaxAge, defaults.MaxAge, "Number of days the rotated log files are kept for. Zero keeps them forever")
	flags.Int(logMaxBackups, defaults.MaxBackups, "Number of rotated log files kept on disk")
	flags.Int(logMaxSize, defaults.MaxSize, "Size in megabytes of the log file that triggers the rotation")
	flags.String(logFormatter, defaults.Formatter, "Log line format (json|text)")
	flags.String(logPath, defaults.Path, "Logs directory. Defaults to the modscan directory in the user cache directory")
	flags.Bool(logStderr, defaults.LogStderr, "Mirrors the log lines to standard error")
}
