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
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// flatten turns the nested settings into the dotted keys, e.g. modules.max-entries.
func flatten(prefix string, settings map[string]interface{}, out map[string]interface{}) {
	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]interface{}); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = v
	}
}

func printValue(value interface{}) string {
	switch v := value.(type) {
	case []interface{}:
		s := make([]string, len(v))
		for i, e := range v {
			s[i] = fmt.Sprintf("%v", e)
		}
		return strings.Join(s, ",")
	case []string:
		return strings.Join(v, ",")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (c *Config) printLine(buffer *bytes.Buffer, maxLength int, key string, value string) {
	if value != "" {
		buffer.WriteString("\n\t")
		buffer.WriteString(key)
		buffer.WriteString(" ")
		buffer.WriteString(strings.Repeat(".", maxLength-len(key)+5))
		buffer.WriteString(" ")
		buffer.WriteString(value)
	}
}

// Print returns the string with all the config options pretty-printed.
// Options with empty values are omitted.
func (c *Config) Print() string {
	opts := make(map[string]interface{})
	flatten("", c.viper.AllSettings(), opts)

	var buffer bytes.Buffer
	var maxKeyLen = 20

	keys := make([]string, 0, len(opts))
	// for printing we need to find the max key length
	for key := range opts {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c.printLine(&buffer, maxKeyLen, key, printValue(opts[key]))
	}

	return buffer.String()
}
