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
	"text/template"

	"github.com/rabbitstack/modscan/pkg/render"
)

var schema = `
{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {"address": {"$id": "#address", "type": "string", "pattern": "^((0[xX])?[0-9a-fA-F]*)$"}},

	"type": "object",
	"properties": {
		"config-file":		{"type": "string"},
		"image":			{"type": "string"},
		"profile":			{"type": "string", "minLength": 1},
		"profile-path":		{"type": "string"},
		"dtb":				{"$ref": "#address"},
		"kdbg":				{"$ref": "#address"},
		"kernel": {
			"type": "object",
			"properties": {
				"loaded-module-list":	{"$ref": "#address"}
			},
			"additionalProperties": false
		},
		"modules": {
			"type": "object",
			"properties": {
				"physical-offset":	{"type": "boolean"},
				"max-entries":		{"type": "integer", "minimum": 1, "maximum": {{ .MaxListEntries }}},
				"verify-headers":	{"type": "boolean"}
			},
			"additionalProperties": false
		},
		"unloaded": {
			"type": "object",
			"properties": {
				"capacity":			{"type": "integer", "minimum": 0, "maximum": {{ .MaxUnloadedCapacity }}}
			},
			"additionalProperties": false
		},
		"output": {
			"type": "object",
			"properties": {
				"format":			{"type": "string", "enum": [{{ range $i, $f := .Formats }}{{ if $i }}, {{ end }}"{{ $f }}"{{ end }}]},
				"template":			{"type": "string"}
			},
			"if": {
				"properties": {"format": { "const": "template" }}
			},
			"then": {
				"properties": {"template": {"minLength": 1}}
			},
			"additionalProperties": false
		},
		"cache": {
			"type": "object",
			"properties": {
				"size":				{"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		},
		"scan": {
			"type": "object",
			"properties": {
				"kernel-only":		{"type": "boolean"}
			},
			"additionalProperties": false
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": 			{"type": "string", "enum": ["panic", "fatal", "error", "warn", "warning", "info", "debug", "trace"]},
				"max-age":			{"type": "integer"},
				"max-backups":		{"type": "integer", "minimum": 1},
				"max-size":			{"type": "integer", "minimum": 1},
				"formatter":		{"type": "string", "enum": ["json", "text"]},
				"path":				{"type": "string"},
				"log-stderr":		{"type": "boolean"}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}
`

type schemaConfig struct {
	MaxListEntries      int
	MaxUnloadedCapacity int
	Formats             []render.Format
}

func interpolateSchema() string {
	tmpl := template.Must(template.New("schema").Parse(schema))

	var b bytes.Buffer
	err := tmpl.Execute(&b, &schemaConfig{
		MaxListEntries:      1 << 20,
		MaxUnloadedCapacity: 1024,
		Formats:             render.Formats,
	})
	if err != nil {
		return ""
	}

	return b.String()
}
