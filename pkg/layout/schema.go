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

package layout

var schema = `
{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {
		"field": {
			"type": "object",
			"properties": {
				"offset":	{"type": "integer", "minimum": 0},
				"width":	{"type": "integer", "minimum": 1},
				"kind":		{"type": "string", "enum": ["uint8", "uint16", "uint32", "uint64", "pointer", "bytes", "struct"]},
				"type":		{"type": "string", "minLength": 1}
			},
			"required": ["offset", "kind"],
			"if": {
				"properties": {"kind": {"const": "struct"}}
			},
			"then": {
				"required": ["type"]
			},
			"additionalProperties": false
		},
		"struct": {
			"type": "object",
			"properties": {
				"size":		{"type": "integer", "minimum": 1},
				"fields":	{"type": "object", "additionalProperties": {"$ref": "#/definitions/field"}}
			},
			"required": ["size", "fields"],
			"additionalProperties": false
		}
	},

	"type": "object",
	"properties": {
		"name":				{"type": "string", "minLength": 1},
		"format-version":	{"type": "string", "pattern": "^[0-9]+\\.[0-9]+$"},
		"arch":				{"type": "string", "enum": ["amd64", "386"]},
		"pointer-size":		{"type": "integer", "enum": [4, 8]},
		"constants":		{"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
		"structs":			{"type": "object", "additionalProperties": {"$ref": "#/definitions/struct"}}
	},
	"required": ["name", "format-version", "arch", "pointer-size", "structs"],
	"additionalProperties": false
}
`
