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

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// validate checks the configuration document against the schema. Each
// violation is reported as the error prefixed with the offending property.
func validate(schema string, doc interface{}) (bool, []error) {
	converted, err := stringKeys(doc, "")
	if err != nil {
		return false, []error{err}
	}
	r, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(converted))
	if err != nil {
		return false, []error{fmt.Errorf("fail to validate config through schema: %v", err)}
	}
	errs := make([]error, 0, len(r.Errors()))
	for _, e := range r.Errors() {
		field := e.Field()
		if field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			field = "config"
		}
		errs = append(errs, errors.Errorf("%s: %s", field, e.Description()))
	}
	return r.Valid(), errs
}

// stringKeys rewrites the decoded document so every mapping is keyed by
// strings, as the schema loader expects. Non-string keys are rejected.
func stringKeys(v interface{}, path string) (interface{}, error) {
	join := func(k string) string {
		if path == "" {
			return k
		}
		return path + "." + k
	}
	switch doc := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(doc))
		for k, e := range doc {
			c, err := stringKeys(e, join(k))
			if err != nil {
				return nil, err
			}
			m[k] = c
		}
		return m, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(doc))
		for k, e := range doc {
			s, ok := k.(string)
			if !ok {
				return nil, errors.Errorf("%s: non-string key %#v", join(""), k)
			}
			c, err := stringKeys(e, join(s))
			if err != nil {
				return nil, err
			}
			m[s] = c
		}
		return m, nil
	case []interface{}:
		l := make([]interface{}, len(doc))
		for i, e := range doc {
			c, err := stringKeys(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			l[i] = c
		}
		return l, nil
	}
	return v, nil
}
