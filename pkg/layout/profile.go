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

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	semver "github.com/hashicorp/go-version"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mitchellh/mapstructure"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/multierror"
	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var builtin embed.FS

// formatConstraint specifies profile format versions this reader understands.
var formatConstraint = mustConstraint(">= 1.0, < 2.0")

// FormatConstraint returns the supported profile format versions.
func FormatConstraint() string { return formatConstraint.String() }

func mustConstraint(c string) semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Profile is the collection of structure layouts and constants for
// the specific operating system build and architecture.
type Profile struct {
	// Name is the profile name, e.g. Win7SP1x64.
	Name string `mapstructure:"name"`
	// FormatVersion is the version of the profile file format.
	FormatVersion string `mapstructure:"format-version"`
	// Arch is the target architecture.
	Arch string `mapstructure:"arch"`
	// PointerSize is the size of the pointer in bytes.
	PointerSize uint32 `mapstructure:"pointer-size"`
	// Constants stores the build specific constants.
	Constants map[string]uint64 `mapstructure:"constants"`
	// Structs contains the structure layouts keyed by name.
	Structs map[string]*Layout `mapstructure:"structs"`
}

// Layout returns the layout of the named structure.
func (p *Profile) Layout(name string) (*Layout, error) {
	l, ok := p.Structs[name]
	if !ok {
		return nil, fmt.Errorf("%s profile has no %s layout", p.Name, name)
	}
	return l, nil
}

// Field is the shortcut for resolving the field of the named structure.
func (p *Profile) Field(layout, field string) (Field, error) {
	l, err := p.Layout(layout)
	if err != nil {
		return Field{}, err
	}
	return l.Field(field)
}

// Constant returns the value of the named constant.
func (p *Profile) Constant(name string) (uint64, bool) {
	v, ok := p.Constants[name]
	return v, ok
}

// Parse decodes the profile from its YAML representation. The document
// is validated against the profile schema before it is decoded. Field
// widths are derived from their kinds and every field must fit into
// the structure size.
func Parse(b []byte) (*Profile, error) {
	var doc interface{}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("couldn't read the profile: %v", err)
	}
	if valid, errs := validate(doc); !valid || len(errs) > 0 {
		return nil, fmt.Errorf("invalid profile: %v", multierror.Wrap(errs...))
	}

	var p Profile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("couldn't decode the profile: %v", err)
	}
	if err := p.finalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// finalize resolves field names and widths and checks the layouts are consistent.
func (p *Profile) finalize() error {
	ver, err := semver.NewVersion(p.FormatVersion)
	if err != nil {
		return fmt.Errorf("invalid %s profile format version: %v", p.Name, err)
	}
	if !formatConstraint.Check(ver) {
		return fmt.Errorf("%s profile format version %s is not supported", p.Name, ver)
	}
	if p.PointerSize != 4 && p.PointerSize != 8 {
		return fmt.Errorf("%s profile has invalid pointer size %d", p.Name, p.PointerSize)
	}

	var errs []error
	for name, l := range p.Structs {
		l.Name = name
	}
	for _, name := range p.sortedStructs() {
		l := p.Structs[name]
		for _, fname := range l.FieldNames() {
			f := l.Fields[fname]
			f.Name = fname
			switch {
			case f.Kind == Struct:
				nested, ok := p.Structs[f.Type]
				if !ok {
					errs = append(errs, fmt.Errorf("%s.%s references unknown %q layout", name, fname, f.Type))
					continue
				}
				f.Width = nested.Size
			case f.Kind.integer():
				f.Width = f.Kind.width(p.PointerSize)
			case f.Width == 0:
				errs = append(errs, fmt.Errorf("%s.%s byte field requires a width", name, fname))
				continue
			}
			if f.End() > l.Size {
				errs = append(errs, fmt.Errorf("%s.%s at %#x exceeds the %#x structure size", name, fname, f.Offset, l.Size))
				continue
			}
			if f.End() > l.extent {
				l.extent = f.End()
			}
			l.Fields[fname] = f
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid %s profile: %v", p.Name, multierror.Wrap(errs...))
	}
	return nil
}

func (p *Profile) sortedStructs() []string {
	names := make([]string, 0, len(p.Structs))
	for name := range p.Structs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	mu       sync.Mutex
	profiles map[string]*Profile
)

func loadBuiltin() {
	if profiles != nil {
		return
	}
	profiles = make(map[string]*Profile)
	entries, err := builtin.ReadDir("profiles")
	if err != nil {
		panic(err)
	}
	for _, e := range entries {
		b, err := builtin.ReadFile(path.Join("profiles", e.Name()))
		if err != nil {
			panic(err)
		}
		p, err := Parse(b)
		if err != nil {
			panic(fmt.Sprintf("built-in profile %s: %v", e.Name(), err))
		}
		profiles[strings.ToLower(p.Name)] = p
	}
}

// LoadFile parses the profile file and registers the profile under its name.
// Registered profiles shadow built-in profiles with the same name.
func LoadFile(filename string) (*Profile, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	mu.Lock()
	defer mu.Unlock()
	loadBuiltin()
	profiles[strings.ToLower(p.Name)] = p
	log.Infof("loaded %s profile from %s", p.Name, filename)
	return p, nil
}

// Get returns the profile by name. The lookup is case-insensitive.
// When the profile is not found, the error suggests the closest names.
func Get(name string) (*Profile, error) {
	mu.Lock()
	defer mu.Unlock()
	loadBuiltin()
	if p, ok := profiles[strings.ToLower(name)]; ok {
		return p, nil
	}
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	ranks := fuzzy.RankFindFold(name, names)
	if len(ranks) == 0 {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrProfileNotFound, name)
	}
	sort.Sort(ranks)
	return nil, fmt.Errorf("%w: %s. Did you mean %s?", kerrors.ErrProfileNotFound, name, ranks[0].Target)
}

// Names returns the sorted names of the available profiles.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	loadBuiltin()
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func validate(doc interface{}) (bool, []error) {
	r, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return false, []error{fmt.Errorf("fail to validate profile through schema: %v", err)}
	}
	errs := make([]error, len(r.Errors()))
	for i, err := range r.Errors() {
		errs[i] = fmt.Errorf("%s", err.String())
	}
	return r.Valid(), errs
}
