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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rabbitstack/modscan/pkg/cache"
	"github.com/rabbitstack/modscan/pkg/kernel"
	"github.com/rabbitstack/modscan/pkg/render"
	"github.com/rabbitstack/modscan/pkg/util/log"
	"github.com/rabbitstack/modscan/pkg/util/multierror"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configFile       = "config-file"
	imagePath        = "image"
	profileName      = "profile"
	profilePath      = "profile-path"
	dtb              = "dtb"
	kdbg             = "kdbg"
	loadedModuleList = "kernel.loaded-module-list"
	physicalOffset   = "modules.physical-offset"
	maxEntries       = "modules.max-entries"
	verifyHeaders    = "modules.verify-headers"
	unloadedCapacity = "unloaded.capacity"
	outputFormat     = "output.format"
	outputTemplate   = "output.template"
	cacheSize        = "cache.size"
	scanKernelOnly   = "scan.kernel-only"
)

// ModulesConfig contains the options of the loaded modules enumeration.
type ModulesConfig struct {
	// PhysicalOffset reports the physical instead of the virtual descriptor offsets.
	PhysicalOffset bool `json:"physical-offset" yaml:"physical-offset"`
	// MaxEntries bounds the number of visited list entries.
	MaxEntries int `json:"max-entries" yaml:"max-entries"`
	// VerifyHeaders checks the PE header of every module image.
	VerifyHeaders bool `json:"verify-headers" yaml:"verify-headers"`
}

// OffsetMode returns the mode the descriptor offsets are reported in.
func (c ModulesConfig) OffsetMode() kernel.Mode {
	if c.PhysicalOffset {
		return kernel.Physical
	}
	return kernel.Virtual
}

// UnloadedConfig contains the options of the unloaded drivers enumeration.
type UnloadedConfig struct {
	// Capacity overrides the number of slots in the unloaded drivers array.
	Capacity int `json:"capacity" yaml:"capacity"`
}

// OutputConfig determines how the results are rendered.
type OutputConfig struct {
	// Format is the output format.
	Format render.Format `json:"format" yaml:"format"`
	// Template is the text/template used by the template format.
	Template string `json:"template" yaml:"template"`
}

// ScanConfig contains the debugger data block scan options.
type ScanConfig struct {
	// KernelOnly restricts the scan to the kernel half of the address space.
	KernelOnly bool `json:"kernel-only" yaml:"kernel-only"`
}

// Config stores configuration options for fine-tuning the behaviour of modscan.
type Config struct {
	// Image is the path of the memory image.
	Image string `json:"image" yaml:"image"`
	// Profile is the name of the structure layout profile.
	Profile string `json:"profile" yaml:"profile"`
	// ProfilePath is the optional path of the external profile file.
	ProfilePath string `json:"profile-path" yaml:"profile-path"`
	// DTB is the directory table base of the kernel address space. Zero
	// means the image is analyzed as the flat physical address space.
	DTB uint64 `json:"dtb" yaml:"dtb"`
	// KDBG is the virtual address of the debugger data block. Zero means
	// the block is located by scanning.
	KDBG va.Address `json:"kdbg" yaml:"kdbg"`
	// LoadedModuleList overrides the address of the loaded modules list head.
	LoadedModuleList va.Address `json:"loaded-module-list" yaml:"loaded-module-list"`

	// Modules contains the loaded modules enumeration options.
	Modules ModulesConfig `json:"modules" yaml:"modules"`
	// Unloaded contains the unloaded drivers enumeration options.
	Unloaded UnloadedConfig `json:"unloaded" yaml:"unloaded"`
	// Output determines the output format.
	Output OutputConfig `json:"output" yaml:"output"`
	// CacheSize is the number of results memoized by the result cache.
	CacheSize int `json:"cache.size" yaml:"cache.size"`
	// Scan contains the debugger data block scan options.
	Scan ScanConfig `json:"scan" yaml:"scan"`
	// Log contains log-specific configuration options
	Log log.Config `json:"logging" yaml:"logging"`

	flags *pflag.FlagSet
	viper *viper.Viper
	opts  *Options
}

// Options determines which config flags are toggled depending on the command type.
type Options struct {
	modules  bool
	unloaded bool
	scan     bool
	image    bool
	dump     bool
}

// Option is the type alias for the config option.
type Option func(*Options)

// WithModules determines the modules command is executed.
func WithModules() Option {
	return func(o *Options) {
		o.modules = true
		o.image = true
	}
}

// WithUnloaded determines the unloaded command is executed.
func WithUnloaded() Option {
	return func(o *Options) {
		o.unloaded = true
		o.image = true
	}
}

// WithScan determines the kdbgscan command is executed.
func WithScan() Option {
	return func(o *Options) {
		o.scan = true
		o.image = true
	}
}

// WithDump determines the config command is executed. All flags are
// registered, but the image isn't required.
func WithDump() Option {
	return func(o *Options) {
		o.modules = true
		o.unloaded = true
		o.scan = true
		o.dump = true
	}
}

// NewWithOpts builds a new configuration store from a variety of sources such as configuration files,
// environment variables or command line flags.
func NewWithOpts(options ...Option) *Config {
	opts := &Options{}

	for _, opt := range options {
		opt(opts)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix("modscan")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	c := &Config{
		Log:   log.Config{},
		viper: v,
		flags: new(pflag.FlagSet),
		opts:  opts,
	}
	c.addFlags()

	return c
}

// MustViperize adds the flag set to the Cobra command and binds them within the Viper flags.
func (c *Config) MustViperize(cmd *cobra.Command) {
	cmd.PersistentFlags().AddFlagSet(c.flags)
	if err := c.viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
	if c.opts.image {
		if err := cmd.MarkPersistentFlagRequired(imagePath); err != nil {
			panic(err)
		}
	}
}

// Init setups the configuration state from Viper.
func (c *Config) Init() error {
	c.Log.InitFromViper(c.viper)

	c.Image = c.viper.GetString(imagePath)
	c.Profile = c.viper.GetString(profileName)
	c.ProfilePath = c.viper.GetString(profilePath)
	c.CacheSize = c.viper.GetInt(cacheSize)

	var errs []error
	addr := func(key string) va.Address {
		a, err := va.Parse(c.viper.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", key, err))
		}
		return a
	}
	c.DTB = addr(dtb).Uint64()
	c.KDBG = addr(kdbg)
	c.LoadedModuleList = addr(loadedModuleList)

	c.Modules.PhysicalOffset = c.viper.GetBool(physicalOffset)
	c.Modules.MaxEntries = c.viper.GetInt(maxEntries)
	c.Modules.VerifyHeaders = c.viper.GetBool(verifyHeaders)
	c.Unloaded.Capacity = c.viper.GetInt(unloadedCapacity)
	c.Scan.KernelOnly = c.viper.GetBool(scanKernelOnly)

	format, err := render.ParseFormat(c.viper.GetString(outputFormat))
	if err != nil {
		errs = append(errs, err)
	}
	c.Output.Format = format
	c.Output.Template = c.viper.GetString(outputTemplate)
	if format == render.TemplateFormat && c.Output.Template == "" {
		errs = append(errs, fmt.Errorf("%s is required by the template output format", outputTemplate))
	}

	if c.opts.image && c.Image == "" {
		errs = append(errs, fmt.Errorf("%s is required", imagePath))
	}

	return multierror.Wrap(errs...)
}

// TryLoadFile attempts to load the configuration file from specified path on the file system.
func (c *Config) TryLoadFile(file string) error {
	c.viper.SetConfigFile(file)
	return c.viper.ReadInConfig()
}

// Validate ensures that all configuration options provided by user have the expected values. It returns
// a list of validation errors prefixed with the offending configuration property/flag.
func (c *Config) Validate() error {
	// we'll first validate the structure and values of the config file
	if file := c.File(); file != "" {
		var out interface{}
		b, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		switch filepath.Ext(file) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, &out)
		case ".json":
			err = json.Unmarshal(b, &out)
		default:
			return fmt.Errorf("%s is not a supported config file extension", filepath.Ext(file))
		}
		if err != nil {
			return fmt.Errorf("couldn't read the config file: %v", err)
		}
		// validate config file content
		valid, errs := validate(interpolateSchema(), out)
		if !valid || len(errs) > 0 {
			return fmt.Errorf("invalid config: %v", multierror.Wrap(errs...))
		}
	}
	// now validate the Viper config flags
	valid, errs := validate(interpolateSchema(), c.viper.AllSettings())
	if !valid || len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", multierror.Wrap(errs...))
	}
	return nil
}

// File returns the config file path.
func (c *Config) File() string { return c.viper.GetString(configFile) }

// CacheKeyOptions returns the settings that shape the enumeration
// results and therefore must be part of the result cache key.
func (c *Config) CacheKeyOptions() []string {
	return []string{
		fmt.Sprintf("max-entries=%d", c.Modules.MaxEntries),
		fmt.Sprintf("capacity=%d", c.Unloaded.Capacity),
	}
}

func (c *Config) addFlags() {
	c.flags.String(configFile, "", "Indicates the location of the YAML or JSON configuration file")
	if c.opts.image || c.opts.dump {
		c.flags.StringP(imagePath, "f", "", "The path of the raw or zstd-compressed physical memory image")
		c.flags.String(profileName, "Win7SP1x64", "Specifies the profile with the kernel structure layouts")
		c.flags.String(profilePath, "", "Loads the profile from the YAML file instead of the built-in profiles")
		c.flags.String(dtb, "", "Directory table base of the kernel address space. The image is treated as the flat physical address space if omitted")
		c.flags.String(kdbg, "", "Virtual address of the debugger data block. The block is located by scanning if omitted")
		c.flags.String(outputFormat, string(render.TableFormat), "Specifies the output format (table|csv|markdown|html|json|template)")
		c.flags.String(outputTemplate, "", "The Go template used to render the results when the template output format is selected")
		c.flags.Int(cacheSize, cache.DefaultSize, "Determines the number of enumeration results kept in the cache. Zero disables the cache")
		c.flags.Bool(scanKernelOnly, true, "Restricts the debugger data block scan to the kernel half of the address space")
	}
	if c.opts.modules {
		c.flags.String(loadedModuleList, "", "Overrides the address of the loaded modules list head taken from the debugger data block")
		c.flags.BoolP(physicalOffset, "P", false, "Reports the physical offsets of the module descriptors")
		c.flags.Int(maxEntries, kernel.DefaultMaxListEntries, "Specifies the maximum number of visited list entries")
		c.flags.Bool(verifyHeaders, false, "Checks the PE header of every module image against the module size")
	}
	if c.opts.unloaded {
		c.flags.Int(unloadedCapacity, 0, "Overrides the number of slots in the unloaded drivers array declared by the profile")
	}
	c.Log.AddFlags(c.flags)
}
