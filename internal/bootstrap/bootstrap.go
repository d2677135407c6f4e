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
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/addrspace"
	"github.com/rabbitstack/modscan/pkg/cache"
	"github.com/rabbitstack/modscan/pkg/config"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/image"
	"github.com/rabbitstack/modscan/pkg/kernel"
	"github.com/rabbitstack/modscan/pkg/layout"
	"github.com/rabbitstack/modscan/pkg/pe"
	"github.com/rabbitstack/modscan/pkg/render"
	"github.com/rabbitstack/modscan/pkg/util/multierror"
	"github.com/rabbitstack/modscan/pkg/util/spinner"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/rabbitstack/modscan/pkg/util/version"
	log "github.com/sirupsen/logrus"
)

const (
	modulesPlugin  = "modules"
	unloadedPlugin = "unloaded"
	kdbgscanPlugin = "kdbgscan"
)

// App centralizes the building blocks of the memory image analysis. It
// owns the memory image, the address space built on top of it, the
// structure layout profile and the result cache. The enumerations
// produce grids that are handed to the renderer.
type App struct {
	config   *config.Config
	img      image.Image
	space    kernel.Space
	profile  *layout.Profile
	cache    *cache.Cache
	out      io.Writer
	progress io.Writer
	session  uuid.UUID
	log      *log.Entry

	kdbg *kernel.DebugBlock
}

// Option enables changing the behaviour of the bootstrap application.
type Option func(*opts)

type opts struct {
	out      io.Writer
	progress io.Writer
	cache    *cache.Cache
	skipInit bool
}

// WithOutput sets the writer the rendered results are written to.
func WithOutput(w io.Writer) Option {
	return func(o *opts) {
		o.out = w
	}
}

// WithProgress sets the writer the progress spinner is drawn to. A nil
// writer hides the spinner.
func WithProgress(w io.Writer) Option {
	return func(o *opts) {
		o.progress = w
	}
}

// WithCache shares the result cache across applications. Modules served
// from the cache are resolved against the address space of the application
// that renders them, so the producing application can be closed.
func WithCache(c *cache.Cache) Option {
	return func(o *opts) {
		o.cache = c
	}
}

// WithoutConfigInit skips the configuration and logger initialization
// when the caller has already done it.
func WithoutConfigInit() Option {
	return func(o *opts) {
		o.skipInit = true
	}
}

// NewApp constructs a new bootstrap application with the specified configuration
// and a list of options. The memory image is opened and the address space is
// built right away, so the image must be released with Close.
func NewApp(cfg *config.Config, options ...Option) (*App, error) {
	o := opts{out: os.Stdout, progress: os.Stderr}
	for _, opt := range options {
		opt(&o)
	}
	if !o.skipInit {
		if err := InitConfigAndLogger(cfg); err != nil {
			return nil, err
		}
	}
	if o.cache == nil {
		o.cache = cache.New(cfg.CacheSize)
	}

	session := uuid.New()
	logger := log.WithField("session", session.String())
	logger.Infof("starting analysis of %s. Version: %s", cfg.Image, version.Get())
	logger.Debugf("configuration dump %s", cfg.Print())

	profile, err := loadProfile(cfg)
	if err != nil {
		return nil, err
	}
	img, err := image.Open(cfg.Image)
	if err != nil {
		return nil, err
	}
	space, err := newSpace(img, cfg.DTB)
	if err != nil {
		return nil, multierror.Wrap(err, img.Close())
	}
	logger.Infof("using %s profile", profile.Name)

	return &App{
		config:   cfg,
		img:      img,
		space:    space,
		profile:  profile,
		cache:    o.cache,
		out:      o.out,
		progress: o.progress,
		session:  session,
		log:      logger,
	}, nil
}

func loadProfile(cfg *config.Config) (*layout.Profile, error) {
	if cfg.ProfilePath != "" {
		return layout.LoadFile(cfg.ProfilePath)
	}
	return layout.Get(cfg.Profile)
}

// newSpace builds the paged address space if the directory table base
// is known. Otherwise, the image is read as the flat physical space.
func newSpace(img image.Image, dtb uint64) (kernel.Space, error) {
	phys := addrspace.NewPhysical(img)
	if dtb == 0 {
		return phys, nil
	}
	return addrspace.NewAMD64(phys, dtb)
}

// Session returns the identifier of the analysis session.
func (f *App) Session() uuid.UUID { return f.session }

// Profile returns the structure layout profile.
func (f *App) Profile() *layout.Profile { return f.profile }

// cacheKey builds the result cache key for the enumeration rooted at the given address.
func (f *App) cacheKey(plugin string, root va.Address, opts ...string) cache.Key {
	name := f.profile.Name
	if f.config.ProfilePath != "" {
		name = f.config.ProfilePath
	}
	return cache.Key{
		Plugin:  plugin,
		Image:   f.config.Image,
		Profile: name,
		DTB:     f.config.DTB,
		Root:    root,
		Options: opts,
	}
}

// DebugBlock returns the kernel debugger data block. The block is read from
// the configured address or located by scanning the address space.
func (f *App) DebugBlock() (*kernel.DebugBlock, error) {
	if f.kdbg != nil {
		return f.kdbg, nil
	}
	addr := f.config.KDBG
	if addr.IsZero() {
		hits, err := f.scan(1)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, errors.Wrap(kerrors.ErrInvalidDebugBlock, "no debugger data block found. Try specifying the --kdbg address")
		}
		addr = hits[0]
	}
	kdbg, err := kernel.ReadDebugBlock(f.space, f.profile, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read debugger data block at %s", addr.Hex())
	}
	if err := kdbg.Validate(f.profile); err != nil {
		return nil, err
	}
	f.log.Infof("using debugger data block at %s", addr.Hex())
	f.kdbg = kdbg
	return kdbg, nil
}

func (f *App) scan(limit int) ([]va.Address, error) {
	key := f.cacheKey(kdbgscanPlugin, 0,
		"kernel-only="+strconv.FormatBool(f.config.Scan.KernelOnly),
		"limit="+strconv.Itoa(limit),
	)
	return cache.GetOrCompute(f.cache, key, func() ([]va.Address, error) {
		spin := spinner.ShowTo(f.progress, "scanning for the debugger data block")
		defer spin.Stop()
		return kernel.ScanDebugBlocks(
			f.space,
			f.profile,
			kernel.WithKernelOnly(f.config.Scan.KernelOnly),
			kernel.WithLimit(limit),
		)
	})
}

// Modules walks the loaded modules list and returns the grid with one row
// per module. A corrupted list yields the modules visited before the walk
// stopped.
func (f *App) Modules() (*render.Grid, error) {
	anchor := f.config.LoadedModuleList
	if anchor.IsZero() {
		kdbg, err := f.DebugBlock()
		if err != nil {
			return nil, err
		}
		anchor = kdbg.PsLoadedModuleList()
	}
	key := f.cacheKey(modulesPlugin, anchor, f.config.CacheKeyOptions()...)
	mods, err := cache.GetOrCompute(f.cache, key, func() ([]kernel.Module, error) {
		w, err := kernel.WalkModules(f.space, f.profile, anchor, kernel.WithMaxEntries(f.config.Modules.MaxEntries))
		if err != nil {
			return nil, err
		}
		mods := w.Collect()
		if err := w.Err(); err != nil {
			f.log.Warnf("loaded modules list walk stopped after %d module(s): %v", len(mods), err)
		}
		return mods, nil
	})
	if err != nil {
		return nil, err
	}

	mode := f.config.Modules.OffsetMode()
	cols := []render.Column{
		{Name: "Offset" + mode.Tag(), Kind: render.OffsetKind},
		{Name: "Name", Kind: render.TextKind},
		{Name: "Base", Kind: render.AddressKind},
		{Name: "Size", Kind: render.HexKind},
		{Name: "File", Kind: render.TextKind},
	}
	verify := f.config.Modules.VerifyHeaders
	if verify {
		cols = append(cols, render.Column{Name: "PE", Kind: render.TextKind})
	}
	grid := render.NewGrid("Loaded kernel modules", cols...)
	// cached modules may come from an application whose image is already
	// released. The cache key pins the image and the DTB, so the space owned
	// by this application translates them alike.
	as := f.space
	for _, m := range mods {
		cells := []render.Cell{
			render.Offset(kernel.ResolveOffset(as, m.Offset, mode)),
			render.Text(m.BaseName.Or("")),
			render.Address(m.Base),
			render.Hex(uint64(m.Size)),
			render.Text(m.FullPath.Or("")),
		}
		if verify {
			status, _ := pe.Verify(as, m.Base, m.Size)
			cells = append(cells, render.Text(string(status)))
		}
		if err := grid.Append(cells...); err != nil {
			return nil, err
		}
	}
	return grid, nil
}

// Unloaded parses the unloaded drivers array and returns the grid with one
// row per populated slot.
func (f *App) Unloaded() (*render.Grid, error) {
	kdbg, err := f.DebugBlock()
	if err != nil {
		return nil, err
	}
	key := f.cacheKey(unloadedPlugin, kdbg.Addr(), f.config.CacheKeyOptions()...)
	drivers, err := cache.GetOrCompute(f.cache, key, func() ([]kernel.UnloadedDriver, error) {
		p, err := kernel.ParseUnloadedDrivers(f.space, f.profile, kdbg.Addr(), kernel.WithCapacity(f.config.Unloaded.Capacity))
		if err != nil {
			return nil, err
		}
		drivers := p.Collect()
		if err := p.Err(); err != nil {
			f.log.Warnf("unable to locate the unloaded drivers array: %v", err)
		}
		if n := p.Skipped(); n > 0 {
			f.log.Warnf("%d unreadable unloaded drivers slot(s) skipped", n)
		}
		return drivers, nil
	})
	if err != nil {
		return nil, err
	}

	grid := render.NewGrid(
		"Unloaded kernel drivers",
		render.Column{Name: "Name", Kind: render.TextKind},
		render.Column{Name: "StartAddress", Kind: render.AddressKind},
		render.Column{Name: "EndAddress", Kind: render.AddressKind},
		render.Column{Name: "Time", Kind: render.TextKind},
	)
	for _, d := range drivers {
		err := grid.Append(
			render.Text(d.Name.Or("")),
			render.Address(d.StartAddress),
			render.Address(d.EndAddress),
			render.Text(d.UnloadTime.String()),
		)
		if err != nil {
			return nil, err
		}
	}
	return grid, nil
}

// ScanDebugBlocks finds all debugger data blocks in the address space and
// returns the grid describing each candidate.
func (f *App) ScanDebugBlocks() (*render.Grid, error) {
	hits, err := f.scan(0)
	if err != nil {
		return nil, err
	}
	grid := render.NewGrid(
		"Debugger data blocks",
		render.Column{Name: "Offset" + kernel.Virtual.Tag(), Kind: render.OffsetKind},
		render.Column{Name: "Offset" + kernel.Physical.Tag(), Kind: render.OffsetKind},
		render.Column{Name: "Tag", Kind: render.TextKind},
		render.Column{Name: "Size", Kind: render.HexKind},
		render.Column{Name: "KernBase", Kind: render.AddressKind},
		render.Column{Name: "PsLoadedModuleList", Kind: render.AddressKind},
		render.Column{Name: "MmUnloadedDrivers", Kind: render.AddressKind},
	)
	for _, addr := range hits {
		kdbg, err := kernel.ReadDebugBlock(f.space, f.profile, addr)
		if err != nil {
			f.log.Warnf("unable to read debugger data block at %s: %v", addr.Hex(), err)
			continue
		}
		err = grid.Append(
			render.Offset(kernel.ResolveOffset(f.space, addr, kernel.Virtual)),
			render.Offset(kernel.ResolveOffset(f.space, addr, kernel.Physical)),
			render.Text(kdbg.OwnerTag()),
			render.Hex(uint64(kdbg.Size())),
			render.Address(kdbg.KernBase()),
			render.Address(kdbg.PsLoadedModuleList()),
			render.Address(kdbg.MmUnloadedDrivers()),
		)
		if err != nil {
			return nil, err
		}
	}
	return grid, nil
}

// Render writes the grid to the output in the configured format.
func (f *App) Render(grid *render.Grid) error {
	r, err := render.New(f.out, f.config.Output.Format, f.config.Output.Template)
	if err != nil {
		return err
	}
	f.log.Debugf("rendering %d row(s) of %q", grid.Len(), grid.Title)
	return r.Render(grid)
}

// Close releases the memory image.
func (f *App) Close() error {
	if f.img == nil {
		return nil
	}
	err := f.img.Close()
	f.img = nil
	return err
}
