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

package kernel

import (
	"expvar"

	"github.com/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/addrspace"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/layout"
	"github.com/rabbitstack/modscan/pkg/util/va"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxListEntries is the maximum number of list entries visited
// before the list is deemed non-terminating.
const DefaultMaxListEntries = 4096

var (
	modulesWalked  = expvar.NewInt("kernel.modules.walked")
	moduleWalkStop = expvar.NewMap("kernel.modules.walk.stops")
)

// WalkOption tweaks the module list walk.
type WalkOption func(*walkOpts)

type walkOpts struct {
	maxEntries int
}

// WithMaxEntries bounds the number of visited list entries. Non-positive
// values fall back to the default bound.
func WithMaxEntries(n int) WalkOption {
	return func(o *walkOpts) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// ModuleWalker lazily traverses the circular doubly-linked list of loaded
// module descriptors. The walk follows forward links only and yields each
// descriptor as soon as it is read. The walker is single-pass and can't be
// restarted.
//
// The walk ends cleanly when the forward link returns to the anchor or
// becomes null. It stops early, keeping everything yielded so far, when
// the descriptor can't be read, a list node repeats, or the bound of
// visited entries is reached. In that case Err reports the reason.
type ModuleWalker struct {
	as     addrspace.AddressSpace
	lays   *layouts
	anchor va.Address
	link   va.Address
	max    int
	seen   map[va.Address]struct{}
	module Module

	started bool
	done    bool
	pending error
	err     error
}

// WalkModules prepares the walk of the list anchored at the given address.
// The anchor is the list head, usually the PsLoadedModuleList kernel
// variable, and is never interpreted as a module descriptor. The returned
// error is not nil only if the profile lacks the structures the walk needs.
func WalkModules(as addrspace.AddressSpace, p *layout.Profile, anchor va.Address, opts ...WalkOption) (*ModuleWalker, error) {
	lays, err := resolve(p)
	if err != nil {
		return nil, err
	}
	o := walkOpts{maxEntries: DefaultMaxListEntries}
	for _, opt := range opts {
		opt(&o)
	}
	return &ModuleWalker{
		as:     as,
		lays:   lays,
		anchor: anchor,
		max:    o.maxEntries,
		seen:   make(map[va.Address]struct{}),
	}, nil
}

// Next advances the walker to the next module descriptor.
func (w *ModuleWalker) Next() bool {
	if w.done {
		return false
	}
	if !w.started {
		w.started = true
		head, err := layout.Read(w.as, w.anchor, w.lays.list.l)
		if err != nil {
			return w.stop(errors.Wrapf(err, "unable to read list head at %s", w.anchor.Hex()))
		}
		w.link, err = head.Pointer(w.lays.list.flink)
		if err != nil {
			return w.stop(err)
		}
	}
	if w.pending != nil {
		return w.stop(w.pending)
	}
	// the anchor check goes first so the list headed at the null address still terminates
	if w.link == w.anchor || w.link.IsZero() {
		return w.stop(nil)
	}
	if len(w.seen) >= w.max {
		return w.stop(errors.Wrapf(kerrors.ErrNonTerminatingList, "no closure after %d entries", w.max))
	}
	if _, ok := w.seen[w.link]; ok {
		return w.stop(errors.Wrapf(kerrors.ErrNonTerminatingList, "entry %s visited twice", w.link.Hex()))
	}

	addr := w.link.Dec(uint64(w.lays.ldr.links.Offset))
	entry, err := layout.Read(w.as, addr, w.lays.ldr.l)
	if err != nil {
		return w.stop(errors.Wrapf(err, "unable to read module descriptor at %s", addr.Hex()))
	}
	w.seen[w.link] = struct{}{}
	w.module = w.lays.module(entry)
	modulesWalked.Add(1)

	links, err := entry.Embedded(w.lays.ldr.links, w.lays.list.l)
	if err == nil {
		w.link, err = links.Pointer(w.lays.list.flink)
	}
	if err != nil {
		w.pending = err
	}
	return true
}

func (w *ModuleWalker) stop(err error) bool {
	w.done = true
	w.err = err
	if err != nil {
		moduleWalkStop.Add(stopReason(err), 1)
		log.Debugf("module list walk from %s stopped after %d entries: %v", w.anchor.Hex(), len(w.seen), err)
	}
	return false
}

// Module returns the module descriptor the walker is positioned at.
func (w *ModuleWalker) Module() Module { return w.module }

// Err returns the reason the walk stopped before reaching the list end.
func (w *ModuleWalker) Err() error { return w.err }

// Collect drains the walker into the slice.
func (w *ModuleWalker) Collect() []Module {
	mods := make([]Module, 0)
	for w.Next() {
		mods = append(mods, w.Module())
	}
	return mods
}

func stopReason(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrUnmapped):
		return "unmapped"
	case errors.Is(err, kerrors.ErrTruncatedStructure):
		return "truncated"
	case errors.Is(err, kerrors.ErrNonTerminatingList):
		return "non-terminating"
	default:
		return "other"
	}
}
