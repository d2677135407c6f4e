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

// UnloadedCapacityConstant is the profile constant holding the number of
// slots in the unloaded drivers array.
const UnloadedCapacityConstant = "MmUnloadedDriversCapacity"

var (
	unloadedParsed       = expvar.NewInt("kernel.unloaded.parsed")
	unloadedSlotFailures = expvar.NewInt("kernel.unloaded.slot.failures")
)

// ParseOption tweaks the unloaded drivers parser.
type ParseOption func(*parseOpts)

type parseOpts struct {
	capacity int
}

// WithCapacity overrides the number of slots in the unloaded drivers array.
// Non-positive values keep the capacity declared by the profile.
func WithCapacity(n int) ParseOption {
	return func(o *parseOpts) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// ResolveUnloadedRing reads the MmUnloadedDrivers field of the debugger
// data block. The field holds the address of the kernel variable that
// points to the unloaded drivers array.
func ResolveUnloadedRing(as addrspace.AddressSpace, p *layout.Profile, kdbg va.Address) (va.Address, error) {
	lays, err := resolve(p)
	if err != nil {
		return 0, err
	}
	v, err := layout.Read(as, kdbg, lays.kdbg.l)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to read debugger data block at %s", kdbg.Hex())
	}
	ring, err := v.Pointer(lays.kdbg.mmUnloadedDrivers)
	if err != nil {
		return 0, err
	}
	if ring.IsZero() {
		return 0, errors.Wrap(kerrors.Unmapped(0), "null MmUnloadedDrivers")
	}
	return ring, nil
}

// ResolveUnloadedArray dereferences the kernel variable that points to the
// unloaded drivers array and returns the array address.
func ResolveUnloadedArray(as addrspace.AddressSpace, p *layout.Profile, ring va.Address) (va.Address, error) {
	array, err := addrspace.ReadPointer(as, ring, int(p.PointerSize))
	if err != nil {
		return 0, errors.Wrapf(err, "unable to dereference unloaded drivers pointer at %s", ring.Hex())
	}
	if array.IsZero() {
		return 0, errors.Wrapf(kerrors.Unmapped(0), "null unloaded drivers array at %s", ring.Hex())
	}
	return array, nil
}

// UnloadedParser visits the fixed-capacity array of unloaded driver
// records. The slots are visited in stored order. Slots with the zeroed
// name are empty and skipped, as are the slots that can't be read.
type UnloadedParser struct {
	as       addrspace.AddressSpace
	lays     *layouts
	array    va.Address
	capacity int
	slot     int
	skipped  int
	driver   UnloadedDriver
	err      error
}

// ParseUnloadedDrivers prepares the parser of the unloaded drivers array
// reachable from the debugger data block at the given address. If the
// array can't be located, the parser yields no records and Err reports
// the reason. The returned error is not nil only if the profile lacks the
// structures or the capacity the parser needs.
func ParseUnloadedDrivers(as addrspace.AddressSpace, p *layout.Profile, kdbg va.Address, opts ...ParseOption) (*UnloadedParser, error) {
	lays, err := resolve(p)
	if err != nil {
		return nil, err
	}
	var o parseOpts
	if n, ok := p.Constant(UnloadedCapacityConstant); ok {
		o.capacity = int(n)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.capacity <= 0 {
		return nil, errors.Errorf("profile %s doesn't declare %s", p.Name, UnloadedCapacityConstant)
	}
	parser := &UnloadedParser{as: as, lays: lays, capacity: o.capacity}

	ring, err := ResolveUnloadedRing(as, p, kdbg)
	if err != nil {
		parser.fail(err)
		return parser, nil
	}
	parser.array, err = ResolveUnloadedArray(as, p, ring)
	if err != nil {
		parser.fail(err)
		return parser, nil
	}
	log.Debugf("unloaded drivers array at %s with %d slots", parser.array.Hex(), parser.capacity)
	return parser, nil
}

func (p *UnloadedParser) fail(err error) {
	p.err = err
	p.slot = p.capacity
	log.Debugf("unloaded drivers array unavailable: %v", err)
}

// Next advances the parser to the next populated slot.
func (p *UnloadedParser) Next() bool {
	size := uint64(p.lays.unloaded.l.Size)
	for p.slot < p.capacity {
		slot := p.slot
		p.slot++
		addr := p.array.Inc(uint64(slot) * size)
		v, err := layout.Read(p.as, addr, p.lays.unloaded.l)
		if err != nil {
			p.skipped++
			unloadedSlotFailures.Add(1)
			log.Debugf("skipping unloaded driver slot %d at %s: %v", slot, addr.Hex(), err)
			continue
		}
		empty, err := v.Zeroed(p.lays.unloaded.name)
		if err != nil || empty {
			continue
		}
		p.driver = p.lays.unloadedDriver(v, slot)
		unloadedParsed.Add(1)
		return true
	}
	return false
}

// Driver returns the unloaded driver record the parser is positioned at.
func (p *UnloadedParser) Driver() UnloadedDriver { return p.driver }

// Err returns the reason the unloaded drivers array couldn't be located.
func (p *UnloadedParser) Err() error { return p.err }

// Skipped returns the number of slots that couldn't be read.
func (p *UnloadedParser) Skipped() int { return p.skipped }

// Array returns the address of the unloaded drivers array.
func (p *UnloadedParser) Array() va.Address { return p.array }

// Collect drains the parser into the slice.
func (p *UnloadedParser) Collect() []UnloadedDriver {
	drivers := make([]UnloadedDriver, 0)
	for p.Next() {
		drivers = append(drivers, p.Driver())
	}
	return drivers
}
