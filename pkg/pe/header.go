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

// Package pe inspects the PE headers of module images resident in the memory image.
package pe

import (
	"errors"
	"expvar"
	"fmt"
	"time"

	"github.com/rabbitstack/modscan/pkg/addrspace"
	kerrors "github.com/rabbitstack/modscan/pkg/errors"
	"github.com/rabbitstack/modscan/pkg/util/va"
	peparser "github.com/saferwall/pe"
	peparserlog "github.com/saferwall/pe/log"
	log "github.com/sirupsen/logrus"
)

// MaxHeaderSize specifies the maximum size of the PE header
const MaxHeaderSize = va.PageSize

var (
	// ErrEmptyHeader is returned if the header area is zero-filled
	ErrEmptyHeader = errors.New("pe header area is empty")

	headerParseErrors = expvar.NewInt("pe.header.parse.errors")
	parserWarnings    = expvar.NewMap("pe.parser.warnings")
)

// Status is the outcome of the module header check.
type Status string

const (
	// StatusOK means the header parses and its image size matches the module size.
	StatusOK Status = "ok"
	// StatusMismatch means the header parses but declares a different image size.
	StatusMismatch Status = "mismatch"
	// StatusInvalid means the header page is resident but doesn't hold a valid PE header.
	StatusInvalid Status = "invalid"
	// StatusPaged means the header page is missing from the memory image.
	StatusPaged Status = "paged"
)

// Header contains the subset of the DOS and NT header fields.
type Header struct {
	// Machine is the target machine type.
	Machine uint16
	// Is64 indicates the PE32+ optional header.
	Is64 bool
	// NumberOfSections is the number of section headers.
	NumberOfSections uint16
	// LinkTime is the time the image was linked.
	LinkTime time.Time
	// ImageBase is the preferred image base.
	ImageBase uint64
	// EntryPoint is the entry point RVA.
	EntryPoint uint32
	// SizeOfImage is the size of the image when loaded in memory.
	SizeOfImage uint32
}

// String returns the header summary.
func (h Header) String() string {
	return fmt.Sprintf("machine: %#x, sections: %d, image base: %#x, entry point: %#x, size of image: %#x, linked: %s",
		h.Machine, h.NumberOfSections, h.ImageBase, h.EntryPoint, h.SizeOfImage, h.LinkTime.Format(time.RFC3339))
}

// Logger is the adapter for routing PE package logs to logrus.
type Logger struct{}

func (l Logger) Log(level peparserlog.Level, keyvals ...interface{}) error {
	switch level {
	case peparserlog.LevelDebug, peparserlog.LevelInfo:
		log.Debug(keyvals[1:]...)
	case peparserlog.LevelWarn:
		parserWarnings.Add(fmt.Sprintf("%s", keyvals[1:]), 1)
	default:
		log.Warn(keyvals[1:]...)
	}
	return nil
}

func parserOpts() *peparser.Options {
	return &peparser.Options{
		DisableCertValidation:     true,
		OmitIATDirectory:          true,
		OmitSecurityDirectory:     true,
		OmitExceptionDirectory:    true,
		OmitTLSDirectory:          true,
		OmitCLRHeaderDirectory:    true,
		OmitCLRMetadata:           true,
		OmitDelayImportDirectory:  true,
		OmitBoundImportDirectory:  true,
		OmitArchitectureDirectory: true,
		OmitDebugDirectory:        true,
		OmitRelocDirectory:        true,
		OmitResourceDirectory:     true,
		OmitImportDirectory:       true,
		OmitExportDirectory:       true,
		OmitLoadConfigDirectory:   true,
		OmitGlobalPtrDirectory:    true,
		Logger:                    &Logger{},
	}
}

// ParseHeader parses the DOS and NT headers from the given bytes.
func ParseHeader(data []byte) (*Header, error) {
	if zeroed(data) {
		return nil, ErrEmptyHeader
	}
	pe, err := peparser.NewBytes(data, parserOpts())
	if err != nil {
		return nil, err
	}
	defer pe.Close()

	// parse the DOS header
	if err := pe.ParseDOSHeader(); err != nil {
		return nil, err
	}
	// parse the NT header
	if err := pe.ParseNTHeader(); err != nil {
		return nil, err
	}

	timestamp := pe.NtHeader.FileHeader.TimeDateStamp
	h := &Header{
		Machine:          uint16(pe.NtHeader.FileHeader.Machine),
		Is64:             pe.Is64,
		NumberOfSections: pe.NtHeader.FileHeader.NumberOfSections,
		LinkTime:         time.Unix(int64(timestamp), 0).UTC(),
	}
	switch oh := pe.NtHeader.OptionalHeader.(type) {
	case peparser.ImageOptionalHeader64:
		h.ImageBase = oh.ImageBase
		h.EntryPoint = oh.AddressOfEntryPoint
		h.SizeOfImage = oh.SizeOfImage
	case peparser.ImageOptionalHeader32:
		h.ImageBase = uint64(oh.ImageBase)
		h.EntryPoint = oh.AddressOfEntryPoint
		h.SizeOfImage = oh.SizeOfImage
	default:
		return nil, fmt.Errorf("unexpected optional header %T", oh)
	}
	return h, nil
}

// ReadHeader reads and parses the PE header mapped at the base address.
func ReadHeader(as addrspace.AddressSpace, base va.Address) (*Header, error) {
	if base.IsZero() {
		return nil, kerrors.Unmapped(0)
	}
	data, err := as.Read(base, MaxHeaderSize)
	if err != nil {
		return nil, err
	}
	return ParseHeader(data)
}

// Verify checks the PE header at the module base against the module size
// recorded in the module descriptor.
func Verify(as addrspace.AddressSpace, base va.Address, size uint32) (Status, *Header) {
	h, err := ReadHeader(as, base)
	switch {
	case kerrors.IsUnmapped(err):
		return StatusPaged, nil
	case err != nil:
		headerParseErrors.Add(1)
		log.Debugf("invalid pe header at %s: %v", base.Hex(), err)
		return StatusInvalid, nil
	case h.SizeOfImage != size:
		return StatusMismatch, h
	default:
		return StatusOK, h
	}
}

func zeroed(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
