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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/rabbitstack/modscan/pkg/addrspace/astest"
	"github.com/rabbitstack/modscan/pkg/cache"
	"github.com/rabbitstack/modscan/pkg/config"
	"github.com/rabbitstack/modscan/pkg/kernel"
	"github.com/rabbitstack/modscan/pkg/render"
	"github.com/rabbitstack/modscan/pkg/util/va"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kdbgAddr     va.Address = 0xfffff80002bf70a0
	moduleList   va.Address = 0xfffff80002c4b890
	unloadedRing va.Address = 0xfffff80002c1d000
	lastUnloaded va.Address = 0xfffff80002c1d008
	ntosEntry    va.Address = 0xfffffa8000c00000
	halEntry     va.Address = 0xfffffa8000c01000
	strsAddr     va.Address = 0xfffff8a000001000
	unloadedArr  va.Address = 0xfffff8a000100000
)

// memory plants the kernel structures into the paged memory image.
type memory struct {
	*astest.Builder
	strs va.Address
}

func (m *memory) u32(addr va.Address, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.Write(addr, b[:])
}

func (m *memory) ustr(addr va.Address, s string) {
	buf := make([]byte, 0, len(s)*2)
	for _, r := range utf16.Encode([]rune(s)) {
		buf = binary.LittleEndian.AppendUint16(buf, r)
	}
	m.Write(m.strs, buf)
	var hdr [16]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(buf)))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(buf)))
	binary.LittleEndian.PutUint64(hdr[8:], m.strs.Uint64())
	m.Write(addr, hdr[:])
	m.strs = m.strs.Inc(uint64(len(buf)+15) &^ 15)
}

func (m *memory) entry(addr, flink, blink va.Address, base uint64, size uint32, name, path string) {
	m.Write(addr, make([]byte, 0xe0))
	m.WriteUint64(addr, flink.Uint64())
	m.WriteUint64(addr.Inc(8), blink.Uint64())
	m.WriteUint64(addr.Inc(0x30), base)
	m.u32(addr.Inc(0x40), size)
	m.ustr(addr.Inc(0x48), path)
	m.ustr(addr.Inc(0x58), name)
}

func (m *memory) unloaded(slot int, name string, start, end, ts uint64) {
	addr := unloadedArr.Inc(uint64(slot) * 0x28)
	m.ustr(addr, name)
	m.WriteUint64(addr.Inc(0x10), start)
	m.WriteUint64(addr.Inc(0x18), end)
	m.WriteUint64(addr.Inc(0x20), ts)
}

// writeImage lays out the Windows 7 kernel memory and stores it
// in the raw image file. It returns the image path and the DTB.
func writeImage(t *testing.T) (string, *astest.Builder) {
	m := &memory{Builder: astest.NewBuilder(), strs: strsAddr}

	m.Write(kdbgAddr, make([]byte, 0x340))
	m.Write(kdbgAddr.Inc(0x10), []byte(kernel.DebugBlockTag))
	m.u32(kdbgAddr.Inc(0x14), 0x340)
	m.WriteUint64(kdbgAddr.Inc(0x18), 0xfffff80002a53000)
	m.WriteUint64(kdbgAddr.Inc(0x48), moduleList.Uint64())
	m.WriteUint64(kdbgAddr.Inc(0x220), unloadedRing.Uint64())
	m.WriteUint64(kdbgAddr.Inc(0x228), lastUnloaded.Uint64())

	m.WriteUint64(moduleList, ntosEntry.Uint64())
	m.WriteUint64(moduleList.Inc(8), halEntry.Uint64())
	m.entry(ntosEntry, halEntry, moduleList, 0xfffff80002a53000, 0x5ea000, "ntoskrnl.exe", `\SystemRoot\system32\ntoskrnl.exe`)
	m.entry(halEntry, moduleList, ntosEntry, 0xfffff80002a0a000, 0x49000, "hal.dll", `\SystemRoot\system32\hal.dll`)

	m.WriteUint64(unloadedRing, unloadedArr.Uint64())
	m.u32(lastUnloaded, 2)
	m.Write(unloadedArr, make([]byte, 50*0x28))
	m.unloaded(0, "dump_dumpfve.sys", 0xfffff88001b8d000, 0xfffff88001ba0000, 129749191330000000)
	m.unloaded(2, "crashdmp.sys", 0xfffff88001a6e000, 0xfffff88001a7c000, 0)

	path := filepath.Join(t.TempDir(), "win7.raw")
	require.NoError(t, os.WriteFile(path, m.Bytes(), 0o600))
	return path, m.Builder
}

func newConfig(t *testing.T, args ...string) *config.Config {
	c := config.NewWithOpts(config.WithModules(), config.WithUnloaded(), config.WithScan())
	cmd := &cobra.Command{}
	c.MustViperize(cmd)
	args = append(args, "--logging.path", t.TempDir())
	require.NoError(t, cmd.PersistentFlags().Parse(args))
	return c
}

func newApp(t *testing.T, c *config.Config, opts ...Option) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	opts = append(opts, WithOutput(&out), WithProgress(nil))
	app, err := NewApp(c, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })
	return app, &out
}

func cells(g *render.Grid) [][]string {
	rows := make([][]string, 0, g.Len())
	for _, row := range g.Rows() {
		s := make([]string, len(row))
		for i, c := range row {
			s[i] = c.String()
		}
		rows = append(rows, s)
	}
	return rows
}

func TestModules(t *testing.T) {
	path, b := writeImage(t)
	app, out := newApp(t, newConfig(t,
		"-f", path,
		"--dtb", fmt.Sprintf("%#x", b.DTB()),
		"--kdbg", kdbgAddr.Hex(),
		"--output.format", "csv",
	))

	grid, err := app.Modules()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{ntosEntry.Hex(), "ntoskrnl.exe", "0xfffff80002a53000", "0x5ea000", `\SystemRoot\system32\ntoskrnl.exe`},
		{halEntry.Hex(), "hal.dll", "0xfffff80002a0a000", "0x49000", `\SystemRoot\system32\hal.dll`},
	}, cells(grid))

	require.NoError(t, app.Render(grid))
	assert.Equal(t, "Offset(V),Name,Base,Size,File\n"+
		ntosEntry.Hex()+`,ntoskrnl.exe,0xfffff80002a53000,0x5ea000,\SystemRoot\system32\ntoskrnl.exe`+"\n"+
		halEntry.Hex()+`,hal.dll,0xfffff80002a0a000,0x49000,\SystemRoot\system32\hal.dll`+"\n", out.String())
}

func TestModulesPhysicalOffsets(t *testing.T) {
	path, b := writeImage(t)
	app, _ := newApp(t, newConfig(t,
		"-f", path,
		"--dtb", fmt.Sprintf("%#x", b.DTB()),
		"--kernel.loaded-module-list", moduleList.Hex(),
		"-P",
		"--modules.verify-headers",
	))

	grid, err := app.Modules()
	require.NoError(t, err)
	require.Equal(t, 2, grid.Len())

	names := make([]string, 0)
	for _, col := range grid.Columns() {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"Offset(P)", "Name", "Base", "Size", "File", "PE"}, names)

	space := b.Space()
	rows := cells(grid)
	assert.Equal(t, kernel.ResolveOffset(space, ntosEntry, kernel.Physical).String(), rows[0][0])
	assert.Equal(t, kernel.ResolveOffset(space, halEntry, kernel.Physical).String(), rows[1][0])
	assert.NotEqual(t, kernel.Unresolved, rows[0][0])
	// module images aren't present in the image
	assert.Equal(t, "paged", rows[0][5])
	assert.Equal(t, "paged", rows[1][5])
}

func TestModulesFlatImageWithoutDebugBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 4*va.PageSize), 0o600))
	app, _ := newApp(t, newConfig(t, "-f", path))

	_, err := app.Modules()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no debugger data block found")
}

func TestModulesResultCache(t *testing.T) {
	path, b := writeImage(t)
	dtb := fmt.Sprintf("%#x", b.DTB())
	c := cache.New(4)

	app, _ := newApp(t, newConfig(t, "-f", path, "--dtb", dtb, "--kdbg", kdbgAddr.Hex()), WithCache(c))
	grid, err := app.Modules()
	require.NoError(t, err)
	assert.Equal(t, ntosEntry.Hex(), grid.Rows()[0][0].String())
	assert.Equal(t, 1, c.Len())
	// the cached modules outlive the image of the app that produced them
	require.NoError(t, app.Close())

	// the offset mode doesn't invalidate the cached modules
	app, _ = newApp(t, newConfig(t, "-f", path, "--dtb", dtb, "--kdbg", kdbgAddr.Hex(), "-P", "--modules.verify-headers"), WithCache(c))
	grid, err = app.Modules()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	rows := cells(grid)
	require.Len(t, rows, 2)
	assert.Equal(t, kernel.ResolveOffset(b.Space(), ntosEntry, kernel.Physical).String(), rows[0][0])
	assert.Equal(t, kernel.ResolveOffset(b.Space(), halEntry, kernel.Physical).String(), rows[1][0])
	assert.Equal(t, "paged", rows[0][5])

	app, _ = newApp(t, newConfig(t, "-f", path, "--dtb", dtb, "--kdbg", kdbgAddr.Hex(), "--modules.max-entries", "1"), WithCache(c))
	grid, err = app.Modules()
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, grid.Len())
}

func TestUnloaded(t *testing.T) {
	path, b := writeImage(t)
	app, out := newApp(t, newConfig(t,
		"-f", path,
		"--dtb", fmt.Sprintf("%#x", b.DTB()),
		"--output.format", "template",
		"--output.template", `{{ range .Rows }}{{ index . "Name" }}|{{ index . "Time" }};{{ end }}`,
	))

	grid, err := app.Unloaded()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"dump_dumpfve.sys", "0xfffff88001b8d000", "0xfffff88001ba0000", "2012-02-28 16:12:13 UTC+0000"},
		{"crashdmp.sys", "0xfffff88001a6e000", "0xfffff88001a7c000", ""},
	}, cells(grid))

	block, err := app.DebugBlock()
	require.NoError(t, err)
	assert.Equal(t, kdbgAddr, block.Addr())

	require.NoError(t, app.Render(grid))
	assert.Equal(t, "dump_dumpfve.sys|2012-02-28 16:12:13 UTC+0000;crashdmp.sys|;", out.String())
}

func TestUnloadedCapacity(t *testing.T) {
	path, b := writeImage(t)
	app, _ := newApp(t, newConfig(t,
		"-f", path,
		"--dtb", fmt.Sprintf("%#x", b.DTB()),
		"--kdbg", kdbgAddr.Hex(),
		"--unloaded.capacity", "2",
	))

	grid, err := app.Unloaded()
	require.NoError(t, err)
	require.Equal(t, 1, grid.Len())
	assert.Equal(t, "dump_dumpfve.sys", grid.Rows()[0][0].String())
}

func TestScanDebugBlocks(t *testing.T) {
	path, b := writeImage(t)
	app, _ := newApp(t, newConfig(t, "-f", path, "--dtb", fmt.Sprintf("%#x", b.DTB())))

	grid, err := app.ScanDebugBlocks()
	require.NoError(t, err)
	require.Equal(t, 1, grid.Len())

	row := cells(grid)[0]
	assert.Equal(t, kdbgAddr.Hex(), row[0])
	assert.Equal(t, kernel.ResolveOffset(b.Space(), kdbgAddr, kernel.Physical).String(), row[1])
	assert.Equal(t, []string{"KDBG", "0x340", "0xfffff80002a53000", moduleList.Hex(), unloadedRing.Hex()}, row[2:])
}

func TestInvalidDebugBlockAddress(t *testing.T) {
	path, b := writeImage(t)
	app, _ := newApp(t, newConfig(t,
		"-f", path,
		"--dtb", fmt.Sprintf("%#x", b.DTB()),
		"--kdbg", kdbgAddr.Inc(8).Hex(),
	))

	_, err := app.Unloaded()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kernel debugger data block")
}

func TestNewAppErrors(t *testing.T) {
	path, _ := writeImage(t)

	_, err := NewApp(newConfig(t, "-f", filepath.Join(t.TempDir(), "missing.raw")), WithProgress(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	_, err = NewApp(newConfig(t, "-f", path, "--profile", "Win7SP1x86"), WithProgress(nil))
	require.Error(t, err)

	_, err = NewApp(newConfig(t, "-f", path, "--dtb", "0xfffffffffffff000"), WithProgress(nil))
	require.Error(t, err)

	_, err = NewApp(newConfig(t), WithProgress(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image is required")
}
