//go:build linux && amd64

package coredump

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

const (
	fixturePkg = "github.com/coral-mesh/typescope/pkg/target/coredump"

	stackBase = 0x7ff000000000
	mainPID   = 4242
	workerPID = 4243
)

var coreFixtureGlobal = [4]uint32{1, 2, 3, 4}

type loadSpec struct {
	addr uint64
	data []byte
}

// writeCore writes a minimal ELF64 core with one PT_NOTE segment followed
// by the given PT_LOAD segments.
func writeCore(t *testing.T, notes []byte, loads ...loadSpec) string {
	t.Helper()
	le := binary.LittleEndian
	phnum := len(loads) + 1
	off := uint64(64 + 56*phnum)

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     uint16(phnum),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	require.NoError(t, binary.Write(&buf, le, hdr))

	progs := []elf.Prog64{{Type: uint32(elf.PT_NOTE), Off: off, Filesz: uint64(len(notes))}}
	off += uint64(len(notes))
	for _, l := range loads {
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    off,
			Vaddr:  l.addr,
			Filesz: uint64(len(l.data)),
			Memsz:  uint64(len(l.data)),
			Align:  0x1000,
		})
		off += uint64(len(l.data))
	}
	require.NoError(t, binary.Write(&buf, le, progs))
	buf.Write(notes)
	for _, l := range loads {
		buf.Write(l.data)
	}

	path := filepath.Join(t.TempDir(), "core")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

// prstatus encodes an x86-64 elf_prstatus with the registers the adapter
// reads.
func prstatus(pid uint32, rip, rsp, rbp, fsBase uint64) []byte {
	le := binary.LittleEndian
	desc := make([]byte, prstatusRegsOffset+27*8+8)
	le.PutUint32(desc[prstatusPidOffset:], pid)
	regs := desc[prstatusRegsOffset:]
	le.PutUint64(regs[4*8:], rbp)
	le.PutUint64(regs[16*8:], rip)
	le.PutUint64(regs[19*8:], rsp)
	le.PutUint64(regs[21*8:], fsBase)
	return desc
}

// stack returns one page at stackBase holding a two-frame rbp chain.
func stack() []byte {
	le := binary.LittleEndian
	page := make([]byte, 0x1000)
	le.PutUint64(page[0xf10:], stackBase+0xf40)
	le.PutUint64(page[0xf18:], 0x6f0000000100)
	le.PutUint64(page[0xf40:], 0)
	le.PutUint64(page[0xf48:], 0x6f0000000200)
	return page
}

func selfExe(t *testing.T) (string, *elf.File) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := elf.Open(exe)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return exe, f
}

func openFixture(t *testing.T, opts ...Option) (*Core, *elf.File) {
	t.Helper()
	exe, f := selfExe(t)

	var notes []byte
	notes = appendNote(notes, "CORE", ntPrstatus, prstatus(mainPID, 0x6f0000000010, stackBase+0xf00, stackBase+0xf10, 0x7f0000001000))
	notes = appendNote(notes, "CORE", ntPrstatus, prstatus(workerPID, 0x6f0000000300, stackBase+0x800, 0, 0x7f0000002000))
	notes = appendNote(notes, "CORE", ntFile, fileNote(
		fileMapping{start: 0x7f0000100000, end: 0x7f0000128000, path: "/usr/lib/libc.so.6"},
		fileMapping{start: 0x7f0000128000, end: 0x7f00001a0000, offset: 0x28000, path: "/usr/lib/libc.so.6"},
	))
	path := writeCore(t, notes, loadSpec{addr: stackBase, data: stack()})

	c, err := Open(path, exe, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c, f
}

func TestOpen_Threads(t *testing.T) {
	c, _ := openFixture(t)
	ctx := context.Background()

	threads, err := c.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []target.ThreadHandle{
		{EngineID: 0, SystemID: mainPID},
		{EngineID: 1, SystemID: workerPID},
	}, threads)

	cur, err := c.CurrentThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, threads[0], cur)

	teb, err := c.ThreadEnvironmentBlock(ctx, threads[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f0000002000), teb)

	_, err = c.ThreadEnvironmentBlock(ctx, target.ThreadHandle{EngineID: 7})
	assert.ErrorIs(t, err, target.ErrNotFound)
	_, err = c.WalkStack(ctx, target.ThreadHandle{EngineID: 1, SystemID: mainPID})
	assert.ErrorIs(t, err, target.ErrNotFound, "system ID must match")
}

func TestWalkStack(t *testing.T) {
	c, _ := openFixture(t)
	ctx := context.Background()
	threads, err := c.Threads(ctx)
	require.NoError(t, err)

	frames, err := c.WalkStack(ctx, threads[0])
	require.NoError(t, err)
	assert.Equal(t, []target.FrameHandle{
		{Thread: threads[0], Number: 0, InstructionOffset: 0x6f0000000010, ReturnOffset: 0x6f0000000100, FrameOffset: stackBase + 0xf10, StackOffset: stackBase + 0xf00},
		{Thread: threads[0], Number: 1, InstructionOffset: 0x6f0000000100, ReturnOffset: 0x6f0000000200, FrameOffset: stackBase + 0xf40, StackOffset: stackBase + 0xf20},
	}, frames)

	// No frame pointer: a single frame without a return address.
	frames, err = c.WalkStack(ctx, threads[1])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(0x6f0000000300), frames[0].InstructionOffset)
	assert.Zero(t, frames[0].ReturnOffset)

	locals, err := c.FrameLocals(ctx, frames[0])
	require.NoError(t, err)
	assert.Empty(t, locals, "no function covers the program counter")
	args, err := c.FrameArgs(ctx, frames[0])
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestWalkStack_MaxFrames(t *testing.T) {
	c, _ := openFixture(t, WithMaxFrames(1))
	ctx := context.Background()

	cur, err := c.CurrentThread(ctx)
	require.NoError(t, err)
	frames, err := c.WalkStack(ctx, cur)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(0x6f0000000100), frames[0].ReturnOffset)
}

func TestReadMemory(t *testing.T) {
	c, f := openFixture(t)
	ctx := context.Background()

	buf := make([]byte, 8)
	require.NoError(t, c.ReadMemory(ctx, stackBase+0xf18, buf))
	assert.Equal(t, uint64(0x6f0000000100), binary.LittleEndian.Uint64(buf))

	var rerr *target.ReadError
	err := c.ReadMemory(ctx, stackBase+0xffc, buf)
	require.ErrorAs(t, err, &rerr, "read runs past the mapped stack page")
	assert.Equal(t, uint64(stackBase+0xffc), rerr.Addr)

	// The executable's headers are not in the core and come from the file.
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Off == 0 && p.Filesz >= 4 && f.Type == elf.ET_EXEC {
			magic := make([]byte, 4)
			require.NoError(t, c.ReadMemory(ctx, p.Vaddr, magic))
			assert.Equal(t, elf.ELFMAG, string(magic))
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.ReadMemory(cancelled, stackBase, buf), context.Canceled)
}

func TestReadMemory_CoreWinsOverExecutable(t *testing.T) {
	exe, f := selfExe(t)
	var text *elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Off == 0 && p.Filesz >= 4 {
			text = p
			break
		}
	}
	if text == nil || f.Type != elf.ET_EXEC {
		t.Skip("test binary has no fixed first loadable segment")
	}

	notes := appendNote(nil, "CORE", ntPrstatus, prstatus(mainPID, 0, 0, 0, 0))
	path := writeCore(t, notes, loadSpec{addr: text.Vaddr, data: []byte("CORE")})
	c, err := Open(path, exe)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	buf := make([]byte, 8)
	require.NoError(t, c.ReadMemory(context.Background(), text.Vaddr, buf))
	assert.Equal(t, "CORE", string(buf[:4]))
	// The remaining bytes of the ELF header follow from the executable.
	assert.Equal(t, byte(elf.ELFCLASS64), buf[elf.EI_CLASS])
}

func TestModules(t *testing.T) {
	c, _ := openFixture(t)

	mods, err := c.Modules(context.Background())
	require.NoError(t, err)

	byName := make(map[string]target.Module)
	for _, m := range mods {
		byName[m.Name] = m
	}
	require.Contains(t, byName, "libc")
	assert.Equal(t, uint64(0x7f0000100000), byName["libc"].Base)
	assert.Equal(t, uint64(0xa0000), byName["libc"].Size)
	assert.Contains(t, byName, "coredump", "the executable is always listed")
}

func TestSymbols(t *testing.T) {
	c, f := openFixture(t)
	if _, err := f.DWARF(); err != nil {
		t.Skipf("test binary has no DWARF: %v", err)
	}
	ctx := context.Background()

	d, err := c.ResolveType(ctx, "", fixturePkg+".threadState")
	require.NoError(t, err)
	assert.Equal(t, typeinfo.Struct, d.Kind())
	assert.Equal(t, uint64(unsafe.Sizeof(threadState{})), d.Size())

	_, err = c.ResolveType(ctx, "libc", fixturePkg+".threadState")
	assert.ErrorIs(t, err, target.ErrNotFound)

	sym, err := c.ResolveSymbol(ctx, "coredump", fixturePkg+".coreFixtureGlobal")
	require.NoError(t, err)
	assert.Equal(t, "coredump", sym.Module)
	if f.Type == elf.ET_EXEC {
		assert.Equal(t, uint64(uintptr(unsafe.Pointer(&coreFixtureGlobal))), sym.Address)

		buf := make([]byte, 16)
		require.NoError(t, c.ReadMemory(ctx, sym.Address, buf))
		assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[8:]), "initialized data comes from the executable")
	}
}

func TestNearestSymbol(t *testing.T) {
	c, f := openFixture(t)
	if f.Type != elf.ET_EXEC {
		t.Skip("position independent test binary")
	}
	if _, err := f.Symbols(); err != nil {
		t.Skipf("test binary has no symbol table: %v", err)
	}
	ctx := context.Background()

	pc := uint64(reflect.ValueOf(Open).Pointer())
	sym, disp, err := c.NearestSymbol(ctx, pc+1)
	require.NoError(t, err)
	assert.Equal(t, fixturePkg+".Open", sym.Name)
	assert.Equal(t, uint64(1), disp)
	assert.Equal(t, pc, sym.Address)

	_, _, err = c.NearestSymbol(ctx, 0x10)
	assert.ErrorIs(t, err, target.ErrNotFound)
}

func TestOpen_Errors(t *testing.T) {
	exe, _ := selfExe(t)

	_, err := Open(filepath.Join(t.TempDir(), "missing"), exe)
	assert.Error(t, err)

	_, err = Open(exe, exe)
	assert.ErrorContains(t, err, "not a core file")

	noThreads := writeCore(t, nil, loadSpec{addr: stackBase, data: stack()})
	_, err = Open(noThreads, exe)
	assert.ErrorContains(t, err, "NT_PRSTATUS")
}

func TestClose_Twice(t *testing.T) {
	exe, _ := selfExe(t)
	notes := appendNote(nil, "CORE", ntPrstatus, prstatus(mainPID, 0, 0, 0, 0))
	c, err := Open(writeCore(t, notes), exe)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
