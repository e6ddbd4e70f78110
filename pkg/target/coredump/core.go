// Package coredump opens an ELF core file of a linux/amd64 process as a
// read-only target.Engine. Types, globals and frame variables come from the
// DWARF data of the matching executable; code and read-only data missing
// from the core are served from the executable's loadable segments.
package coredump

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/constants"
	"github.com/coral-mesh/typescope/internal/dwarfinfo"
	ierrors "github.com/coral-mesh/typescope/internal/errors"
	"github.com/coral-mesh/typescope/internal/logging"
	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// threadState is the register state of one thread at dump time.
type threadState struct {
	pid    uint32
	pc     uint64
	sp     uint64
	fp     uint64
	fsBase uint64
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	maxFrames int
}

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxFrames bounds every stack walk.
func WithMaxFrames(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrames = n
		}
	}
}

// Core is a loaded core file. It is immutable after Open and safe for
// concurrent use.
type Core struct {
	logger    zerolog.Logger
	maxFrames int

	core *mappedFile
	exe  *mappedFile

	mem     dataSegments
	threads []threadState
	modules []target.Module

	exeModule string
	bias      uint64
	index     *dwarfinfo.Index // nil when the executable has no DWARF
	symtab    []elf.Symbol     // functions and objects, sorted by run-time address
}

var _ target.Engine = (*Core)(nil)

var amd64 = target.Arch{Name: "amd64", PointerSize: 8, ByteOrder: binary.LittleEndian}

// Open maps corePath and exePath and indexes them.
func Open(corePath, exePath string, opts ...Option) (c *Core, err error) {
	o := options{logger: zerolog.Nop(), maxFrames: constants.DefaultMaxStackFrames}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Component(o.logger, "coredump")

	coreMap, err := mapFile(corePath)
	if err != nil {
		return nil, err
	}
	defer ierrors.CloseOnError(logger, &err, coreMap, "failed to unmap core file")

	exeMap, err := mapFile(exePath)
	if err != nil {
		return nil, err
	}
	defer ierrors.CloseOnError(logger, &err, exeMap, "failed to unmap executable")

	c = &Core{
		logger:    logger,
		maxFrames: o.maxFrames,
		core:      coreMap,
		exe:       exeMap,
		exeModule: moduleName(exePath),
	}
	if err := c.loadCore(); err != nil {
		return nil, fmt.Errorf("core %s: %w", corePath, err)
	}
	if err := c.loadExecutable(exePath); err != nil {
		return nil, fmt.Errorf("executable %s: %w", exePath, err)
	}

	logger.Debug().
		Int("segments", len(c.mem)).
		Int("threads", len(c.threads)).
		Int("modules", len(c.modules)).
		Uint64("bias", c.bias).
		Bool("dwarf", c.index != nil).
		Msg("Core file loaded")
	return c, nil
}

// Close unmaps both files. The Core must not be used afterwards.
func (c *Core) Close() error {
	return ierrors.CloseAll(c.core, c.exe)
}

func (c *Core) loadCore() error {
	f, err := elf.NewFile(bytes.NewReader(c.core.data))
	if err != nil {
		return err
	}
	if f.Type != elf.ET_CORE {
		return fmt.Errorf("not a core file: %v", f.Type)
	}
	if f.Machine != elf.EM_X86_64 || f.Class != elf.ELFCLASS64 {
		return fmt.Errorf("unsupported machine %v/%v", f.Machine, f.Class)
	}

	var notes coreNotes
	for _, p := range f.Progs {
		data, err := progData(c.core.data, p)
		if err != nil {
			return err
		}
		switch p.Type {
		case elf.PT_LOAD:
			if err := c.mem.fill(p.Vaddr, data); err != nil {
				return err
			}
		case elf.PT_NOTE:
			if err := parseNotes(data, f.ByteOrder, &notes); err != nil {
				return err
			}
		}
	}

	for i, desc := range notes.prstatus {
		th, err := decodePrstatus(desc, f.ByteOrder)
		if err != nil {
			return fmt.Errorf("thread %d: %w", i, err)
		}
		c.threads = append(c.threads, th)
	}
	if len(c.threads) == 0 {
		return errors.New("no NT_PRSTATUS notes")
	}

	c.modules = modulesFromFiles(notes.files)
	c.bias = 0
	for _, m := range notes.files {
		if m.offset == 0 && moduleName(m.path) == c.exeModule {
			c.bias = m.start
			break
		}
	}
	return nil
}

// progData returns the file-backed bytes of a program header.
func progData(file []byte, p *elf.Prog) ([]byte, error) {
	if p.Filesz == 0 {
		return nil, nil
	}
	end := p.Off + p.Filesz
	if end < p.Off || end > uint64(len(file)) {
		return nil, fmt.Errorf("program header at offset 0x%x with size 0x%x exceeds the file", p.Off, p.Filesz)
	}
	return file[p.Off:end:end], nil
}

func (c *Core) loadExecutable(path string) error {
	f, err := elf.NewFile(bytes.NewReader(c.exe.data))
	if err != nil {
		return err
	}
	if f.Machine != elf.EM_X86_64 {
		return fmt.Errorf("unsupported machine %v", f.Machine)
	}

	// c.bias holds the run-time address of the mapping at file offset 0
	// when NT_FILE listed the executable. Turn it into a load bias.
	var first uint64
	haveFirst := false
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && (!haveFirst || p.Vaddr < first) {
			first, haveFirst = p.Vaddr, true
		}
	}
	switch {
	case f.Type != elf.ET_DYN || c.bias == 0:
		c.bias = 0
	case haveFirst:
		c.bias -= first &^ 0xfff
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data, err := progData(c.exe.data, p)
		if err != nil {
			return err
		}
		if err := c.mem.fill(p.Vaddr+c.bias, data); err != nil {
			return err
		}
	}

	if !c.hasModule(c.exeModule) && haveFirst {
		c.modules = append(c.modules, executableModule(f, path, c.exeModule, c.bias))
	}

	if syms, err := f.Symbols(); err != nil {
		c.logger.Debug().Err(err).Msg("Symbol table not available")
	} else {
		for _, s := range syms {
			typ := elf.ST_TYPE(s.Info)
			if s.Value == 0 || (typ != elf.STT_FUNC && typ != elf.STT_OBJECT) {
				continue
			}
			s.Value += c.bias
			c.symtab = append(c.symtab, s)
		}
		sort.Slice(c.symtab, func(i, j int) bool { return c.symtab[i].Value < c.symtab[j].Value })
	}

	data, err := f.DWARF()
	if err != nil {
		c.logger.Warn().Err(err).Msg("DWARF debug info not available, types and variables cannot be resolved")
		return nil
	}
	c.index, err = dwarfinfo.New(data, dwarfinfo.Options{
		Module:      c.exeModule,
		PointerSize: amd64.PointerSize,
		ByteOrder:   f.ByteOrder,
		Bias:        c.bias,
	})
	return err
}

func (c *Core) hasModule(name string) bool {
	for _, m := range c.modules {
		if m.Name == name {
			return true
		}
	}
	return false
}

func executableModule(f *elf.File, path, name string, bias uint64) target.Module {
	var lo, hi uint64
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if (lo == 0 && hi == 0) || p.Vaddr < lo {
			lo = p.Vaddr
		}
		hi = max(hi, p.Vaddr+p.Memsz)
	}
	return target.Module{Name: name, Path: path, Base: lo + bias, Size: hi - lo}
}

// moduleName is the base name up to the first dot: libc.so.6 is "libc".
func moduleName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// modulesFromFiles groups NT_FILE mappings by path.
func modulesFromFiles(files []fileMapping) []target.Module {
	var mods []target.Module
	index := make(map[string]int)
	for _, f := range files {
		i, ok := index[f.path]
		if !ok {
			index[f.path] = len(mods)
			mods = append(mods, target.Module{Name: moduleName(f.path), Path: f.path, Base: f.start, Size: f.end - f.start})
			continue
		}
		m := &mods[i]
		end := max(m.Base+m.Size, f.end)
		m.Base = min(m.Base, f.start)
		m.Size = end - m.Base
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return mods
}

// Arch implements target.Engine.
func (c *Core) Arch() target.Arch { return amd64 }

// ReadMemory implements target.Memory.
func (c *Core) ReadMemory(ctx context.Context, addr uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return &target.ReadError{Addr: addr, Len: len(buf), Err: err}
	}
	if !c.mem.copyOut(addr, buf) {
		return &target.ReadError{Addr: addr, Len: len(buf)}
	}
	return nil
}

func (c *Core) indexFor(module string) (*dwarfinfo.Index, error) {
	if module != "" && module != c.exeModule {
		return nil, fmt.Errorf("module %s has no debug info: %w", module, target.ErrNotFound)
	}
	if c.index == nil {
		return nil, fmt.Errorf("module %s has no debug info: %w", c.exeModule, target.ErrNotFound)
	}
	return c.index, nil
}

// ResolveSymbol implements target.Symbols.
func (c *Core) ResolveSymbol(ctx context.Context, module, name string) (target.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return target.Symbol{}, err
	}
	ix, err := c.indexFor(module)
	if err != nil {
		return target.Symbol{}, err
	}
	return ix.Global(name)
}

// ResolveType implements target.Symbols.
func (c *Core) ResolveType(ctx context.Context, module, name string) (*typeinfo.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix, err := c.indexFor(module)
	if err != nil {
		return nil, err
	}
	return ix.Type(name)
}

// NearestSymbol implements target.Symbols using the executable's symbol
// table. Sized symbols only match inside their extent.
func (c *Core) NearestSymbol(ctx context.Context, addr uint64) (target.Symbol, uint64, error) {
	if err := ctx.Err(); err != nil {
		return target.Symbol{}, 0, err
	}
	i := sort.Search(len(c.symtab), func(i int) bool { return c.symtab[i].Value > addr }) - 1
	if i < 0 {
		return target.Symbol{}, 0, fmt.Errorf("no symbol at 0x%x: %w", addr, target.ErrNotFound)
	}
	s := c.symtab[i]
	disp := addr - s.Value
	if s.Size > 0 && disp >= s.Size {
		return target.Symbol{}, 0, fmt.Errorf("no symbol at 0x%x: %w", addr, target.ErrNotFound)
	}
	return target.Symbol{Module: c.exeModule, Name: s.Name, Address: s.Value}, disp, nil
}

// Modules implements target.Symbols.
func (c *Core) Modules(ctx context.Context) ([]target.Module, error) {
	return append([]target.Module(nil), c.modules...), ctx.Err()
}

// Threads implements target.Threads. Engine IDs are note order.
func (c *Core) Threads(ctx context.Context) ([]target.ThreadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]target.ThreadHandle, len(c.threads))
	for i, th := range c.threads {
		out[i] = target.ThreadHandle{EngineID: uint32(i), SystemID: th.pid}
	}
	return out, nil
}

// CurrentThread implements target.Threads. The kernel writes the
// faulting thread's note first.
func (c *Core) CurrentThread(ctx context.Context) (target.ThreadHandle, error) {
	if err := ctx.Err(); err != nil {
		return target.ThreadHandle{}, err
	}
	return target.ThreadHandle{EngineID: 0, SystemID: c.threads[0].pid}, nil
}

func (c *Core) thread(h target.ThreadHandle) (threadState, error) {
	if int(h.EngineID) >= len(c.threads) || c.threads[h.EngineID].pid != h.SystemID {
		return threadState{}, fmt.Errorf("thread %d: %w", h.EngineID, target.ErrNotFound)
	}
	return c.threads[h.EngineID], nil
}

// ThreadEnvironmentBlock implements target.Threads. On linux/amd64 this is
// the fs base, which points at the thread control block.
func (c *Core) ThreadEnvironmentBlock(ctx context.Context, h target.ThreadHandle) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	th, err := c.thread(h)
	if err != nil {
		return 0, err
	}
	return th.fsBase, nil
}

// WalkStack implements target.Threads by following the saved frame
// pointer chain. It stops at a null or non-increasing frame pointer, an
// unreadable slot or after the configured number of frames.
func (c *Core) WalkStack(ctx context.Context, h target.ThreadHandle) ([]target.FrameHandle, error) {
	th, err := c.thread(h)
	if err != nil {
		return nil, err
	}

	var frames []target.FrameHandle
	pc, sp, fp := th.pc, th.sp, th.fp
	for len(frames) < c.maxFrames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fr := target.FrameHandle{
			Thread:            h,
			Number:            uint32(len(frames)),
			InstructionOffset: pc,
			FrameOffset:       fp,
			StackOffset:       sp,
		}
		var slot [16]byte
		ok := fp != 0 && c.mem.copyOut(fp, slot[:])
		next := binary.LittleEndian.Uint64(slot[0:])
		ret := binary.LittleEndian.Uint64(slot[8:])
		if ok {
			fr.ReturnOffset = ret
		}
		frames = append(frames, fr)
		if !ok || ret == 0 || next <= fp {
			break
		}
		pc, sp, fp = ret, fp+16, next
	}
	return frames, nil
}

// FrameLocals implements target.Threads.
func (c *Core) FrameLocals(ctx context.Context, fr target.FrameHandle) ([]target.Variable, error) {
	locals, _, err := c.variables(ctx, fr)
	return locals, err
}

// FrameArgs implements target.Threads.
func (c *Core) FrameArgs(ctx context.Context, fr target.FrameHandle) ([]target.Variable, error) {
	_, args, err := c.variables(ctx, fr)
	return args, err
}

func (c *Core) variables(ctx context.Context, fr target.FrameHandle) (locals, args []target.Variable, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if _, err := c.thread(fr.Thread); err != nil {
		return nil, nil, err
	}
	if c.index == nil {
		return nil, nil, nil
	}

	pc := fr.InstructionOffset
	if fr.Number > 0 && pc > 0 {
		// Return addresses point past the call; look up the call itself.
		pc--
	}
	regs := dwarfinfo.FrameRegs{
		CFA:  fr.FrameOffset + 16,
		Regs: map[int]uint64{6: fr.FrameOffset, 7: fr.StackOffset},
	}
	locals, args, err = c.index.Variables(pc, regs)
	if errors.Is(err, dwarfinfo.ErrNoFunction) {
		return nil, nil, nil
	}
	return locals, args, err
}
