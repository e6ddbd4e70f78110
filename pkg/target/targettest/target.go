// Package targettest provides an in-memory target for tests and for hosts
// that want to drive the introspection core without a real debugger.
//
//	tgt := targettest.New()
//	tgt.Map(0x1000, []byte("FooCar\x00"))
//	tgt.AddGlobal("dummy", "g_car", 0x1000, carType)
package targettest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Frame describes one stack frame of a fake thread.
type Frame struct {
	InstructionOffset uint64
	ReturnOffset      uint64
	FrameOffset       uint64
	StackOffset       uint64
	Locals            []target.Variable
	Args              []target.Variable
}

type thread struct {
	handle target.ThreadHandle
	teb    uint64
	frames []Frame
}

type key struct {
	module string
	name   string
}

// Target is an in-memory target.Engine. It is safe for concurrent use.
type Target struct {
	arch target.Arch

	mu       sync.RWMutex
	mem      segments
	modules  []target.Module
	globals  map[key]target.Symbol
	types    map[key]*typeinfo.Descriptor
	threads  []thread
	current  int
	symStubs []target.Symbol // sorted by address

	reads   atomic.Int64
	walks   atomic.Int64
	lookups atomic.Int64
}

var _ target.Engine = (*Target)(nil)

// New returns an empty little-endian 64-bit target.
func New() *Target {
	return NewWithArch(target.Arch{Name: "amd64", PointerSize: 8, ByteOrder: binary.LittleEndian})
}

// NewWithArch returns an empty target with the given machine description.
func NewWithArch(arch target.Arch) *Target {
	return &Target{
		arch:    arch,
		globals: make(map[key]target.Symbol),
		types:   make(map[key]*typeinfo.Descriptor),
	}
}

// Map makes data readable at addr.
func (t *Target) Map(addr uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mem.insert(addr, data); err != nil {
		panic(err)
	}
}

// AddModule registers a loaded module.
func (t *Target) AddModule(m target.Module) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules = append(t.modules, m)
}

// RemoveModule unregisters a module and every global and type it owns.
func (t *Target) RemoveModule(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.modules[:0]
	for _, m := range t.modules {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	t.modules = kept
	for k := range t.globals {
		if k.module == name {
			delete(t.globals, k)
		}
	}
	for k := range t.types {
		if k.module == name {
			delete(t.types, k)
		}
	}
}

// AddType registers a named type in module.
func (t *Target) AddType(module string, d *typeinfo.Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[key{module, d.Name()}] = d
}

// AddGlobal registers a global variable. The global also becomes visible
// to NearestSymbol.
func (t *Target) AddGlobal(module, name string, addr uint64, typ *typeinfo.Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sym := target.Symbol{Module: module, Name: name, Address: addr, Type: typ}
	t.globals[key{module, name}] = sym
	t.insertSymbolLocked(sym)
}

// AddSymbol registers an address-only symbol (functions, vtables) for
// NearestSymbol.
func (t *Target) AddSymbol(module, name string, addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertSymbolLocked(target.Symbol{Module: module, Name: name, Address: addr})
}

func (t *Target) insertSymbolLocked(sym target.Symbol) {
	t.symStubs = append(t.symStubs, sym)
	sort.SliceStable(t.symStubs, func(i, k int) bool {
		return t.symStubs[i].Address < t.symStubs[k].Address
	})
}

// AddThread registers a thread with frames listed innermost first and
// returns its handle. The first thread added is the current one.
func (t *Target) AddThread(systemID uint32, teb uint64, frames ...Frame) target.ThreadHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := target.ThreadHandle{EngineID: uint32(len(t.threads)), SystemID: systemID}
	t.threads = append(t.threads, thread{handle: h, teb: teb, frames: frames})
	return h
}

// SetCurrentThread selects the current thread by engine id.
func (t *Target) SetCurrentThread(engineID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = int(engineID)
}

// Reads returns how many ReadMemory calls were issued.
func (t *Target) Reads() int64 { return t.reads.Load() }

// Walks returns how many WalkStack calls were issued.
func (t *Target) Walks() int64 { return t.walks.Load() }

// Lookups returns how many ResolveSymbol and ResolveType calls were issued.
func (t *Target) Lookups() int64 { return t.lookups.Load() }

// Arch implements target.Engine.
func (t *Target) Arch() target.Arch { return t.arch }

// ReadMemory implements target.Memory.
func (t *Target) ReadMemory(ctx context.Context, addr uint64, buf []byte) error {
	t.reads.Add(1)
	if err := ctx.Err(); err != nil {
		return &target.ReadError{Addr: addr, Len: len(buf), Err: err}
	}
	if addr+uint64(len(buf)) < addr {
		return &target.ReadError{Addr: addr, Len: len(buf)}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	tmp := make([]byte, len(buf))
	if !t.mem.copyOut(addr, tmp) {
		return &target.ReadError{Addr: addr, Len: len(buf)}
	}
	copy(buf, tmp)
	return nil
}

// ResolveSymbol implements target.Symbols.
func (t *Target) ResolveSymbol(ctx context.Context, module, name string) (target.Symbol, error) {
	t.lookups.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()

	if module != "" {
		if sym, ok := t.globals[key{module, name}]; ok {
			return sym, nil
		}
		return target.Symbol{}, fmt.Errorf("global %s!%s: %w", module, name, target.ErrNotFound)
	}
	for _, m := range t.modules {
		if sym, ok := t.globals[key{m.Name, name}]; ok {
			return sym, nil
		}
	}
	return target.Symbol{}, fmt.Errorf("global %s: %w", name, target.ErrNotFound)
}

// ResolveType implements target.Symbols.
func (t *Target) ResolveType(ctx context.Context, module, name string) (*typeinfo.Descriptor, error) {
	t.lookups.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()

	if module != "" {
		if d, ok := t.types[key{module, name}]; ok {
			return d, nil
		}
		return nil, fmt.Errorf("type %s!%s: %w", module, name, target.ErrNotFound)
	}
	for _, m := range t.modules {
		if d, ok := t.types[key{m.Name, name}]; ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("type %s: %w", name, target.ErrNotFound)
}

// NearestSymbol implements target.Symbols.
func (t *Target) NearestSymbol(ctx context.Context, addr uint64) (target.Symbol, uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	k := sort.Search(len(t.symStubs), func(k int) bool {
		return addr < t.symStubs[k].Address
	})
	k--
	if k < 0 {
		return target.Symbol{}, 0, fmt.Errorf("no symbol at or below 0x%x: %w", addr, target.ErrNotFound)
	}
	sym := t.symStubs[k]
	return sym, addr - sym.Address, nil
}

// Modules implements target.Symbols.
func (t *Target) Modules(ctx context.Context) ([]target.Module, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]target.Module(nil), t.modules...), nil
}

// Threads implements target.Threads.
func (t *Target) Threads(ctx context.Context) ([]target.ThreadHandle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]target.ThreadHandle, 0, len(t.threads))
	for _, th := range t.threads {
		out = append(out, th.handle)
	}
	return out, nil
}

// CurrentThread implements target.Threads.
func (t *Target) CurrentThread(ctx context.Context) (target.ThreadHandle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current >= len(t.threads) {
		return target.ThreadHandle{}, fmt.Errorf("current thread: %w", target.ErrNotFound)
	}
	return t.threads[t.current].handle, nil
}

func (t *Target) threadLocked(h target.ThreadHandle) (thread, error) {
	if int(h.EngineID) >= len(t.threads) || t.threads[h.EngineID].handle != h {
		return thread{}, fmt.Errorf("thread %d: %w", h.EngineID, target.ErrNotFound)
	}
	return t.threads[h.EngineID], nil
}

// ThreadEnvironmentBlock implements target.Threads.
func (t *Target) ThreadEnvironmentBlock(ctx context.Context, h target.ThreadHandle) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	th, err := t.threadLocked(h)
	if err != nil {
		return 0, err
	}
	return th.teb, nil
}

// WalkStack implements target.Threads.
func (t *Target) WalkStack(ctx context.Context, h target.ThreadHandle) ([]target.FrameHandle, error) {
	t.walks.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()
	th, err := t.threadLocked(h)
	if err != nil {
		return nil, err
	}
	out := make([]target.FrameHandle, 0, len(th.frames))
	for i, f := range th.frames {
		out = append(out, target.FrameHandle{
			Thread:            h,
			Number:            uint32(i),
			InstructionOffset: f.InstructionOffset,
			ReturnOffset:      f.ReturnOffset,
			FrameOffset:       f.FrameOffset,
			StackOffset:       f.StackOffset,
		})
	}
	return out, nil
}

func (t *Target) frameLocked(fr target.FrameHandle) (Frame, error) {
	th, err := t.threadLocked(fr.Thread)
	if err != nil {
		return Frame{}, err
	}
	if int(fr.Number) >= len(th.frames) {
		return Frame{}, fmt.Errorf("frame %d of thread %d: %w", fr.Number, fr.Thread.EngineID, target.ErrNotFound)
	}
	return th.frames[fr.Number], nil
}

// FrameLocals implements target.Threads.
func (t *Target) FrameLocals(ctx context.Context, fr target.FrameHandle) ([]target.Variable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, err := t.frameLocked(fr)
	if err != nil {
		return nil, err
	}
	return append([]target.Variable(nil), f.Locals...), nil
}

// FrameArgs implements target.Threads.
func (t *Target) FrameArgs(ctx context.Context, fr target.FrameHandle) ([]target.Variable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, err := t.frameLocked(fr)
	if err != nil {
		return nil, err
	}
	return append([]target.Variable(nil), f.Args...), nil
}
