// Package target defines the boundary between the introspection core and
// the host debugger engine. The core only consumes these services; engines
// (a live debugger, a core dump, the in-memory test target) implement them.
package target

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// ErrNotFound is returned (possibly wrapped) by engines when a module,
// symbol or type does not exist in the loaded symbol set.
var ErrNotFound = errors.New("not found")

// ReadError reports an engine-level memory access failure.
type ReadError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot read %d bytes at 0x%x", e.Len, e.Addr)
	}
	return fmt.Sprintf("cannot read %d bytes at 0x%x: %v", e.Len, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Arch describes the target machine.
type Arch struct {
	Name        string // GOARCH-style name, e.g. "amd64"
	PointerSize int
	ByteOrder   binary.ByteOrder
}

// Module is a loaded image in the target.
type Module struct {
	Name string
	Path string
	Base uint64
	Size uint64
}

// Symbol is a resolved global.
type Symbol struct {
	Module  string
	Name    string
	Address uint64
	Type    *typeinfo.Descriptor
}

// ThreadHandle identifies a thread in the current execution snapshot.
type ThreadHandle struct {
	EngineID uint32
	SystemID uint32
}

// FrameHandle identifies one activation record on a thread's stack.
type FrameHandle struct {
	Thread            ThreadHandle
	Number            uint32
	InstructionOffset uint64
	ReturnOffset      uint64
	FrameOffset       uint64
	StackOffset       uint64
}

// Variable is a local or argument resolved against a frame's context.
type Variable struct {
	Name    string
	Address uint64
	Type    *typeinfo.Descriptor
}

// Memory reads target memory.
type Memory interface {
	// ReadMemory fills buf from addr. It either fills the whole buffer or
	// returns an error; partial reads are never reported as success.
	ReadMemory(ctx context.Context, addr uint64, buf []byte) error
}

// Symbols resolves names against the loaded symbol set. An empty module
// name means "any module".
type Symbols interface {
	ResolveSymbol(ctx context.Context, module, name string) (Symbol, error)
	ResolveType(ctx context.Context, module, name string) (*typeinfo.Descriptor, error)
	// NearestSymbol returns the closest symbol at or below addr and the
	// displacement from it.
	NearestSymbol(ctx context.Context, addr uint64) (Symbol, uint64, error)
	Modules(ctx context.Context) ([]Module, error)
}

// Threads exposes the execution snapshot.
type Threads interface {
	Threads(ctx context.Context) ([]ThreadHandle, error)
	CurrentThread(ctx context.Context) (ThreadHandle, error)
	ThreadEnvironmentBlock(ctx context.Context, th ThreadHandle) (uint64, error)
	// WalkStack returns frames innermost first.
	WalkStack(ctx context.Context, th ThreadHandle) ([]FrameHandle, error)
	FrameLocals(ctx context.Context, fr FrameHandle) ([]Variable, error)
	FrameArgs(ctx context.Context, fr FrameHandle) ([]Variable, error)
}

// Engine is everything the core consumes from a debugger.
type Engine interface {
	Memory
	Symbols
	Threads
	Arch() Arch
}
