package target

import (
	"context"
	"sync"

	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Serialize wraps e so that at most one call crosses into the engine at a
// time. Wrapping an already serialized engine returns it unchanged.
func Serialize(e Engine) Engine {
	if s, ok := e.(*serialized); ok {
		return s
	}
	return &serialized{e: e}
}

type serialized struct {
	mu sync.Mutex
	e  Engine
}

func (s *serialized) Arch() Arch {
	return s.e.Arch()
}

func (s *serialized) ReadMemory(ctx context.Context, addr uint64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.ReadMemory(ctx, addr, buf)
}

func (s *serialized) ResolveSymbol(ctx context.Context, module, name string) (Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.ResolveSymbol(ctx, module, name)
}

func (s *serialized) ResolveType(ctx context.Context, module, name string) (*typeinfo.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.ResolveType(ctx, module, name)
}

func (s *serialized) NearestSymbol(ctx context.Context, addr uint64) (Symbol, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.NearestSymbol(ctx, addr)
}

func (s *serialized) Modules(ctx context.Context) ([]Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Modules(ctx)
}

func (s *serialized) Threads(ctx context.Context) ([]ThreadHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Threads(ctx)
}

func (s *serialized) CurrentThread(ctx context.Context) (ThreadHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.CurrentThread(ctx)
}

func (s *serialized) ThreadEnvironmentBlock(ctx context.Context, th ThreadHandle) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.ThreadEnvironmentBlock(ctx, th)
}

func (s *serialized) WalkStack(ctx context.Context, th ThreadHandle) ([]FrameHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.WalkStack(ctx, th)
}

func (s *serialized) FrameLocals(ctx context.Context, fr FrameHandle) ([]Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.FrameLocals(ctx, fr)
}

func (s *serialized) FrameArgs(ctx context.Context, fr FrameHandle) ([]Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.FrameArgs(ctx, fr)
}
