package execctx

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
)

// Thread is a view over one target thread.
type Thread struct {
	h target.ThreadHandle
	w *Walker
}

// Handle returns the engine handle.
func (t *Thread) Handle() target.ThreadHandle { return t.h }

// EngineID returns the debugger-assigned thread number.
func (t *Thread) EngineID() uint32 { return t.h.EngineID }

// SystemID returns the operating system thread id.
func (t *Thread) SystemID() uint32 { return t.h.SystemID }

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (tid %d)", t.h.EngineID, t.h.SystemID)
}

// EnvironmentBlock returns the address of the thread environment block
// (the thread pointer on Linux).
func (t *Thread) EnvironmentBlock(ctx context.Context) (uint64, error) {
	teb, err := t.w.engine.ThreadEnvironmentBlock(ctx, t.h)
	if err != nil {
		return 0, classify("environment block", err)
	}
	return teb, nil
}

// Stack walks the thread's stack. Every call walks again; the returned
// Stack does not change afterwards.
func (t *Thread) Stack(ctx context.Context) (*Stack, error) {
	handles, err := t.w.engine.WalkStack(ctx, t.h)
	if err != nil {
		return nil, classify("walk stack", err)
	}
	if t.w.maxFrames > 0 && len(handles) > t.w.maxFrames {
		t.w.logger.Debug().
			Uint32("thread", t.h.EngineID).
			Int("frames", len(handles)).
			Int("max_frames", t.w.maxFrames).
			Msg("Truncating stack")
		handles = handles[:t.w.maxFrames]
	}
	return &Stack{handles: handles, frames: make([]*Frame, len(handles)), w: t.w}, nil
}

// CurrentFrame returns the innermost frame.
func (t *Thread) CurrentFrame(ctx context.Context) (*Frame, error) {
	s, err := t.Stack(ctx)
	if err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, errkind.New(errkind.ReadFailed, "current frame", "%s has no frames", t)
	}
	return s.Frame(0)
}

// Stack is the result of one stack walk, innermost frame first. Frames
// are built on first access and then reused, so iterating twice yields
// the same frames.
type Stack struct {
	handles []target.FrameHandle
	w       *Walker

	mu     sync.Mutex
	frames []*Frame
}

// Len returns the number of frames.
func (s *Stack) Len() int { return len(s.handles) }

// Frame returns frame i, where 0 is the innermost.
func (s *Stack) Frame(i int) (*Frame, error) {
	if i < 0 || i >= len(s.handles) {
		return nil, errkind.New(errkind.InvalidArgument, "frame", "frame %d out of range [0, %d)", i, len(s.handles))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames[i] == nil {
		s.frames[i] = &Frame{h: s.handles[i], w: s.w}
	}
	return s.frames[i], nil
}

// All iterates frames innermost first.
func (s *Stack) All() iter.Seq2[int, *Frame] {
	return func(yield func(int, *Frame) bool) {
		for i := range s.handles {
			f, _ := s.Frame(i)
			if !yield(i, f) {
				return
			}
		}
	}
}
