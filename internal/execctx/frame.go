package execctx

import (
	"context"
	"fmt"
	"sync"

	"github.com/coral-mesh/typescope/internal/disasm"
	"github.com/coral-mesh/typescope/internal/object"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
)

// Frame is one stack frame.
type Frame struct {
	h target.FrameHandle
	w *Walker

	mu     sync.Mutex
	locals []*object.Object
	args   []*object.Object
}

// Handle returns the engine handle.
func (f *Frame) Handle() target.FrameHandle { return f.h }

// Number returns the frame index, 0 being the innermost.
func (f *Frame) Number() uint32 { return f.h.Number }

// InstructionOffset returns the program counter of the frame.
func (f *Frame) InstructionOffset() uint64 { return f.h.InstructionOffset }

// ReturnOffset returns the address execution resumes at in the caller.
func (f *Frame) ReturnOffset() uint64 { return f.h.ReturnOffset }

// FrameOffset returns the frame base address.
func (f *Frame) FrameOffset() uint64 { return f.h.FrameOffset }

// StackOffset returns the stack pointer of the frame.
func (f *Frame) StackOffset() uint64 { return f.h.StackOffset }

// Thread returns the handle of the owning thread.
func (f *Frame) Thread() target.ThreadHandle { return f.h.Thread }

func (f *Frame) String() string {
	return fmt.Sprintf("#%d 0x%x", f.h.Number, f.h.InstructionOffset)
}

// Locals returns the frame's local variables. The list is built on the
// first successful call and reused after that.
func (f *Frame) Locals(ctx context.Context) ([]*object.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locals == nil {
		vars, err := f.w.engine.FrameLocals(ctx, f.h)
		if err != nil {
			return nil, classify("frame locals", err)
		}
		f.locals = f.objects(vars)
	}
	return f.locals, nil
}

// Args returns the frame's arguments, built once like Locals.
func (f *Frame) Args(ctx context.Context) ([]*object.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.args == nil {
		vars, err := f.w.engine.FrameArgs(ctx, f.h)
		if err != nil {
			return nil, classify("frame args", err)
		}
		f.args = f.objects(vars)
	}
	return f.args, nil
}

// Local returns the local or argument called name. Locals shadow
// arguments.
func (f *Frame) Local(ctx context.Context, name string) (*object.Object, error) {
	locals, err := f.Locals(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range locals {
		if o.Name() == name {
			return o, nil
		}
	}
	args, err := f.Args(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range args {
		if o.Name() == name {
			return o, nil
		}
	}
	return nil, errkind.New(errkind.SymbolNotFound, "frame local", "frame %d has no variable %q", f.h.Number, name)
}

func (f *Frame) objects(vars []target.Variable) []*object.Object {
	objs := make([]*object.Object, 0, len(vars))
	for _, v := range vars {
		if v.Type == nil {
			f.w.logger.Debug().Str("variable", v.Name).Uint32("frame", f.h.Number).Msg("Skipping untyped variable")
			continue
		}
		objs = append(objs, object.New(f.w.binding, v.Name, v.Type, v.Address))
	}
	return objs
}

// Symbol names the frame's instruction offset as "module!function+0xoff".
func (f *Frame) Symbol(ctx context.Context) (string, error) {
	if f.w.binding.Types == nil {
		return "", errkind.New(errkind.SymbolNotFound, "frame symbol", "no symbol information")
	}
	sym, disp, err := f.w.binding.Types.Nearest(ctx, f.h.InstructionOffset)
	if err != nil {
		return "", err
	}
	name := sym.Name
	if sym.Module != "" {
		name = sym.Module + "!" + name
	}
	if disp != 0 {
		name = fmt.Sprintf("%s+0x%x", name, disp)
	}
	return name, nil
}

// Instruction decodes the instruction at the frame's program counter.
func (f *Frame) Instruction(ctx context.Context) (disasm.Instruction, error) {
	var lookup disasm.SymbolLookup
	if types := f.w.binding.Types; types != nil {
		lookup = func(addr uint64) (string, uint64) {
			sym, _, err := types.Nearest(ctx, addr)
			if err != nil {
				return "", 0
			}
			return sym.Name, sym.Address
		}
	}
	return disasm.At(ctx, f.w.binding.Reader, f.h.InstructionOffset, lookup)
}
