// Package dwarfinfo indexes the DWARF data of one module: named types,
// global variables and functions with their parameters and locals.
//
// Types are converted to descriptors on first use. Global and variable
// addresses are shifted by the module's load bias.
package dwarfinfo

import (
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Options describes the module the DWARF data belongs to.
type Options struct {
	Module      string
	PointerSize int
	ByteOrder   binary.ByteOrder
	// Bias is added to every link-time address (PIE load offset).
	Bias uint64
}

// Variable is a parameter or local of a function.
type Variable struct {
	Name     string
	Location *Location
	Type     dwarf.Offset
	// Ranges restricts visibility to lexical block ranges (link-time
	// addresses). Nil means the whole function.
	Ranges [][2]uint64
}

// Function is a subprogram with code.
type Function struct {
	Name      string
	Ranges    [][2]uint64 // link-time addresses
	FrameBase *Location
	Params    []Variable
	Locals    []Variable
}

type global struct {
	name string
	addr uint64 // link-time
	typ  dwarf.Offset
}

type funcRange struct {
	low, high uint64 // link-time
	fn        *Function
}

// Index is the DWARF index of one module. It is safe for concurrent use.
type Index struct {
	data *dwarf.Data
	opts Options

	types   map[string]dwarf.Offset
	globals map[string]global
	funcs   []funcRange

	mu   sync.Mutex
	conv *converter
}

// New walks data and builds the index.
func New(data *dwarf.Data, opts Options) (*Index, error) {
	if opts.PointerSize == 0 {
		opts.PointerSize = 8
	}
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	ix := &Index{
		data:    data,
		opts:    opts,
		types:   make(map[string]dwarf.Offset),
		globals: make(map[string]global),
		conv:    newConverter(opts.Module, uint64(opts.PointerSize)),
	}

	r := data.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read DWARF entry: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			if e.Children {
				r.SkipChildren()
			}
			continue
		}
		if !e.Children {
			continue
		}
		if err := ix.walkScope(r, ""); err != nil {
			return nil, err
		}
	}

	sort.Slice(ix.funcs, func(i, j int) bool { return ix.funcs[i].low < ix.funcs[j].low })
	return ix, nil
}

// walkScope reads the children of a compile unit or namespace up to the
// terminating null entry.
func (ix *Index) walkScope(r *dwarf.Reader, prefix string) error {
	for {
		e, err := r.Next()
		if err != nil {
			return fmt.Errorf("failed to read DWARF entry: %w", err)
		}
		if e == nil || e.Tag == 0 {
			return nil
		}

		switch e.Tag {
		case dwarf.TagNamespace:
			name, _ := e.Val(dwarf.AttrName).(string)
			if name == "" {
				name = "(anonymous namespace)"
			}
			if e.Children {
				if err := ix.walkScope(r, prefix+name+"::"); err != nil {
					return err
				}
			}
			continue

		case dwarf.TagBaseType, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType,
			dwarf.TagEnumerationType, dwarf.TagTypedef:
			if name, ok := e.Val(dwarf.AttrName).(string); ok && name != "" {
				if decl, _ := e.Val(dwarf.AttrDeclaration).(bool); !decl {
					if _, dup := ix.types[prefix+name]; !dup {
						ix.types[prefix+name] = e.Offset
					}
				}
			}

		case dwarf.TagVariable:
			ix.addGlobal(e, prefix)

		case dwarf.TagSubprogram:
			fn, err := ix.function(r, e, prefix)
			if err != nil {
				return err
			}
			if fn != nil {
				for _, rg := range fn.Ranges {
					ix.funcs = append(ix.funcs, funcRange{low: rg[0], high: rg[1], fn: fn})
				}
			}
			continue
		}

		if e.Children {
			r.SkipChildren()
		}
	}
}

func (ix *Index) addGlobal(e *dwarf.Entry, prefix string) {
	expr, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok {
		return
	}
	loc, err := parseLocationExpr(expr, ix.opts.ByteOrder, ix.opts.PointerSize)
	if err != nil || loc.Type != LocationMemory {
		return
	}

	name, _ := e.Val(dwarf.AttrName).(string)
	typ, _ := e.Val(dwarf.AttrType).(dwarf.Offset)
	if spec, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
		if decl := ix.entryAt(spec); decl != nil {
			if name == "" {
				name, _ = decl.Val(dwarf.AttrName).(string)
			}
			if typ == 0 {
				typ, _ = decl.Val(dwarf.AttrType).(dwarf.Offset)
			}
		}
	}
	if name == "" || typ == 0 {
		return
	}
	ix.globals[prefix+name] = global{name: prefix + name, addr: loc.Address, typ: typ}
}

func (ix *Index) entryAt(off dwarf.Offset) *dwarf.Entry {
	r := ix.data.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil
	}
	return e
}

// function reads a subprogram and its children. It returns nil for
// declarations and inlined-only subprograms.
func (ix *Index) function(r *dwarf.Reader, e *dwarf.Entry, prefix string) (*Function, error) {
	fn := &Function{}
	fn.Name, _ = e.Val(dwarf.AttrName).(string)
	for _, attr := range []dwarf.Attr{dwarf.AttrSpecification, dwarf.AttrAbstractOrigin} {
		if fn.Name != "" {
			break
		}
		if off, ok := e.Val(attr).(dwarf.Offset); ok {
			if decl := ix.entryAt(off); decl != nil {
				fn.Name, _ = decl.Val(dwarf.AttrName).(string)
			}
		}
	}
	if fn.Name != "" {
		fn.Name = prefix + fn.Name
	}
	if expr, ok := e.Val(dwarf.AttrFrameBase).([]byte); ok {
		fn.FrameBase, _ = parseLocationExpr(expr, ix.opts.ByteOrder, ix.opts.PointerSize)
	}

	ranges, err := ix.data.Ranges(e)
	if err != nil {
		ranges = nil
	}
	fn.Ranges = ranges

	if e.Children {
		if err := ix.readVariables(r, fn, nil); err != nil {
			return nil, err
		}
	}
	if fn.Name == "" || len(fn.Ranges) == 0 {
		return nil, nil
	}
	return fn, nil
}

// readVariables collects parameters and locals up to the null entry that
// closes the current scope. Lexical blocks are flattened, keeping their
// ranges so variables are only reported where they are in scope.
func (ix *Index) readVariables(r *dwarf.Reader, fn *Function, scope [][2]uint64) error {
	for {
		e, err := r.Next()
		if err != nil {
			return fmt.Errorf("failed to read DWARF entry: %w", err)
		}
		if e == nil || e.Tag == 0 {
			return nil
		}

		switch e.Tag {
		case dwarf.TagFormalParameter, dwarf.TagVariable:
			if v, ok := ix.variable(e, scope); ok {
				if e.Tag == dwarf.TagFormalParameter {
					fn.Params = append(fn.Params, v)
				} else {
					fn.Locals = append(fn.Locals, v)
				}
			}
		case dwarf.TagLexDwarfBlock:
			if e.Children {
				blockRanges, err := ix.data.Ranges(e)
				if err != nil || len(blockRanges) == 0 {
					blockRanges = scope
				}
				if err := ix.readVariables(r, fn, blockRanges); err != nil {
					return err
				}
			}
			continue
		}

		if e.Children {
			r.SkipChildren()
		}
	}
}

func (ix *Index) variable(e *dwarf.Entry, scope [][2]uint64) (Variable, bool) {
	name, _ := e.Val(dwarf.AttrName).(string)
	typ, _ := e.Val(dwarf.AttrType).(dwarf.Offset)
	if off, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok && (name == "" || typ == 0) {
		if origin := ix.entryAt(off); origin != nil {
			if name == "" {
				name, _ = origin.Val(dwarf.AttrName).(string)
			}
			if typ == 0 {
				typ, _ = origin.Val(dwarf.AttrType).(dwarf.Offset)
			}
		}
	}
	// Location lists are not supported; only single expressions.
	expr, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok || name == "" || typ == 0 {
		return Variable{}, false
	}
	loc, err := parseLocationExpr(expr, ix.opts.ByteOrder, ix.opts.PointerSize)
	if err != nil {
		return Variable{}, false
	}
	return Variable{Name: name, Location: loc, Type: typ, Ranges: scope}, true
}

// Module returns the module name the index was built for.
func (ix *Index) Module() string { return ix.opts.Module }

// TypeNames returns every indexed type name, sorted.
func (ix *Index) TypeNames() []string {
	names := make([]string, 0, len(ix.types))
	for n := range ix.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Type returns the descriptor of a named type.
func (ix *Index) Type(name string) (*typeinfo.Descriptor, error) {
	off, ok := ix.types[name]
	if !ok {
		return nil, fmt.Errorf("type %s!%s: %w", ix.opts.Module, name, target.ErrNotFound)
	}
	return ix.typeAt(off)
}

// typeAt converts the type at off. dwarf.Data caches types internally and
// is not safe for concurrent use, so both steps run under mu.
func (ix *Index) typeAt(off dwarf.Offset) (*typeinfo.Descriptor, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t, err := ix.data.Type(off)
	if err != nil {
		return nil, fmt.Errorf("failed to read DWARF type at 0x%x: %w", off, err)
	}
	d := ix.conv.convert(t)
	if d == nil {
		return nil, fmt.Errorf("type at 0x%x is void: %w", off, target.ErrNotFound)
	}
	return d, nil
}

// Global returns a global variable with its run-time address.
func (ix *Index) Global(name string) (target.Symbol, error) {
	g, ok := ix.globals[name]
	if !ok {
		return target.Symbol{}, fmt.Errorf("global %s!%s: %w", ix.opts.Module, name, target.ErrNotFound)
	}
	d, err := ix.typeAt(g.typ)
	if err != nil {
		return target.Symbol{}, err
	}
	return target.Symbol{Module: ix.opts.Module, Name: g.name, Address: g.addr + ix.opts.Bias, Type: d}, nil
}

// Function returns the function containing the run-time address pc.
func (ix *Index) Function(pc uint64) (*Function, bool) {
	if pc < ix.opts.Bias {
		return nil, false
	}
	link := pc - ix.opts.Bias
	i := sort.Search(len(ix.funcs), func(i int) bool { return ix.funcs[i].low > link })
	// Ranges may nest (inlined copies), so scan back for the closest one
	// that covers pc.
	for i--; i >= 0; i-- {
		if f := ix.funcs[i]; link >= f.low && link < f.high {
			return f.fn, true
		}
	}
	return nil, false
}

// ErrNoFunction is returned when no function covers a program counter.
var ErrNoFunction = errors.New("no function at address")

// Variables returns the in-memory parameters and locals of the function
// executing at pc, addressed against the frame's registers. Variables
// held in registers or with unknown types are left out.
func (ix *Index) Variables(pc uint64, regs FrameRegs) (locals, args []target.Variable, err error) {
	fn, ok := ix.Function(pc)
	if !ok {
		return nil, nil, fmt.Errorf("0x%x: %w: %w", pc, ErrNoFunction, target.ErrNotFound)
	}
	link := pc - ix.opts.Bias

	convert := func(vars []Variable) ([]target.Variable, error) {
		var out []target.Variable
		for _, v := range vars {
			if !inRanges(link, v.Ranges) {
				continue
			}
			addr, ok := regs.address(v.Location, fn.FrameBase, ix.opts.Bias)
			if !ok {
				continue
			}
			d, err := ix.typeAt(v.Type)
			if err != nil {
				if errors.Is(err, target.ErrNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, target.Variable{Name: v.Name, Address: addr, Type: d})
		}
		return out, nil
	}

	if locals, err = convert(fn.Locals); err != nil {
		return nil, nil, err
	}
	if args, err = convert(fn.Params); err != nil {
		return nil, nil, err
	}
	return locals, args, nil
}

func inRanges(pc uint64, ranges [][2]uint64) bool {
	if ranges == nil {
		return true
	}
	for _, r := range ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}
