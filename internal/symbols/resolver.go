// Package symbols resolves "module!name" references to globals and type
// descriptors through the engine, caching results for the session.
//
// Global lookups are kept in a map and types in a bounded LRU. Both are
// dropped together when the loaded module set changes. Failed lookups are
// never cached so a module loaded later can still satisfy them.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/memory"
	"github.com/coral-mesh/typescope/internal/object"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Resolver resolves and caches symbols and types.
type Resolver struct {
	engine  target.Symbols
	logger  zerolog.Logger
	binding *object.Binding

	mu          sync.RWMutex
	globals     map[string]target.Symbol
	fingerprint uint64
	haveModules bool

	types *lruCache[*typeinfo.Descriptor]
}

var _ object.TypeResolver = (*Resolver)(nil)

// NewResolver creates a resolver. Objects it returns read through reader.
func NewResolver(engine target.Symbols, reader *memory.Reader, typeCapacity int, logger zerolog.Logger) *Resolver {
	r := &Resolver{
		engine:  engine,
		logger:  logger.With().Str("component", "symbol-resolver").Logger(),
		globals: make(map[string]target.Symbol),
		types:   newLRUCache[*typeinfo.Descriptor](typeCapacity),
	}
	r.binding = &object.Binding{Reader: reader, Types: r}
	return r
}

// Binding returns the binding shared by every object the resolver creates.
func (r *Resolver) Binding() *object.Binding {
	return r.binding
}

// Global resolves a global reference and returns it as a typed object.
// The reference may continue with field and index steps, see ParsePath.
// Field steps on a pointer follow the pointer first.
func (r *Resolver) Global(ctx context.Context, ref string) (*object.Object, error) {
	p, err := ParsePath(ref)
	if err != nil {
		return nil, err
	}
	sym, err := r.symbol(ctx, p.Root)
	if err != nil {
		return nil, err
	}
	obj := object.New(r.binding, sym.Name, sym.Type, sym.Address)
	return r.walk(ctx, obj, p.Steps)
}

func (r *Resolver) walk(ctx context.Context, obj *object.Object, steps []Step) (*object.Object, error) {
	var err error
	for _, s := range steps {
		if s.IsIndex {
			obj, err = obj.Index(ctx, s.Index)
		} else {
			if obj.Descriptor().Kind() == typeinfo.Pointer {
				if obj, err = obj.Deref(ctx); err != nil {
					return nil, err
				}
			}
			obj, err = obj.Field(s.Field)
		}
		if err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (r *Resolver) symbol(ctx context.Context, q QualifiedName) (target.Symbol, error) {
	const op = "resolve global"
	key := q.String()

	r.mu.RLock()
	sym, ok := r.globals[key]
	r.mu.RUnlock()
	if ok {
		r.logger.Debug().Str("symbol", key).Msg("Global cache hit")
		return sym, nil
	}

	sym, err := r.engine.ResolveSymbol(ctx, q.Module, q.Name)
	if err != nil {
		r.logger.Debug().Err(err).Str("symbol", key).Msg("Global lookup failed")
		return target.Symbol{}, classify(op, key, err)
	}
	if sym.Type == nil {
		return target.Symbol{}, errkind.New(errkind.SymbolNotFound, op, "%s has no type information", key)
	}

	r.mu.Lock()
	r.globals[key] = sym
	r.mu.Unlock()
	r.logger.Debug().Str("symbol", key).Uint64("address", sym.Address).Msg("Global cache miss")
	return sym, nil
}

// Type resolves a "module!type" name to its descriptor. Trailing '*'
// characters build pointer types over the named type.
func (r *Resolver) Type(ctx context.Context, ref string) (*typeinfo.Descriptor, error) {
	const op = "resolve type"
	q, err := ParseQualifiedName(ref)
	if err != nil {
		return nil, err
	}
	key := q.String()
	if d, ok := r.types.Get(key); ok {
		r.logger.Debug().Str("type", key).Msg("Type cache hit")
		return d, nil
	}

	base := strings.TrimRight(q.Name, "* ")
	if base == "" {
		return nil, errkind.New(errkind.InvalidArgument, op, "%q names no type", ref)
	}
	d, err := r.engine.ResolveType(ctx, q.Module, base)
	if err != nil {
		r.logger.Debug().Err(err).Str("type", key).Msg("Type lookup failed")
		return nil, classify(op, key, err)
	}
	if depth := strings.Count(q.Name[len(base):], "*"); depth > 0 {
		ptrSize := uint64(r.binding.Reader.Arch().PointerSize)
		for range depth {
			d = typeinfo.NewPointer(d, ptrSize)
		}
	}

	r.types.Put(key, d)
	r.logger.Debug().Str("type", key).Uint64("size", d.Size()).Msg("Type cache miss")
	return d, nil
}

// TypeSize returns the size in bytes of a named type.
func (r *Resolver) TypeSize(ctx context.Context, ref string) (uint64, error) {
	d, err := r.Type(ctx, ref)
	if err != nil {
		return 0, err
	}
	return d.Size(), nil
}

// FieldOffset returns the byte offset of a possibly nested member, given
// as "a.b.c", from the start of the named struct type.
func (r *Resolver) FieldOffset(ctx context.Context, ref, field string) (uint64, error) {
	const op = "field offset"
	d, err := r.Type(ctx, ref)
	if err != nil {
		return 0, err
	}
	if field == "" {
		return 0, errkind.New(errkind.InvalidArgument, op, "empty field path")
	}

	var off uint64
	for _, name := range strings.Split(field, ".") {
		if d.Kind() != typeinfo.Struct {
			return 0, errkind.New(errkind.InvalidFieldAccess, op, "%s is not a struct", d.Name())
		}
		f, ok := d.Field(name)
		if !ok {
			return 0, errkind.New(errkind.InvalidFieldAccess, op, "%s has no field %q", d.Name(), name)
		}
		off += f.Offset
		d = f.Type
	}
	return off, nil
}

// ResolveEnum returns the name of the enumerator of the named enum type
// that has value v.
func (r *Resolver) ResolveEnum(ctx context.Context, ref string, v int64) (string, error) {
	const op = "resolve enum"
	d, err := r.Type(ctx, ref)
	if err != nil {
		return "", err
	}
	if d.Kind() != typeinfo.Enum {
		return "", errkind.New(errkind.InvalidArgument, op, "%s is a %s, not an enum", d.Name(), d.Kind())
	}
	name, ok := d.EnumName(v)
	if !ok {
		return "", errkind.New(errkind.SymbolNotFound, op, "%s has no enumerator with value %d", d.Name(), v)
	}
	return name, nil
}

// Nearest returns the symbol at or below addr and the displacement from it.
func (r *Resolver) Nearest(ctx context.Context, addr uint64) (target.Symbol, uint64, error) {
	sym, disp, err := r.engine.NearestSymbol(ctx, addr)
	if err != nil {
		return target.Symbol{}, 0, classify("nearest symbol", fmt.Sprintf("0x%x", addr), err)
	}
	return sym, disp, nil
}

// NearestSymbol formats the symbol at or below addr as
// "module!symbol+0xdisp", omitting a zero displacement.
func (r *Resolver) NearestSymbol(ctx context.Context, addr uint64) (string, error) {
	sym, disp, err := r.Nearest(ctx, addr)
	if err != nil {
		return "", err
	}
	name := QualifiedName{Module: sym.Module, Name: sym.Name}.String()
	if disp == 0 {
		return name, nil
	}
	return fmt.Sprintf("%s+0x%x", name, disp), nil
}

// Invalidate drops every cached global and type.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.globals = make(map[string]target.Symbol)
	r.mu.Unlock()
	r.types.Purge()
	r.logger.Debug().Msg("Symbol caches invalidated")
}

// ModulesChanged re-reads the engine's module list and invalidates the
// caches when it differs from the last one seen. It reports whether the
// caches were dropped.
func (r *Resolver) ModulesChanged(ctx context.Context) (bool, error) {
	modules, err := r.engine.Modules(ctx)
	if err != nil {
		return false, classify("list modules", "", err)
	}
	fp := Fingerprint(modules)

	r.mu.Lock()
	changed := r.haveModules && fp != r.fingerprint
	r.fingerprint = fp
	r.haveModules = true
	r.mu.Unlock()

	if changed {
		r.logger.Debug().Int("modules", len(modules)).Msg("Module set changed")
		r.Invalidate()
	}
	return changed, nil
}

// classify maps an engine lookup error to a kind. Interrupts surface as
// read failures, everything else as a missing symbol.
func classify(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.ReadFailed, op, err)
	}
	if key != "" {
		err = fmt.Errorf("%s: %w", key, err)
	}
	return errkind.Wrap(errkind.SymbolNotFound, op, err)
}
