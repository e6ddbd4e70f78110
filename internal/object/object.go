// Package object implements typed objects: a type descriptor bound to a
// target address, with navigation to fields, elements and pointees.
//
// Navigation never touches target memory except where a pointer value has
// to be read to find its target. Values and strings are read lazily through
// the memory reader, so objects can be built speculatively and fail on
// access.
package object

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/coral-mesh/typescope/internal/constants"
	"github.com/coral-mesh/typescope/internal/memory"
	"github.com/coral-mesh/typescope/internal/safe"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// vtableSuffix marks the symbol the compiler emits for a class vtable.
const vtableSuffix = "::`vftable'"

// TypeResolver is the slice of the symbol resolver objects need.
type TypeResolver interface {
	Type(ctx context.Context, qualified string) (*typeinfo.Descriptor, error)
	Nearest(ctx context.Context, addr uint64) (target.Symbol, uint64, error)
}

// Binding is the session-owned context every object reads through.
// Objects hold it without owning it.
type Binding struct {
	Reader *memory.Reader
	Types  TypeResolver
}

// Object is a typed view of target memory.
type Object struct {
	name string
	typ  *typeinfo.Descriptor
	addr uint64
	size uint64

	// direct marks a pointer created at an address: its target is addr
	// itself instead of the value stored there.
	direct bool

	b *Binding
}

// New binds typ to addr. An empty name becomes "<unnamed>".
func New(b *Binding, name string, typ *typeinfo.Descriptor, addr uint64) *Object {
	if name == "" {
		name = constants.UnnamedObject
	}
	return &Object{name: name, typ: typ, addr: addr, size: typ.Size(), b: b}
}

// NewPointer returns a pointer-kind object of type elem* whose target is
// addr. Indexing it yields elements at addr + i*size(elem).
func NewPointer(b *Binding, name string, elem *typeinfo.Descriptor, addr uint64) *Object {
	ptr := typeinfo.NewPointer(elem, uint64(b.Reader.Arch().PointerSize))
	o := New(b, name, ptr, addr)
	o.direct = true
	return o
}

// Name returns the object's name.
func (o *Object) Name() string { return o.name }

// Type returns the descriptor name.
func (o *Object) Type() string { return o.typ.Name() }

// Descriptor returns the shared type descriptor.
func (o *Object) Descriptor() *typeinfo.Descriptor { return o.typ }

// Module returns the module that owns the object's type.
func (o *Object) Module() string { return o.typ.Module() }

// Address returns the target address.
func (o *Object) Address() uint64 { return o.addr }

// Size returns the object size in bytes. It differs from the descriptor
// size for array slices.
func (o *Object) Size() uint64 { return o.size }

// IsNull reports whether the object sits at address zero.
func (o *Object) IsNull() bool { return o.addr == 0 }

// Len returns the element count of an array object, taking slices into
// account. It is zero for other kinds.
func (o *Object) Len() uint64 {
	if o.typ.Kind() != typeinfo.Array || o.typ.Elem() == nil || o.typ.Elem().Size() == 0 {
		return 0
	}
	return o.size / o.typ.Elem().Size()
}

func (o *Object) String() string {
	return fmt.Sprintf("%s (%s @ 0x%x)", o.name, o.typ.Name(), o.addr)
}

// FieldNames lists struct members in declaration order.
func (o *Object) FieldNames() []string {
	fields := o.typ.Fields()
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

// Field returns the struct member name at address + offset.
func (o *Object) Field(name string) (*Object, error) {
	const op = "field"
	if o.typ.Kind() != typeinfo.Struct {
		return nil, errkind.New(errkind.InvalidFieldAccess, op, "%s is a %s, not a struct", o.typ.Name(), o.typ.Kind())
	}
	f, ok := o.typ.Field(name)
	if !ok {
		return nil, errkind.New(errkind.InvalidFieldAccess, op, "%s has no field %q", o.typ.Name(), name)
	}
	return &Object{name: name, typ: f.Type, addr: o.addr + f.Offset, size: f.Type.Size(), b: o.b}, nil
}

// Index returns element i of an array or pointer. For arrays the base is
// the object's address. For pointers it is the pointer's target, which is
// read from memory unless the pointer was created at an address. The
// static array length is not enforced.
func (o *Object) Index(ctx context.Context, i int64) (*Object, error) {
	const op = "index"
	kind := o.typ.Kind()
	if kind != typeinfo.Array && kind != typeinfo.Pointer {
		return nil, errkind.New(errkind.InvalidFieldAccess, op, "%s is a %s, not an array or pointer", o.typ.Name(), kind)
	}
	elem := o.typ.Elem()
	if elem == nil {
		return nil, errkind.New(errkind.InvalidFieldAccess, op, "cannot index untyped %s", o.typ.Name())
	}

	base := o.addr
	if kind == typeinfo.Pointer {
		var err error
		if base, err = o.target(ctx); err != nil {
			return nil, err
		}
	}

	addr, ok := safe.Offset(base, i, elem.Size())
	if !ok {
		return nil, errkind.New(errkind.InvalidArgument, op, "index %d of %s overflows the address space", i, o.typ.Name())
	}
	return &Object{name: constants.ArrayElementName, typ: elem, addr: addr, size: elem.Size(), b: o.b}, nil
}

// Deref returns the object a pointer points to.
func (o *Object) Deref(ctx context.Context) (*Object, error) {
	if o.typ.Kind() != typeinfo.Pointer {
		return nil, errkind.New(errkind.InvalidFieldAccess, "deref", "%s is a %s, not a pointer", o.typ.Name(), o.typ.Kind())
	}
	obj, err := o.Index(ctx, 0)
	if err != nil {
		return nil, err
	}
	obj.name = o.name
	return obj, nil
}

// target returns the address a pointer object points at.
func (o *Object) target(ctx context.Context) (uint64, error) {
	if o.direct {
		return o.addr, nil
	}
	v, err := o.Value(ctx)
	if err != nil {
		return 0, err
	}
	return v.Address(), nil
}

// Slice returns elements [lo, hi) of an array as an array object of the
// same type whose size covers only that range.
func (o *Object) Slice(lo, hi uint64) (*Object, error) {
	const op = "slice"
	if o.typ.Kind() != typeinfo.Array || o.typ.Elem() == nil {
		return nil, errkind.New(errkind.InvalidFieldAccess, op, "%s is not a typed array", o.typ.Name())
	}
	if lo > hi {
		return nil, errkind.New(errkind.InvalidArgument, op, "bounds [%d, %d) are inverted", lo, hi)
	}
	if hi > math.MaxInt64 {
		return nil, errkind.New(errkind.InvalidArgument, op, "slice bound %d overflows", hi)
	}
	elemSize := o.typ.Elem().Size()
	start, ok := safe.Offset(o.addr, int64(lo), elemSize)
	if !ok {
		return nil, errkind.New(errkind.InvalidArgument, op, "slice start %d overflows", lo)
	}
	carry, size := bits.Mul64(hi-lo, elemSize)
	if carry != 0 {
		return nil, errkind.New(errkind.InvalidArgument, op, "slice [%d, %d) of %d-byte elements overflows", lo, hi, elemSize)
	}
	if _, ok := safe.AddrRange(start, size); !ok {
		return nil, errkind.New(errkind.InvalidArgument, op, "slice at 0x%x+0x%x wraps the address space", start, size)
	}
	return &Object{name: o.name, typ: o.typ, addr: start, size: size, b: o.b}, nil
}

// Value reads and decodes a primitive, enum or pointer.
func (o *Object) Value(ctx context.Context) (Value, error) {
	const op = "value"
	if !o.typ.IsScalar() {
		return Value{}, errkind.New(errkind.InvalidFieldAccess, op, "%s is a %s, not a scalar", o.typ.Name(), o.typ.Kind())
	}
	if o.direct {
		return decode(o.typ, o.addr), nil
	}
	if o.typ.Encoding() == typeinfo.Void {
		return Value{}, errkind.New(errkind.InvalidFieldAccess, op, "%s has no value", o.typ.Name())
	}
	if o.IsNull() {
		return Value{}, errkind.New(errkind.ReadFailed, op, "%s is at a null address", o.name)
	}
	size := int(o.typ.Size())
	switch size {
	case 1, 2, 4, 8:
	default:
		return Value{}, errkind.New(errkind.InvalidFieldAccess, op, "%s has unsupported scalar size %d", o.typ.Name(), size)
	}
	raw, err := o.b.Reader.ReadUint(ctx, o.addr, size)
	if err != nil {
		return Value{}, err
	}
	return decode(o.typ, raw), nil
}

// EnumName returns the enumerator name matching the object's value.
func (o *Object) EnumName(ctx context.Context) (string, error) {
	if o.typ.Kind() != typeinfo.Enum {
		return "", errkind.New(errkind.InvalidFieldAccess, "enum name", "%s is a %s, not an enum", o.typ.Name(), o.typ.Kind())
	}
	v, err := o.Value(ctx)
	if err != nil {
		return "", err
	}
	name, ok := o.typ.EnumName(v.Int())
	if !ok {
		return "", errkind.New(errkind.SymbolNotFound, "enum name", "%s has no enumerator with value %d", o.typ.Name(), v.Int())
	}
	return name, nil
}

// ReadString reads a NUL-terminated single-byte string at the object's
// address. The object's declared size does not bound the read.
func (o *Object) ReadString(ctx context.Context, length memory.Length) (string, error) {
	return o.b.Reader.ReadString(ctx, o.addr, length)
}

// ReadWideString reads a NUL-terminated UTF-16 string at the object's
// address.
func (o *Object) ReadWideString(ctx context.Context, length memory.Length) (string, error) {
	return o.b.Reader.ReadWideString(ctx, o.addr, length)
}

// ReadBytes returns the object's bytes.
func (o *Object) ReadBytes(ctx context.Context) ([]byte, error) {
	size, _ := safe.Uint64ToInt(o.size)
	return o.b.Reader.Read(ctx, o.addr, size)
}

// DynamicType re-types the object using the class vtable its first pointer
// slot refers to. It fails with SymbolNotFound when the slot does not point
// at the start of a vtable symbol.
func (o *Object) DynamicType(ctx context.Context) (*Object, error) {
	const op = "dynamic type"
	if o.b.Types == nil {
		return nil, errkind.New(errkind.SymbolNotFound, op, "no symbol information")
	}
	vptr, err := o.b.Reader.ReadPointer(ctx, o.addr)
	if err != nil {
		return nil, err
	}
	sym, disp, err := o.b.Types.Nearest(ctx, vptr)
	if err != nil {
		return nil, err
	}
	if disp != 0 || !strings.HasSuffix(sym.Name, vtableSuffix) {
		return nil, errkind.New(errkind.SymbolNotFound, op, "0x%x is not a vtable (nearest %s+0x%x)", vptr, sym.Name, disp)
	}

	typeName := strings.TrimSuffix(sym.Name, vtableSuffix)
	if sym.Module != "" {
		typeName = sym.Module + "!" + typeName
	}
	typ, err := o.b.Types.Type(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return &Object{name: o.name, typ: typ, addr: o.addr, size: typ.Size(), b: o.b}, nil
}
