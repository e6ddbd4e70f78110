// Package typeinfo describes the layout of target types: size, kind and,
// depending on the kind, fields, element type or enumerators.
//
// Descriptors are immutable once built and are shared read-only between
// the resolver cache and every typed object that references them.
package typeinfo

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of type shapes navigation understands.
type Kind int

const (
	Primitive Kind = iota
	Struct
	Pointer
	Array
	Enum
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Struct:
		return "struct"
	case Pointer:
		return "pointer"
	case Array:
		return "array"
	case Enum:
		return "enum"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Encoding describes how the bytes of a primitive or enum are decoded.
type Encoding int

const (
	EncodingNone Encoding = iota
	Signed
	Unsigned
	Bool
	Float
	Char
	WideChar
	Void
)

func (e Encoding) String() string {
	switch e {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Bool:
		return "bool"
	case Float:
		return "float"
	case Char:
		return "char"
	case WideChar:
		return "wchar"
	case Void:
		return "void"
	default:
		return "none"
	}
}

// Field is a named member of a struct at a byte offset from the struct start.
type Field struct {
	Name   string
	Offset uint64
	Type   *Descriptor
}

// Enumerator is a named enum constant.
type Enumerator struct {
	Name  string
	Value int64
}

// ErrAlreadyComplete is returned when a declared struct is completed twice.
var ErrAlreadyComplete = errors.New("struct already complete")

// Descriptor is a resolved type layout.
type Descriptor struct {
	name     string
	module   string
	size     uint64
	kind     Kind
	encoding Encoding

	fields     []Field
	fieldIndex map[string]int
	complete   bool

	elem        *Descriptor
	length      uint64
	enumerators []Enumerator
}

// NewPrimitive describes a scalar type.
func NewPrimitive(name string, size uint64, enc Encoding) *Descriptor {
	return &Descriptor{name: name, size: size, kind: Primitive, encoding: enc, complete: true}
}

// NewStruct describes a struct with a complete field list.
func NewStruct(name string, size uint64, fields ...Field) *Descriptor {
	d := DeclareStruct(name, size)
	_ = d.Complete(fields...)
	return d
}

// DeclareStruct returns a struct descriptor without fields. It must be
// completed exactly once with Complete before it is shared.
func DeclareStruct(name string, size uint64) *Descriptor {
	return &Descriptor{name: name, size: size, kind: Struct}
}

// Complete sets the field list of a declared struct.
func (d *Descriptor) Complete(fields ...Field) error {
	if d.kind != Struct {
		return fmt.Errorf("complete %s: not a struct", d.name)
	}
	if d.complete {
		return fmt.Errorf("complete %s: %w", d.name, ErrAlreadyComplete)
	}
	d.fields = append([]Field(nil), fields...)
	d.fieldIndex = make(map[string]int, len(fields))
	for i, f := range d.fields {
		// First declaration wins for duplicated names (anonymous unions).
		if _, dup := d.fieldIndex[f.Name]; !dup {
			d.fieldIndex[f.Name] = i
		}
	}
	d.complete = true
	return nil
}

// NewPointer describes a pointer to elem occupying size bytes.
func NewPointer(elem *Descriptor, size uint64) *Descriptor {
	return &Descriptor{
		name:     elemName(elem) + "*",
		module:   elemModule(elem),
		size:     size,
		kind:     Pointer,
		encoding: Unsigned,
		elem:     elem,
		complete: true,
	}
}

// NewArray describes length consecutive elements of elem.
func NewArray(elem *Descriptor, length uint64) *Descriptor {
	var size uint64
	if elem != nil {
		size = elem.size * length
	}
	return &Descriptor{
		name:     fmt.Sprintf("%s[%d]", elemName(elem), length),
		module:   elemModule(elem),
		size:     size,
		kind:     Array,
		elem:     elem,
		length:   length,
		complete: true,
	}
}

// NewEnum describes an enumeration stored as an integer of the given size.
func NewEnum(name string, size uint64, enc Encoding, enumerators ...Enumerator) *Descriptor {
	return &Descriptor{
		name:        name,
		size:        size,
		kind:        Enum,
		encoding:    enc,
		enumerators: append([]Enumerator(nil), enumerators...),
		complete:    true,
	}
}

// InModule returns d tagged with its owning module. Only meant for use
// while the descriptor is being built.
func (d *Descriptor) InModule(module string) *Descriptor {
	d.module = module
	return d
}

func elemName(elem *Descriptor) string {
	if elem == nil {
		return "void"
	}
	return elem.name
}

func elemModule(elem *Descriptor) string {
	if elem == nil {
		return ""
	}
	return elem.module
}

// Name returns the type name, e.g. "Car", "char[100]" or "Wheel*".
func (d *Descriptor) Name() string { return d.name }

// Module returns the owning module name, if known.
func (d *Descriptor) Module() string { return d.module }

// Size returns the size in bytes.
func (d *Descriptor) Size() uint64 { return d.size }

// Kind returns the type shape.
func (d *Descriptor) Kind() Kind { return d.kind }

// Encoding returns the scalar encoding for primitives, enums and pointers.
func (d *Descriptor) Encoding() Encoding { return d.encoding }

// Elem returns the element type of a pointer or array. It is nil for
// untyped (void) pointers and for other kinds.
func (d *Descriptor) Elem() *Descriptor { return d.elem }

// Len returns the static element count of an array.
func (d *Descriptor) Len() uint64 { return d.length }

// IsScalar reports whether values of d can be decoded directly.
func (d *Descriptor) IsScalar() bool {
	switch d.kind {
	case Primitive, Enum, Pointer:
		return true
	default:
		return false
	}
}

// Fields returns a copy of the ordered field list.
func (d *Descriptor) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// Field looks up a struct member by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// Enumerators returns a copy of the enum constants.
func (d *Descriptor) Enumerators() []Enumerator {
	return append([]Enumerator(nil), d.enumerators...)
}

// EnumName returns the enumerator name for v.
func (d *Descriptor) EnumName(v int64) (string, bool) {
	for _, e := range d.enumerators {
		if e.Value == v {
			return e.Name, true
		}
	}
	return "", false
}

// String renders a short description such as "struct Car (232 bytes)".
func (d *Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.kind.String())
	b.WriteByte(' ')
	if d.module != "" {
		b.WriteString(d.module)
		b.WriteByte('!')
	}
	b.WriteString(d.name)
	fmt.Fprintf(&b, " (%d bytes)", d.size)
	return b.String()
}
