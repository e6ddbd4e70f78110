package dwarfinfo

import (
	"debug/dwarf"

	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// converter turns debug/dwarf types into descriptors. Results are memoized
// per dwarf.Type so shared and self-referential types convert once.
type converter struct {
	module  string
	ptrSize uint64
	seen    map[dwarf.Type]*typeinfo.Descriptor
}

func newConverter(module string, ptrSize uint64) *converter {
	return &converter{module: module, ptrSize: ptrSize, seen: make(map[dwarf.Type]*typeinfo.Descriptor)}
}

// convert returns nil for void.
func (c *converter) convert(t dwarf.Type) *typeinfo.Descriptor {
	if t == nil {
		return nil
	}
	if d, ok := c.seen[t]; ok {
		return d
	}

	var d *typeinfo.Descriptor
	switch t := t.(type) {
	case *dwarf.VoidType, *dwarf.UnspecifiedType:
		return nil

	case *dwarf.TypedefType:
		d = c.convert(t.Type)
		if d == nil {
			return nil
		}

	case *dwarf.QualType:
		d = c.convert(t.Type)
		if d == nil {
			return nil
		}

	case *dwarf.StructType:
		name := t.StructName
		if name == "" {
			name = "<anonymous " + t.Kind + ">"
		}
		d = typeinfo.DeclareStruct(name, sizeOf(t)).InModule(c.module)
		// Register before converting fields so members pointing back at
		// the struct find it.
		c.seen[t] = d
		fields := make([]typeinfo.Field, 0, len(t.Field))
		for _, f := range t.Field {
			ft := c.convert(f.Type)
			if ft == nil {
				continue
			}
			name := f.Name
			if name == "" {
				name = ft.Name()
			}
			fields = append(fields, typeinfo.Field{Name: name, Offset: uint64(f.ByteOffset), Type: ft})
		}
		_ = d.Complete(fields...)
		return d

	case *dwarf.PtrType:
		d = typeinfo.NewPointer(nil, c.ptrSize)
		// Pointers to incomplete element types are resolved after the
		// pointer is registered, which breaks cycles through pointers.
		c.seen[t] = d
		if elem := c.convert(t.Type); elem != nil {
			*d = *typeinfo.NewPointer(elem, c.ptrSize)
		}
		return d

	case *dwarf.ArrayType:
		count := t.Count
		if count < 0 {
			count = 0
		}
		elem := c.convert(t.Type)
		if elem == nil {
			elem = typeinfo.NewPrimitive("void", 0, typeinfo.Void).InModule(c.module)
		}
		d = typeinfo.NewArray(elem, uint64(count))

	case *dwarf.EnumType:
		enumerators := make([]typeinfo.Enumerator, 0, len(t.Val))
		for _, v := range t.Val {
			enumerators = append(enumerators, typeinfo.Enumerator{Name: v.Name, Value: v.Val})
		}
		name := t.EnumName
		if name == "" {
			name = "<anonymous enum>"
		}
		d = typeinfo.NewEnum(name, sizeOf(t), typeinfo.Signed, enumerators...).InModule(c.module)

	case *dwarf.BoolType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), typeinfo.Bool).InModule(c.module)
	case *dwarf.CharType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), typeinfo.Char).InModule(c.module)
	case *dwarf.UcharType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), typeinfo.Unsigned).InModule(c.module)
	case *dwarf.IntType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), intEncoding(t.Name, typeinfo.Signed)).InModule(c.module)
	case *dwarf.UintType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), intEncoding(t.Name, typeinfo.Unsigned)).InModule(c.module)
	case *dwarf.FloatType:
		d = typeinfo.NewPrimitive(t.Name, sizeOf(t), typeinfo.Float).InModule(c.module)

	default:
		d = typeinfo.NewPrimitive(t.String(), sizeOf(t), typeinfo.EncodingNone).InModule(c.module)
	}

	c.seen[t] = d
	return d
}

// intEncoding recognizes the wide character types compilers emit as
// plain integers.
func intEncoding(name string, enc typeinfo.Encoding) typeinfo.Encoding {
	switch name {
	case "wchar_t", "char16_t", "WCHAR":
		return typeinfo.WideChar
	}
	return enc
}

func sizeOf(t dwarf.Type) uint64 {
	if n := t.Size(); n > 0 {
		return uint64(n)
	}
	return 0
}
