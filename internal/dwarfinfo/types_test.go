package dwarfinfo

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

func common(name string, size int64) dwarf.CommonType {
	return dwarf.CommonType{Name: name, ByteSize: size}
}

func TestConvert_Primitives(t *testing.T) {
	c := newConverter("dummy", 8)

	tests := []struct {
		name    string
		typ     dwarf.Type
		wantEnc typeinfo.Encoding
		size    uint64
	}{
		{name: "int", typ: &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: common("int", 4)}}, wantEnc: typeinfo.Signed, size: 4},
		{name: "unsigned", typ: &dwarf.UintType{BasicType: dwarf.BasicType{CommonType: common("unsigned int", 4)}}, wantEnc: typeinfo.Unsigned, size: 4},
		{name: "char", typ: &dwarf.CharType{BasicType: dwarf.BasicType{CommonType: common("char", 1)}}, wantEnc: typeinfo.Char, size: 1},
		{name: "unsigned char", typ: &dwarf.UcharType{BasicType: dwarf.BasicType{CommonType: common("unsigned char", 1)}}, wantEnc: typeinfo.Unsigned, size: 1},
		{name: "wchar_t", typ: &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: common("wchar_t", 2)}}, wantEnc: typeinfo.WideChar, size: 2},
		{name: "bool", typ: &dwarf.BoolType{BasicType: dwarf.BasicType{CommonType: common("bool", 1)}}, wantEnc: typeinfo.Bool, size: 1},
		{name: "double", typ: &dwarf.FloatType{BasicType: dwarf.BasicType{CommonType: common("double", 8)}}, wantEnc: typeinfo.Float, size: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.convert(tt.typ)
			require.NotNil(t, d)
			assert.Equal(t, typeinfo.Primitive, d.Kind())
			assert.Equal(t, tt.wantEnc, d.Encoding())
			assert.Equal(t, tt.size, d.Size())
			assert.Equal(t, "dummy", d.Module())
			assert.Same(t, d, c.convert(tt.typ), "conversions are memoized")
		})
	}
}

func TestConvert_SelfReferentialStruct(t *testing.T) {
	c := newConverter("dummy", 8)
	intType := &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: common("int", 4)}}

	node := &dwarf.StructType{CommonType: common("Node", 16), StructName: "Node", Kind: "struct"}
	node.Field = []*dwarf.StructField{
		{Name: "value", Type: intType, ByteOffset: 0},
		{Name: "next", Type: &dwarf.PtrType{CommonType: common("", 8), Type: node}, ByteOffset: 8},
	}
	typedef := &dwarf.TypedefType{CommonType: common("NodeT", 16), Type: node}

	d := c.convert(typedef)
	require.NotNil(t, d)
	assert.Equal(t, typeinfo.Struct, d.Kind())
	assert.Equal(t, "Node", d.Name())
	assert.Equal(t, uint64(16), d.Size())
	assert.Equal(t, []string{"value", "next"}, fieldNames(d))

	next, ok := d.Field("next")
	require.True(t, ok)
	assert.Equal(t, uint64(8), next.Offset)
	assert.Equal(t, typeinfo.Pointer, next.Type.Kind())
	assert.Equal(t, "Node*", next.Type.Name())
	assert.Same(t, d, next.Type.Elem())
}

func TestConvert_ArraysEnumsAndVoid(t *testing.T) {
	c := newConverter("dummy", 8)
	charType := &dwarf.CharType{BasicType: dwarf.BasicType{CommonType: common("char", 1)}}

	arr := c.convert(&dwarf.ArrayType{CommonType: common("", 100), Type: charType, Count: 100})
	require.NotNil(t, arr)
	assert.Equal(t, typeinfo.Array, arr.Kind())
	assert.Equal(t, "char[100]", arr.Name())
	assert.Equal(t, uint64(100), arr.Size())

	flexible := c.convert(&dwarf.ArrayType{CommonType: common("", 0), Type: charType, Count: -1})
	assert.Equal(t, uint64(0), flexible.Len())

	enum := c.convert(&dwarf.EnumType{
		CommonType: common("Color", 4),
		EnumName:   "Color",
		Val: []*dwarf.EnumValue{
			{Name: "Red", Val: 0},
			{Name: "Blue", Val: 2},
		},
	})
	require.NotNil(t, enum)
	assert.Equal(t, typeinfo.Enum, enum.Kind())
	name, ok := enum.EnumName(2)
	assert.True(t, ok)
	assert.Equal(t, "Blue", name)

	voidPtr := c.convert(&dwarf.PtrType{CommonType: common("", 8), Type: &dwarf.VoidType{}})
	require.NotNil(t, voidPtr)
	assert.Equal(t, "void*", voidPtr.Name())
	assert.Nil(t, voidPtr.Elem())

	assert.Nil(t, c.convert(&dwarf.VoidType{}))

	constInt := c.convert(&dwarf.QualType{Qual: "const", Type: &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: common("int", 4)}}})
	require.NotNil(t, constInt)
	assert.Equal(t, "int", constInt.Name())
}

func fieldNames(d *typeinfo.Descriptor) []string {
	var names []string
	for _, f := range d.Fields() {
		names = append(names, f.Name)
	}
	return names
}
