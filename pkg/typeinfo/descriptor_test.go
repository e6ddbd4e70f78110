package typeinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructFieldLookup(t *testing.T) {
	intType := NewPrimitive("int", 4, Signed)
	charType := NewPrimitive("char", 1, Char)

	car := NewStruct("Car", 108,
		Field{Name: "x", Offset: 0, Type: intType},
		Field{Name: "y", Offset: 4, Type: intType},
		Field{Name: "name", Offset: 8, Type: NewArray(charType, 100)},
	).InModule("dummy")

	assert.Equal(t, Struct, car.Kind())
	assert.Equal(t, "dummy", car.Module())

	f, ok := car.Field("name")
	require.True(t, ok)
	assert.Equal(t, uint64(8), f.Offset)
	assert.Equal(t, "char[100]", f.Type.Name())
	assert.Equal(t, uint64(100), f.Type.Size())
	assert.Equal(t, uint64(100), f.Type.Len())

	_, ok = car.Field("missing")
	assert.False(t, ok)

	names := make([]string, 0, 3)
	for _, f := range car.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"x", "y", "name"}, names)
}

func TestDeclareStructSupportsCycles(t *testing.T) {
	node := DeclareStruct("Node", 16)
	next := NewPointer(node, 8)

	require.NoError(t, node.Complete(
		Field{Name: "value", Offset: 0, Type: NewPrimitive("long", 8, Signed)},
		Field{Name: "next", Offset: 8, Type: next},
	))

	f, ok := node.Field("next")
	require.True(t, ok)
	assert.Same(t, node, f.Type.Elem())
	assert.Equal(t, "Node*", f.Type.Name())

	assert.ErrorIs(t, node.Complete(), ErrAlreadyComplete)
	assert.Error(t, NewPrimitive("int", 4, Signed).Complete())
}

func TestScalarKinds(t *testing.T) {
	tests := []struct {
		name   string
		desc   *Descriptor
		scalar bool
	}{
		{name: "primitive", desc: NewPrimitive("int", 4, Signed), scalar: true},
		{name: "enum", desc: NewEnum("Color", 4, Signed), scalar: true},
		{name: "pointer", desc: NewPointer(nil, 8), scalar: true},
		{name: "array", desc: NewArray(NewPrimitive("char", 1, Char), 4), scalar: false},
		{name: "struct", desc: NewStruct("Empty", 0), scalar: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.scalar, tt.desc.IsScalar())
		})
	}
}

func TestEnumName(t *testing.T) {
	color := NewEnum("Color", 4, Signed,
		Enumerator{Name: "Red", Value: 0},
		Enumerator{Name: "Blue", Value: 2},
	)

	name, ok := color.EnumName(2)
	require.True(t, ok)
	assert.Equal(t, "Blue", name)

	_, ok = color.EnumName(7)
	assert.False(t, ok)
}

func TestDescriptorString(t *testing.T) {
	assert.Equal(t, "pointer void* (8 bytes)", NewPointer(nil, 8).String())
	assert.Equal(t, "struct m!S (4 bytes)", NewStruct("S", 4).InModule("m").String())
}
