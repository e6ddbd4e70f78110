package object

import (
	"fmt"
	"math"

	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Value is a decoded scalar read from the target.
type Value struct {
	kind typeinfo.Kind
	enc  typeinfo.Encoding
	size int
	bits uint64
}

func decode(d *typeinfo.Descriptor, raw uint64) Value {
	return Value{kind: d.Kind(), enc: d.Encoding(), size: int(d.Size()), bits: raw}
}

// Kind returns the kind of the type the value was decoded from.
func (v Value) Kind() typeinfo.Kind { return v.kind }

// Raw returns the undecoded bits, zero-extended.
func (v Value) Raw() uint64 { return v.bits }

// IsSigned reports whether the value decodes as a signed integer.
func (v Value) IsSigned() bool {
	if v.kind == typeinfo.Pointer {
		return false
	}
	return v.enc == typeinfo.Signed || v.enc == typeinfo.Char
}

// Int returns the value as a signed integer, sign-extending signed types.
func (v Value) Int() int64 {
	if !v.IsSigned() || v.size >= 8 {
		return int64(v.bits)
	}
	shift := uint(64 - 8*v.size)
	return int64(v.bits<<shift) >> shift
}

// Uint returns the value as an unsigned integer.
func (v Value) Uint() uint64 { return v.bits }

// Bool reports whether the value is non-zero.
func (v Value) Bool() bool { return v.bits != 0 }

// Float returns the value of a float type. Non-float values are converted
// from their integer interpretation.
func (v Value) Float() float64 {
	if v.enc == typeinfo.Float && v.kind == typeinfo.Primitive {
		if v.size == 4 {
			return float64(math.Float32frombits(uint32(v.bits)))
		}
		return math.Float64frombits(v.bits)
	}
	if v.IsSigned() {
		return float64(v.Int())
	}
	return float64(v.bits)
}

// Address returns the value of a pointer.
func (v Value) Address() uint64 { return v.bits }

// Interface returns the natural Go representation: int64 or uint64 for
// integers and enums, bool, float64 or, for pointers, the uint64 address.
func (v Value) Interface() any {
	switch {
	case v.kind == typeinfo.Pointer:
		return v.bits
	case v.kind == typeinfo.Primitive && v.enc == typeinfo.Bool:
		return v.Bool()
	case v.kind == typeinfo.Primitive && v.enc == typeinfo.Float:
		return v.Float()
	case v.IsSigned():
		return v.Int()
	default:
		return v.bits
	}
}

func (v Value) String() string {
	switch x := v.Interface().(type) {
	case uint64:
		if v.kind == typeinfo.Pointer {
			return fmt.Sprintf("0x%x", x)
		}
		return fmt.Sprintf("%d", x)
	default:
		return fmt.Sprint(x)
	}
}
