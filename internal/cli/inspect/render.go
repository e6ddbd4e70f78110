// Package inspect implements the read-only inspection commands.
package inspect

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/introspect"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Render formats the value of o for display. Failures render inline as
// the error kind so one bad field does not hide the others.
func Render(ctx context.Context, o *introspect.Object) string {
	d := o.Descriptor()
	switch d.Kind() {
	case typeinfo.Enum:
		v, err := o.Value(ctx)
		if err != nil {
			return failed(err)
		}
		name, err := o.EnumName(ctx)
		if err != nil {
			return v.String()
		}
		return fmt.Sprintf("%s (%s)", name, v)

	case typeinfo.Primitive, typeinfo.Pointer:
		if d.Kind() == typeinfo.Primitive && !d.IsScalar() {
			return ""
		}
		v, err := o.Value(ctx)
		if err != nil {
			return failed(err)
		}
		return v.String()

	case typeinfo.Array:
		elem := d.Elem()
		if elem == nil || d.Len() == 0 {
			return "[]"
		}
		if elem.Kind() == typeinfo.Primitive {
			switch elem.Encoding() {
			case typeinfo.Char:
				s, err := o.ReadString(ctx, introspect.BoundedLength(int(d.Len())))
				if err != nil {
					return failed(err)
				}
				return strconv.Quote(s)
			case typeinfo.WideChar:
				s, err := o.ReadWideString(ctx, introspect.BoundedLength(int(d.Len())))
				if err != nil {
					return failed(err)
				}
				return "L" + strconv.Quote(s)
			}
		}
		return fmt.Sprintf("[%d]%s", d.Len(), elem.Name())

	case typeinfo.Struct:
		return "{...}"
	}
	return ""
}

func failed(err error) string {
	return fmt.Sprintf("<%s>", errkind.Of(err))
}
