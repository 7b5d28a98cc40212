package layout

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	checks "github.com/twinfer/binrec/internal/cel"
	"github.com/twinfer/binrec/pkg/binio"
)

// FieldKind is the wire shape of a field.
type FieldKind uint8

const (
	Scalar FieldKind = iota + 1
	Bytes
	String
	StringZ
	Array
	Record
	Pad
)

var fieldKindNames = map[FieldKind]string{
	Scalar:  "scalar",
	Bytes:   "bytes",
	String:  "str",
	StringZ: "strz",
	Array:   "array",
	Record:  "record",
	Pad:     "pad",
}

func (k FieldKind) String() string {
	if s, ok := fieldKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FieldKind(%d)", uint8(k))
}

// Field is the compiled descriptor of one field.
type Field struct {
	Name   string
	GoName string
	// Index is the struct field index, or -1 for declared padding that has
	// no Go field.
	Index int
	Type  reflect.Type

	Kind FieldKind
	// Scalar is the primitive kind of scalar fields and bit members.
	Scalar binio.Kind
	Order  binio.ByteOrder
	// Length is the byte count of bytes, strings and padding, and the
	// element count of arrays.
	Length   int
	Encoding string
	Fill     byte

	// Bits is the member width inside a bit group, 0 when not bit-packed.
	Bits int
	// Group indexes Table.Groups, or is -1.
	Group int

	// Asserted holds the permitted values in their wire form.
	Asserted []any
	// Default returns a fresh construction-time value, or is nil.
	Default func() any

	Transform *Transform
	Process   *Process
	Check     *Check

	// Reservable fields are pointers to scalars; nil means "reserve".
	Reservable bool
	// Pointer is set when the Go field is a pointer.
	Pointer bool

	Record *Table
	Elem   *Field
}

// Padding reports whether the field is filler.
func (f *Field) Padding() bool { return f.Kind == Pad }

// Packed reports whether the field lives in a bit group.
func (f *Field) Packed() bool { return f.Group >= 0 }

// SingleAsserted returns the only permitted value, if there is exactly one.
func (f *Field) SingleAsserted() (any, bool) {
	if len(f.Asserted) == 1 {
		return f.Asserted[0], true
	}
	return nil, false
}

// Check is a compiled CEL condition on a field value.
type Check struct {
	Expr    string
	program cel.Program
	pool    *checks.ExpressionPool
}

// Eval reports whether value satisfies the check.
func (c *Check) Eval(field string, value any) (bool, error) {
	return c.pool.Check(c.program, field, value)
}

// BitMember is one field packed into a bit group. Shift counts from the
// least significant bit.
type BitMember struct {
	Field int
	Shift int
	Bits  int
}

// Mask returns the member's bits in place.
func (m BitMember) Mask() uint8 {
	return uint8((1<<m.Bits - 1) << m.Shift)
}

// BitGroup is a run of consecutive bit-packed fields sharing one byte. The
// first-declared member takes the least significant bits.
type BitGroup struct {
	// First is the index of the group's first field.
	First   int
	Members []BitMember
	// Unused is the number of trailing high bits no member covers.
	Unused int
}

// UnusedMask returns the bits no member covers. They must be zero.
func (g BitGroup) UnusedMask() uint8 {
	used := 8 - g.Unused
	return uint8(0xFF << used)
}

// Table is the compiled layout of a record type.
type Table struct {
	Name string
	Type reflect.Type
	// Order is the record's own default byte order. DefaultOrder inherits
	// the order of the enclosing record or stream.
	Order  binio.ByteOrder
	Fields []*Field
	Groups []BitGroup

	byName map[string]*Field
}

// OrderedRecord is implemented by record types that fix the byte order of
// their fields. Field overrides still win.
type OrderedRecord interface {
	ByteOrder() binio.ByteOrder
}

func recordOrder(t reflect.Type) binio.ByteOrder {
	if o, ok := reflect.New(t).Interface().(OrderedRecord); ok {
		return o.ByteOrder()
	}
	return binio.DefaultOrder
}

// Field looks up a field by its wire name or Go name.
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// Size returns the encoded size in bytes, and false when the size depends on
// the data.
func (t *Table) Size(longVarints bool) (int, bool) {
	size := 0
	for i := 0; i < len(t.Fields); i++ {
		f := t.Fields[i]
		if f.Packed() {
			size++
			i += len(t.Groups[f.Group].Members) - 1
			continue
		}
		n, ok := f.size(longVarints)
		if !ok {
			return 0, false
		}
		size += n
	}
	return size, true
}

func (f *Field) size(longVarints bool) (int, bool) {
	switch f.Kind {
	case Scalar:
		return f.Scalar.Size(longVarints), true
	case Bytes, String, Pad:
		return f.Length, true
	case StringZ:
		return 0, false
	case Record:
		return f.Record.Size(longVarints)
	case Array:
		n, ok := f.Elem.size(longVarints)
		return n * f.Length, ok
	}
	return 0, false
}
