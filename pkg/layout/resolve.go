package layout

import (
	"reflect"
	"strings"

	"github.com/twinfer/binrec/pkg/binerr"
	"github.com/twinfer/binrec/pkg/binio"
)

// compiler compiles one requested table and any records it references. The
// stack holds the records currently mid-compilation; meeting one of them
// again is a cycle.
type compiler struct {
	reg   *Registry
	stack []reflect.Type
	done  map[reflect.Type]*Table
}

// fieldSpec is one declared field before resolution.
type fieldSpec struct {
	name   string
	goName string
	index  int
	typ    reflect.Type
	ov     Overrides
}

func (c *compiler) table(t reflect.Type) (*Table, error) {
	if v, ok := c.reg.tables.Load(t); ok {
		return v.(*Table), nil
	}
	if tbl, ok := c.done[t]; ok {
		return tbl, nil
	}
	for i, s := range c.stack {
		if s == t {
			names := make([]string, 0, len(c.stack)-i+1)
			for _, p := range c.stack[i:] {
				names = append(names, recordName(p))
			}
			names = append(names, recordName(t))
			return nil, binerr.New(binerr.ClassCompile, binerr.KindCycle).
				Detail("cyclic record reference %s", strings.Join(names, " -> ")).
				Build()
		}
	}

	c.stack = append(c.stack, t)
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	name := recordName(t)
	specs, err := c.specs(t)
	if err != nil {
		return nil, err
	}

	tbl := &Table{Name: name, Type: t, Order: recordOrder(t), byName: make(map[string]*Field)}
	for _, sp := range specs {
		f, err := c.field(name, sp)
		if err != nil {
			return nil, err
		}
		if !f.Padding() {
			if _, dup := tbl.byName[f.Name]; dup {
				return nil, binerr.Compile(binerr.KindInvalidOverride, name, f.Name, "duplicate field name")
			}
			tbl.byName[f.Name] = f
			if f.GoName != "" && f.GoName != f.Name {
				if _, taken := tbl.byName[f.GoName]; !taken {
					tbl.byName[f.GoName] = f
				}
			}
		}
		tbl.Fields = append(tbl.Fields, f)
	}

	if tbl.Groups, err = groupBits(name, tbl.Fields); err != nil {
		return nil, err
	}
	c.done[t] = tbl
	return tbl, nil
}

// specs lists the declared fields of t: its Declarations when registered,
// otherwise its struct fields and their tags.
func (c *compiler) specs(t reflect.Type) ([]fieldSpec, error) {
	name := recordName(t)
	if decls, ok := c.reg.decls[t]; ok {
		specs := make([]fieldSpec, 0, len(decls))
		for _, d := range decls {
			sp := fieldSpec{name: d.Name, goName: d.Field, index: -1, ov: d.Overrides}
			if d.Field != "" {
				sf, ok := t.FieldByName(d.Field)
				if !ok || len(sf.Index) != 1 {
					return nil, binerr.Compile(binerr.KindUnknownField, name, d.Field, "no such struct field")
				}
				if !sf.IsExported() {
					return nil, binerr.Compile(binerr.KindInvalidOverride, name, d.Field, "field is unexported")
				}
				sp.index, sp.typ = sf.Index[0], sf.Type
			} else if !d.Padding {
				return nil, binerr.Compile(binerr.KindInvalidOverride, name, d.Name, "only padding may omit the struct field")
			}
			if sp.name == "" {
				sp.name = d.Field
			}
			if sp.name == "" {
				sp.name = "_"
			}
			specs = append(specs, sp)
		}
		return specs, nil
	}

	var specs []fieldSpec
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, tagged := sf.Tag.Lookup(TagName)
		ov, err := ParseTag(tag)
		if err != nil {
			return nil, binerr.New(binerr.ClassCompile, binerr.KindInvalidOverride).
				Record(name).
				Field(sf.Name).
				Detail("malformed tag %q", tag).
				Cause(err).
				Build()
		}
		if ov.skip {
			continue
		}
		if !sf.IsExported() {
			switch {
			case sf.Name == "_" && ov.Padding:
			case sf.Name == "_" || tagged:
				return nil, binerr.Compile(binerr.KindInvalidOverride, name, sf.Name, "unexported fields cannot be encoded")
			default:
				continue
			}
		}
		sp := fieldSpec{name: sf.Name, goName: sf.Name, index: i, typ: sf.Type, ov: ov}
		if ov.name != "" {
			sp.name = ov.name
		}
		if sf.Name == "_" {
			sp.goName, sp.index = "", -1
		}
		specs = append(specs, sp)
	}
	return specs, nil
}

// field compiles one declared field into its descriptor.
func (c *compiler) field(record string, sp fieldSpec) (*Field, error) {
	ov := sp.ov
	f := &Field{
		Name:     sp.name,
		GoName:   sp.goName,
		Index:    sp.index,
		Type:     sp.typ,
		Order:    ov.Order,
		Encoding: ov.Encoding,
		Fill:     ov.Fill,
		Group:    -1,
	}
	fail := func(format string, args ...any) error {
		return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, format, args...)
	}

	if err := c.resolve(record, f, ov); err != nil {
		return nil, binerr.Locate(err, record, f.Name)
	}

	if ov.Bits > 0 && f.Kind != Pad {
		switch {
		case ov.Bits > 8:
			return nil, binerr.Compile(binerr.KindBitOverflow, record, f.Name, "bits=%d exceeds one byte", ov.Bits)
		case f.Reservable:
			return nil, fail("reservable fields cannot be bit-packed")
		case f.Transform != nil:
			return nil, fail("transformed fields cannot be bit-packed")
		case f.Kind != Scalar || (f.Scalar != binio.Bool && !f.Scalar.Unsigned()) || f.Scalar.Variable():
			return nil, fail("bits require a bool or fixed-width unsigned field")
		}
		f.Bits = ov.Bits
	}

	if ov.Process != "" {
		if f.Kind != Bytes && f.Kind != String {
			return nil, fail("process requires a bytes or fixed string field")
		}
		p, err := c.reg.process(ov.Process)
		if err != nil {
			return nil, fail("%v", err)
		}
		f.Process = p
	}

	if ov.Asserted != nil {
		if len(ov.Asserted) == 0 {
			return nil, binerr.Compile(binerr.KindEmptyAssertion, record, f.Name, "asserted value set is empty")
		}
		switch {
		case f.Kind == Array || f.Kind == Record || f.Kind == Pad:
			return nil, fail("%s fields cannot be asserted", f.Kind)
		case f.Reservable:
			return nil, fail("reservable fields cannot be asserted")
		}
		for _, v := range ov.Asserted {
			w, err := wireValue(f, v, ov.literal)
			if err != nil {
				return nil, fail("asserted value %v: %v", v, err)
			}
			f.Asserted = append(f.Asserted, w)
		}
	}

	if f.Kind != Pad {
		def, err := defaultFunc(f, ov)
		if err != nil {
			return nil, fail("default value: %v", err)
		}
		f.Default = def
	}

	if ov.Check != "" {
		pool, err := c.reg.checkPool()
		if err != nil {
			return nil, fail("%v", err)
		}
		program, err := pool.GetExpression(ov.Check)
		if err != nil {
			return nil, fail("check: %v", err)
		}
		f.Check = &Check{Expr: ov.Check, program: program, pool: pool}
	}
	return f, nil
}

// resolve picks the wire encoding of f. Padding, per-field transforms and
// explicit custom types win over the Go type.
func (c *compiler) resolve(record string, f *Field, ov Overrides) error {
	switch {
	case ov.Padding:
		return c.resolvePad(record, f, ov)
	case ov.Decode != nil || ov.Encode != nil:
		return c.applyTransform(record, f, Transform{
			Format:   ov.Format,
			Length:   ov.Length,
			Encoding: ov.Encoding,
			Decode:   ov.Decode,
			Encode:   ov.Encode,
		}, Overrides{})
	case ov.Type != "":
		factory, ok := c.reg.byName[ov.Type]
		if !ok {
			return binerr.Resolution(binerr.KindUnknownType, record, f.Name, "no custom type named %q", ov.Type)
		}
		return c.applyTransform(record, f, factory(), ov)
	}
	if f.Type == nil {
		return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "field has no Go type")
	}
	return c.resolveType(record, f, f.Type, ov)
}

func (c *compiler) resolvePad(record string, f *Field, ov Overrides) error {
	f.Kind = Pad
	if ov.Bits > 0 {
		if ov.Length > 0 {
			return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "padding takes len or bits, not both")
		}
		if ov.Bits > 8 {
			return binerr.Compile(binerr.KindBitOverflow, record, f.Name, "bits=%d exceeds one byte", ov.Bits)
		}
		f.Bits = ov.Bits
		return nil
	}
	f.Length = ov.Length
	if f.Length == 0 && f.Type != nil && f.Type.Kind() == reflect.Array {
		f.Length = f.Type.Len()
	}
	if f.Length == 0 {
		return binerr.Resolution(binerr.KindMissingLength, record, f.Name, "padding needs len=N or bits=N")
	}
	return nil
}

// resolveType maps a Go type and the explicit format to a wire encoding.
func (c *compiler) resolveType(record string, f *Field, t reflect.Type, ov Overrides) error {
	format := ov.Format
	incompatible := func() error {
		return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "format %q does not fit Go type %s", format, t)
	}

	if factory, ok := c.reg.byType[t]; ok && format == "" {
		return c.applyTransform(record, f, factory(), ov)
	}

	if t.Kind() == reflect.Pointer && scalarGoKind(t.Elem().Kind()) {
		if err := c.resolveType(record, f, t.Elem(), ov); err != nil {
			return err
		}
		f.Reservable, f.Pointer = true, true
		return nil
	}

	if k, ok := binio.ParseKind(format); ok && !listGoKind(t.Kind()) {
		switch {
		case k == binio.Bool && t.Kind() != reflect.Bool:
			return incompatible()
		case k != binio.Bool && !numericGoKind(t.Kind()):
			return incompatible()
		case (k.Signed() || k.Unsigned()) && floatGoKind(t.Kind()):
			return incompatible()
		}
		f.Kind, f.Scalar = Scalar, k
		return nil
	}
	if format != "" && format != "bytes" && format != "str" && format != "strz" {
		if _, ok := binio.ParseKind(format); !ok {
			return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "unknown format %q", format)
		}
	}

	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64:
		if format != "" {
			return incompatible()
		}
		f.Kind, f.Scalar = Scalar, defaultKinds[t.Kind()]
		return nil

	case reflect.Int, reflect.Uint, reflect.Uintptr:
		if format != "" {
			return incompatible()
		}
		return binerr.Resolution(binerr.KindNoDefaultEncoding, record, f.Name,
			"%s has no fixed width, give an explicit format such as s32 or u64", t)

	case reflect.String:
		switch format {
		case "strz":
			f.Kind = StringZ
		case "", "str":
			if ov.Length == 0 {
				return binerr.Resolution(binerr.KindMissingLength, record, f.Name, "strings need str,len=N or strz")
			}
			f.Kind, f.Length = String, ov.Length
		default:
			return incompatible()
		}
		return nil

	case reflect.Array, reflect.Slice:
		n := ov.Length
		if t.Kind() == reflect.Array {
			if n != 0 && n != t.Len() {
				return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "len=%d does not match %s", n, t)
			}
			n = t.Len()
		}
		if n == 0 {
			return binerr.Resolution(binerr.KindMissingLength, record, f.Name, "%s needs len=N", t)
		}
		_, customElem := c.reg.byType[t.Elem()]
		if t.Elem().Kind() == reflect.Uint8 && !customElem && (format == "" || format == "bytes") {
			f.Kind, f.Length = Bytes, n
			return nil
		}
		if format == "bytes" {
			return incompatible()
		}
		elem := &Field{Name: f.Name, GoName: f.GoName, Index: -1, Type: t.Elem(), Order: f.Order, Encoding: f.Encoding, Group: -1}
		if err := c.resolveType(record, elem, t.Elem(), Overrides{Format: format, Order: ov.Order, Encoding: ov.Encoding}); err != nil {
			return err
		}
		if elem.Reservable {
			return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, "array elements cannot be reserved")
		}
		f.Kind, f.Length, f.Elem = Array, n, elem
		return nil

	case reflect.Pointer:
		if t.Elem().Kind() != reflect.Struct {
			break
		}
		if format != "" {
			return incompatible()
		}
		if err := c.nested(record, f, t.Elem()); err != nil {
			return err
		}
		f.Pointer = true
		return nil

	case reflect.Struct:
		if format != "" {
			return incompatible()
		}
		return c.nested(record, f, t)
	}

	if factory, ok := c.reg.byName[t.String()]; ok {
		return c.applyTransform(record, f, factory(), ov)
	}
	return binerr.Resolution(binerr.KindUnknownType, record, f.Name, "no encoding for type %s", t)
}

func (c *compiler) nested(record string, f *Field, t reflect.Type) error {
	tbl, err := c.table(t)
	if err != nil {
		return binerr.Locate(err, record, f.Name)
	}
	f.Kind, f.Record = Record, tbl
	return nil
}

// applyTransform resolves the wire side of a transform. An explicit len from
// the field must agree with what the transform produces.
func (c *compiler) applyTransform(record string, f *Field, tr Transform, ov Overrides) error {
	fail := func(format string, args ...any) error {
		return binerr.Compile(binerr.KindInvalidOverride, record, f.Name, format, args...)
	}
	if tr.Decode == nil || tr.Encode == nil {
		return fail("transform needs both decode and encode functions")
	}
	scalar, isScalar := binio.ParseKind(tr.Format)
	if tr.Count > 0 && !isScalar {
		return fail("array transforms need a scalar element format, got %q", tr.Format)
	}

	if ov.Length > 0 {
		switch {
		case tr.Count > 0:
			if ov.Length != tr.Count {
				return fail("len=%d does not match transform count %d", ov.Length, tr.Count)
			}
		case isScalar || tr.Format == "strz":
			return fail("len=%d is incompatible with a %s transform", ov.Length, tr.Format)
		case tr.Length == 0:
			tr.Length = ov.Length
		case tr.Length != ov.Length:
			return fail("len=%d does not match transform length %d", ov.Length, tr.Length)
		}
	}
	if tr.Encoding == "" {
		tr.Encoding = f.Encoding
	}

	wire := f
	if tr.Count > 0 {
		wire = &Field{Name: f.Name, GoName: f.GoName, Index: -1, Order: f.Order, Group: -1}
	}
	switch {
	case isScalar:
		wire.Kind, wire.Scalar = Scalar, scalar
	case tr.Format == "bytes" || tr.Format == "str":
		if tr.Length == 0 {
			return binerr.Resolution(binerr.KindMissingLength, record, f.Name, "%s transform needs a length", tr.Format)
		}
		wire.Kind, wire.Length = Bytes, tr.Length
		if tr.Format == "str" {
			wire.Kind = String
		}
	case tr.Format == "strz":
		wire.Kind = StringZ
	default:
		return fail("unknown transform format %q", tr.Format)
	}
	wire.Encoding = tr.Encoding

	if tr.Count > 0 {
		f.Kind, f.Length, f.Elem = Array, tr.Count, wire
	}
	f.Transform = &tr
	return nil
}

var defaultKinds = map[reflect.Kind]binio.Kind{
	reflect.Bool:    binio.Bool,
	reflect.Int8:    binio.Int8,
	reflect.Uint8:   binio.Uint8,
	reflect.Int16:   binio.Int16,
	reflect.Uint16:  binio.Uint16,
	reflect.Int32:   binio.Int32,
	reflect.Uint32:  binio.Uint32,
	reflect.Int64:   binio.Int64,
	reflect.Uint64:  binio.Uint64,
	reflect.Float32: binio.Float32,
	reflect.Float64: binio.Float64,
}

func scalarGoKind(k reflect.Kind) bool {
	return k == reflect.Bool || numericGoKind(k)
}

func numericGoKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return floatGoKind(k)
}

func floatGoKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func listGoKind(k reflect.Kind) bool {
	return k == reflect.Array || k == reflect.Slice
}

func recordName(t reflect.Type) string {
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
