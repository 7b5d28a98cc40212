package record

import (
	"context"
	"reflect"

	"github.com/twinfer/binrec/pkg/binerr"
	"github.com/twinfer/binrec/pkg/binio"
	"github.com/twinfer/binrec/pkg/layout"
)

type decoder struct {
	codec *Codec
	r     *binio.Reader
}

func (d *decoder) record(ctx context.Context, tbl *layout.Table, rec reflect.Value, order binio.ByteOrder) error {
	logger := d.codec.logger
	start := d.r.Tell()
	order = tbl.Order.Or(order)
	logger.DebugContext(ctx, "Decoding record", "type", tbl.Name, "offset", start)

	for i := 0; i < len(tbl.Fields); {
		f := tbl.Fields[i]
		if f.Packed() {
			g := tbl.Groups[f.Group]
			if err := d.group(tbl, g, rec, order); err != nil {
				logger.DebugContext(ctx, "Bit group decode failed", "type", tbl.Name, "offset", start, "error", err)
				return err
			}
			i += len(g.Members)
			continue
		}

		var target reflect.Value
		if f.Index >= 0 && !f.Padding() {
			target = fieldOf(rec, f)
		}
		if err := d.value(ctx, f, target, f.Order.Or(order)); err != nil {
			err = binerr.Locate(err, tbl.Name, f.Name)
			logger.DebugContext(ctx, "Field decode failed", "type", tbl.Name, "field", f.Name, "error", err)
			return err
		}
		i++
	}

	logger.DebugContext(ctx, "Decoded record", "type", tbl.Name, "offset", start, "size", d.r.Tell()-start)
	return nil
}

// value decodes one field into target. Padding has no target.
func (d *decoder) value(ctx context.Context, f *layout.Field, target reflect.Value, order binio.ByteOrder) error {
	start := d.r.Tell()

	switch f.Kind {
	case layout.Pad:
		return d.r.AssertPad(f.Length, f.Fill)

	case layout.Record:
		if f.Pointer {
			ptr := reflect.New(f.Record.Type)
			if err := d.record(ctx, f.Record, ptr.Elem(), order); err != nil {
				return err
			}
			target.Set(ptr)
			return nil
		}
		return d.record(ctx, f.Record, target, order)

	case layout.Array:
		return d.array(ctx, f, target, order)
	}

	raw, err := d.wire(f, order)
	if err != nil {
		return err
	}
	v, err := finishDecode(f, raw, start)
	if err != nil {
		return err
	}
	return store(target, v, start)
}

func (d *decoder) array(ctx context.Context, f *layout.Field, target reflect.Value, order binio.ByteOrder) error {
	start := d.r.Tell()
	elem := f.Elem
	elemOrder := elem.Order.Or(order)

	// Scalar elements are read in one call; the slice is either the field
	// value or the input of an array transform.
	if elem.Kind == layout.Scalar && elem.Transform == nil {
		raw, err := d.r.ReadArray(elem.Scalar, f.Length, elemOrder)
		if err != nil {
			return err
		}
		v, err := finishDecode(f, raw, start)
		if err != nil {
			return err
		}
		return store(target, v, start)
	}

	if target.Kind() == reflect.Slice {
		target.Set(reflect.MakeSlice(target.Type(), f.Length, f.Length))
	}
	for i := 0; i < f.Length; i++ {
		if err := d.value(ctx, elem, target.Index(i), elemOrder); err != nil {
			return err
		}
	}
	if f.Check != nil {
		return runCheck(binerr.ClassDecode, f, target.Interface(), start)
	}
	return nil
}

// wire reads the raw value of a scalar, bytes or string field.
func (d *decoder) wire(f *layout.Field, order binio.ByteOrder) (any, error) {
	switch f.Kind {
	case layout.Scalar:
		return d.r.ReadScalar(f.Scalar, order)

	case layout.Bytes:
		b, err := d.r.ReadFixedBytes(f.Length)
		if err != nil {
			return nil, err
		}
		if f.Process != nil {
			b = f.Process.Decode(b)
		}
		return b, nil

	case layout.String:
		if f.Process == nil {
			return d.r.ReadFixedString(f.Length, f.Encoding, order)
		}
		start := d.r.Tell()
		b, err := d.r.ReadFixedBytes(f.Length)
		if err != nil {
			return nil, err
		}
		text, err := binio.LookupText(f.Encoding, order.Or(d.r.Order()))
		if err != nil {
			return nil, binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
		}
		s, err := text.Decode(text.TrimNulls(f.Process.Decode(b)))
		if err != nil {
			return nil, binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
		}
		return s, nil

	case layout.StringZ:
		return d.r.ReadNullTerminatedString(f.Encoding, order)
	}
	return nil, binerr.New(binerr.ClassDecode, binerr.KindTypeMismatch).
		Offset(d.r.Tell()).
		Detail("cannot read %s field", f.Kind).
		Build()
}

// group reads one packed byte and distributes its bits LSB-first.
func (d *decoder) group(tbl *layout.Table, g layout.BitGroup, rec reflect.Value, order binio.ByteOrder) error {
	start := d.r.Tell()
	raw, err := d.r.ReadScalar(binio.Uint8, order)
	if err != nil {
		return binerr.Locate(err, tbl.Name, tbl.Fields[g.First].Name)
	}
	b := raw.(uint8)

	if unused := b & g.UnusedMask(); unused != 0 {
		last := tbl.Fields[g.Members[len(g.Members)-1].Field]
		return binerr.New(binerr.ClassDecode, binerr.KindNonZeroPadding).
			Record(tbl.Name).
			Field(last.Name).
			Offset(start).
			Value(b).
			Detail("unused bits 0x%02x are set", unused).
			Build()
	}

	for _, m := range g.Members {
		f := tbl.Fields[m.Field]
		bits := (b & m.Mask()) >> m.Shift

		if f.Padding() {
			if bits != 0 {
				return binerr.New(binerr.ClassDecode, binerr.KindNonZeroPadding).
					Record(tbl.Name).
					Field(f.Name).
					Offset(start).
					Value(b).
					Detail("padding bits are 0x%x", bits).
					Build()
			}
			continue
		}

		var wire any
		if f.Scalar == binio.Bool {
			if bits > 1 {
				return binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).
					Record(tbl.Name).
					Field(f.Name).
					Offset(start).
					Value(bits).
					Detail("boolean bits are %d, want 0 or 1", bits).
					Build()
			}
			wire = bits == 1
		} else {
			// Canonical cannot fail: bits never exceed the member width.
			wire, _ = binio.Canonical(f.Scalar, bits)
		}

		v, err := finishDecode(f, wire, start)
		if err == nil {
			err = store(fieldOf(rec, f), v, start)
		}
		if err != nil {
			return binerr.Locate(err, tbl.Name, f.Name)
		}
	}
	return nil
}

// finishDecode applies the transform, then the asserted set, then the check.
func finishDecode(f *layout.Field, raw any, offset int64) (any, error) {
	v := raw
	if f.Transform != nil {
		out, err := f.Transform.Decode(raw)
		if err != nil {
			return nil, binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).
				Offset(offset).
				Value(raw).
				Detail("transform rejected %v", raw).
				Cause(err).
				Build()
		}
		v = out
	}
	if len(f.Asserted) > 0 && !asserted(f, v) {
		return nil, binerr.Assertion(binerr.ClassDecode, offset, f.Asserted, v)
	}
	if f.Check != nil {
		if err := runCheck(binerr.ClassDecode, f, v, offset); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func asserted(f *layout.Field, v any) bool {
	for _, a := range f.Asserted {
		if layout.EqualValue(a, v) {
			return true
		}
	}
	return false
}

func runCheck(class binerr.Class, f *layout.Field, v any, offset int64) error {
	ok, err := f.Check.Eval(f.Name, v)
	if err != nil {
		return binerr.New(class, binerr.KindCheckFailed).
			Offset(offset).
			Value(v).
			Detail("check %q could not be evaluated", f.Check.Expr).
			Cause(err).
			Build()
	}
	if !ok {
		return binerr.New(class, binerr.KindCheckFailed).
			Offset(offset).
			Value(v).
			Detail("check %q failed for %v", f.Check.Expr, v).
			Build()
	}
	return nil
}

func store(target reflect.Value, v any, offset int64) error {
	if err := assign(target, v); err != nil {
		return binerr.New(binerr.ClassDecode, binerr.KindTypeMismatch).
			Offset(offset).
			Value(v).
			Cause(err).
			Build()
	}
	return nil
}
