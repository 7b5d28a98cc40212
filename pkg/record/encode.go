package record

import (
	"context"
	"errors"
	"reflect"

	"github.com/twinfer/binrec/pkg/binerr"
	"github.com/twinfer/binrec/pkg/binio"
	"github.com/twinfer/binrec/pkg/layout"
)

type encoder struct {
	codec *Codec
	w     *binio.Writer
}

// record encodes the struct ptr points to. ptr is the reservation owner for
// the record's own reservable fields.
func (e *encoder) record(ctx context.Context, tbl *layout.Table, ptr reflect.Value, order binio.ByteOrder) error {
	logger := e.codec.logger
	start := e.w.Pos()
	order = tbl.Order.Or(order)
	logger.DebugContext(ctx, "Encoding record", "type", tbl.Name, "offset", start)

	owner := ptr.Interface()
	rec := ptr.Elem()
	for i := 0; i < len(tbl.Fields); {
		f := tbl.Fields[i]
		if f.Packed() {
			g := tbl.Groups[f.Group]
			if err := e.group(tbl, g, rec, order); err != nil {
				logger.DebugContext(ctx, "Bit group encode failed", "type", tbl.Name, "offset", start, "error", err)
				return err
			}
			i += len(g.Members)
			continue
		}

		var src reflect.Value
		if f.Index >= 0 && !f.Padding() {
			src = fieldOf(rec, f)
		}
		if err := e.value(ctx, f, src, owner, f.Order.Or(order)); err != nil {
			err = binerr.Locate(err, tbl.Name, f.Name)
			logger.DebugContext(ctx, "Field encode failed", "type", tbl.Name, "field", f.Name, "error", err)
			return err
		}
		i++
	}

	logger.DebugContext(ctx, "Encoded record", "type", tbl.Name, "offset", start, "size", e.w.Pos()-start)
	return nil
}

func (e *encoder) value(ctx context.Context, f *layout.Field, src reflect.Value, owner any, order binio.ByteOrder) error {
	offset := int64(e.w.Pos())

	switch f.Kind {
	case layout.Pad:
		return e.w.Pad(f.Length, f.Fill)

	case layout.Record:
		if f.Pointer {
			if src.IsNil() {
				return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
					Offset(offset).
					Detail("nested record pointer is nil").
					Build()
			}
			return e.record(ctx, f.Record, src, order)
		}
		return e.record(ctx, f.Record, src.Addr(), order)

	case layout.Array:
		return e.array(ctx, f, src, owner, order)
	}

	if f.Reservable {
		if src.IsNil() {
			if err := e.w.Reserve(owner, f.Name, f.Scalar, order); err != nil {
				return err
			}
			return nil
		}
		src = src.Elem()
	}

	wire, err := prepare(f, src.Interface())
	if err != nil {
		return withOffset(err, offset)
	}
	return e.wire(f, wire, order)
}

func (e *encoder) array(ctx context.Context, f *layout.Field, src reflect.Value, owner any, order binio.ByteOrder) error {
	offset := int64(e.w.Pos())
	elem := f.Elem
	elemOrder := elem.Order.Or(order)

	if elem.Kind == layout.Scalar && elem.Transform == nil {
		wire, err := prepare(f, src.Interface())
		if err != nil {
			return withOffset(err, offset)
		}
		if n := reflect.ValueOf(wire).Len(); n != f.Length {
			return lengthMismatch(offset, n, f.Length)
		}
		return e.w.WriteArray(wire, elem.Scalar, elemOrder)
	}

	if f.Check != nil {
		if err := runCheck(binerr.ClassEncode, f, src.Interface(), offset); err != nil {
			return err
		}
	}
	if src.Len() != f.Length {
		return lengthMismatch(offset, src.Len(), f.Length)
	}
	for i := 0; i < f.Length; i++ {
		if err := e.value(ctx, elem, src.Index(i), owner, elemOrder); err != nil {
			return err
		}
	}
	return nil
}

// wire writes an already prepared value.
func (e *encoder) wire(f *layout.Field, wire any, order binio.ByteOrder) error {
	offset := int64(e.w.Pos())

	switch f.Kind {
	case layout.Scalar:
		return e.w.WriteScalar(wire, f.Scalar, order)

	case layout.Bytes:
		b, ok := layout.AsBytes(wire)
		if !ok {
			return typeMismatch(offset, wire, "bytes")
		}
		if f.Process == nil {
			return e.w.WriteFixedBytes(b, f.Length, 0)
		}
		b, err := padded(b, f.Length, offset)
		if err != nil {
			return err
		}
		return e.w.WriteBytes(f.Process.Encode(b))

	case layout.String:
		s, ok := asString(wire)
		if !ok {
			return typeMismatch(offset, wire, "string")
		}
		if f.Process == nil {
			return e.w.WriteFixedString(s, f.Length, f.Encoding, order)
		}
		text, err := binio.LookupText(f.Encoding, order.Or(e.w.Order()))
		if err != nil {
			return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).Offset(offset).Cause(err).Build()
		}
		raw, err := text.Encode(s)
		if err != nil {
			return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).Offset(offset).Value(s).Cause(err).Build()
		}
		if raw, err = padded(raw, f.Length, offset); err != nil {
			return err
		}
		return e.w.WriteBytes(f.Process.Encode(raw))

	case layout.StringZ:
		s, ok := asString(wire)
		if !ok {
			return typeMismatch(offset, wire, "string")
		}
		return e.w.WriteNullTerminatedString(s, f.Encoding, order)
	}
	return typeMismatch(offset, wire, f.Kind.String())
}

// group packs the members of a bit group into one byte, LSB-first.
func (e *encoder) group(tbl *layout.Table, g layout.BitGroup, rec reflect.Value, order binio.ByteOrder) error {
	offset := int64(e.w.Pos())
	var b uint8
	for _, m := range g.Members {
		f := tbl.Fields[m.Field]
		if f.Padding() {
			continue
		}
		wire, err := prepare(f, fieldOf(rec, f).Interface())
		if err != nil {
			return binerr.Locate(withOffset(err, offset), tbl.Name, f.Name)
		}

		var u uint64
		if rv := reflect.ValueOf(wire); rv.Kind() == reflect.Bool {
			if rv.Bool() {
				u = 1
			}
		} else if u, err = binio.ToUnsigned(wire, 64); err != nil {
			return binerr.Locate(withOffset(err, offset), tbl.Name, f.Name)
		}
		if !binio.Fits(u, m.Bits) {
			return binerr.New(binerr.ClassEncode, binerr.KindOverflow).
				Record(tbl.Name).
				Field(f.Name).
				Offset(offset).
				Value(wire).
				Detail("%d does not fit in %d bits", u, m.Bits).
				Build()
		}
		b |= uint8(u) << m.Shift
	}
	if err := e.w.WriteScalar(b, binio.Uint8, order); err != nil {
		return binerr.Locate(err, tbl.Name, tbl.Fields[g.First].Name)
	}
	return nil
}

// prepare turns a field value into what goes on the wire. A single asserted
// value replaces the field value; otherwise the value must be in the asserted
// set. Checks run on the Go value before the transform.
func prepare(f *layout.Field, v any) (any, error) {
	if single, ok := f.SingleAsserted(); ok {
		if f.Transform == nil {
			return single, nil
		}
		v = single
	} else if len(f.Asserted) > 0 {
		cmp, err := f.Wire(v)
		if err != nil || !asserted(f, cmp) {
			return nil, binerr.Assertion(binerr.ClassEncode, binerr.NoOffset, f.Asserted, v)
		}
	}

	if f.Check != nil {
		if err := runCheck(binerr.ClassEncode, f, v, binerr.NoOffset); err != nil {
			return nil, err
		}
	}

	if f.Transform != nil {
		out, err := f.Transform.Encode(v)
		if err != nil {
			return nil, binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
				Value(v).
				Detail("transform rejected %v", v).
				Cause(err).
				Build()
		}
		v = out
	}
	return v, nil
}

func asString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return "", false
	}
	return rv.String(), true
}

func padded(b []byte, n int, offset int64) ([]byte, error) {
	if len(b) > n {
		return nil, lengthMismatch(offset, len(b), n)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func lengthMismatch(offset int64, got, want int) error {
	return binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
		Offset(offset).
		Value(got).
		Detail("%d elements, want %d", got, want).
		Build()
}

func typeMismatch(offset int64, v any, want string) error {
	return binerr.New(binerr.ClassEncode, binerr.KindTypeMismatch).
		Offset(offset).
		Value(v).
		Detail("cannot encode %T as %s", v, want).
		Build()
}

// withOffset fills in the offset of an error built without one.
func withOffset(err error, offset int64) error {
	var be *binerr.Error
	if errors.As(err, &be) && be.Offset == binerr.NoOffset {
		be.Offset = offset
	}
	return err
}
