package binio

import (
	"reflect"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
	"github.com/twinfer/binrec/pkg/binerr"
)

// sink is the positioned byte buffer behind a Writer. Writes land at pos,
// overwriting or extending buf.
type sink struct {
	buf []byte
	pos int
}

func (s *sink) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

// Writer is a growable output buffer with a reservation table for values
// that are patched in place later. The write cursor is always the end of the
// buffer. A Writer is not safe for concurrent use.
type Writer struct {
	out *sink
	kw  *kaitai.Writer
	config
	reservations
}

// NewWriter creates an empty Writer.
func NewWriter(opts ...Option) *Writer {
	out := &sink{}
	return &Writer{
		out:          out,
		kw:           kaitai.NewWriter(out),
		config:       newConfig(opts),
		reservations: newReservations(),
	}
}

// Order returns the default byte order.
func (w *Writer) Order() ByteOrder { return w.order }

// LongVarints reports whether varints are 8 bytes wide.
func (w *Writer) LongVarints() bool { return w.longVarints }

// Pos returns the current write position.
func (w *Writer) Pos() int { return len(w.out.buf) }

// Bytes returns a copy of the finished buffer. It fails while any
// reservation is outstanding.
func (w *Writer) Bytes() ([]byte, error) {
	if err := w.unfilledError(); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.out.buf...), nil
}

// WriteScalar writes v encoded as kind.
func (w *Writer) WriteScalar(v any, kind Kind, order ByteOrder) error {
	return w.encodeAt(w.Pos(), v, kind, order)
}

// encodeAt encodes v at off. When off is the end of the buffer the buffer
// grows; otherwise existing bytes are overwritten and the cursor is kept.
func (w *Writer) encodeAt(off int, v any, kind Kind, order ByteOrder) error {
	end := len(w.out.buf)
	w.out.pos = off
	defer func() { w.out.pos = len(w.out.buf) }()

	if err := w.encode(v, kind, order.resolve(w.order)); err != nil {
		// a failed append must not leave partial bytes behind
		if off == end {
			w.out.buf = w.out.buf[:end]
		}
		if be, ok := err.(*binerr.Error); ok {
			if be.Offset == binerr.NoOffset {
				be.Offset = int64(off)
			}
			return be
		}
		return binerr.New(binerr.ClassEncode, binerr.KindIO).Offset(int64(off)).Cause(err).Build()
	}
	return nil
}

func (w *Writer) encode(v any, kind Kind, order ByteOrder) error {
	le := order == LittleEndian
	kw := w.kw

	switch kind {
	case VarInt:
		if w.longVarints {
			kind = Int64
		} else {
			kind = Int32
		}
	case VarUint:
		if w.longVarints {
			kind = Uint64
		} else {
			kind = Uint32
		}
	}

	cv, err := Canonical(kind, v)
	if err != nil {
		return err
	}

	switch x := cv.(type) {
	case bool:
		var b uint8
		if x {
			b = 1
		}
		return kw.WriteU1(b)
	case int8:
		return kw.WriteS1(x)
	case uint8:
		return kw.WriteU1(x)
	case int16:
		if le {
			return kw.WriteS2le(x)
		}
		return kw.WriteS2be(x)
	case uint16:
		if le {
			return kw.WriteU2le(x)
		}
		return kw.WriteU2be(x)
	case int32:
		if le {
			return kw.WriteS4le(x)
		}
		return kw.WriteS4be(x)
	case uint32:
		if le {
			return kw.WriteU4le(x)
		}
		return kw.WriteU4be(x)
	case int64:
		if le {
			return kw.WriteS8le(x)
		}
		return kw.WriteS8be(x)
	case uint64:
		if le {
			return kw.WriteU8le(x)
		}
		return kw.WriteU8be(x)
	case float32:
		if le {
			return kw.WriteF4le(x)
		}
		return kw.WriteF4be(x)
	case float64:
		if le {
			return kw.WriteF8le(x)
		}
		return kw.WriteF8be(x)
	}
	return mismatch(kind, v)
}

// WriteBytes appends b unchanged.
func (w *Writer) WriteBytes(b []byte) error {
	return w.kw.WriteBytes(b)
}

// WriteFixedBytes writes b padded with fill up to padTo bytes. A padTo of
// zero or less writes b exactly. It fails if b is longer than padTo.
func (w *Writer) WriteFixedBytes(b []byte, padTo int, fill byte) error {
	if padTo <= 0 {
		return w.WriteBytes(b)
	}
	if len(b) > padTo {
		return binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
			Offset(int64(w.Pos())).
			Value(len(b)).
			Detail("%d bytes do not fit in fixed length %d", len(b), padTo).
			Build()
	}
	if err := w.WriteBytes(b); err != nil {
		return err
	}
	return w.Pad(padTo-len(b), fill)
}

// CopyBlock copies n already written bytes from src to dst. The ranges may
// overlap but must both lie inside the output.
func (w *Writer) CopyBlock(src, dst, n int) error {
	size := w.Pos()
	if n < 0 || src < 0 || dst < 0 || src+n > size || dst+n > size {
		return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
			Offset(int64(dst)).
			Detail("cannot copy %d bytes from %d to %d in %d written bytes", n, src, dst, size).
			Build()
	}
	copy(w.out.buf[dst:dst+n], w.out.buf[src:src+n])
	return nil
}

// WriteNullTerminatedString writes s followed by the encoding's null code
// unit. Encodings without an endianness suffix, like utf-16, use order.
func (w *Writer) WriteNullTerminatedString(s string, encoding string, order ByteOrder) error {
	text, raw, err := w.encodeText(s, encoding, order)
	if err != nil {
		return err
	}
	if err := w.WriteBytes(raw); err != nil {
		return err
	}
	return w.WriteBytes(text.Terminator())
}

// WriteFixedString writes s in exactly n bytes, null padded.
func (w *Writer) WriteFixedString(s string, n int, encoding string, order ByteOrder) error {
	_, raw, err := w.encodeText(s, encoding, order)
	if err != nil {
		return err
	}
	return w.WriteFixedBytes(raw, n, 0)
}

func (w *Writer) encodeText(s, encoding string, order ByteOrder) (Text, []byte, error) {
	text, err := LookupText(encoding, order.resolve(w.order))
	if err != nil {
		return Text{}, nil, binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
			Offset(int64(w.Pos())).
			Cause(err).
			Build()
	}
	raw, err := text.Encode(s)
	if err != nil {
		return Text{}, nil, binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
			Offset(int64(w.Pos())).
			Value(s).
			Cause(err).
			Build()
	}
	return text, raw, nil
}

// WriteArray writes each element of a slice or array as kind.
func (w *Writer) WriteArray(values any, kind Kind, order ByteOrder) error {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return binerr.New(binerr.ClassEncode, binerr.KindTypeMismatch).
			Offset(int64(w.Pos())).
			Detail("cannot write %T as an array", values).
			Build()
	}
	for i := 0; i < rv.Len(); i++ {
		if err := w.WriteScalar(rv.Index(i).Interface(), kind, order); err != nil {
			return err
		}
	}
	return nil
}

// Pad writes n fill bytes.
func (w *Writer) Pad(n int, fill byte) error {
	if n <= 0 {
		return nil
	}
	b := make([]byte, n)
	if fill != 0 {
		for i := range b {
			b[i] = fill
		}
	}
	return w.WriteBytes(b)
}

// PadTo writes fill bytes until the position reaches offset. It fails if the
// position is already past offset.
func (w *Writer) PadTo(offset int, fill byte) error {
	if w.Pos() > offset {
		return binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
			Offset(int64(w.Pos())).
			Detail("position 0x%x is already past 0x%x", w.Pos(), offset).
			Build()
	}
	return w.Pad(offset-w.Pos(), fill)
}

// Align writes zero bytes up to the next multiple of boundary.
func (w *Writer) Align(boundary int) error {
	return w.AlignFill(boundary, 0)
}

// AlignFill writes fill bytes up to the next multiple of boundary.
func (w *Writer) AlignFill(boundary int, fill byte) error {
	if boundary <= 1 {
		return nil
	}
	if rem := w.Pos() % boundary; rem != 0 {
		return w.Pad(boundary-rem, fill)
	}
	return nil
}
