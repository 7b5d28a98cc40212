package binio

import (
	"bytes"
	"errors"
	"io"
	"reflect"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
	"github.com/twinfer/binrec/pkg/binerr"
)

// Reader is a cursor over a seekable byte source. A Reader is not safe for
// concurrent use.
type Reader struct {
	stream *kaitai.Stream
	config

	last int64
	err  error
}

// NewReader creates a Reader over src.
func NewReader(src io.ReadSeeker, opts ...Option) *Reader {
	return &Reader{
		stream: kaitai.NewStream(src),
		config: newConfig(opts),
	}
}

// NewBytesReader creates a Reader over an in-memory buffer.
func NewBytesReader(data []byte, opts ...Option) *Reader {
	return NewReader(bytes.NewReader(data), opts...)
}

// Order returns the default byte order.
func (r *Reader) Order() ByteOrder { return r.order }

// LongVarints reports whether varints are 8 bytes wide.
func (r *Reader) LongVarints() bool { return r.longVarints }

// Tell returns the current absolute offset. If the source cannot report its
// position, Tell returns the last known offset and the failure is kept in
// Err. Every later read then fails with that error.
func (r *Reader) Tell() int64 {
	pos, _ := r.tell()
	return pos
}

// Err returns the position error recorded by the Reader, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) tell() (int64, error) {
	if r.err != nil {
		return r.last, r.err
	}
	pos, err := r.stream.Pos()
	if err != nil {
		r.err = binerr.New(binerr.ClassDecode, binerr.KindIO).
			Offset(r.last).
			Detail("cannot determine stream position").
			Cause(err).
			Build()
		return r.last, r.err
	}
	r.last = pos
	return pos, nil
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 {
		return binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).
			Offset(r.Tell()).
			Detail("negative seek offset %d", offset).
			Build()
	}
	if _, err := r.stream.Seek(offset, io.SeekStart); err != nil {
		return binerr.New(binerr.ClassDecode, binerr.KindIO).Offset(offset).Cause(err).Build()
	}
	return nil
}

// Skip moves the cursor by n bytes relative to the current offset.
func (r *Reader) Skip(n int64) error {
	pos, err := r.tell()
	if err != nil {
		return err
	}
	return r.Seek(pos + n)
}

// Size returns the total size of the source.
func (r *Reader) Size() (int64, error) {
	size, err := r.stream.Size()
	if err != nil {
		return 0, binerr.New(binerr.ClassDecode, binerr.KindIO).Cause(err).Build()
	}
	return size, nil
}

// ScopedOffset runs fn with the cursor at offset and restores the previous
// position afterwards, whether or not fn fails.
func (r *Reader) ScopedOffset(offset int64, fn func() error) (err error) {
	prev, err := r.tell()
	if err != nil {
		return err
	}
	defer func() {
		if serr := r.Seek(prev); serr != nil && err == nil {
			err = serr
		}
	}()
	if err := r.Seek(offset); err != nil {
		return err
	}
	return fn()
}

// ReadScalar reads one value of kind. Integers and floats come back as their
// sized Go type, VarInt as int64 and VarUint as uint64.
func (r *Reader) ReadScalar(kind Kind, order ByteOrder) (any, error) {
	start, err := r.tell()
	if err != nil {
		return nil, err
	}
	v, err := r.readScalar(kind, order.resolve(r.order))
	if err != nil {
		return nil, r.wrapRead(err, start, kind.Size(r.longVarints))
	}
	return v, nil
}

func (r *Reader) readScalar(kind Kind, order ByteOrder) (any, error) {
	switch kind {
	case VarInt:
		if r.longVarints {
			return r.readScalar(Int64, order)
		}
		v, err := r.readScalar(Int32, order)
		if err != nil {
			return nil, err
		}
		return int64(v.(int32)), nil
	case VarUint:
		if r.longVarints {
			return r.readScalar(Uint64, order)
		}
		v, err := r.readScalar(Uint32, order)
		if err != nil {
			return nil, err
		}
		return uint64(v.(uint32)), nil
	}

	n := kind.Size(r.longVarints)
	if n == 0 {
		return nil, binerr.New(binerr.ClassDecode, binerr.KindTypeMismatch).
			Detail("cannot read scalar kind %s", kind).
			Build()
	}
	// The sized kaitai reads do not use io.ReadFull, so the whole width is
	// taken up front and decoded from its own stream.
	raw, err := r.stream.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return decodeScalar(kaitai.NewStream(bytes.NewReader(raw)), kind, order == LittleEndian)
}

func decodeScalar(s *kaitai.Stream, kind Kind, le bool) (any, error) {
	switch kind {
	case Bool:
		b, err := s.ReadU1()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).
			Value(b).
			Detail("bool byte must be 0 or 1, got %d", b).
			Build()
	case Int8:
		return s.ReadS1()
	case Uint8:
		return s.ReadU1()
	case Int16:
		if le {
			return s.ReadS2le()
		}
		return s.ReadS2be()
	case Uint16:
		if le {
			return s.ReadU2le()
		}
		return s.ReadU2be()
	case Int32:
		if le {
			return s.ReadS4le()
		}
		return s.ReadS4be()
	case Uint32:
		if le {
			return s.ReadU4le()
		}
		return s.ReadU4be()
	case Int64:
		if le {
			return s.ReadS8le()
		}
		return s.ReadS8be()
	case Uint64:
		if le {
			return s.ReadU8le()
		}
		return s.ReadU8be()
	case Float32:
		if le {
			return s.ReadF4le()
		}
		return s.ReadF4be()
	case Float64:
		if le {
			return s.ReadF8le()
		}
		return s.ReadF8be()
	}
	return nil, binerr.New(binerr.ClassDecode, binerr.KindTypeMismatch).
		Detail("cannot read scalar kind %s", kind).
		Build()
}

// ReadFixedBytes reads exactly n bytes.
func (r *Reader) ReadFixedBytes(n int) ([]byte, error) {
	start, err := r.tell()
	if err != nil {
		return nil, err
	}
	b, err := r.stream.ReadBytes(n)
	if err != nil {
		return nil, r.wrapRead(err, start, n)
	}
	return b, nil
}

// Peek returns the next n bytes without moving the cursor.
func (r *Reader) Peek(n int) ([]byte, error) {
	pos, err := r.tell()
	if err != nil {
		return nil, err
	}
	var out []byte
	err = r.ScopedOffset(pos, func() error {
		b, err := r.ReadFixedBytes(n)
		out = b
		return err
	})
	return out, err
}

// ReadNullTerminatedString reads code units up to and including the null
// terminator of the encoding. The terminator is not part of the result.
// Encodings without an endianness suffix, like utf-16, use order.
func (r *Reader) ReadNullTerminatedString(encoding string, order ByteOrder) (string, error) {
	start, err := r.tell()
	if err != nil {
		return "", err
	}
	text, err := LookupText(encoding, order.resolve(r.order))
	if err != nil {
		return "", binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
	}

	unit := text.unit()
	var raw []byte
	for {
		cu, err := r.stream.ReadBytes(unit)
		if err != nil {
			if isEOF(err) {
				return "", binerr.New(binerr.ClassDecode, binerr.KindUnterminatedString).
					Offset(start).
					Detail("no %s terminator before end of data", text.Name).
					Cause(err).
					Build()
			}
			return "", r.wrapRead(err, start, unit)
		}
		if allZero(cu) {
			break
		}
		raw = append(raw, cu...)
	}

	s, err := text.Decode(raw)
	if err != nil {
		return "", binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
	}
	return s, nil
}

// ReadFixedString reads n bytes, strips trailing null code units and decodes
// the rest.
func (r *Reader) ReadFixedString(n int, encoding string, order ByteOrder) (string, error) {
	start, err := r.tell()
	if err != nil {
		return "", err
	}
	text, err := LookupText(encoding, order.resolve(r.order))
	if err != nil {
		return "", binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
	}
	raw, err := r.ReadFixedBytes(n)
	if err != nil {
		return "", err
	}
	s, err := text.Decode(text.TrimNulls(raw))
	if err != nil {
		return "", binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).Offset(start).Cause(err).Build()
	}
	return s, nil
}

// ReadArray reads count scalars and returns them as a slice of the kind's Go
// type, for example []uint16 for Uint16.
func (r *Reader) ReadArray(kind Kind, count int, order ByteOrder) (any, error) {
	elem := reflect.TypeOf(zeroOf(kind))
	if elem == nil {
		return nil, binerr.New(binerr.ClassDecode, binerr.KindTypeMismatch).
			Offset(r.Tell()).
			Detail("cannot read array of %s", kind).
			Build()
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), count, count)
	for i := 0; i < count; i++ {
		v, err := r.ReadScalar(kind, order)
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

// AssertPad reads n bytes and fails unless every byte equals fill.
func (r *Reader) AssertPad(n int, fill byte) error {
	start, err := r.tell()
	if err != nil {
		return err
	}
	b, err := r.ReadFixedBytes(n)
	if err != nil {
		return err
	}
	for i, c := range b {
		if c != fill {
			return binerr.New(binerr.ClassDecode, binerr.KindNonZeroPadding).
				Offset(start + int64(i)).
				Value(c).
				Detail("padding byte is 0x%02x, want 0x%02x", c, fill).
				Build()
		}
	}
	return nil
}

// Align skips forward to the next multiple of boundary. Skipped bytes are
// not checked.
func (r *Reader) Align(boundary int) error {
	if boundary <= 1 {
		return nil
	}
	pos, err := r.tell()
	if err != nil {
		return err
	}
	if rem := pos % int64(boundary); rem != 0 {
		return r.Seek(pos + int64(boundary) - rem)
	}
	return nil
}

func (r *Reader) wrapRead(err error, start int64, want int) error {
	var be *binerr.Error
	if errors.As(err, &be) {
		if be.Offset == binerr.NoOffset {
			be.Offset = start
		}
		return err
	}
	if isEOF(err) {
		return binerr.OutOfData(start, want, err)
	}
	return binerr.New(binerr.ClassDecode, binerr.KindIO).Offset(start).Cause(err).Build()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func zeroOf(kind Kind) any {
	switch kind {
	case Bool:
		return false
	case Int8:
		return int8(0)
	case Uint8:
		return uint8(0)
	case Int16:
		return int16(0)
	case Uint16:
		return uint16(0)
	case Int32:
		return int32(0)
	case Uint32:
		return uint32(0)
	case Int64, VarInt:
		return int64(0)
	case Uint64, VarUint:
		return uint64(0)
	case Float32:
		return float32(0)
	case Float64:
		return float64(0)
	}
	return nil
}
