package binio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinfer/binrec/pkg/binerr"
)

func TestReadScalarByteOrders(t *testing.T) {
	data := []byte{0x2C, 0x01, 0x00, 0x00}

	tests := []struct {
		name  string
		kind  Kind
		order ByteOrder
		want  any
	}{
		{"u16 le", Uint16, LittleEndian, uint16(300)},
		{"u16 be", Uint16, BigEndian, uint16(0x2C01)},
		{"s32 le", Int32, LittleEndian, int32(300)},
		{"u32 be", Uint32, BigEndian, uint32(0x2C010000)},
		{"u8", Uint8, DefaultOrder, uint8(0x2C)},
		{"s8", Int8, DefaultOrder, int8(0x2C)},
		{"varint short", VarInt, LittleEndian, int64(300)},
		{"varuint short", VarUint, LittleEndian, uint64(300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBytesReader(data)
			v, err := r.ReadScalar(tt.kind, tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestReadScalarUsesReaderDefaultOrder(t *testing.T) {
	r := NewBytesReader([]byte{0x00, 0x2A}, WithByteOrder(BigEndian))
	v, err := r.ReadScalar(Uint16, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)
	assert.Equal(t, BigEndian, r.Order())
}

func TestReadLongVarint(t *testing.T) {
	w := NewWriter(WithLongVarints(true))
	require.NoError(t, w.WriteScalar(int64(-1)<<40, VarInt, LittleEndian))
	out, err := w.Bytes()
	require.NoError(t, err)
	require.Len(t, out, 8)

	r := NewBytesReader(out, WithLongVarints(true))
	v, err := r.ReadScalar(VarInt, LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, int64(-1)<<40, v)
	assert.True(t, r.LongVarints())
}

func TestReadScalarOutOfData(t *testing.T) {
	r := NewBytesReader([]byte{0x01, 0x02, 0x03})
	require.NoError(t, r.Seek(1))

	_, err := r.ReadScalar(Uint32, LittleEndian)
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrDecode))
	assert.True(t, errors.Is(err, binerr.ErrOutOfData))

	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, int64(1), be.Offset)
}

func TestReadBoolRejectsOtherBytes(t *testing.T) {
	r := NewBytesReader([]byte{0x01, 0x00, 0x02})

	v, err := r.ReadScalar(Bool, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = r.ReadScalar(Bool, DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = r.ReadScalar(Bool, DefaultOrder)
	require.Error(t, err)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.KindInvalidValue, be.Kind)
	assert.Equal(t, int64(2), be.Offset)
}

func TestNullTerminatedStringRoundTrip(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteNullTerminatedString("abc", "", DefaultOrder))
	require.NoError(t, w.WriteScalar(uint8(0x7F), Uint8, DefaultOrder))
	out, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0x7F}, out)

	r := NewBytesReader(out)
	s, err := r.ReadNullTerminatedString("", DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
	assert.Equal(t, int64(4), r.Tell(), "reader must sit right after the terminator")
}

func TestNullTerminatedUTF16UsesWideTerminator(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteNullTerminatedString("hi", "utf-16le", BigEndian))
	out, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 0, 'i', 0, 0, 0}, out)

	r := NewBytesReader(append(out, 0xFF))
	s, err := r.ReadNullTerminatedString("utf-16le", BigEndian)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	assert.Equal(t, int64(6), r.Tell())
}

func TestNullTerminatedStringWithoutTerminator(t *testing.T) {
	r := NewBytesReader([]byte("abc"))
	_, err := r.ReadNullTerminatedString("ascii", DefaultOrder)
	require.Error(t, err)

	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.KindUnterminatedString, be.Kind)
	assert.Equal(t, int64(0), be.Offset)
}

func TestScopedOffsetRestoresPositionOnFailure(t *testing.T) {
	r := NewBytesReader([]byte{1, 2, 3, 4})
	require.NoError(t, r.Seek(1))

	err := r.ScopedOffset(3, func() error {
		_, err := r.ReadScalar(Uint32, LittleEndian)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrOutOfData))
	assert.Equal(t, int64(1), r.Tell())
}

func TestScopedOffsetReadsAtOffset(t *testing.T) {
	r := NewBytesReader([]byte{1, 2, 3, 4})

	var got any
	err := r.ScopedOffset(2, func() error {
		var err error
		got, err = r.ReadScalar(Uint16, BigEndian)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), got)
	assert.Equal(t, int64(0), r.Tell())
}

func TestPeekDoesNotMove(t *testing.T) {
	r := NewBytesReader([]byte{9, 8, 7})
	b, err := r.Peek(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, b)
	assert.Equal(t, int64(0), r.Tell())

	_, err = r.Peek(4)
	assert.True(t, errors.Is(err, binerr.ErrOutOfData))
	assert.Equal(t, int64(0), r.Tell())
}

func TestReadArray(t *testing.T) {
	r := NewBytesReader([]byte{0, 1, 0, 2, 0, 3})
	v, err := r.ReadArray(Uint16, 3, BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, v)

	_, err = r.ReadArray(Uint16, 1, BigEndian)
	assert.True(t, errors.Is(err, binerr.ErrOutOfData))
}

func TestAssertPadAndAlign(t *testing.T) {
	r := NewBytesReader([]byte{0xAA, 0, 0, 0, 0xFF, 0xFF, 0x01})
	_, err := r.ReadScalar(Uint8, DefaultOrder)
	require.NoError(t, err)

	require.NoError(t, r.Align(4))
	assert.Equal(t, int64(4), r.Tell())

	require.NoError(t, r.AssertPad(2, 0xFF))

	err = r.AssertPad(1, 0x00)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.KindNonZeroPadding, be.Kind)
	assert.Equal(t, int64(6), be.Offset)
}

func TestReadFixedStringTrimsNulls(t *testing.T) {
	r := NewBytesReader([]byte{'K', 'B', 0, 0, 'x'})
	s, err := r.ReadFixedString(4, "utf-8", DefaultOrder)
	require.NoError(t, err)
	assert.Equal(t, "KB", s)
	assert.Equal(t, int64(4), r.Tell())
}

func TestSkipAndSize(t *testing.T) {
	r := NewBytesReader(make([]byte, 10))
	require.NoError(t, r.Skip(3))
	require.NoError(t, r.Skip(2))
	assert.Equal(t, int64(5), r.Tell())

	size, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	assert.Error(t, r.Seek(-1))
}

func TestReadScalarShortInputForEveryWidth(t *testing.T) {
	tests := []struct {
		kind Kind
		long bool
	}{
		{Int16, false},
		{Uint16, false},
		{Int32, false},
		{Uint32, false},
		{Float32, false},
		{Int64, false},
		{Uint64, false},
		{Float64, false},
		{VarInt, false},
		{VarUint, true},
	}

	for _, tt := range tests {
		for _, order := range []ByteOrder{LittleEndian, BigEndian} {
			t.Run(tt.kind.String()+" "+order.String(), func(t *testing.T) {
				width := tt.kind.Size(tt.long)
				data := make([]byte, 2*width-1)
				for i := range data {
					data[i] = byte(i + 1)
				}
				r := NewBytesReader(data, WithLongVarints(tt.long))

				_, err := r.ReadScalar(tt.kind, order)
				require.NoError(t, err)

				_, err = r.ReadScalar(tt.kind, order)
				require.Error(t, err, "%d bytes left for a %d byte read", width-1, width)
				assert.True(t, errors.Is(err, binerr.ErrOutOfData))
				var be *binerr.Error
				require.True(t, errors.As(err, &be))
				assert.Equal(t, int64(width), be.Offset)
			})
		}
	}
}

func TestReadArrayShortInput(t *testing.T) {
	r := NewBytesReader([]byte{0, 1, 0, 2, 0})
	_, err := r.ReadArray(Uint16, 3, BigEndian)
	require.Error(t, err)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.KindOutOfData, be.Kind)
	assert.Equal(t, int64(4), be.Offset)
}

func TestTextUsesGivenOrder(t *testing.T) {
	tests := []struct {
		name     string
		order    ByteOrder
		encoding string
		want     []byte
	}{
		{"utf-16 big", BigEndian, "utf-16", []byte{0, 'A', 0, 0}},
		{"utf-16 little", LittleEndian, "utf-16", []byte{'A', 0, 0, 0}},
		{"utf-16 writer default", DefaultOrder, "utf-16", []byte{0, 'A', 0, 0}},
		{"suffix wins", LittleEndian, "utf-16be", []byte{0, 'A', 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(WithByteOrder(BigEndian))
			require.NoError(t, w.WriteNullTerminatedString("A", tt.encoding, tt.order))
			out, err := w.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			r := NewBytesReader(out, WithByteOrder(BigEndian))
			s, err := r.ReadNullTerminatedString(tt.encoding, tt.order)
			require.NoError(t, err)
			assert.Equal(t, "A", s)

			fw := NewWriter(WithByteOrder(BigEndian))
			require.NoError(t, fw.WriteFixedString("A", 4, tt.encoding, tt.order))
			fixed, err := fw.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.want, fixed)

			s, err = NewBytesReader(fixed, WithByteOrder(BigEndian)).ReadFixedString(4, tt.encoding, tt.order)
			require.NoError(t, err)
			assert.Equal(t, "A", s)
		})
	}
}

// brokenSeeker reads normally but cannot report its position once broken.
type brokenSeeker struct {
	*bytes.Reader
	broken bool
}

func (s *brokenSeeker) Seek(offset int64, whence int) (int64, error) {
	if s.broken && whence == io.SeekCurrent {
		return 0, errors.New("position unavailable")
	}
	return s.Reader.Seek(offset, whence)
}

func TestTellFailureIsSticky(t *testing.T) {
	src := &brokenSeeker{Reader: bytes.NewReader([]byte{1, 2, 3, 4})}
	r := NewReader(src)
	_, err := r.ReadScalar(Uint16, LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Tell())
	require.NoError(t, r.Err())

	src.broken = true
	assert.Equal(t, int64(2), r.Tell(), "last known offset")
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), binerr.ErrIO))

	reads := []struct {
		name string
		read func() error
	}{
		{"scalar", func() error { _, err := r.ReadScalar(Uint8, DefaultOrder); return err }},
		{"bytes", func() error { _, err := r.ReadFixedBytes(1); return err }},
		{"strz", func() error { _, err := r.ReadNullTerminatedString("", DefaultOrder); return err }},
		{"skip", func() error { return r.Skip(1) }},
	}
	for _, tt := range reads {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read()
			require.Error(t, err)
			assert.True(t, errors.Is(err, binerr.ErrIO))
		})
	}

	src.broken = false
	assert.Error(t, r.Err(), "the failure is not forgotten")
}
