package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinfer/binrec/pkg/binerr"
	"github.com/twinfer/binrec/pkg/binio"
	"github.com/twinfer/binrec/pkg/layout"
	"github.com/twinfer/binrec/testutil"
	"gopkg.in/yaml.v3"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	return NewCodec(
		WithRegistry(layout.NewRegistry()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

type flags struct {
	A uint16
	B bool  `bin:"bits=1"`
	C bool  `bin:"bits=1"`
	_ uint8 `bin:"pad,bits=6"`
}

type point struct {
	X, Y int16
}

type header struct {
	Magic   [4]byte `bin:"asserted=BREC"`
	Version float32 `bin:"asserted=1.0|2.0|3.0"`
	Count   int32
	Big     uint64 `bin:"order=be"`
	Name    string `bin:"str,len=8"`
	Path    string `bin:"strz,enc=utf-16"`
	Words   [3]uint16
	Ids     []int16 `bin:"len=2"`
	Level   uint8   `bin:"bits=3"`
	On      bool    `bin:"bits=1"`
	_       uint8   `bin:"pad,bits=4"`
	Key     []byte  `bin:"len=4,process=xor(0x5A)"`
	Rotated [2]byte `bin:"process=rol(3)"`
	Point   point
	Points  [2]point
	Next    *point
	Ratio   float64
	Delta   int     `bin:"varint"`
	_       [2]byte `bin:"pad"`
}

func TestFixedScenario(t *testing.T) {
	c := newTestCodec(t)

	out, err := c.Marshal(&flags{A: 300, B: true, C: false})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2C, 0x01, 0x01}, out)

	var got flags
	require.NoError(t, c.Unmarshal([]byte{0x2C, 0x01, 0x01}, &got))
	assert.Equal(t, flags{A: 300, B: true, C: false}, got)
}

func TestRoundTripBothByteOrders(t *testing.T) {
	want := header{
		Magic:   [4]byte{'B', 'R', 'E', 'C'},
		Version: 2,
		Count:   -7,
		Big:     0x0102030405060708,
		Name:    "binrec",
		Path:    "dir/ファイル",
		Words:   [3]uint16{1, 0x0203, 0xFFFF},
		Ids:     []int16{-1, 1},
		Level:   5,
		On:      true,
		Key:     []byte{1, 2, 3, 4},
		Rotated: [2]byte{0x81, 0x7E},
		Point:   point{X: 1, Y: -1},
		Points:  [2]point{{X: 2, Y: 3}, {X: 4, Y: 5}},
		Next:    &point{X: 6, Y: 7},
		Ratio:   0.25,
		Delta:   -42,
	}

	for _, order := range []binio.ByteOrder{binio.LittleEndian, binio.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			c := newTestCodec(t)
			in := want

			data, err := c.Marshal(&in, binio.WithByteOrder(order))
			require.NoError(t, err)

			size, err := c.Size(&in, false)
			assert.ErrorIs(t, err, ErrVariableSize)
			assert.Zero(t, size)

			var got header
			require.NoError(t, c.Unmarshal(data, &got, binio.WithByteOrder(order)))
			if diff := cmp.Diff(want, got, cmpopts.IgnoreUnexported(header{})); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestByteOrderAndProcessOnTheWire(t *testing.T) {
	type wire struct {
		Little uint16
		Big    uint16  `bin:"order=be"`
		Key    [2]byte `bin:"process=xor([0x0F, 0xF0])"`
	}

	c := newTestCodec(t)
	out, err := c.Marshal(&wire{Little: 0x0102, Big: 0x0102, Key: [2]byte{0xFF, 0xFF}})
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "0201 0102 f00f"), out)
}

func TestAssertedSet(t *testing.T) {
	c := newTestCodec(t)

	four, err := c.Marshal(&struct{ V float32 }{V: 4})
	require.NoError(t, err)

	var v versioned
	err = c.Unmarshal(four, &v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrDecode))
	assert.True(t, errors.Is(err, binerr.ErrAssertion))

	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "versioned", be.Record)
	assert.Equal(t, "Version", be.Field)
	assert.Equal(t, int64(0), be.Offset)
	assert.Contains(t, err.Error(), "expected one of")

	_, err = c.Marshal(&versioned{Version: 3})
	assert.NoError(t, err)

	_, err = c.Marshal(&versioned{Version: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrEncode))
	assert.True(t, errors.Is(err, binerr.ErrAssertion))
}

func TestSingleAssertedValueIsAlwaysWritten(t *testing.T) {
	type magic struct {
		Magic [4]byte `bin:"asserted=0x4B42494E"`
		Body  uint8
	}
	c := newTestCodec(t)

	out, err := c.Marshal(&magic{Body: 9})
	require.NoError(t, err)
	assert.Equal(t, []byte("KBIN\x09"), out)

	var m magic
	err = c.Unmarshal([]byte("KBIM\x09"), &m)
	assert.True(t, errors.Is(err, binerr.ErrAssertion))
}

func TestBitGroupRejectsUnusedBits(t *testing.T) {
	type trailing struct {
		On   bool `bin:"bits=1"`
		Next uint8
	}
	c := newTestCodec(t)

	var v trailing
	require.NoError(t, c.Unmarshal([]byte{0x01, 0x07}, &v))
	assert.Equal(t, trailing{On: true, Next: 7}, v)

	err := c.Unmarshal([]byte{0x03, 0x07}, &v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrNonZeroPadding))
	assert.True(t, errors.Is(err, binerr.ErrDecode))
}

func TestBitGroupPacking(t *testing.T) {
	type packed struct {
		A uint8 `bin:"bits=2"`
		B bool  `bin:"bits=1"`
		C uint8 `bin:"bits=5"`
	}
	c := newTestCodec(t)

	tests := []packed{
		{A: 3, B: true, C: 31},
		{A: 0, B: false, C: 0},
		{A: 1, B: false, C: 16},
	}
	for _, in := range tests {
		out, err := c.Marshal(&in)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, in.A|boolBit(in.B)<<2|in.C<<3, out[0])

		var got packed
		require.NoError(t, c.Unmarshal(out, &got))
		assert.Equal(t, in, got)
	}

	_, err := c.Marshal(&packed{A: 4})
	require.Error(t, err)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.KindOverflow, be.Kind)
	assert.Equal(t, "A", be.Field)
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

type entry struct {
	ID     uint8
	Offset *uint32
}

func TestReservationsPerInstance(t *testing.T) {
	orders := []struct {
		name string
		flip bool
	}{
		{"fill first entry first", false},
		{"fill second entry first", true},
	}

	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec(t)
			w := binio.NewWriter()
			a, b := &entry{ID: 1}, &entry{ID: 2}
			require.NoError(t, c.Encode(t.Context(), w, a))
			require.NoError(t, c.Encode(t.Context(), w, b))

			_, err := w.Bytes()
			require.Error(t, err)
			assert.True(t, errors.Is(err, binerr.ErrUnfilled))
			assert.Contains(t, err.Error(), binio.OwnerLabel(a)+".Offset")
			assert.Contains(t, err.Error(), binio.OwnerLabel(b)+".Offset")

			fills := []struct {
				e *entry
				v uint32
			}{{a, 0x0A}, {b, 0x14}}
			if tt.flip {
				fills[0], fills[1] = fills[1], fills[0]
			}
			for _, f := range fills {
				require.NoError(t, c.Fill(w, f.e, "Offset", f.v))
			}

			out, err := w.Bytes()
			require.NoError(t, err)
			assert.Equal(t, testutil.Hex(t, "01 0a000000 02 14000000"), out)
		})
	}
}

func TestReservationErrors(t *testing.T) {
	c := newTestCodec(t)
	w := binio.NewWriter()
	e := &entry{ID: 1}
	require.NoError(t, c.Encode(t.Context(), w, e))

	err := c.Fill(w, e, "Missing", 1)
	assert.True(t, errors.Is(err, binerr.ErrReservation))

	err = c.Fill(w, e, "ID", 1)
	assert.True(t, errors.Is(err, binerr.ErrUnknownReservation))

	err = c.Fill(w, &entry{}, "Offset", 1)
	assert.True(t, errors.Is(err, binerr.ErrUnknownReservation), "a different instance holds no reservation")

	pos, err := c.FillWithPosition(w, e, "Offset")
	require.NoError(t, err)
	assert.Equal(t, 5, pos)

	err = c.Fill(w, e, "Offset", 1)
	assert.True(t, errors.Is(err, binerr.ErrUnknownReservation), "filling twice is an error")

	_, err = c.Marshal(&entry{})
	assert.True(t, errors.Is(err, binerr.ErrUnfilled))
}

func TestNestedRecordsReserveIndependently(t *testing.T) {
	type table struct {
		Head entry
		Tail entry
		Rows [2]entry
	}
	c := newTestCodec(t)
	w := binio.NewWriter(binio.WithByteOrder(binio.BigEndian))
	tb := &table{}
	require.NoError(t, c.Encode(t.Context(), w, tb))
	require.Len(t, w.Outstanding(), 4)

	require.NoError(t, c.Fill(w, &tb.Tail, "Offset", 2))
	require.NoError(t, c.Fill(w, &tb.Rows[1], "Offset", 4))
	require.NoError(t, c.Fill(w, &tb.Head, "Offset", 1))
	require.NoError(t, c.Fill(w, &tb.Rows[0], "Offset", 3))

	out, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "00 00000001 00 00000002 00 00000003 00 00000004"), out)
}

func TestPresetReservableIsWritten(t *testing.T) {
	off := uint32(9)
	out, err := newTestCodec(t).Marshal(&entry{ID: 1, Offset: &off})
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "01 09000000"), out)

	var got entry
	require.NoError(t, newTestCodec(t).Unmarshal(out, &got))
	require.NotNil(t, got.Offset)
	assert.Equal(t, uint32(9), *got.Offset)
}

func TestDecodeAssignsOnlyOnSuccess(t *testing.T) {
	c := newTestCodec(t)
	v := header{Count: 99}

	err := c.Unmarshal([]byte("BREC\x00\x00\x00\x40\x01"), &v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrOutOfData))
	assert.Equal(t, int32(99), v.Count)
	assert.Equal(t, [4]byte{}, v.Magic)
}

func TestDecodeAndEncodeNeedPointers(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.Marshal(flags{})
	assert.True(t, errors.Is(err, binerr.ErrEncode))

	err = c.Unmarshal([]byte{0, 0, 0}, flags{})
	assert.True(t, errors.Is(err, binerr.ErrDecode))

	var nilPtr *flags
	err = c.Unmarshal([]byte{0, 0, 0}, nilPtr)
	assert.Error(t, err)
}

func TestNilNestedPointerFails(t *testing.T) {
	type holder struct {
		P *point
	}
	_, err := newTestCodec(t).Marshal(&holder{})
	require.Error(t, err)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "P", be.Field)
}

func TestChecks(t *testing.T) {
	type limited struct {
		Level uint8  `bin:"check=value <= 5"`
		Tag   string `bin:"strz,check=size(value) > 0"`
	}
	c := newTestCodec(t)

	var v limited
	require.NoError(t, c.Unmarshal([]byte{5, 'x', 0}, &v))

	err := c.Unmarshal([]byte{6, 'x', 0}, &v)
	var be *binerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.ClassDecode, be.Class)
	assert.Equal(t, binerr.KindCheckFailed, be.Kind)
	assert.Equal(t, "Level", be.Field)

	_, err = c.Marshal(&limited{Level: 6, Tag: "x"})
	require.True(t, errors.As(err, &be))
	assert.Equal(t, binerr.ClassEncode, be.Class)
	assert.Equal(t, binerr.KindCheckFailed, be.Kind)

	_, err = c.Marshal(&limited{Level: 1})
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "Tag", be.Field)
}

func TestCompileErrorsSurface(t *testing.T) {
	type odd struct {
		Z complex64
	}
	type loop struct {
		Self *loop
	}
	c := newTestCodec(t)

	_, err := c.Marshal(&odd{})
	assert.True(t, errors.Is(err, binerr.ErrResolution))
	assert.Contains(t, err.Error(), "complex64")
	assert.Contains(t, err.Error(), "odd.Z")

	err = c.Unmarshal(nil, &loop{})
	assert.True(t, errors.Is(err, binerr.ErrCycle))
}

func TestCustomTypeTransform(t *testing.T) {
	type stamped struct {
		At time.Time
		N  uint8
	}
	reg := layout.NewRegistry()
	require.NoError(t, layout.RegisterType[time.Time](reg, func() layout.Transform {
		return layout.Transform{
			Format: "u32",
			Decode: func(raw any) (any, error) { return time.Unix(int64(raw.(uint32)), 0).UTC(), nil },
			Encode: func(v any) (any, error) { return uint32(v.(time.Time).Unix()), nil },
		}
	}))
	c := NewCodec(WithRegistry(reg))

	in := stamped{At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), N: 3}
	out, err := c.Marshal(&in)
	require.NoError(t, err)
	require.Len(t, out, 5)

	var got stamped
	require.NoError(t, c.Unmarshal(out, &got))
	assert.True(t, in.At.Equal(got.At))
	assert.Equal(t, in.N, got.N)
}

func TestDeclaredTransformAndDefaults(t *testing.T) {
	type celsius float64
	type reading struct {
		Temp  celsius
		Tags  []uint16
		Label string
	}

	reg := layout.NewRegistry()
	require.NoError(t, reg.Declare(reflect.TypeFor[reading](), []layout.Declaration{
		{Field: "Temp", Overrides: layout.Overrides{
			Format: "s16",
			Decode: func(raw any) (any, error) { return celsius(raw.(int16)) / 10, nil },
			Encode: func(v any) (any, error) { return int16(v.(celsius) * 10), nil },
		}},
		{Field: "Tags", Overrides: layout.Overrides{
			Format:         "u16",
			Length:         2,
			DefaultFactory: func() any { return []uint16{1, 2} },
		}},
		{Field: "Label", Overrides: layout.Overrides{Format: "strz", Default: "none"}},
	}))
	c := NewCodec(WithRegistry(reg))

	a, b := &reading{}, &reading{}
	require.NoError(t, c.Init(a))
	require.NoError(t, c.Init(b))
	assert.Equal(t, []uint16{1, 2}, a.Tags)
	assert.Equal(t, "none", a.Label)
	a.Tags[0] = 9
	assert.Equal(t, uint16(1), b.Tags[0], "default factories must not share values")

	a.Temp = 21.5
	out, err := c.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "d700 0900 0200 6e6f6e6500"), out)

	var got reading
	require.NoError(t, c.Unmarshal(out, &got))
	assert.InDelta(t, 21.5, float64(got.Temp), 1e-9)
	assert.Equal(t, []uint16{9, 2}, got.Tags)
}

func TestNewAppliesDefaults(t *testing.T) {
	type child struct {
		Kind uint8 `bin:"asserted=7"`
	}
	type parent struct {
		Magic [4]byte `bin:"asserted=BREC"`
		Level uint8   `bin:"default=3"`
		Child child
		Ptr   *child
		Name  string `bin:"strz,default=anon"`
	}

	p, err := New[parent]()
	require.NoError(t, err)
	assert.Equal(t, [4]byte{'B', 'R', 'E', 'C'}, p.Magic)
	assert.Equal(t, uint8(3), p.Level)
	assert.Equal(t, uint8(7), p.Child.Kind)
	require.NotNil(t, p.Ptr)
	assert.Equal(t, uint8(7), p.Ptr.Kind)
	assert.Equal(t, "anon", p.Name)

	out, err := Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("BREC\x03\x07\x07anon\x00"), out)
}

func TestVarintWidth(t *testing.T) {
	type counter struct {
		N uint32 `bin:"varuint"`
	}
	c := newTestCodec(t)

	short, err := c.Marshal(&counter{N: 5})
	require.NoError(t, err)
	assert.Len(t, short, 4)

	long, err := c.Marshal(&counter{N: 5}, binio.WithLongVarints(true))
	require.NoError(t, err)
	assert.Len(t, long, 8)

	var got counter
	require.NoError(t, c.Unmarshal(long, &got, binio.WithLongVarints(true)))
	assert.Equal(t, uint32(5), got.N)

	n, err := c.Size(&counter{}, true)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestPackageFunctions(t *testing.T) {
	n, err := Size(&flags{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	w := binio.NewWriter()
	e := &entry{ID: 4}
	require.NoError(t, Encode(w, e))
	_, err = FillWithPosition(w, e, "Offset")
	require.NoError(t, err)
	out, err := w.Bytes()
	require.NoError(t, err)

	var got entry
	require.NoError(t, Decode(binio.NewBytesReader(out), &got))
	assert.Equal(t, uint8(4), got.ID)
	assert.Equal(t, uint32(5), *got.Offset)
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(
		WithRegistry(layout.NewRegistry()),
		WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)

	var f flags
	require.NoError(t, c.Unmarshal([]byte{0x2C, 0x01, 0x01}, &f))
	assert.Contains(t, buf.String(), "Decoded record")
	assert.Contains(t, buf.String(), "type=flags")
	assert.Contains(t, buf.String(), "size=3")
}

type sensor struct {
	Channel uint16
	Celsius int16  `bin:"order=be"`
	Label   string `bin:"strz"`
	Samples [3]uint8
}

type versioned struct {
	Version float32 `bin:"asserted=1.0|2.0|3.0"`
}

type vector struct {
	Name   string         `yaml:"name"`
	Record string         `yaml:"record"`
	Order  string         `yaml:"order"`
	Hex    string         `yaml:"hex"`
	Fields map[string]any `yaml:"fields"`
	Error  string         `yaml:"error"`
}

func TestVectors(t *testing.T) {
	raw, err := os.ReadFile("testdata/vectors.yaml")
	require.NoError(t, err)
	var vectors []vector
	require.NoError(t, yaml.Unmarshal(raw, &vectors))
	require.NotEmpty(t, vectors)

	records := map[string]func() any{
		"flags":     func() any { return &flags{} },
		"sensor":    func() any { return &sensor{} },
		"versioned": func() any { return &versioned{} },
	}

	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			newRecord, ok := records[v.Record]
			require.True(t, ok, "unknown record %q", v.Record)
			order, err := binio.ParseByteOrder(v.Order)
			require.NoError(t, err)

			c := newTestCodec(t)
			data := testutil.Hex(t, v.Hex)
			rec := newRecord()
			err = c.Unmarshal(data, rec, binio.WithByteOrder(order))

			if v.Error != "" {
				var be *binerr.Error
				require.True(t, errors.As(err, &be), "want %s error, got %v", v.Error, err)
				assert.Equal(t, binerr.Kind(v.Error), be.Kind)
				return
			}
			require.NoError(t, err)

			js, err := json.Marshal(rec)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(js, &got))

			want := testutil.PascalKeys(v.Fields).(map[string]any)
			if diff := cmp.Diff(want, got, testutil.NumericComparer, testutil.OnlyKeys(want)); diff != "" {
				t.Errorf("decoded fields mismatch (-want +got):\n%s", diff)
			}

			again, err := c.Marshal(rec, binio.WithByteOrder(order))
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestTruncatedFieldIsOutOfData(t *testing.T) {
	type pair struct {
		A uint32
		B uint16
	}
	tests := []struct {
		name   string
		data   []byte
		field  string
		offset int64
	}{
		{"second field short", []byte{1, 2, 3, 4, 0xAA}, "B", 4},
		{"first field short", []byte{1, 2, 3}, "A", 0},
		{"second field missing", []byte{1, 2, 3, 4}, "B", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pair{A: 7, B: 9}
			err := newTestCodec(t).Unmarshal(tt.data, &got)
			require.Error(t, err)
			assert.True(t, errors.Is(err, binerr.ErrOutOfData))

			var be *binerr.Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.field, be.Field)
			assert.Equal(t, tt.offset, be.Offset)
			assert.Equal(t, pair{A: 7, B: 9}, got)
		})
	}
}

func TestTextFieldsFollowFieldOrder(t *testing.T) {
	type labelled struct {
		N     uint16 `bin:"order=be"`
		S     string `bin:"strz,enc=utf-16,order=be"`
		Fixed string `bin:"str,len=4,enc=utf-16,order=be"`
		Plain string `bin:"strz,enc=utf-16"`
	}
	c := newTestCodec(t)
	in := &labelled{N: 1, S: "A", Fixed: "B", Plain: "C"}

	out, err := c.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "0001 00410000 00420000 43000000"), out)

	var got labelled
	require.NoError(t, c.Unmarshal(out, &got))
	assert.Equal(t, *in, got)
}

type beInner struct {
	X uint16
	Y uint16 `bin:"order=le"`
}

func (beInner) ByteOrder() binio.ByteOrder { return binio.BigEndian }

type leOuter struct {
	A     uint16
	Inner beInner
	B     uint16
}

func (*leOuter) ByteOrder() binio.ByteOrder { return binio.LittleEndian }

func TestRecordByteOrder(t *testing.T) {
	tests := []struct {
		name  string
		order binio.ByteOrder
	}{
		{"little stream", binio.LittleEndian},
		{"big stream", binio.BigEndian},
	}
	want := testutil.Hex(t, "0100 0002 0300 0400")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec(t)
			in := &leOuter{A: 1, Inner: beInner{X: 2, Y: 3}, B: 4}

			out, err := c.Marshal(in, binio.WithByteOrder(tt.order))
			require.NoError(t, err)
			assert.Equal(t, want, out, "record orders do not depend on the stream")

			var got leOuter
			require.NoError(t, c.Unmarshal(out, &got, binio.WithByteOrder(tt.order)))
			assert.Equal(t, *in, got)
		})
	}

	tbl, err := newTestCodec(t).Table(&leOuter{})
	require.NoError(t, err)
	assert.Equal(t, binio.LittleEndian, tbl.Order)
	f, ok := tbl.Field("Inner")
	require.True(t, ok)
	assert.Equal(t, binio.BigEndian, f.Record.Order)
}

func TestFailedEncodeRollsBack(t *testing.T) {
	type guarded struct {
		Offset *uint32
		Level  uint8 `bin:"check=value <= 5"`
	}
	c := newTestCodec(t)
	w := binio.NewWriter()

	a := &entry{ID: 1}
	require.NoError(t, c.Encode(t.Context(), w, a))

	bad := &guarded{Level: 9}
	err := c.Encode(t.Context(), w, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, binerr.ErrEncode))
	assert.Equal(t, 5, w.Pos(), "the failed record leaves no bytes")
	assert.False(t, w.Reserved(bad, "Offset"))

	require.NoError(t, c.Fill(w, a, "Offset", 0x0A))
	out, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, testutil.Hex(t, "01 0a000000"), out)
}
