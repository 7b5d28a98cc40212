// Package record decodes and encodes Go structs as fixed-layout binary
// records.
//
// A record is a struct whose fields are laid out on the wire in declaration
// order, as compiled by package layout:
//
//	type Header struct {
//		Magic   [4]byte `bin:"asserted=KBIN"`
//		Version uint16  `bin:"order=be"`
//		Flags   bool    `bin:"bits=1"`
//		_       uint8   `bin:"pad,bits=7"`
//		Offset  *uint32 // nil reserves the field, fill it later
//	}
//
// Decode reads a record from a binio.Reader and Encode writes one to a
// binio.Writer. Reservable fields left nil during Encode are reserved on the
// writer under the record pointer and must be filled with Fill or
// FillWithPosition before the writer's bytes can be taken.
//
// Fields use the stream's byte order unless the record type implements
// layout.OrderedRecord or the field carries an order override.
package record

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"github.com/twinfer/binrec/pkg/binerr"
	"github.com/twinfer/binrec/pkg/binio"
	"github.com/twinfer/binrec/pkg/layout"
)

// ErrVariableSize is returned by Size for records containing fields whose
// size depends on the data.
var ErrVariableSize = errors.New("record size depends on its data")

// Codec drives record decoding and encoding against a layout registry. A
// Codec is safe for concurrent use; the Readers and Writers it is given are
// not.
type Codec struct {
	registry *layout.Registry
	logger   *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithRegistry sets the registry record types are compiled with.
func WithRegistry(r *layout.Registry) Option {
	return func(c *Codec) {
		c.registry = r
	}
}

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// NewCodec creates a codec. Without options it uses layout.Default().
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = layout.Default()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

var (
	defaultCodec     *Codec
	defaultCodecOnce sync.Once
)

// Default returns the codec used by the package-level functions.
func Default() *Codec {
	defaultCodecOnce.Do(func() {
		defaultCodec = NewCodec()
	})
	return defaultCodec
}

// Registry returns the codec's layout registry.
func (c *Codec) Registry() *layout.Registry { return c.registry }

// Table returns the compiled table of v's record type.
func (c *Codec) Table(v any) (*layout.Table, error) {
	return c.registry.TableOf(v)
}

// Size returns the encoded size of v's record type.
func (c *Codec) Size(v any, longVarints bool) (int, error) {
	tbl, err := c.registry.TableOf(v)
	if err != nil {
		return 0, err
	}
	size, fixed := tbl.Size(longVarints)
	if !fixed {
		return 0, ErrVariableSize
	}
	return size, nil
}

// Decode reads one record into v, which must be a non-nil pointer to a
// struct. v is only assigned when the whole record decodes.
func (c *Codec) Decode(ctx context.Context, r *binio.Reader, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return binerr.New(binerr.ClassDecode, binerr.KindInvalidValue).
			Value(v).
			Detail("decode target must be a non-nil pointer to a struct, got %T", v).
			Build()
	}
	tbl, err := c.registry.Table(rv.Type())
	if err != nil {
		return err
	}

	fresh := reflect.New(tbl.Type)
	d := &decoder{codec: c, r: r}
	if err := d.record(ctx, tbl, fresh.Elem(), binio.DefaultOrder); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// Encode writes v, a non-nil pointer to a struct, to w. Nil reservable
// fields are reserved under the pointer of the record that holds them. On
// failure w is rolled back to where the record started, dropping its bytes
// and any reservations it made.
func (c *Codec) Encode(ctx context.Context, w *binio.Writer, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return binerr.New(binerr.ClassEncode, binerr.KindInvalidOwner).
			Value(v).
			Detail("encode source must be a non-nil pointer to a struct, got %T", v).
			Build()
	}
	tbl, err := c.registry.Table(rv.Type())
	if err != nil {
		return err
	}
	mark := w.Mark()
	e := &encoder{codec: c, w: w}
	if err := e.record(ctx, tbl, rv, binio.DefaultOrder); err != nil {
		if rerr := w.Rollback(mark); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// Fill patches the reservation made for field of v, the same pointer the
// record was encoded from. The value passes the field's check and is encoded
// with the field's format.
func (c *Codec) Fill(w *binio.Writer, v any, field string, value any) error {
	tbl, f, err := c.reservable(v, field)
	if err != nil {
		return err
	}
	wire, err := prepare(f, value)
	if err != nil {
		return binerr.Locate(err, tbl.Name, f.Name)
	}
	if err := w.Fill(v, f.Name, wire); err != nil {
		return binerr.Locate(err, tbl.Name, f.Name)
	}
	return nil
}

// FillWithPosition fills field of v with the writer's current position and
// returns it.
func (c *Codec) FillWithPosition(w *binio.Writer, v any, field string) (int, error) {
	tbl, f, err := c.reservable(v, field)
	if err != nil {
		return 0, err
	}
	pos, err := w.FillWithPosition(v, f.Name)
	if err != nil {
		return 0, binerr.Locate(err, tbl.Name, f.Name)
	}
	return pos, nil
}

func (c *Codec) reservable(v any, field string) (*layout.Table, *layout.Field, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, nil, binerr.New(binerr.ClassReservation, binerr.KindInvalidOwner).
			Value(v).
			Detail("reservations are owned by record pointers, got %T", v).
			Build()
	}
	tbl, err := c.registry.Table(rv.Type())
	if err != nil {
		return nil, nil, err
	}
	f, ok := tbl.Field(field)
	if !ok {
		return nil, nil, binerr.New(binerr.ClassReservation, binerr.KindUnknownField).
			Record(tbl.Name).
			Field(field).
			Detail("record has no such field").
			Build()
	}
	if !f.Reservable {
		return nil, nil, binerr.New(binerr.ClassReservation, binerr.KindUnknownReservation).
			Record(tbl.Name).
			Field(f.Name).
			Detail("field is not reservable").
			Build()
	}
	return tbl, f, nil
}

// Init applies field defaults to the record v points to. Fields with a
// default factory get a fresh value, single-asserted fields get their
// asserted value and nested records are initialized recursively.
func (c *Codec) Init(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
			Value(v).
			Detail("init target must be a non-nil pointer, got %T", v).
			Build()
	}
	tbl, err := c.registry.Table(rv.Type())
	if err != nil {
		return err
	}
	return initRecord(tbl, rv.Elem())
}
