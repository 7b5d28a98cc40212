package record

import (
	"context"

	"github.com/twinfer/binrec/pkg/binio"
)

// New returns a new T with defaults applied using the default codec.
func New[T any]() (*T, error) {
	v := new(T)
	if err := Default().Init(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode reads one record into v using the default codec.
func Decode(r *binio.Reader, v any) error {
	return Default().Decode(context.Background(), r, v)
}

// DecodeWithContext reads one record into v using the default codec.
func DecodeWithContext(ctx context.Context, r *binio.Reader, v any) error {
	return Default().Decode(ctx, r, v)
}

// Encode writes the record v points to using the default codec.
func Encode(w *binio.Writer, v any) error {
	return Default().Encode(context.Background(), w, v)
}

// EncodeWithContext writes the record v points to using the default codec.
func EncodeWithContext(ctx context.Context, w *binio.Writer, v any) error {
	return Default().Encode(ctx, w, v)
}

// Fill patches a reservation made while encoding v.
func Fill(w *binio.Writer, v any, field string, value any) error {
	return Default().Fill(w, v, field, value)
}

// FillWithPosition patches a reservation of v with the writer's position.
func FillWithPosition(w *binio.Writer, v any, field string) (int, error) {
	return Default().FillWithPosition(w, v, field)
}

// Marshal encodes v into a new buffer. Records that leave reservations
// unfilled cannot be marshaled; encode them to a Writer instead.
func Marshal(v any, opts ...binio.Option) ([]byte, error) {
	return Default().Marshal(v, opts...)
}

// Unmarshal decodes one record from data into v. Trailing bytes are ignored.
func Unmarshal(data []byte, v any, opts ...binio.Option) error {
	return Default().Unmarshal(data, v, opts...)
}

// Size returns the encoded size of v's record type with 4-byte varints.
func Size(v any) (int, error) {
	return Default().Size(v, false)
}

// Marshal encodes v into a new buffer.
func (c *Codec) Marshal(v any, opts ...binio.Option) ([]byte, error) {
	w := binio.NewWriter(opts...)
	if err := c.Encode(context.Background(), w, v); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// Unmarshal decodes one record from data into v.
func (c *Codec) Unmarshal(data []byte, v any, opts ...binio.Option) error {
	return c.Decode(context.Background(), binio.NewBytesReader(data, opts...), v)
}
