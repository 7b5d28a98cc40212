package layout

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/twinfer/binrec/pkg/binio"
)

// wireValue converts an asserted or default value to the form the codec
// compares against: the canonical scalar type, []byte or string. Tag
// literals arrive as strings and are parsed first.
func wireValue(f *Field, v any, literal bool) (any, error) {
	if f.Transform != nil {
		if literal {
			return nil, fmt.Errorf("literal values are not supported on transformed fields")
		}
		return v, nil
	}

	switch f.Kind {
	case Scalar:
		if literal {
			parsed, err := parseScalar(f.Scalar, v.(string))
			if err != nil {
				return nil, err
			}
			v = parsed
		}
		out, err := binio.Canonical(f.Scalar, v)
		if err != nil {
			return nil, err
		}
		if f.Bits > 0 && f.Scalar != binio.Bool {
			u, err := binio.ToUnsigned(out, 64)
			if err != nil || !binio.Fits(u, f.Bits) {
				return nil, fmt.Errorf("%v does not fit in %d bits", v, f.Bits)
			}
		}
		return out, nil

	case Bytes:
		var b []byte
		if literal {
			var err error
			if b, err = parseBytes(v.(string)); err != nil {
				return nil, err
			}
		} else {
			var ok bool
			if b, ok = AsBytes(v); !ok {
				return nil, fmt.Errorf("cannot use %T as bytes", v)
			}
		}
		if len(b) > f.Length {
			return nil, fmt.Errorf("%d bytes do not fit in length %d", len(b), f.Length)
		}
		out := make([]byte, f.Length)
		copy(out, b)
		return out, nil

	case String, StringZ:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.String {
			return nil, fmt.Errorf("cannot use %T as a string", v)
		}
		return rv.String(), nil
	}
	return nil, fmt.Errorf("values cannot be declared for %s fields", f.Kind)
}

// Wire converts a Go field value to the form asserted values are stored in.
func (f *Field) Wire(v any) (any, error) {
	return wireValue(f, v, false)
}

func parseScalar(kind binio.Kind, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch {
	case kind == binio.Bool:
		return strconv.ParseBool(s)
	case kind.Signed():
		return strconv.ParseInt(s, 0, 64)
	case kind.Unsigned():
		return strconv.ParseUint(s, 0, 64)
	case kind.Float():
		return strconv.ParseFloat(s, 64)
	}
	return nil, fmt.Errorf("cannot parse %q as %s", s, kind)
}

// parseBytes accepts a 0x-prefixed hex string or raw text.
func parseBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex literal %q", s)
		}
		return b, nil
	}
	return []byte(s), nil
}

// AsBytes copies a byte slice, byte array or string into a []byte.
func AsBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return bytes.Clone(b), true
	case string:
		return []byte(b), true
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		for i := range out {
			out[i] = byte(rv.Index(i).Uint())
		}
		return out, true
	}
	return nil, false
}

// EqualValue compares two wire values.
func EqualValue(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(a, b)
}

// defaultFunc turns a declared default into a factory that yields a fresh
// value per call.
func defaultFunc(f *Field, ov Overrides) (func() any, error) {
	if ov.DefaultFactory != nil {
		return ov.DefaultFactory, nil
	}
	if ov.Default == nil {
		return nil, nil
	}
	v, err := wireValue(f, ov.Default, ov.literal)
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return func() any { return bytes.Clone(b) }, nil
	}
	return func() any { return v }, nil
}
