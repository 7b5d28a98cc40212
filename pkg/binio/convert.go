package binio

import (
	"math"
	"reflect"

	"github.com/twinfer/binrec/pkg/binerr"
)

// Canonical converts v to the Go value a Reader returns for kind: bool, the
// sized integer or float type of the kind, int64 for VarInt and uint64 for
// VarUint. Values that do not fit fail with an encode overflow error.
func Canonical(kind Kind, v any) (any, error) {
	switch {
	case kind == Bool:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Bool {
			return nil, mismatch(kind, v)
		}
		return rv.Bool(), nil
	case kind.Signed():
		x, err := toSigned(v, kind.bits())
		if err != nil {
			return nil, err
		}
		switch kind {
		case Int8:
			return int8(x), nil
		case Int16:
			return int16(x), nil
		case Int32:
			return int32(x), nil
		}
		return x, nil
	case kind.Unsigned():
		x, err := toUnsigned(v, kind.bits())
		if err != nil {
			return nil, err
		}
		switch kind {
		case Uint8:
			return uint8(x), nil
		case Uint16:
			return uint16(x), nil
		case Uint32:
			return uint32(x), nil
		}
		return x, nil
	case kind == Float32:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, overflow(kind, v)
		}
		return float32(f), nil
	case kind == Float64:
		return toFloat(v)
	}
	return nil, mismatch(kind, v)
}

// bits is the value range of an integer kind. Varints get the long range
// here; the Writer narrows it when varints are 4 bytes.
func (k Kind) bits() int {
	switch k {
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32:
		return 32
	}
	return 64
}

func toSigned(v any, bits int) (int64, error) {
	rv := reflect.ValueOf(v)
	var x int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, overflowBits("signed", bits, v)
		}
		x = int64(u)
	default:
		return 0, mismatchName("signed integer", v)
	}
	if bits < 64 {
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if x < lo || x > hi {
			return 0, overflowBits("signed", bits, v)
		}
	}
	return x, nil
}

func toUnsigned(v any, bits int) (uint64, error) {
	rv := reflect.ValueOf(v)
	var x uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return 0, overflowBits("unsigned", bits, v)
		}
		x = uint64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x = rv.Uint()
	default:
		return 0, mismatchName("unsigned integer", v)
	}
	if bits < 64 && x > uint64(1)<<bits-1 {
		return 0, overflowBits("unsigned", bits, v)
	}
	return x, nil
}

func toFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, mismatchName("float", v)
}

// Fits reports whether an unsigned value fits in the given number of bits.
func Fits(v uint64, bits int) bool {
	return bits >= 64 || v <= uint64(1)<<bits-1
}

// ToUnsigned converts an integer value of any Go type to uint64, failing
// on negative values and values wider than bits.
func ToUnsigned(v any, bits int) (uint64, error) {
	return toUnsigned(v, bits)
}

func mismatch(kind Kind, v any) *binerr.Error {
	return mismatchName(kind.String(), v)
}

func mismatchName(want string, v any) *binerr.Error {
	return binerr.New(binerr.ClassEncode, binerr.KindTypeMismatch).
		Value(v).
		Detail("cannot encode %T as %s", v, want).
		Build()
}

func overflow(kind Kind, v any) *binerr.Error {
	return binerr.New(binerr.ClassEncode, binerr.KindOverflow).
		Value(v).
		Detail("%v does not fit in %s", v, kind).
		Build()
}

func overflowBits(sign string, bits int, v any) *binerr.Error {
	return binerr.New(binerr.ClassEncode, binerr.KindOverflow).
		Value(v).
		Detail("%v does not fit in %d-bit %s integer", v, bits, sign).
		Build()
}
