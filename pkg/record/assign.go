package record

import (
	"fmt"
	"reflect"

	"github.com/twinfer/binrec/pkg/layout"
)

// assign stores v into target, converting between numeric kinds and between
// slices and arrays. Conversions that would change the value fail.
func assign(target reflect.Value, v any) error {
	if v == nil {
		target.SetZero()
		return nil
	}
	src := reflect.ValueOf(v)

	if target.Kind() == reflect.Pointer && src.Type() != target.Type() {
		elem := reflect.New(target.Type().Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	}
	if src.Type().AssignableTo(target.Type()) {
		target.Set(src)
		return nil
	}

	switch target.Kind() {
	case reflect.Bool:
		if src.Kind() == reflect.Bool {
			target.SetBool(src.Bool())
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch {
		case isInt(src.Kind()):
			if !target.OverflowInt(src.Int()) {
				target.SetInt(src.Int())
				return nil
			}
		case isUint(src.Kind()):
			u := src.Uint()
			if int64(u) >= 0 && !target.OverflowInt(int64(u)) {
				target.SetInt(int64(u))
				return nil
			}
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		switch {
		case isUint(src.Kind()):
			if !target.OverflowUint(src.Uint()) {
				target.SetUint(src.Uint())
				return nil
			}
		case isInt(src.Kind()):
			i := src.Int()
			if i >= 0 && !target.OverflowUint(uint64(i)) {
				target.SetUint(uint64(i))
				return nil
			}
		}
	case reflect.Float32, reflect.Float64:
		switch {
		case src.Kind() == reflect.Float32 || src.Kind() == reflect.Float64:
			target.SetFloat(src.Float())
			return nil
		case isInt(src.Kind()):
			target.SetFloat(float64(src.Int()))
			return nil
		case isUint(src.Kind()):
			target.SetFloat(float64(src.Uint()))
			return nil
		}
	case reflect.String:
		if src.Kind() == reflect.String {
			target.SetString(src.String())
			return nil
		}
	case reflect.Array, reflect.Slice:
		if src.Kind() != reflect.Array && src.Kind() != reflect.Slice {
			break
		}
		n := src.Len()
		if target.Kind() == reflect.Array {
			if n != target.Len() {
				return fmt.Errorf("cannot assign %d elements to %s", n, target.Type())
			}
		} else {
			target.Set(reflect.MakeSlice(target.Type(), n, n))
		}
		for i := 0; i < n; i++ {
			if err := assign(target.Index(i), src.Index(i).Interface()); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	}

	if src.Type().ConvertibleTo(target.Type()) && src.Kind() == target.Kind() {
		target.Set(src.Convert(target.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T(%v) to %s", v, v, target.Type())
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

// fieldOf returns the struct field backing f.
func fieldOf(rec reflect.Value, f *layout.Field) reflect.Value {
	return rec.Field(f.Index)
}

// initRecord applies defaults and single asserted values. Nested records are
// allocated and initialized as well.
func initRecord(tbl *layout.Table, rec reflect.Value) error {
	for _, f := range tbl.Fields {
		if f.Index < 0 {
			continue
		}
		if err := initField(f, fieldOf(rec, f)); err != nil {
			return fmt.Errorf("%s.%s: %w", tbl.Name, f.Name, err)
		}
	}
	return nil
}

func initField(f *layout.Field, target reflect.Value) error {
	switch {
	case f.Default != nil:
		return assign(target, f.Default())
	case len(f.Asserted) == 1:
		return assign(target, f.Asserted[0])
	case f.Kind == layout.Record:
		if f.Pointer {
			if target.IsNil() {
				target.Set(reflect.New(f.Record.Type))
			}
			return initRecord(f.Record, target.Elem())
		}
		return initRecord(f.Record, target)
	case f.Kind == layout.Array && f.Elem.Kind == layout.Record && target.Kind() == reflect.Array:
		for i := 0; i < target.Len(); i++ {
			if err := initField(f.Elem, target.Index(i)); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}
	return nil
}
