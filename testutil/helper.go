// Package testutil holds comparers and fixtures shared by the package tests.
package testutil

import (
	"encoding/hex"
	"math"
	"reflect"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ToPascalCase turns a snake_case or kebab-case fixture key into a Go field
// name.
func ToPascalCase(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' }) {
		r, size := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(word[size:])
	}
	return b.String()
}

// PascalKeys renames every key of m, recursively, with ToPascalCase.
func PascalKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[ToPascalCase(k)] = PascalKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = PascalKeys(val)
		}
		return out
	}
	return v
}

// NumericComparer compares numbers by value regardless of Go type, so YAML
// and JSON decoded fixtures compare equal to typed record values.
var NumericComparer = cmp.FilterValues(func(x, y any) bool {
	_, xok := number(x)
	_, yok := number(y)
	return xok && yok
}, cmp.Comparer(func(x, y any) bool {
	xf, _ := number(x)
	yf, _ := number(y)
	return xf == yf || math.Abs(xf-yf) < 1e-6
}))

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

// OnlyKeys ignores map entries whose key is absent from want, so a fixture
// can list a subset of the decoded fields.
func OnlyKeys(want map[string]any) cmp.Option {
	return cmpopts.IgnoreMapEntries(func(k string, _ any) bool {
		_, ok := want[k]
		return !ok
	})
}

// Hex decodes a hex fixture, ignoring spaces.
func Hex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex fixture %q: %v", s, err)
	}
	return b
}
