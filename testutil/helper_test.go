package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestToPascalCase(t *testing.T) {
	tests := map[string]string{
		"channel":      "Channel",
		"table_offset": "TableOffset",
		"max-size":     "MaxSize",
		"__x":          "X",
		"":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToPascalCase(in), in)
	}
}

func TestComparers(t *testing.T) {
	want := map[string]any{"Channel": 258, "Ratio": 0.5}
	got := map[string]any{"Channel": float64(258), "Ratio": float32(0.5), "Extra": "ignored"}
	assert.True(t, cmp.Equal(want, got, NumericComparer, OnlyKeys(want)))

	got["Channel"] = uint16(259)
	assert.False(t, cmp.Equal(want, got, NumericComparer, OnlyKeys(want)))
}
