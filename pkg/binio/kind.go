package binio

import "strings"

// Kind is a primitive scalar encoding.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	// VarInt and VarUint are 4 bytes wide, or 8 with WithLongVarints.
	VarInt
	VarUint
)

var kindNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "s8",
	Uint8:   "u8",
	Int16:   "s16",
	Uint16:  "u16",
	Int32:   "s32",
	Uint32:  "u32",
	Int64:   "s64",
	Uint64:  "u64",
	Float32: "f32",
	Float64: "f64",
	VarInt:  "varint",
	VarUint: "varuint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Size returns the encoded width in bytes.
func (k Kind) Size(longVarints bool) int {
	switch k {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	case VarInt, VarUint:
		if longVarints {
			return 8
		}
		return 4
	}
	return 0
}

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool {
	switch k {
	case Int8, Int16, Int32, Int64, VarInt:
		return true
	}
	return false
}

// Unsigned reports whether k is an unsigned integer kind.
func (k Kind) Unsigned() bool {
	switch k {
	case Uint8, Uint16, Uint32, Uint64, VarUint:
		return true
	}
	return false
}

// Float reports whether k is an IEEE 754 kind.
func (k Kind) Float() bool {
	return k == Float32 || k == Float64
}

// Variable reports whether the width of k depends on the varint setting.
func (k Kind) Variable() bool {
	return k == VarInt || k == VarUint
}

var kindAliases = map[string]Kind{
	"bool":    Bool,
	"?":       Bool,
	"s8":      Int8,
	"i8":      Int8,
	"int8":    Int8,
	"sbyte":   Int8,
	"u8":      Uint8,
	"uint8":   Uint8,
	"byte":    Uint8,
	"s16":     Int16,
	"i16":     Int16,
	"int16":   Int16,
	"short":   Int16,
	"u16":     Uint16,
	"uint16":  Uint16,
	"ushort":  Uint16,
	"s32":     Int32,
	"i32":     Int32,
	"int32":   Int32,
	"u32":     Uint32,
	"uint32":  Uint32,
	"s64":     Int64,
	"i64":     Int64,
	"int64":   Int64,
	"long":    Int64,
	"u64":     Uint64,
	"uint64":  Uint64,
	"ulong":   Uint64,
	"f32":     Float32,
	"float32": Float32,
	"float":   Float32,
	"single":  Float32,
	"f64":     Float64,
	"float64": Float64,
	"double":  Float64,
	"varint":  VarInt,
	"varuint": VarUint,
}

// ParseKind resolves a scalar format name. Native "int" and "uint" are
// deliberately absent: their width is ambiguous.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(name)]
	return k, ok
}
