package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twinfer/binrec/pkg/binio"
)

// TagName is the struct tag key read by the compiler.
const TagName = "bin"

// Overrides is the per-field configuration a tag or Declaration supplies.
// Zero values mean "not set".
type Overrides struct {
	// Format is an explicit wire format: a scalar kind name, "bytes", "str",
	// "strz" or "pad".
	Format   string
	Length   int
	Bits     int
	Encoding string
	Order    binio.ByteOrder
	Fill     byte
	Padding  bool
	// Type names a registered custom type.
	Type string
	// Process is a byte transform spec such as "xor(0x5F)" or "rol(3)".
	Process string
	// Check is a CEL expression over `value` that must hold.
	Check string

	// Asserted holds the permitted values. A non-nil empty slice is an error.
	Asserted []any
	// Default is the construction-time value. DefaultFactory, when set, is
	// called once per new instance instead.
	Default        any
	DefaultFactory func() any

	// Decode and Encode form a per-field transform between the wire value
	// described by Format and the Go field value.
	Decode func(raw any) (any, error)
	Encode func(v any) (any, error)

	// literal marks Asserted and Default entries that are unparsed tag text.
	literal bool
	skip    bool
	name    string
}

// Declaration describes one field for Registry.Declare.
type Declaration struct {
	// Name is the field name used in errors and by Fill. It defaults to Field.
	Name string
	// Field is the Go struct field name. It is empty for padding.
	Field string
	Overrides
}

// ParseTag parses a `bin` struct tag value. The first element may be a
// format name; the rest are key=value options. check= consumes the rest of
// the tag, so it must come last.
func ParseTag(tag string) (Overrides, error) {
	var ov Overrides
	if tag == "-" {
		ov.skip = true
		return ov, nil
	}

	parts := splitTag(tag)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if !hasValue {
			if i != 0 {
				return ov, fmt.Errorf("option %q has no value", part)
			}
			ov.Format = strings.ToLower(key)
			if ov.Format == "pad" {
				ov.Padding = true
			}
			continue
		}

		var err error
		switch key {
		case "name":
			ov.name = value
		case "len":
			ov.Length, err = parseCount(value)
		case "bits":
			ov.Bits, err = parseCount(value)
		case "order":
			ov.Order, err = binio.ParseByteOrder(value)
		case "enc":
			ov.Encoding = value
		case "fill":
			var n uint64
			n, err = strconv.ParseUint(value, 0, 8)
			ov.Fill = byte(n)
		case "asserted":
			ov.literal = true
			ov.Asserted = []any{}
			if value != "" {
				for _, v := range strings.Split(value, "|") {
					ov.Asserted = append(ov.Asserted, v)
				}
			}
		case "default":
			ov.literal = true
			ov.Default = value
		case "process":
			ov.Process = value
		case "type":
			ov.Type = value
		case "check":
			ov.Check = value
		default:
			err = fmt.Errorf("unknown option")
		}
		if err != nil {
			return ov, fmt.Errorf("option %q: %w", key, err)
		}
	}
	return ov, nil
}

// splitTag splits on commas outside brackets. Everything after "check=" is a
// single part.
func splitTag(tag string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(tag); i++ {
		if i == start {
			rest := strings.TrimLeft(tag[i:], " ")
			if strings.HasPrefix(rest, "check=") {
				return append(parts, tag[i:])
			}
		}
		switch tag[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, tag[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, tag[start:])
}

func parseCount(s string) (int, error) {
	n, err := strconv.ParseUint(s, 0, 31)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
