package layout

// Transform maps between a wire value and a custom Go field type.
//
// Format names the wire encoding: a scalar kind ("u32", "f64", ...), "bytes",
// "str" or "strz". With Count > 0 the wire value is an array of Count
// elements of Format. Decode receives the value a Reader produces for that
// encoding ([]byte for bytes, string for str, []uint16 for a u16 array) and
// returns the field value; Encode is its inverse.
type Transform struct {
	Format   string
	Length   int
	Count    int
	Encoding string
	Decode   func(raw any) (any, error)
	Encode   func(v any) (any, error)
}

// Factory produces the Transform for a registered custom type. It is called
// once, when the first record using the type is compiled.
type Factory func() Transform
