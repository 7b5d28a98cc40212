package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

// Process is a length-preserving byte transform applied to a bytes or fixed
// string field. Decode runs after reading, Encode before writing.
type Process struct {
	Spec   string
	Decode func([]byte) []byte
	Encode func([]byte) []byte
}

// ProcessFunc builds a Process from the integer arguments of a spec.
type ProcessFunc func(args []int64) (*Process, error)

var builtinProcesses = map[string]ProcessFunc{
	"xor": processXOR,
	"rol": processRotate(false),
	"ror": processRotate(true),
}

// parseProcessSpec splits "xor(0x5F)" or "xor([0x5F, 0x10])" into a name and
// its integer arguments.
func parseProcessSpec(spec string) (string, []int64, error) {
	open := strings.Index(spec, "(")
	closing := strings.LastIndex(spec, ")")
	if open == -1 || closing == -1 || closing < open || closing != len(spec)-1 {
		return "", nil, fmt.Errorf("invalid process format: %s", spec)
	}

	name := strings.ToLower(strings.TrimSpace(spec[:open]))
	params := strings.TrimSpace(spec[open+1 : closing])
	if strings.HasPrefix(params, "[") && strings.HasSuffix(params, "]") {
		params = params[1 : len(params)-1]
	}

	var args []int64
	if params == "" {
		return name, args, nil
	}
	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 0, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid process parameter %q", p)
		}
		args = append(args, v)
	}
	return name, args, nil
}

func processXOR(args []int64) (*Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("xor process requires at least one parameter")
	}
	key := make([]byte, len(args))
	for i, v := range args {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("xor key byte %d out of range", v)
		}
		key[i] = byte(v)
	}
	xor := func(data []byte) []byte { return kaitai.ProcessXOR(data, key) }
	return &Process{Decode: xor, Encode: xor}, nil
}

// processRotate rotates each byte by n bits. Decoding undoes the rotation the
// writer applied, so rol(n) decodes with a left rotation and encodes with a
// right one.
func processRotate(right bool) ProcessFunc {
	return func(args []int64) (*Process, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("rotate process requires exactly one parameter")
		}
		amount := int(args[0] % 8)
		if amount < 0 {
			amount += 8
		}
		left := func(data []byte) []byte { return kaitai.ProcessRotateLeft(data, amount) }
		rightFn := func(data []byte) []byte { return kaitai.ProcessRotateRight(data, amount) }
		if right {
			return &Process{Decode: rightFn, Encode: left}, nil
		}
		return &Process{Decode: left, Encode: rightFn}, nil
	}
}
