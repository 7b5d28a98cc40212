package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// ValueVar is the variable a field check expression sees the field value as.
const ValueVar = "value"

// NewEnvironment creates the CEL environment used by field checks. Checks see
// the field value as `value` and the field name as `field`.
func NewEnvironment() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable(ValueVar, cel.DynType),
		cel.Variable("field", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
		ByteFunctions(),
		NumericFunctions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// ByteFunctions adds helpers for inspecting byte fields.
func ByteFunctions() cel.EnvOption {
	return cel.Lib(&byteLib{})
}

type byteLib struct{}

func (*byteLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		// allZero(bytes) reports whether every byte is 0x00
		cel.Function("allZero",
			cel.Overload("allzero_bytes", []*cel.Type{cel.BytesType}, cel.BoolType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					data, ok := val.(types.Bytes)
					if !ok {
						return types.NewErr("expected bytes for allZero")
					}
					for _, b := range data {
						if b != 0 {
							return types.False
						}
					}
					return types.True
				}),
			),
		),
		// startsWithBytes(bytes, bytes)
		cel.Function("startsWithBytes",
			cel.Overload("startswithbytes_bytes_bytes", []*cel.Type{cel.BytesType, cel.BytesType}, cel.BoolType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					data, ok1 := lhs.(types.Bytes)
					prefix, ok2 := rhs.(types.Bytes)
					if !ok1 || !ok2 {
						return types.NewErr("invalid arguments to startsWithBytes")
					}
					if len(prefix) > len(data) {
						return types.False
					}
					for i := range prefix {
						if data[i] != prefix[i] {
							return types.False
						}
					}
					return types.True
				}),
			),
		),
	}
}

func (*byteLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
