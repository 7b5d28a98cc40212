package cel

import (
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// NumericFunctions adds bit tests and basic math for flag and measurement
// fields: bitAnd, bitOr, bitXor, bitSet(value, n), abs, floor and ceil.
func NumericFunctions() cel.EnvOption {
	return cel.Lib(&numericLib{})
}

type numericLib struct{}

// bits widens an integer operand. Negative ints keep their two's complement
// pattern.
func bits(v ref.Val) (uint64, bool) {
	switch n := v.(type) {
	case types.Int:
		return uint64(n), true
	case types.Uint:
		return uint64(n), true
	}
	return 0, false
}

func bitwise(name string, op func(a, b uint64) uint64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				l, lok := bits(lhs)
				r, rok := bits(rhs)
				if !lok || !rok {
					return types.NewErr("%s needs integer arguments, got %s and %s", name, lhs.Type(), rhs.Type())
				}
				out := op(l, r)
				if out > math.MaxInt64 {
					return types.Uint(out)
				}
				return types.Int(out)
			}),
		),
	)
}

func (*numericLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		bitwise("bitAnd", func(a, b uint64) uint64 { return a & b }),
		bitwise("bitOr", func(a, b uint64) uint64 { return a | b }),
		bitwise("bitXor", func(a, b uint64) uint64 { return a ^ b }),

		cel.Function("bitSet",
			cel.Overload("bitset_dyn_int", []*cel.Type{cel.DynType, cel.IntType}, cel.BoolType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					v, ok := bits(lhs)
					n, nok := rhs.(types.Int)
					if !ok || !nok {
						return types.NewErr("bitSet needs an integer value, got %s", lhs.Type())
					}
					if n < 0 || n > 63 {
						return types.NewErr("bit index %d out of range", n)
					}
					return types.Bool(v&(1<<uint(n)) != 0)
				}),
			),
		),

		cel.Function("abs",
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					x := val.(types.Int)
					if x == math.MinInt64 {
						return types.NewErr("abs overflows for %d", x)
					}
					if x < 0 {
						return -x
					}
					return x
				}),
			),
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					return types.Double(math.Abs(float64(val.(types.Double))))
				}),
			),
		),

		cel.Function("floor",
			cel.Overload("floor_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					return types.Double(math.Floor(float64(val.(types.Double))))
				}),
			),
		),
		cel.Function("ceil",
			cel.Overload("ceil_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					return types.Double(math.Ceil(float64(val.(types.Double))))
				}),
			),
		),
	}
}

func (*numericLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
