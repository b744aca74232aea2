package interpreter

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/wasmedge-go/wasmedge/internal/moremath"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

func compareI32(kind wasm.Opcode, x1, x2 uint32) bool {
	switch kind {
	case wasm.OpcodeI32Eq:
		return x1 == x2
	case wasm.OpcodeI32Ne:
		return x1 != x2
	case wasm.OpcodeI32LtS:
		return int32(x1) < int32(x2)
	case wasm.OpcodeI32LtU:
		return x1 < x2
	case wasm.OpcodeI32GtS:
		return int32(x1) > int32(x2)
	case wasm.OpcodeI32GtU:
		return x1 > x2
	case wasm.OpcodeI32LeS:
		return int32(x1) <= int32(x2)
	case wasm.OpcodeI32LeU:
		return x1 <= x2
	case wasm.OpcodeI32GeS:
		return int32(x1) >= int32(x2)
	default: // wasm.OpcodeI32GeU
		return x1 >= x2
	}
}

func compareI64(kind wasm.Opcode, x1, x2 uint64) bool {
	switch kind {
	case wasm.OpcodeI64Eq:
		return x1 == x2
	case wasm.OpcodeI64Ne:
		return x1 != x2
	case wasm.OpcodeI64LtS:
		return int64(x1) < int64(x2)
	case wasm.OpcodeI64LtU:
		return x1 < x2
	case wasm.OpcodeI64GtS:
		return int64(x1) > int64(x2)
	case wasm.OpcodeI64GtU:
		return x1 > x2
	case wasm.OpcodeI64LeS:
		return int64(x1) <= int64(x2)
	case wasm.OpcodeI64LeU:
		return x1 <= x2
	case wasm.OpcodeI64GeS:
		return int64(x1) >= int64(x2)
	default: // wasm.OpcodeI64GeU
		return x1 >= x2
	}
}

// compareFloat takes the comparison as its distance from eq, which is the same for f32 and f64. Comparisons with NaN
// are false except ne.
func compareFloat(cmp wasm.Opcode, x1, x2 float64) bool {
	switch cmp {
	case 0:
		return x1 == x2
	case 1:
		return x1 != x2
	case 2:
		return x1 < x2
	case 3:
		return x1 > x2
	case 4:
		return x1 <= x2
	default:
		return x1 >= x2
	}
}

func binaryI32(kind wasm.Opcode, x1, x2 uint32) uint32 {
	switch kind {
	case wasm.OpcodeI32Add:
		return x1 + x2
	case wasm.OpcodeI32Sub:
		return x1 - x2
	case wasm.OpcodeI32Mul:
		return x1 * x2
	case wasm.OpcodeI32DivS:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		if int32(x1) == math.MinInt32 && int32(x2) == -1 {
			panic(wasm.ErrTrapIntegerOverflow)
		}
		return uint32(int32(x1) / int32(x2))
	case wasm.OpcodeI32DivU:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		return x1 / x2
	case wasm.OpcodeI32RemS:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		// MinInt32 % -1 is zero in Go, as in WebAssembly.
		return uint32(int32(x1) % int32(x2))
	case wasm.OpcodeI32RemU:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		return x1 % x2
	case wasm.OpcodeI32And:
		return x1 & x2
	case wasm.OpcodeI32Or:
		return x1 | x2
	case wasm.OpcodeI32Xor:
		return x1 ^ x2
	case wasm.OpcodeI32Shl:
		return x1 << (x2 % 32)
	case wasm.OpcodeI32ShrS:
		return uint32(int32(x1) >> (x2 % 32))
	case wasm.OpcodeI32ShrU:
		return x1 >> (x2 % 32)
	case wasm.OpcodeI32Rotl:
		return bits.RotateLeft32(x1, int(x2%32))
	case wasm.OpcodeI32Rotr:
		return bits.RotateLeft32(x1, -int(x2%32))
	}
	panic(fmt.Errorf("BUG: %s is not a binary i32 instruction", wasm.InstructionName(kind)))
}

func binaryI64(kind wasm.Opcode, x1, x2 uint64) uint64 {
	switch kind {
	case wasm.OpcodeI64Add:
		return x1 + x2
	case wasm.OpcodeI64Sub:
		return x1 - x2
	case wasm.OpcodeI64Mul:
		return x1 * x2
	case wasm.OpcodeI64DivS:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		if int64(x1) == math.MinInt64 && int64(x2) == -1 {
			panic(wasm.ErrTrapIntegerOverflow)
		}
		return uint64(int64(x1) / int64(x2))
	case wasm.OpcodeI64DivU:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		return x1 / x2
	case wasm.OpcodeI64RemS:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		return uint64(int64(x1) % int64(x2))
	case wasm.OpcodeI64RemU:
		if x2 == 0 {
			panic(wasm.ErrTrapIntegerDivideByZero)
		}
		return x1 % x2
	case wasm.OpcodeI64And:
		return x1 & x2
	case wasm.OpcodeI64Or:
		return x1 | x2
	case wasm.OpcodeI64Xor:
		return x1 ^ x2
	case wasm.OpcodeI64Shl:
		return x1 << (x2 % 64)
	case wasm.OpcodeI64ShrS:
		return uint64(int64(x1) >> (x2 % 64))
	case wasm.OpcodeI64ShrU:
		return x1 >> (x2 % 64)
	case wasm.OpcodeI64Rotl:
		return bits.RotateLeft64(x1, int(x2%64))
	case wasm.OpcodeI64Rotr:
		return bits.RotateLeft64(x1, -int(x2%64))
	}
	panic(fmt.Errorf("BUG: %s is not a binary i64 instruction", wasm.InstructionName(kind)))
}

func binaryF32(kind wasm.Opcode, x1, x2 float32) float32 {
	switch kind {
	case wasm.OpcodeF32Add:
		return x1 + x2
	case wasm.OpcodeF32Sub:
		return x1 - x2
	case wasm.OpcodeF32Mul:
		return x1 * x2
	case wasm.OpcodeF32Div:
		return x1 / x2
	case wasm.OpcodeF32Min:
		return moremath.WasmCompatMinF32(x1, x2)
	case wasm.OpcodeF32Max:
		return moremath.WasmCompatMaxF32(x1, x2)
	}
	panic(fmt.Errorf("BUG: %s is not a binary f32 instruction", wasm.InstructionName(kind)))
}

func binaryF64(kind wasm.Opcode, x1, x2 float64) float64 {
	switch kind {
	case wasm.OpcodeF64Add:
		return x1 + x2
	case wasm.OpcodeF64Sub:
		return x1 - x2
	case wasm.OpcodeF64Mul:
		return x1 * x2
	case wasm.OpcodeF64Div:
		return x1 / x2
	case wasm.OpcodeF64Min:
		return moremath.WasmCompatMin(x1, x2)
	case wasm.OpcodeF64Max:
		return moremath.WasmCompatMax(x1, x2)
	}
	panic(fmt.Errorf("BUG: %s is not a binary f64 instruction", wasm.InstructionName(kind)))
}

// The truncations below trap on NaN and out of range inputs, unless saturating, in which case NaN is zero and out of
// range inputs clamp to the nearest bound. f32 inputs are widened first, which is exact.

func truncNaN(saturating bool) uint64 {
	if saturating {
		return 0
	}
	panic(wasm.ErrTrapInvalidConversionToInteger)
}

func truncOverflow(saturating bool, bound uint64) uint64 {
	if saturating {
		return bound
	}
	panic(wasm.ErrTrapIntegerOverflow)
}

func i32TruncS(f float64, saturating bool) uint64 {
	if math.IsNaN(f) {
		return truncNaN(saturating)
	}
	switch t := math.Trunc(f); {
	case t < math.MinInt32:
		return truncOverflow(saturating, uint64(uint32(1<<31)))
	case t > math.MaxInt32:
		return truncOverflow(saturating, math.MaxInt32)
	default:
		return uint64(uint32(int32(t)))
	}
}

func i32TruncU(f float64, saturating bool) uint64 {
	if math.IsNaN(f) {
		return truncNaN(saturating)
	}
	switch t := math.Trunc(f); {
	case t < 0:
		return truncOverflow(saturating, 0)
	case t > math.MaxUint32:
		return truncOverflow(saturating, math.MaxUint32)
	default:
		return uint64(uint32(t))
	}
}

func i64TruncS(f float64, saturating bool) uint64 {
	if math.IsNaN(f) {
		return truncNaN(saturating)
	}
	switch t := math.Trunc(f); {
	case t < math.MinInt64:
		return truncOverflow(saturating, 1<<63)
	case t >= 1<<63:
		return truncOverflow(saturating, math.MaxInt64)
	default:
		return uint64(int64(t))
	}
}

func i64TruncU(f float64, saturating bool) uint64 {
	if math.IsNaN(f) {
		return truncNaN(saturating)
	}
	switch t := math.Trunc(f); {
	case t < 0:
		return truncOverflow(saturating, 0)
	case t >= 1<<64:
		return truncOverflow(saturating, math.MaxUint64)
	default:
		return uint64(t)
	}
}
