package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

var (
	i32, i64     = wasm.ValueTypeI32, wasm.ValueTypeI64
	v_v          = &wasm.FunctionType{}
	v_i32        = &wasm.FunctionType{Results: []wasm.ValueType{i32}}
	i32_i32      = &wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}
	i64_i64      = &wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}}
	i32i32_i32   = &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}
	v_i32i32     = &wasm.FunctionType{Results: []wasm.ValueType{i32, i32}}
	blockTypeI32 = byte(i32)
	blockTypeI64 = byte(i64)
	blockEmpty   = byte(0x40)
)

// factorialBody is the recursive factorial of its i64 param, calling itself as function zero.
var factorialBody = []byte{
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI64Eqz,
	wasm.OpcodeIf, blockTypeI64,
	wasm.OpcodeI64Const, 1,
	wasm.OpcodeElse,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI64Const, 1,
	wasm.OpcodeI64Sub,
	wasm.OpcodeCall, 0,
	wasm.OpcodeI64Mul,
	wasm.OpcodeEnd,
	wasm.OpcodeEnd,
}

// sumBody sums 1 to its i32 param in a loop, accumulating into local 1.
var sumBody = []byte{
	wasm.OpcodeLoop, blockEmpty,
	wasm.OpcodeLocalGet, 1,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI32Add,
	wasm.OpcodeLocalSet, 1,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI32Const, 1,
	wasm.OpcodeI32Sub,
	wasm.OpcodeLocalTee, 0,
	wasm.OpcodeBrIf, 0,
	wasm.OpcodeEnd,
	wasm.OpcodeLocalGet, 1,
	wasm.OpcodeEnd,
}

// compileBody lowers body as the only function of a module, with the given type.
func compileBody(t *testing.T, ft *wasm.FunctionType, body []byte) []unionOperation {
	m := &wasm.Module{TypeSection: []*wasm.FunctionType{ft}, FunctionSection: []wasm.Index{0}}
	ops, err := compile(m, &wasm.FunctionInstance{Name: "test.f", Type: ft, Body: body})
	require.NoError(t, err)
	return ops
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		ft       *wasm.FunctionType
		body     []byte
		expected []unionOperation
	}{
		{
			name:     "empty",
			ft:       v_v,
			body:     []byte{wasm.OpcodeEnd},
			expected: []unionOperation{{Kind: wasm.OpcodeReturn}},
		},
		{
			name: "nop and block produce nothing",
			ft:   v_i32,
			body: []byte{
				wasm.OpcodeNop,
				wasm.OpcodeBlock, blockTypeI32,
				wasm.OpcodeI32Const, 0x7f, // -1
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeI32Const, U1: 0xffffffff},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "if else",
			ft:   i64_i64,
			body: factorialBody,
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeI64Eqz},
				{Kind: wasm.OpcodeIf, U1: 5}, // the else branch starts after the else operation
				{Kind: wasm.OpcodeI64Const, U1: 1},
				{Kind: wasm.OpcodeElse, U1: 11}, // the end of the if
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeI64Const, U1: 1},
				{Kind: wasm.OpcodeI64Sub},
				{Kind: wasm.OpcodeCall, U1: 0},
				{Kind: wasm.OpcodeI64Mul},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "if without else",
			ft:   i32_i32,
			body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeIf, blockEmpty,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeLocalSet, 0,
				wasm.OpcodeEnd,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeIf, U1: 4},
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeLocalSet, U1: 0},
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "loop",
			ft:   i32_i32,
			body: sumBody,
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 1},
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeI32Add},
				{Kind: wasm.OpcodeLocalSet, U1: 1},
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeI32Sub},
				{Kind: wasm.OpcodeLocalTee, U1: 0},
				{Kind: wasm.OpcodeBrIf, Target: &label{pc: 0, height: 0, arity: 0}},
				{Kind: wasm.OpcodeLocalGet, U1: 1},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "br drops operands below the result",
			ft:   v_i32,
			body: []byte{
				wasm.OpcodeBlock, blockTypeI32,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Const, 2,
				wasm.OpcodeI32Const, 9,
				wasm.OpcodeBr, 0,
				wasm.OpcodeI32Const, 3, // unreachable
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeI32Const, U1: 2},
				{Kind: wasm.OpcodeI32Const, U1: 9},
				{Kind: wasm.OpcodeBr, Target: &label{pc: 4, height: 0, arity: 1}},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "br_table",
			ft:   i32_i32,
			body: []byte{
				wasm.OpcodeBlock, blockEmpty,
				wasm.OpcodeBlock, blockEmpty,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeBrTable, 1, 0, 1, // [0] default 1
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 10,
				wasm.OpcodeReturn,
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 11,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeBrTable, Targets: []*label{{pc: 2}, {pc: 4}}},
				{Kind: wasm.OpcodeI32Const, U1: 10},
				{Kind: wasm.OpcodeReturn},
				{Kind: wasm.OpcodeI32Const, U1: 11},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "branch to the function keeps its results",
			ft:   v_i32i32,
			body: []byte{
				wasm.OpcodeI32Const, 5,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Const, 2,
				wasm.OpcodeBr, 0,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeI32Const, U1: 5},
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeI32Const, U1: 2},
				{Kind: wasm.OpcodeBr, Target: &label{pc: 4, height: 0, arity: 2}},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "unreachable code is skipped",
			ft:   v_v,
			body: []byte{
				wasm.OpcodeUnreachable,
				wasm.OpcodeBlock, blockEmpty,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeBr, 0,
				wasm.OpcodeEnd,
				wasm.OpcodeI32Const, 2,
				wasm.OpcodeDrop,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeUnreachable},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "reachable else after an unreachable then",
			ft:   i32_i32,
			body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeIf, blockTypeI32,
				wasm.OpcodeUnreachable,
				wasm.OpcodeElse,
				wasm.OpcodeI32Const, 3,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeIf, U1: 4},
				{Kind: wasm.OpcodeUnreachable},
				{Kind: wasm.OpcodeElse, U1: 5},
				{Kind: wasm.OpcodeI32Const, U1: 3},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "memory",
			ft:   i32_i32,
			body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeI32Load, 2, 8, // align=2 offset=8
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Store16, 1, 0x80, 0x01, // offset=128
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeMemoryGrow, 0,
				wasm.OpcodeDrop,
				wasm.OpcodeMemorySize, 0,
				wasm.OpcodeI32Add,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeLocalGet, U1: 0},
				{Kind: wasm.OpcodeI32Load, U1: 8},
				{Kind: wasm.OpcodeI32Const, U1: 0},
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeI32Store16, U1: 128},
				{Kind: wasm.OpcodeI32Const, U1: 1},
				{Kind: wasm.OpcodeMemoryGrow},
				{Kind: wasm.OpcodeDrop},
				{Kind: wasm.OpcodeMemorySize},
				{Kind: wasm.OpcodeI32Add},
				{Kind: wasm.OpcodeReturn},
			},
		},
		{
			name: "misc",
			ft:   v_v,
			body: []byte{
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeI32Const, 4,
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryInit, 1, 0,
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscDataDrop, 1,
				wasm.OpcodeF32Const, 0, 0, 0x80, 0x3f, // 1.0
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF32S,
				wasm.OpcodeDrop,
				wasm.OpcodeEnd,
			},
			expected: []unionOperation{
				{Kind: wasm.OpcodeI32Const, U1: 0},
				{Kind: wasm.OpcodeI32Const, U1: 0},
				{Kind: wasm.OpcodeI32Const, U1: 4},
				{Kind: wasm.OpcodeMiscPrefix, B1: wasm.OpcodeMiscMemoryInit, U1: 1},
				{Kind: wasm.OpcodeMiscPrefix, B1: wasm.OpcodeMiscDataDrop, U1: 1},
				{Kind: wasm.OpcodeF32Const, U1: 0x3f800000},
				{Kind: wasm.OpcodeMiscPrefix, B1: wasm.OpcodeMiscI32TruncSatF32S},
				{Kind: wasm.OpcodeDrop},
				{Kind: wasm.OpcodeReturn},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, compileBody(t, tc.ft, tc.body))
		})
	}
}

// TestCompile_labelHeight ensures branches out of nested blocks drop the operands of the enclosing ones too.
func TestCompile_labelHeight(t *testing.T) {
	ops := compileBody(t, i32i32_i32, []byte{
		wasm.OpcodeLocalGet, 0, // stays below the outer block
		wasm.OpcodeBlock, blockTypeI32,
		wasm.OpcodeLocalGet, 1,
		wasm.OpcodeBlock, blockEmpty,
		wasm.OpcodeI32Const, 7,
		wasm.OpcodeI32Const, 8,
		wasm.OpcodeBrIf, 1,
		wasm.OpcodeDrop,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
		wasm.OpcodeI32Add,
		wasm.OpcodeEnd,
	})

	brIf := ops[4]
	require.Equal(t, wasm.OpcodeBrIf, brIf.Kind)
	require.Equal(t, &label{pc: 6, height: 1, arity: 1}, brIf.Target)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name, expectedErr string
		body              []byte
	}{
		{
			name:        "missing end",
			body:        []byte{wasm.OpcodeNop},
			expectedErr: "test.f: missing end",
		},
		{
			name:        "unsupported instruction",
			body:        []byte{0xd0, 0x70, wasm.OpcodeEnd}, // ref.null
			expectedErr: "test.f at offset 0x1: unsupported instruction 0xd0",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m := &wasm.Module{TypeSection: []*wasm.FunctionType{v_v}, FunctionSection: []wasm.Index{0}}
			_, err := compile(m, &wasm.FunctionInstance{Name: "test.f", Type: v_v, Body: tc.body})
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}
