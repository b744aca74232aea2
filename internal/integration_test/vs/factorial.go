package vs

import (
	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
	"github.com/wasmedge-go/wasmedge/internal/wasm/binary"
)

// FactorialWasm exports "fac", which recursively computes the factorial of an i64.
var FactorialWasm = binary.EncodeModule(&wasm.Module{
	TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI64}, Results: []api.ValueType{api.ValueTypeI64}}},
	FunctionSection: []wasm.Index{0},
	CodeSection: []*wasm.Code{{Body: concat(
		[]byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Eqz, wasm.OpcodeIf, api.ValueTypeI64},
		i64Const(1),
		[]byte{wasm.OpcodeElse, wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0},
		i64Const(1),
		[]byte{wasm.OpcodeI64Sub, wasm.OpcodeCall, 0, wasm.OpcodeI64Mul, wasm.OpcodeEnd, wasm.OpcodeEnd},
	)}},
	ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "fac", Index: 0}},
})

func i64Const(v int64) []byte {
	return append([]byte{wasm.OpcodeI64Const}, leb128.EncodeInt64(v)...)
}

func concat(parts ...[]byte) (b []byte) {
	for _, p := range parts {
		b = append(b, p...)
	}
	return
}
