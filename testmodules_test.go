package wasmedge

import (
	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
	"github.com/wasmedge-go/wasmedge/internal/wasm/binary"
)

const (
	i32, i64, f32, f64 = api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	blockEmpty         = 0x40
)

var (
	i32i32_i32 = &wasm.FunctionType{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}}
	i32_i32    = &wasm.FunctionType{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}
	i32_v      = &wasm.FunctionType{Params: []api.ValueType{i32}}
	v_v        = &wasm.FunctionType{}
)

func i32Const(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const}, leb128.EncodeInt32(v)...)
}

func funcExport(name string, idx wasm.Index) *wasm.Export {
	return &wasm.Export{Type: wasm.ExternTypeFunc, Name: name, Index: idx}
}

func wasiImport(name string, typeIdx wasm.Index) *wasm.Import {
	return &wasm.Import{Type: wasm.ExternTypeFunc, Module: WasiModuleName, Name: name, DescFunc: typeIdx}
}

// arithWasm exports one function per value type, and functions which trap or never return.
func arithWasm() []byte {
	return binary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{
			i32i32_i32,
			{Params: []api.ValueType{i64}, Results: []api.ValueType{i64}},
			{Params: []api.ValueType{f32, f64}, Results: []api.ValueType{f64, f32}},
			v_v,
		},
		FunctionSection: []wasm.Index{0, 0, 1, 2, 3, 3, 3},
		MemorySection:   []*wasm.MemoryType{{Min: 1}},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32DivS, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 1, wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLoop, blockEmpty, wasm.OpcodeBr, 0, wasm.OpcodeEnd, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeCall, 6, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			funcExport("add", 0),
			funcExport("div_s", 1),
			funcExport("echo", 2),
			funcExport("swap", 3),
			funcExport("unreachable", 4),
			funcExport("spin", 5),
			funcExport("recurse", 6),
			{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
		},
	})
}

// doubleWasm exports "double", which is also a function a host module can implement.
func doubleWasm() []byte {
	return binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{funcExport("double", 0)},
	})
}

// quadWasm imports "env.double" and exports "quad", which calls it twice.
func quadWasm() []byte {
	return binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "double", DescFunc: 0}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{funcExport("quad", 1)},
	})
}

// exitWasm exports "_start", which calls proc_exit with code.
func exitWasm(code int32) []byte {
	return binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_v, v_v},
		ImportSection:   []*wasm.Import{wasiImport("proc_exit", 0)},
		FunctionSection: []wasm.Index{1},
		CodeSection:     []*wasm.Code{{Body: append(append(i32Const(code), wasm.OpcodeCall, 0), wasm.OpcodeEnd)}},
		ExportSection:   []*wasm.Export{funcExport("_start", 1)},
	})
}

// printEnvWasm exports "print_env", also as "_start", which writes each argument then each environment variable to stdout on its own
// line, and exits with code zero.
func printEnvWasm() []byte {
	const (
		argsSizesGet wasm.Index = iota
		argsGet
		environSizesGet
		environGet
		fdWrite
		procExit
	)
	var body []byte
	body = append(body, printStrings(argsSizesGet, argsGet, fdWrite)...)
	body = append(body, printStrings(environSizesGet, environGet, fdWrite)...)
	body = append(body, i32Const(0)...)
	body = append(body, wasm.OpcodeCall, byte(procExit), wasm.OpcodeEnd)

	return binary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}},
			{Params: []api.ValueType{i32, i32, i32, i32}, Results: []api.ValueType{i32}},
			i32_v,
			v_v,
		},
		ImportSection: []*wasm.Import{
			wasiImport("args_sizes_get", 0),
			wasiImport("args_get", 0),
			wasiImport("environ_sizes_get", 0),
			wasiImport("environ_get", 0),
			wasiImport("fd_write", 1),
			wasiImport("proc_exit", 2),
		},
		FunctionSection: []wasm.Index{3},
		MemorySection:   []*wasm.MemoryType{{Min: 1}},
		CodeSection:     []*wasm.Code{{LocalTypes: []api.ValueType{i32, i32}, Body: body}},
		ExportSection: []*wasm.Export{
			funcExport("print_env", 6),
			funcExport("_start", 6),
			{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
		},
	})
}

// printStrings reads null-terminated strings with a WASI sizes and get function pair, replaces each NUL with a newline
// and writes them all to stdout. Local 0 is the cursor and local 1 the end of the strings.
//
// Memory layout: count at 0, buffer size at 4, pointers from 16, the iovec at 128 and strings from 256.
func printStrings(sizesGet, get, fdWrite wasm.Index) (body []byte) {
	load := []byte{wasm.OpcodeI32Load, 2, 0}
	store := []byte{wasm.OpcodeI32Store, 2, 0}
	add := func(b ...[]byte) {
		for _, bb := range b {
			body = append(body, bb...)
		}
	}

	add(i32Const(0), i32Const(4), []byte{wasm.OpcodeCall, byte(sizesGet), wasm.OpcodeDrop})
	add(i32Const(16), i32Const(256), []byte{wasm.OpcodeCall, byte(get), wasm.OpcodeDrop})

	add(i32Const(256), []byte{wasm.OpcodeLocalSet, 0})
	add(i32Const(4), load, i32Const(256), []byte{wasm.OpcodeI32Add, wasm.OpcodeLocalSet, 1})

	add([]byte{
		wasm.OpcodeBlock, blockEmpty,
		wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32GeU, wasm.OpcodeBrIf, 0,
		wasm.OpcodeLoop, blockEmpty,
		wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load8U, 0, 0, wasm.OpcodeI32Eqz,
		wasm.OpcodeIf, blockEmpty,
		wasm.OpcodeLocalGet, 0,
	})
	add(i32Const('\n'), []byte{wasm.OpcodeI32Store8, 0, 0, wasm.OpcodeEnd})
	add([]byte{wasm.OpcodeLocalGet, 0}, i32Const(1), []byte{wasm.OpcodeI32Add, wasm.OpcodeLocalTee, 0})
	add([]byte{wasm.OpcodeLocalGet, 1, wasm.OpcodeI32LtU, wasm.OpcodeBrIf, 0, wasm.OpcodeEnd, wasm.OpcodeEnd})

	add(i32Const(128), i32Const(256), store)
	add(i32Const(132), i32Const(4), load, store)
	add(i32Const(1), i32Const(128), i32Const(1), i32Const(136))
	add([]byte{wasm.OpcodeCall, byte(fdWrite), wasm.OpcodeDrop})
	return
}

// hostValueWasm imports "env.value", which returns an i32, and exports "load", which reads memory at the value plus
// one, and "branch", which returns 1 when the value is non-zero and 2 otherwise.
func hostValueWasm() []byte {
	v_i32 := &wasm.FunctionType{Results: []api.ValueType{i32}}
	return binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "value", DescFunc: 0}},
		FunctionSection: []wasm.Index{0, 0},
		MemorySection:   []*wasm.MemoryType{{Min: 1}},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeI32Load, 2, 1, wasm.OpcodeEnd}},
			{Body: concat(
				[]byte{wasm.OpcodeCall, 0, wasm.OpcodeIf, i32},
				i32Const(1),
				[]byte{wasm.OpcodeElse},
				i32Const(2),
				[]byte{wasm.OpcodeEnd, wasm.OpcodeEnd},
			)},
		},
		ExportSection: []*wasm.Export{funcExport("load", 1), funcExport("branch", 2)},
	})
}

func concat(parts ...[]byte) (b []byte) {
	for _, p := range parts {
		b = append(b, p...)
	}
	return
}
