package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionType_String(t *testing.T) {
	tests := []struct {
		functype *FunctionType
		exp      string
	}{
		{functype: &FunctionType{}, exp: "v_v"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI32}}, exp: "i32_v"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeF64}}, exp: "i32f64_v"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeF32, ValueTypeI32, ValueTypeF64}}, exp: "f32i32f64_v"},
		{functype: &FunctionType{Results: []ValueType{ValueTypeI64}}, exp: "v_i64"},
		{functype: &FunctionType{Results: []ValueType{ValueTypeI64, ValueTypeF32}}, exp: "v_i64f32"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI64}}, exp: "i32_i64"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI64, ValueTypeF32}, Results: []ValueType{ValueTypeI64, ValueTypeF64}}, exp: "i64f32_i64f64"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.functype.String(), func(t *testing.T) {
			require.Equal(t, tc.exp, tc.functype.String())
			require.Equal(t, tc.exp, tc.functype.key())
		})
	}
}

func TestSectionIDName(t *testing.T) {
	tests := []struct {
		name     string
		input    SectionID
		expected string
	}{
		{"custom", SectionIDCustom, "custom"},
		{"type", SectionIDType, "type"},
		{"import", SectionIDImport, "import"},
		{"function", SectionIDFunction, "function"},
		{"table", SectionIDTable, "table"},
		{"memory", SectionIDMemory, "memory"},
		{"global", SectionIDGlobal, "global"},
		{"export", SectionIDExport, "export"},
		{"start", SectionIDStart, "start"},
		{"element", SectionIDElement, "element"},
		{"code", SectionIDCode, "code"},
		{"data", SectionIDData, "data"},
		{"data_count", SectionIDDataCount, "data_count"},
		{"unknown", 100, "unknown"},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SectionIDName(tc.input))
		})
	}
}

func TestModule_TypeOfFunction(t *testing.T) {
	v_v, i32_i32 := &FunctionType{}, &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	m := &Module{
		TypeSection: []*FunctionType{v_v, i32_i32},
		ImportSection: []*Import{
			{Type: ExternTypeFunc, DescFunc: 1},
			{Type: ExternTypeGlobal, DescGlobal: &GlobalType{ValType: ValueTypeI32}},
			{Type: ExternTypeFunc, DescFunc: 5}, // invalid
		},
		FunctionSection: []Index{0, 1},
	}

	require.Equal(t, i32_i32, m.TypeOfFunction(0))
	require.Nil(t, m.TypeOfFunction(1))
	require.Equal(t, v_v, m.TypeOfFunction(2))
	require.Equal(t, i32_i32, m.TypeOfFunction(3))
	require.Nil(t, m.TypeOfFunction(4))

	require.Equal(t, uint32(2), m.ImportFuncCount())
	require.Equal(t, uint32(1), m.ImportGlobalCount())
}

func TestModule_FuncName(t *testing.T) {
	m := &Module{
		ExportSection: []*Export{
			{Type: ExternTypeFunc, Name: "add", Index: 0},
			{Type: ExternTypeFunc, Name: "mul", Index: 1},
			{Type: ExternTypeGlobal, Name: "g", Index: 2},
		},
		NameSection: &NameSection{FunctionNames: NameMap{{Index: 1, Name: "multiply"}}},
	}

	require.Equal(t, "math.add", m.FuncName("math", 0))
	require.Equal(t, "math.multiply", m.FuncName("math", 1)) // name section takes precedence
	require.Equal(t, "math.$2", m.FuncName("math", 2))
	require.Equal(t, ".$0", (&Module{}).FuncName("", 0))
}

func TestModule_ExportByName(t *testing.T) {
	m := &Module{ExportSection: []*Export{
		{Type: ExternTypeFunc, Name: "run", Index: 0},
		{Type: ExternTypeMemory, Name: "memory", Index: 0},
	}}
	require.Equal(t, m.ExportSection[1], m.ExportByName("memory", ExternTypeMemory))
	require.Nil(t, m.ExportByName("memory", ExternTypeFunc))
	require.Nil(t, m.ExportByName("missing", ExternTypeFunc))
}

func TestModule_String(t *testing.T) {
	m := &Module{TypeSection: []*FunctionType{{}}, FunctionSection: []Index{0}, CodeSection: []*Code{{Body: []byte{OpcodeEnd}}}}
	require.Equal(t, "module{types=1 imports=0 funcs=1 tables=0 memories=0 globals=0 exports=0 elements=0 data=0}", m.String())
}

func i32Const(v byte) *ConstantExpression {
	return &ConstantExpression{Opcode: OpcodeI32Const, Data: []byte{v}}
}

func TestModule_Validate(t *testing.T) {
	zero, one, two := uint32(0), uint32(1), uint32(2)
	maxPagesPlusOne := MemoryMaxPages + 1
	v_v := &FunctionType{}
	i32_v := &FunctionType{Params: []ValueType{ValueTypeI32}}

	tests := []struct {
		name        string
		module      *Module
		features    Features
		expectedErr string
	}{
		{
			name:     "empty",
			module:   &Module{},
			features: Features20191205,
		},
		{
			name: "multi-value type without the feature",
			module: &Module{TypeSection: []*FunctionType{
				{Results: []ValueType{ValueTypeI32, ValueTypeI32}},
			}},
			features:    Features20191205,
			expectedErr: "invalid type[0]: multiple result types: feature \"multi-value\" is disabled",
		},
		{
			name: "multi-value type with the feature",
			module: &Module{TypeSection: []*FunctionType{
				{Results: []ValueType{ValueTypeI32, ValueTypeI32}},
			}},
			features: FeatureMultiValue,
		},
		{
			name: "import type index out of range",
			module: &Module{ImportSection: []*Import{
				{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0},
			}},
			features:    Features20191205,
			expectedErr: "invalid import[0]: type index out of range: 0",
		},
		{
			name: "import mutable global without the feature",
			module: &Module{ImportSection: []*Import{
				{Type: ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &GlobalType{ValType: ValueTypeI32, Mutable: true}},
			}},
			features:    0,
			expectedErr: "invalid import[0] global[env.g]: mutable global: feature \"mutable-global\" is disabled",
		},
		{
			name: "function and code sections differ",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				FunctionSection: []Index{0},
			},
			features:    Features20191205,
			expectedErr: "invalid module: function and code section have inconsistent lengths: 1 != 0",
		},
		{
			name: "two memories",
			module: &Module{
				ImportSection: []*Import{{Type: ExternTypeMemory, DescMem: &MemoryType{}}},
				MemorySection: []*MemoryType{{}},
			},
			features:    Features20191205,
			expectedErr: "invalid module: multiple memories are not supported",
		},
		{
			name:        "two tables",
			module:      &Module{TableSection: []*TableType{{ElemType: ElemTypeFuncref, Limit: &LimitsType{}}, {ElemType: ElemTypeFuncref, Limit: &LimitsType{}}}},
			features:    Features20191205,
			expectedErr: "invalid module: multiple tables are not supported",
		},
		{
			name:        "memory min over max",
			module:      &Module{MemorySection: []*MemoryType{{Min: 2, Max: &one}}},
			features:    Features20191205,
			expectedErr: "invalid memory: min 2 pages > max 1 pages",
		},
		{
			name:        "memory min over the page limit",
			module:      &Module{MemorySection: []*MemoryType{{Min: maxPagesPlusOne}}},
			features:    Features20191205,
			expectedErr: "invalid memory: min 65537 pages (4.0 GB) over limit of 65536 pages (4.0 GB)",
		},
		{
			name:        "table min over max",
			module:      &Module{TableSection: []*TableType{{ElemType: ElemTypeFuncref, Limit: &LimitsType{Min: 2, Max: &one}}}},
			features:    Features20191205,
			expectedErr: "invalid table: min 2 > max 1",
		},
		{
			name: "global init type mismatch",
			module: &Module{GlobalSection: []*Global{
				{Type: &GlobalType{ValType: ValueTypeI64}, Init: i32Const(1)},
			}},
			features:    Features20191205,
			expectedErr: "invalid global[0]: const expression type mismatch: expected i64, but was i32",
		},
		{
			name: "global init reads a defined global",
			module: &Module{GlobalSection: []*Global{
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: i32Const(1)},
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}},
			}},
			features:    Features20191205,
			expectedErr: "invalid global[1]: global index out of range: 0 (only imported globals may be used in constant expressions)",
		},
		{
			name: "global init reads an imported immutable global",
			module: &Module{
				ImportSection: []*Import{{Type: ExternTypeGlobal, DescGlobal: &GlobalType{ValType: ValueTypeI32}}},
				GlobalSection: []*Global{
					{Type: &GlobalType{ValType: ValueTypeI32}, Init: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}},
				},
			},
			features: Features20191205,
		},
		{
			name: "start out of range",
			module: &Module{
				StartSection: &zero,
			},
			features:    Features20191205,
			expectedErr: "invalid start: function index out of range: 0",
		},
		{
			name: "start with params",
			module: &Module{
				TypeSection:     []*FunctionType{i32_v},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
				StartSection:    &zero,
			},
			features:    Features20191205,
			expectedErr: "invalid start: function[0] must have an empty (nullary) signature: i32_v",
		},
		{
			name: "duplicate export",
			module: &Module{
				MemorySection: []*MemoryType{{}},
				ExportSection: []*Export{
					{Type: ExternTypeMemory, Name: "memory", Index: 0},
					{Type: ExternTypeMemory, Name: "memory", Index: 0},
				},
			},
			features:    Features20191205,
			expectedErr: "invalid export[memory]: duplicate export name",
		},
		{
			name: "export out of range",
			module: &Module{ExportSection: []*Export{
				{Type: ExternTypeFunc, Name: "run", Index: 0},
			}},
			features:    Features20191205,
			expectedErr: "invalid export[run]: func index out of range: 0",
		},
		{
			name: "export mutable global without the feature",
			module: &Module{
				GlobalSection: []*Global{{Type: &GlobalType{ValType: ValueTypeI32, Mutable: true}, Init: i32Const(0)}},
				ExportSection: []*Export{{Type: ExternTypeGlobal, Name: "g", Index: 0}},
			},
			features:    0,
			expectedErr: "invalid export[g]: mutable global: feature \"mutable-global\" is disabled",
		},
		{
			name: "passive element without bulk memory",
			module: &Module{ElementSection: []*ElementSegment{
				{Mode: ElementModePassive},
			}},
			features:    Features20191205,
			expectedErr: "invalid element[0]: non-active element segment: feature \"bulk-memory-operations\" is disabled",
		},
		{
			name: "element without a table",
			module: &Module{ElementSection: []*ElementSegment{
				{OffsetExpr: i32Const(0)},
			}},
			features:    Features20191205,
			expectedErr: "invalid element[0]: table index out of range: 0",
		},
		{
			name: "element function out of range",
			module: &Module{
				TableSection:   []*TableType{{ElemType: ElemTypeFuncref, Limit: &LimitsType{Min: 1}}},
				ElementSection: []*ElementSegment{{OffsetExpr: i32Const(0), Init: []Index{0}}},
			},
			features:    Features20191205,
			expectedErr: "invalid element[0]: function index out of range: 0",
		},
		{
			name: "data without memory",
			module: &Module{DataSection: []*DataSegment{
				{OffsetExpression: i32Const(0), Init: []byte{1}},
			}},
			features:    Features20191205,
			expectedErr: "invalid data[0]: unknown memory",
		},
		{
			name: "data offset not i32",
			module: &Module{
				MemorySection: []*MemoryType{{Min: 1}},
				DataSection: []*DataSegment{
					{OffsetExpression: &ConstantExpression{Opcode: OpcodeI64Const, Data: []byte{0}}, Init: []byte{1}},
				},
			},
			features:    Features20191205,
			expectedErr: "invalid data[0]: const expression type mismatch: expected i32, but was i64",
		},
		{
			name:        "passive data without bulk memory",
			module:      &Module{DataSection: []*DataSegment{{Passive: true}}},
			features:    Features20191205,
			expectedErr: "invalid data[0]: passive data segment: feature \"bulk-memory-operations\" is disabled",
		},
		{
			name:        "data count mismatch",
			module:      &Module{DataCountSection: &two, DataSection: []*DataSegment{{Passive: true}}},
			features:    FeaturesFinished,
			expectedErr: "invalid data_count: data count 2 != data section length 1",
		},
		{
			name: "function body invalid",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{{Body: []byte{OpcodeI32Const, 1, OpcodeEnd}}},
			},
			features:    Features20191205,
			expectedErr: "invalid function[0]: type mismatch: 1 unexpected values left on the stack at the end of block at offset 0x2",
		},
		{
			name: "function type index out of range",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				FunctionSection: []Index{1},
				CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
			},
			features:    Features20191205,
			expectedErr: "invalid function[0]: type index out of range: 1",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			err := tc.module.Validate(tc.features)
			if tc.expectedErr == "" {
				require.NoError(t, err)
				require.True(t, tc.module.Validated())
			} else {
				require.EqualError(t, err, tc.expectedErr)
				require.ErrorIs(t, err, ErrValidation)
				require.False(t, tc.module.Validated())
			}
		})
	}
}
