package wasm

import (
	"fmt"
	"strings"

	"github.com/wasmedge-go/wasmedge/api"
)

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
//
// Differences from the specification:
//   - The NameSection is decoded, so not present as a key "name" in CustomSections, unless it couldn't be decoded.
//   - Custom sections record which known section they followed, so they can be encoded back in place.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation
	// (Store.Instantiate).
	//
	// Note: there are no unique constraints relating to the two-level namespace of Import.Module and Import.Name.
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// FunctionSection is index correlated with the CodeSection.
	FunctionSection []Index

	// TableSection contains each table defined in this module. At most one table may be imported or defined.
	TableSection []*TableType

	// MemorySection contains each memory defined in this module. At most one memory may be imported or defined.
	MemorySection []*MemoryType

	// GlobalSection contains each global defined in this module.
	//
	// Global indexes are offset by any imported globals because the global index space begins with imports.
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, in binary order.
	ExportSection []*Export

	// StartSection is the index of a function to call before returning from Store.Instantiate.
	//
	// Note: The index here is not the position in the FunctionSection, rather in the function index namespace, which
	// begins with imported functions.
	StartSection *Index

	ElementSection []*ElementSegment

	// DataCountSection is the count of data segments, required by FeatureBulkMemoryOperations for memory.init and
	// data.drop. nil when absent.
	DataCountSection *uint32

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []*Code

	DataSection []*DataSegment

	// NameSection is set when the custom section "name" was successfully decoded from the binary format.
	NameSection *NameSection

	// CustomSections are custom sections other than a decodable "name" section, in binary order.
	CustomSections []*CustomSection

	// validated is set by Validate on success. Store.Instantiate refuses modules where this is false.
	validated bool

	// isHostModule is true for modules whose functions are implemented in Go.
	isHostModule bool
}

// Validated returns true when Validate succeeded for this module.
func (m *Module) Validated() bool {
	return m.validated
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is because
// index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	//
	// Note: In WebAssembly 1.0 (20191205), there can be at most one result, unless FeatureMultiValue is enabled.
	Results []ValueType
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return string(t.Params) == string(params) && string(t.Results) == string(results)
}

// key generates the key for Store.typeIDs. Ex. "i32_v" for one i32 parameter and no (void) result.
func (t *FunctionType) key() string {
	var ret string
	for _, b := range t.Params {
		ret += ValueTypeName(b)
	}
	if len(t.Params) == 0 {
		ret += "v_"
	} else {
		ret += "_"
	}
	for _, b := range t.Results {
		ret += ValueTypeName(b)
	}
	if len(t.Results) == 0 {
		ret += "v"
	}
	return ret
}

// String implements fmt.Stringer.
func (t *FunctionType) String() string {
	return t.key()
}

// ValueType is the binary encoding of a type such as i32
type ValueType = api.ValueType

const (
	ValueTypeI32 = api.ValueTypeI32
	ValueTypeI64 = api.ValueTypeI64
	ValueTypeF32 = api.ValueTypeF32
	ValueTypeF64 = api.ValueTypeF64
)

// ValueTypeName is an alias of api.ValueTypeName defined to simplify imports.
func ValueTypeName(t ValueType) string {
	return api.ValueTypeName(t)
}

// ExternType classifies imports and exports with their respective types.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
)

// ExternTypeName is an alias of api.ExternTypeName defined to simplify imports.
func ExternTypeName(t ExternType) string {
	return api.ExternTypeName(t)
}

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Module is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined TableType when Type equals ExternTypeTable
	DescTable *TableType
	// DescMem is the inlined MemoryType when Type equals ExternTypeMemory
	DescMem *MemoryType
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal *GlobalType
}

// LimitsType are the minimum and optional maximum size of a table or memory, in elements or pages.
type LimitsType struct {
	Min uint32
	Max *uint32
}

// ElemTypeFuncref is the only element type supported, as reference types are not.
const ElemTypeFuncref = 0x70

type TableType struct {
	ElemType byte
	Limit    *LimitsType
}

type MemoryType = LimitsType

type GlobalType struct {
	ValType ValueType
	Mutable bool
}

type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single instruction followed by OpcodeEnd. Data are the raw immediates of Opcode.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type ExternType

	// Name is what the host refers to this definition as.
	Name string

	// Index is the index of the definition to export, the index namespace is by Type
	// Ex. If ExternTypeFunc, this is a position in the function index namespace.
	Index Index
}

// ElementMode is how an ElementSegment is applied.
type ElementMode = byte

const (
	// ElementModeActive segments are copied into a table during instantiation.
	ElementModeActive ElementMode = iota
	// ElementModePassive segments are only copied by table.init.
	ElementModePassive
	// ElementModeDeclarative segments only forward-declare function references.
	ElementModeDeclarative
)

// ElementSegment are initialization instructions for a TableInstance
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-elem
type ElementSegment struct {
	// OffsetExpr returns the table element offset to apply to Init indices. nil unless Mode is ElementModeActive.
	OffsetExpr *ConstantExpression

	// TableIndex is the table the segment is applied to when active.
	TableIndex Index

	// Init indices are positions in the function index namespace.
	Init []Index

	Mode ElementMode
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType

	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte

	// GoFunc is the implementation when this is a function of a host module. Body is empty in that case.
	GoFunc *HostFunc
}

type DataSegment struct {
	// OffsetExpression is nil when Passive.
	OffsetExpression *ConstantExpression
	Init             []byte
	Passive          bool
}

// CustomSection is a section with SectionIDCustom, kept as raw bytes.
type CustomSection struct {
	Name string
	Data []byte
	// After is the ID of the last known section preceding this one in the binary, or SectionIDCustom when this was
	// the first section.
	After SectionID
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// Note: This can be nil if no names were decoded for any reason including configuration.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	//
	// The key (idx) is in the function namespace, where module defined functions are preceded by imported ones.
	FunctionNames NameMap

	// LocalNames contains symbolic names for function parameters or locals that have one.
	LocalNames IndirectNameMap
}

// NameMap associates an index with any associated names.
//
// Note: When encoding in the Binary format, this must be ordered by NameAssoc.Index
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// IndirectNameMap associates an index with an association of names.
type IndirectNameMap []*NameMapAssoc

type NameMapAssoc struct {
	Index   Index
	NameMap NameMap
}

// SectionID identifies the sections of a Module in the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData

	// SectionIDDataCount may exist in WebAssembly 2.0 or WebAssembly 1.0 with FeatureBulkMemoryOperations enabled.
	// It is ordered between SectionIDElement and SectionIDCode.
	SectionIDDataCount
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data_count"
	}
	return "unknown"
}

// ImportFuncCount returns the count of imported functions, which precede defined ones in the function namespace.
func (m *Module) ImportFuncCount() (n uint32) {
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeFunc {
			n++
		}
	}
	return
}

// ImportGlobalCount returns the count of imported globals.
func (m *Module) ImportGlobalCount() (n uint32) {
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeGlobal {
			n++
		}
	}
	return
}

// TypeOfFunction returns the FunctionType for the given function namespace index or nil.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	funcImportCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeFunc {
			if funcIdx == funcImportCount {
				if im.DescFunc >= typeSectionLength {
					return nil
				}
				return m.TypeSection[im.DescFunc]
			}
			funcImportCount++
		}
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// ExportByName returns the export of the given name and type, or nil.
func (m *Module) ExportByName(name string, et ExternType) *Export {
	for _, e := range m.ExportSection {
		if e.Name == name && e.Type == et {
			return e
		}
	}
	return nil
}

// FuncName returns the name of the function at the given namespace index, for use in stack traces.
func (m *Module) FuncName(moduleName string, funcIdx Index) string {
	var name string
	if m.NameSection != nil {
		for _, n := range m.NameSection.FunctionNames {
			if n.Index == funcIdx {
				name = n.Name
				break
			}
		}
	}
	if name == "" {
		for _, e := range m.ExportSection {
			if e.Type == ExternTypeFunc && e.Index == funcIdx {
				name = e.Name
				break
			}
		}
	}
	if name == "" {
		name = fmt.Sprintf("$%d", funcIdx)
	}
	return moduleName + "." + name
}

// allDeclarations returns all declarations for functions, globals, memories and tables in a module including imported
// ones.
func (m *Module) allDeclarations() (functions []Index, globals []*GlobalType, memories []*MemoryType, tables []*TableType) {
	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			functions = append(functions, imp.DescFunc)
		case ExternTypeGlobal:
			globals = append(globals, imp.DescGlobal)
		case ExternTypeMemory:
			memories = append(memories, imp.DescMem)
		case ExternTypeTable:
			tables = append(tables, imp.DescTable)
		}
	}

	functions = append(functions, m.FunctionSection...)
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	memories = append(memories, m.MemorySection...)
	tables = append(tables, m.TableSection...)
	return
}

// Validate checks the module against the WebAssembly validation rules given the enabled features. On success the
// module is marked validated and can be instantiated.
func (m *Module) Validate(enabledFeatures Features) error {
	if m.validated {
		return nil
	}
	functions, globals, memories, tables := m.allDeclarations()

	if err := m.validateTypes(enabledFeatures); err != nil {
		return err
	}
	if err := m.validateImports(enabledFeatures); err != nil {
		return err
	}
	if len(m.FunctionSection) != len(m.CodeSection) {
		return &ValidationError{Context: "module", Err: fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))}
	}
	if err := validateLimits(memories, tables); err != nil {
		return err
	}
	if err := m.validateGlobals(globals); err != nil {
		return err
	}
	if err := m.validateStartSection(functions); err != nil {
		return err
	}
	if err := m.validateExports(enabledFeatures, functions, globals, memories, tables); err != nil {
		return err
	}
	if err := m.validateElements(enabledFeatures, globals, uint32(len(functions)), uint32(len(tables))); err != nil {
		return err
	}
	if err := m.validateData(enabledFeatures, globals, uint32(len(memories))); err != nil {
		return err
	}
	if !m.isHostModule {
		if err := m.validateFunctions(enabledFeatures, functions, globals, memories, tables); err != nil {
			return err
		}
	}
	m.validated = true
	return nil
}

func (m *Module) validateTypes(enabledFeatures Features) error {
	for i, t := range m.TypeSection {
		if len(t.Results) > 1 {
			if err := enabledFeatures.Require(FeatureMultiValue); err != nil {
				return &ValidationError{Context: fmt.Sprintf("type[%d]", i), Err: fmt.Errorf("multiple result types: %w", err)}
			}
		}
	}
	return nil
}

func (m *Module) validateImports(enabledFeatures Features) error {
	for i, im := range m.ImportSection {
		switch im.Type {
		case ExternTypeFunc:
			if im.DescFunc >= uint32(len(m.TypeSection)) {
				return &ValidationError{Context: fmt.Sprintf("import[%d]", i),
					Err: fmt.Errorf("type index out of range: %d", im.DescFunc)}
			}
		case ExternTypeGlobal:
			if im.DescGlobal.Mutable {
				if err := enabledFeatures.Require(FeatureMutableGlobal); err != nil {
					return &ValidationError{Context: fmt.Sprintf("import[%d] global[%s.%s]", i, im.Module, im.Name),
						Err: fmt.Errorf("mutable global: %w", err)}
				}
			}
		}
	}
	return nil
}

func validateLimits(memories []*MemoryType, tables []*TableType) error {
	if len(memories) > 1 {
		return &ValidationError{Context: "module", Err: fmt.Errorf("multiple memories are not supported")}
	}
	if len(tables) > 1 {
		return &ValidationError{Context: "module", Err: fmt.Errorf("multiple tables are not supported")}
	}
	for _, mem := range memories {
		if mem.Min > MemoryMaxPages {
			return &ValidationError{Context: "memory", Err: fmt.Errorf("min %d pages (%s) over limit of %d pages (%s)",
				mem.Min, PagesToUnitOfBytes(mem.Min), MemoryMaxPages, PagesToUnitOfBytes(MemoryMaxPages))}
		}
		if mem.Max != nil {
			if *mem.Max > MemoryMaxPages {
				return &ValidationError{Context: "memory", Err: fmt.Errorf("max %d pages (%s) over limit of %d pages (%s)",
					*mem.Max, PagesToUnitOfBytes(*mem.Max), MemoryMaxPages, PagesToUnitOfBytes(MemoryMaxPages))}
			}
			if mem.Min > *mem.Max {
				return &ValidationError{Context: "memory", Err: fmt.Errorf("min %d pages > max %d pages", mem.Min, *mem.Max)}
			}
		}
	}
	for _, t := range tables {
		if t.ElemType != ElemTypeFuncref {
			return &ValidationError{Context: "table", Err: fmt.Errorf("unsupported element type %#x", t.ElemType)}
		}
		if t.Limit.Max != nil && t.Limit.Min > *t.Limit.Max {
			return &ValidationError{Context: "table", Err: fmt.Errorf("min %d > max %d", t.Limit.Min, *t.Limit.Max)}
		}
	}
	return nil
}

func (m *Module) validateGlobals(globals []*GlobalType) error {
	importedGlobals := globals[:m.ImportGlobalCount()]
	for i, g := range m.GlobalSection {
		if err := validateConstExpression(importedGlobals, g.Init, g.Type.ValType); err != nil {
			return &ValidationError{Context: fmt.Sprintf("global[%d]", i), Err: err}
		}
	}
	return nil
}

func (m *Module) validateStartSection(functions []Index) error {
	if m.StartSection == nil {
		return nil
	}
	idx := *m.StartSection
	if idx >= uint32(len(functions)) {
		return &ValidationError{Context: "start", Err: fmt.Errorf("function index out of range: %d", idx)}
	}
	if functions[idx] >= uint32(len(m.TypeSection)) {
		return &ValidationError{Context: "start", Err: fmt.Errorf("function[%d] has an invalid type index: %d", idx, functions[idx])}
	}
	ft := m.TypeSection[functions[idx]]
	if len(ft.Params) > 0 || len(ft.Results) > 0 {
		return &ValidationError{Context: "start", Err: fmt.Errorf("function[%d] must have an empty (nullary) signature: %s", idx, ft)}
	}
	return nil
}

func (m *Module) validateExports(enabledFeatures Features, functions []Index, globals []*GlobalType, memories []*MemoryType, tables []*TableType) error {
	seen := make(map[string]struct{}, len(m.ExportSection))
	for _, exp := range m.ExportSection {
		if _, ok := seen[exp.Name]; ok {
			return &ValidationError{Context: fmt.Sprintf("export[%s]", exp.Name), Err: fmt.Errorf("duplicate export name")}
		}
		seen[exp.Name] = struct{}{}

		index := exp.Index
		var count int
		switch exp.Type {
		case ExternTypeFunc:
			count = len(functions)
		case ExternTypeGlobal:
			count = len(globals)
			if index < uint32(count) && globals[index].Mutable {
				if err := enabledFeatures.Require(FeatureMutableGlobal); err != nil {
					return &ValidationError{Context: fmt.Sprintf("export[%s]", exp.Name), Err: fmt.Errorf("mutable global: %w", err)}
				}
			}
		case ExternTypeMemory:
			count = len(memories)
		case ExternTypeTable:
			count = len(tables)
		default:
			return &ValidationError{Context: fmt.Sprintf("export[%s]", exp.Name), Err: fmt.Errorf("unknown export type %#x", exp.Type)}
		}
		if index >= uint32(count) {
			return &ValidationError{Context: fmt.Sprintf("export[%s]", exp.Name),
				Err: fmt.Errorf("%s index out of range: %d", ExternTypeName(exp.Type), index)}
		}
	}
	return nil
}

func (m *Module) validateElements(enabledFeatures Features, globals []*GlobalType, numFuncs, numTables uint32) error {
	importedGlobals := globals[:m.ImportGlobalCount()]
	for i, elem := range m.ElementSection {
		ctx := fmt.Sprintf("element[%d]", i)
		if elem.Mode != ElementModeActive {
			if err := enabledFeatures.Require(FeatureBulkMemoryOperations); err != nil {
				return &ValidationError{Context: ctx, Err: fmt.Errorf("non-active element segment: %w", err)}
			}
		} else {
			if elem.TableIndex >= numTables {
				return &ValidationError{Context: ctx, Err: fmt.Errorf("table index out of range: %d", elem.TableIndex)}
			}
			if err := validateConstExpression(importedGlobals, elem.OffsetExpr, ValueTypeI32); err != nil {
				return &ValidationError{Context: ctx, Err: err}
			}
		}
		for _, funcIdx := range elem.Init {
			if funcIdx >= numFuncs {
				return &ValidationError{Context: ctx, Err: fmt.Errorf("function index out of range: %d", funcIdx)}
			}
		}
	}
	return nil
}

func (m *Module) validateData(enabledFeatures Features, globals []*GlobalType, numMemories uint32) error {
	if m.DataCountSection != nil {
		if err := enabledFeatures.Require(FeatureBulkMemoryOperations); err != nil {
			return &ValidationError{Context: "data_count", Err: err}
		}
		if *m.DataCountSection != uint32(len(m.DataSection)) {
			return &ValidationError{Context: "data_count", Err: fmt.Errorf("data count %d != data section length %d",
				*m.DataCountSection, len(m.DataSection))}
		}
	}
	importedGlobals := globals[:m.ImportGlobalCount()]
	for i, d := range m.DataSection {
		ctx := fmt.Sprintf("data[%d]", i)
		if d.Passive {
			if err := enabledFeatures.Require(FeatureBulkMemoryOperations); err != nil {
				return &ValidationError{Context: ctx, Err: fmt.Errorf("passive data segment: %w", err)}
			}
			continue
		}
		if numMemories == 0 {
			return &ValidationError{Context: ctx, Err: fmt.Errorf("unknown memory")}
		}
		if err := validateConstExpression(importedGlobals, d.OffsetExpression, ValueTypeI32); err != nil {
			return &ValidationError{Context: ctx, Err: err}
		}
	}
	return nil
}

// validateConstExpression ensures the expression is a constant of the expected type. Only imported, immutable
// globals may be read.
func validateConstExpression(importedGlobals []*GlobalType, expr *ConstantExpression, expectedType ValueType) error {
	if expr == nil {
		return fmt.Errorf("missing constant expression")
	}
	var actualType ValueType
	switch expr.Opcode {
	case OpcodeI32Const:
		actualType = ValueTypeI32
	case OpcodeI64Const:
		actualType = ValueTypeI64
	case OpcodeF32Const:
		actualType = ValueTypeF32
	case OpcodeF64Const:
		actualType = ValueTypeF64
	case OpcodeGlobalGet:
		idx, _, err := loadIndex(expr.Data)
		if err != nil {
			return fmt.Errorf("read global index: %w", err)
		}
		if idx >= uint32(len(importedGlobals)) {
			return fmt.Errorf("global index out of range: %d (only imported globals may be used in constant expressions)", idx)
		}
		g := importedGlobals[idx]
		if g.Mutable {
			return fmt.Errorf("constant expression reads mutable global[%d]", idx)
		}
		actualType = g.ValType
	default:
		return fmt.Errorf("invalid opcode for const expression: %#x", expr.Opcode)
	}
	if actualType != expectedType {
		return fmt.Errorf("const expression type mismatch: expected %s, but was %s",
			ValueTypeName(expectedType), ValueTypeName(actualType))
	}
	return nil
}

// String implements fmt.Stringer, summarizing the section sizes for logging.
func (m *Module) String() string {
	var b strings.Builder
	b.WriteString("module{")
	fmt.Fprintf(&b, "types=%d imports=%d funcs=%d tables=%d memories=%d globals=%d exports=%d elements=%d data=%d",
		len(m.TypeSection), len(m.ImportSection), len(m.FunctionSection), len(m.TableSection),
		len(m.MemorySection), len(m.GlobalSection), len(m.ExportSection), len(m.ElementSection), len(m.DataSection))
	b.WriteString("}")
	return b.String()
}
