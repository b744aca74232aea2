package wasm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/leb128"
	"github.com/wasmedge-go/wasmedge/internal/logging"
)

type (
	// Store is the runtime representation of "instantiated" Wasm module and objects.
	// Multiple modules can be instantiated within a single store, and each instance,
	// (e.g. function instance) can be referenced by other module instances in a Store via Module.ImportSection.
	//
	// Every type whose name ends with "Instance" suffix belongs to exactly one store. Imports are only resolved
	// against the namespace of the same store, so instances never cross stores.
	//
	// Note: Instantiate, CloseModule and Module are goroutine-safe. Calls into a module instance are not, so one
	// instance must only execute one function at a time.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
	Store struct {
		// EnabledFeatures are read-only to allow optimizations.
		EnabledFeatures Features

		// Engine is a global context for a Store which is in responsible for compilation and execution of Wasm modules.
		Engine Engine

		// Limits cap allocations of instantiated modules.
		Limits Limits

		// Logger receives instantiation events. Defaults to the "store" logger of the logging package.
		Logger *zap.Logger

		// modules holds the instantiated Wasm modules by module name from Instantiate. A nil value reserves a name
		// while its module is being instantiated.
		modules map[string]*ModuleInstance

		// typeIDs maps each FunctionType.String() to a unique FunctionTypeID. This is used at runtime to
		// do type-checks on indirect function calls.
		typeIDs map[string]FunctionTypeID

		mux sync.RWMutex
	}

	// Limits are resource caps applied at instantiation.
	Limits struct {
		// MemoryMaxPages caps the pages any memory may have, initially or after growing.
		MemoryMaxPages uint32
		// TableMaxElements caps the initial size of any table.
		TableMaxElements uint32
	}

	// ModuleInstance represents instantiated wasm module.
	// The difference from the spec is that in wasmedge, a ModuleInstance holds pointers
	// to the instances, rather than "addresses" (i.e. index to Store.Functions, Globals, etc) for convenience.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-moduleinst
	ModuleInstance struct {
		Name string
		// Source is the module this was instantiated from.
		Source    *Module
		Exports   map[string]*ExportInstance
		Functions []*FunctionInstance
		Globals   []*GlobalInstance
		// Memory is set when Module.MemorySection had a memory or one was imported, regardless of whether it was
		// exported.
		Memory *MemoryInstance
		Table  *TableInstance
		// TypeIDs are the store-wide IDs of each entry in Module.TypeSection.
		TypeIDs []FunctionTypeID

		// DataInstances are the passive data segments by index, or nil when dropped or active.
		DataInstances [][]byte

		// ElementInstances are the passive element segments by index, or nil when dropped, active or declarative.
		ElementInstances [][]*FunctionInstance

		// Engine implements function calls for this module.
		Engine ModuleEngine

		// Ctx is the api.Module passed to host functions called by this module.
		Ctx *ModuleContext

		// trapped is set when a call which entered through this module trapped.
		trapped atomic.Bool
	}

	// ExportInstance represents an exported instance in a Store.
	// The difference from the spec is that in wasmedge, a ExportInstance holds pointers
	// to the instances, rather than "addresses" (i.e. index to Store.Functions, Globals, etc) for convenience.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-exportinst
	ExportInstance struct {
		Type     ExternType
		Function *FunctionInstance
		Global   *GlobalInstance
		Memory   *MemoryInstance
		Table    *TableInstance
	}

	// FunctionInstance represents a function instance in a Store.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
	FunctionInstance struct {
		// Name is for debugging purpose, and is used to argument the stack traces. Ex. "env.add" or "math.$3"
		Name string

		// Type is the signature of this function.
		Type *FunctionType

		// TypeID is assigned by a store for Type.
		TypeID FunctionTypeID

		// Module holds the pointer to the module instance to which this function belongs.
		Module *ModuleInstance

		// Idx is the index of this function in the function index namespace of Module.
		Idx Index

		// LocalTypes holds types of locals, excluding parameters.
		LocalTypes []ValueType

		// Body is the function body in WebAssembly Binary Format, ending in OpcodeEnd.
		Body []byte

		// GoFunc is non-nil when the function is implemented in Go. Body is empty in that case.
		GoFunc *HostFunc
	}

	// FunctionTypeID is a uniquely assigned integer for a function type.
	// This is wasmedge specific runtime object and specific to a store,
	// and used at runtime to do type-checks on indirect function calls.
	FunctionTypeID uint32
)

// maximumFunctionTypes represents the limit on the number of function types in a store.
const maximumFunctionTypes = 1 << 27

// DefaultLimits returns the limits imposed by WebAssembly 1.0 (20191205) itself.
func DefaultLimits() Limits {
	return Limits{MemoryMaxPages: MemoryMaxPages, TableMaxElements: math.MaxUint32}
}

func NewStore(enabledFeatures Features, engine Engine, limits Limits) *Store {
	return &Store{
		EnabledFeatures: enabledFeatures,
		Engine:          engine,
		Limits:          limits,
		Logger:          logging.Named("store"),
		modules:         map[string]*ModuleInstance{},
		typeIDs:         map[string]FunctionTypeID{},
	}
}

// Instantiate resolves the imports of a validated module against this store, allocates its instances, applies its
// segments and runs its start function. On success, the module is available to import from under the given name.
//
// A failure leaves the store as it was before the call, except when the start function wrote to imported memory or
// tables before failing.
func (s *Store) Instantiate(ctx context.Context, module *Module, name string) (*ModuleInstance, error) {
	if !module.Validated() {
		return nil, fmt.Errorf("module[%s]: %w", name, ErrNotValidated)
	}
	if err := s.reserveName(name); err != nil {
		return nil, err
	}

	instance, err := s.instantiate(module, name)
	if err != nil {
		s.deleteModule(name)
		s.Logger.Debug("instantiation failed", zap.String("module", name), zap.Error(err))
		return nil, err
	}

	// Execute the start function.
	if module.StartSection != nil {
		start := instance.Functions[*module.StartSection]
		if _, err = start.Module.Engine.Call(ctx, instance.Ctx, start); err != nil {
			s.deleteModule(name)
			instance.Engine.Close()
			s.Logger.Warn("start function failed", zap.String("module", name), zap.Error(err))
			return nil, &StartError{ModuleName: name, Err: err}
		}
	}

	s.mux.Lock()
	s.modules[name] = instance
	s.mux.Unlock()
	s.Logger.Debug("instantiated", zap.String("module", name),
		zap.Int("imports", len(module.ImportSection)), zap.Int("exports", len(instance.Exports)))
	return instance, nil
}

func (s *Store) instantiate(module *Module, name string) (*ModuleInstance, error) {
	importedFunctions, importedGlobals, importedTable, importedMemory, err := s.resolveImports(module)
	if err != nil {
		return nil, err
	}

	typeIDs, err := s.getTypeIDs(module.TypeSection)
	if err != nil {
		return nil, err
	}

	instance := &ModuleInstance{Name: name, Source: module, TypeIDs: typeIDs, Memory: importedMemory, Table: importedTable}
	instance.Ctx = NewModuleContext(instance)

	instance.Functions = append(instance.Functions, importedFunctions...)
	moduleFunctions := instance.buildFunctions(module, typeIDs)
	instance.Functions = append(instance.Functions, moduleFunctions...)

	instance.Globals = append(instance.Globals, importedGlobals...)
	for _, g := range module.GlobalSection {
		instance.Globals = append(instance.Globals, &GlobalInstance{
			Type: g.Type,
			Val:  executeConstExpression(importedGlobals, g.Init),
		})
	}

	for _, mem := range module.MemorySection {
		if instance.Memory, err = NewMemoryInstance(mem, s.Limits.MemoryMaxPages); err != nil {
			return nil, fmt.Errorf("module[%s]: %w", name, err)
		}
	}
	for _, t := range module.TableSection {
		if instance.Table, err = NewTableInstance(t, s.Limits.TableMaxElements); err != nil {
			return nil, fmt.Errorf("module[%s]: %w", name, err)
		}
	}

	// Bounds of all active segments are checked before any is applied, as the memory or table may be imported.
	if err = instance.validateElements(module.ElementSection); err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	if err = instance.validateData(module.DataSection); err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}

	if instance.Engine, err = s.Engine.NewModuleEngine(name, module, importedFunctions, moduleFunctions); err != nil {
		return nil, fmt.Errorf("module[%s]: compilation failed: %w", name, err)
	}

	instance.applyElements(module.ElementSection)
	instance.applyData(module.DataSection)
	instance.buildExports(module.ExportSection)
	return instance, nil
}

func (m *ModuleInstance) buildFunctions(module *Module, typeIDs []FunctionTypeID) []*FunctionInstance {
	importCount := module.ImportFuncCount()
	ret := make([]*FunctionInstance, len(module.FunctionSection))
	for i, typeIdx := range module.FunctionSection {
		idx := importCount + Index(i)
		code := module.CodeSection[i]
		ret[i] = &FunctionInstance{
			Name:       module.FuncName(m.Name, idx),
			Type:       module.TypeSection[typeIdx],
			TypeID:     typeIDs[typeIdx],
			Module:     m,
			Idx:        idx,
			LocalTypes: code.LocalTypes,
			Body:       code.Body,
			GoFunc:     code.GoFunc,
		}
	}
	return ret
}

func (m *ModuleInstance) buildExports(exports []*Export) {
	m.Exports = make(map[string]*ExportInstance, len(exports))
	for _, exp := range exports {
		index := exp.Index
		var ei *ExportInstance
		switch exp.Type {
		case ExternTypeFunc:
			ei = &ExportInstance{Type: exp.Type, Function: m.Functions[index]}
		case ExternTypeGlobal:
			ei = &ExportInstance{Type: exp.Type, Global: m.Globals[index]}
		case ExternTypeMemory:
			ei = &ExportInstance{Type: exp.Type, Memory: m.Memory}
		case ExternTypeTable:
			ei = &ExportInstance{Type: exp.Type, Table: m.Table}
		}
		// We already validated the duplicates during module validation phase.
		m.Exports[exp.Name] = ei
	}
}

func (m *ModuleInstance) validateData(data []*DataSegment) error {
	for i, d := range data {
		if d.Passive {
			continue
		}
		offset := uint64(uint32(executeConstExpression(m.Globals, d.OffsetExpression)))
		if offset+uint64(len(d.Init)) > uint64(len(m.Memory.Buffer)) {
			return fmt.Errorf("data[%d]: %w: offset %d + %d bytes > memory size %d",
				i, ErrTrapOutOfBoundsMemoryAccess, offset, len(d.Init), len(m.Memory.Buffer))
		}
	}
	return nil
}

func (m *ModuleInstance) applyData(data []*DataSegment) {
	m.DataInstances = make([][]byte, len(data))
	for i, d := range data {
		if d.Passive {
			m.DataInstances[i] = d.Init
			continue
		}
		offset := uint32(executeConstExpression(m.Globals, d.OffsetExpression))
		copy(m.Memory.Buffer[offset:], d.Init)
	}
}

func (m *ModuleInstance) validateElements(elements []*ElementSegment) error {
	for i, elem := range elements {
		if elem.Mode != ElementModeActive {
			continue
		}
		offset := uint32(executeConstExpression(m.Globals, elem.OffsetExpr))
		if err := m.Table.checkSegmentBounds(offset, len(elem.Init)); err != nil {
			return fmt.Errorf("element[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *ModuleInstance) applyElements(elements []*ElementSegment) {
	m.ElementInstances = make([][]*FunctionInstance, len(elements))
	for i, elem := range elements {
		refs := make([]*FunctionInstance, len(elem.Init))
		for j, funcIdx := range elem.Init {
			refs[j] = m.Functions[funcIdx]
		}
		switch elem.Mode {
		case ElementModePassive:
			m.ElementInstances[i] = refs
		case ElementModeActive:
			offset := uint32(executeConstExpression(m.Globals, elem.OffsetExpr))
			copy(m.Table.References[offset:], refs)
		}
	}
}

// GetExport returns an export of the given name and type or errs if not exported or the wrong type.
func (m *ModuleInstance) GetExport(name string, et ExternType) (*ExportInstance, error) {
	exp, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not exported in module %q", ErrExportNotFound, name, m.Name)
	}
	if exp.Type != et {
		return nil, fmt.Errorf("%w: export %q in module %q is a %s, not a %s",
			ErrExportNotFound, name, m.Name, ExternTypeName(exp.Type), ExternTypeName(et))
	}
	return exp, nil
}

// Trapped returns true when a call which entered through this module trapped.
func (m *ModuleInstance) Trapped() bool {
	return m.trapped.Load()
}

// Module returns the module instantiated under the given name or nil if there is none.
func (s *Store) Module(moduleName string) *ModuleInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.modules[moduleName]
}

// CloseModule removes the module of the given name from the namespace and releases its resources. Modules which
// imported from it keep working.
func (s *Store) CloseModule(moduleName string) error {
	s.mux.Lock()
	m, ok := s.modules[moduleName]
	if ok && m != nil {
		delete(s.modules, moduleName)
	}
	s.mux.Unlock()
	if !ok || m == nil {
		return fmt.Errorf("module[%s] is not instantiated", moduleName)
	}
	m.Engine.Close()
	return nil
}

// Close closes every module in the store.
func (s *Store) Close() (err error) {
	s.mux.RLock()
	names := make([]string, 0, len(s.modules))
	for name, m := range s.modules {
		if m != nil {
			names = append(names, name)
		}
	}
	s.mux.RUnlock()
	for _, name := range names {
		err = multierr.Append(err, s.CloseModule(name))
	}
	return
}

func (s *Store) reserveName(name string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.modules[name]; ok {
		return fmt.Errorf("module[%s]: %w", name, ErrDuplicateModule)
	}
	s.modules[name] = nil
	return nil
}

func (s *Store) deleteModule(name string) {
	s.mux.Lock()
	delete(s.modules, name)
	s.mux.Unlock()
}

func (s *Store) resolveImports(module *Module) (
	functions []*FunctionInstance, globals []*GlobalInstance,
	table *TableInstance, memory *MemoryInstance,
	err error,
) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	for idx, is := range module.ImportSection {
		importErr := func(cause error, format string, args ...interface{}) error {
			return &ImportError{Index: Index(idx), Module: is.Module, Name: is.Name, Kind: is.Type,
				Err: cause, Detail: fmt.Sprintf(format, args...)}
		}

		m := s.modules[is.Module]
		if m == nil {
			err = importErr(ErrUnresolvedImport, "module[%s] not instantiated", is.Module)
			return
		}
		exp, ok := m.Exports[is.Name]
		if !ok {
			err = importErr(ErrUnresolvedImport, "%q is not exported in module %q", is.Name, is.Module)
			return
		}
		if exp.Type != is.Type {
			err = importErr(ErrImportSignatureMismatch, "export is a %s, not a %s", ExternTypeName(exp.Type), ExternTypeName(is.Type))
			return
		}

		switch is.Type {
		case ExternTypeFunc:
			expectedType := module.TypeSection[is.DescFunc]
			f := exp.Function
			if !f.Type.EqualsSignature(expectedType.Params, expectedType.Results) {
				err = importErr(ErrImportSignatureMismatch, "signature mismatch: %s != %s", expectedType, f.Type)
				return
			}
			functions = append(functions, f)
		case ExternTypeTable:
			tableType := is.DescTable
			if !limitsCompatible(exp.Table.Size(), exp.Table.Max, tableType.Limit) {
				err = importErr(ErrImportSignatureMismatch, "incompatible table limits")
				return
			}
			table = exp.Table
		case ExternTypeMemory:
			if !limitsCompatible(exp.Memory.PageSize(), exp.Memory.DeclaredMax, is.DescMem) {
				err = importErr(ErrImportSignatureMismatch, "incompatible memory limits")
				return
			}
			memory = exp.Memory
		case ExternTypeGlobal:
			globalType := is.DescGlobal
			g := exp.Global
			if globalType.Mutable != g.Type.Mutable {
				err = importErr(ErrImportSignatureMismatch, "mutability mismatch")
				return
			} else if globalType.ValType != g.Type.ValType {
				err = importErr(ErrImportSignatureMismatch, "value type mismatch: %s != %s",
					ValueTypeName(globalType.ValType), ValueTypeName(g.Type.ValType))
				return
			}
			globals = append(globals, g)
		}
	}
	return
}

// executeConstExpression returns the raw bits of a validated constant expression.
func executeConstExpression(globals []*GlobalInstance, expr *ConstantExpression) (v uint64) {
	switch expr.Opcode {
	case OpcodeI32Const:
		i, _, _ := leb128.LoadInt32(expr.Data)
		v = api.EncodeI32(i)
	case OpcodeI64Const:
		i, _, _ := leb128.LoadInt64(expr.Data)
		v = api.EncodeI64(i)
	case OpcodeF32Const:
		v = uint64(binary.LittleEndian.Uint32(expr.Data))
	case OpcodeF64Const:
		v = binary.LittleEndian.Uint64(expr.Data)
	case OpcodeGlobalGet:
		id, _, _ := leb128.LoadUint32(expr.Data)
		v = globals[id].Val
	}
	return
}

func (s *Store) getTypeIDs(ts []*FunctionType) ([]FunctionTypeID, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	ret := make([]FunctionTypeID, len(ts))
	for i, t := range ts {
		key := t.key()
		id, ok := s.typeIDs[key]
		if !ok {
			l := len(s.typeIDs)
			if l >= maximumFunctionTypes {
				return nil, fmt.Errorf("too many function types in a store")
			}
			id = FunctionTypeID(l)
			s.typeIDs[key] = id
		}
		ret[i] = id
	}
	return ret, nil
}

// ParamTypes implements the same method as documented on api.Function
func (f *FunctionInstance) ParamTypes() []api.ValueType {
	return f.Type.Params
}

// ResultTypes implements the same method as documented on api.Function
func (f *FunctionInstance) ResultTypes() []api.ValueType {
	return f.Type.Results
}

// Call implements the same method as documented on api.Function
func (f *FunctionInstance) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return call(ctx, f.Module, f, params)
}

// call invokes f with caller as the module passed to host functions, marking caller as trapped on a trap.
func call(ctx context.Context, caller *ModuleInstance, f *FunctionInstance, params []uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if caller.trapped.Load() {
		return nil, fmt.Errorf("module[%s]: %w", caller.Name, ErrInstanceTrapped)
	}
	if len(params) != len(f.Type.Params) {
		return nil, fmt.Errorf("%w: %s expects %d params, but passed %d",
			ErrArityOrTypeMismatch, f.Name, len(f.Type.Params), len(params))
	}
	results, err := f.Module.Engine.Call(ctx, caller.Ctx, f, params...)
	if err != nil {
		var trap *Trap
		if errors.As(err, &trap) {
			caller.trapped.Store(true)
		}
	}
	return results, err
}
