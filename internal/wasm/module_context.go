package wasm

import (
	"context"
	"fmt"

	"github.com/wasmedge-go/wasmedge/api"
)

// compile time check to ensure ModuleContext implements api.Module
var _ api.Module = &ModuleContext{}

func NewModuleContext(instance *ModuleInstance) *ModuleContext {
	return &ModuleContext{module: instance}
}

// ModuleContext implements api.Module
type ModuleContext struct {
	module *ModuleInstance
}

// Instance returns the module instance this is the context of.
func (m *ModuleContext) Instance() *ModuleInstance {
	return m.module
}

// Name implements the same method as documented on api.Module
func (m *ModuleContext) Name() string {
	return m.module.Name
}

// String implements the same method as documented on api.Module
func (m *ModuleContext) String() string {
	return fmt.Sprintf("Module[%s]", m.Name())
}

// Memory implements api.Module Memory
func (m *ModuleContext) Memory() api.Memory {
	if mem := m.module.Memory; mem != nil {
		return mem
	}
	return nil
}

// ExportedMemory implements api.Module ExportedMemory
func (m *ModuleContext) ExportedMemory(name string) api.Memory {
	exp, err := m.module.GetExport(name, ExternTypeMemory)
	if err != nil {
		return nil
	}
	return exp.Memory
}

// ExportedFunction implements api.Module ExportedFunction
func (m *ModuleContext) ExportedFunction(name string) api.Function {
	exp, err := m.module.GetExport(name, ExternTypeFunc)
	if err != nil {
		return nil
	}
	if exp.Function.Module == m.module {
		return exp.Function
	}
	return &importedFn{importingModule: m.module, importedFn: exp.Function}
}

// ExportedGlobal implements api.Module ExportedGlobal
func (m *ModuleContext) ExportedGlobal(name string) api.Global {
	exp, err := m.module.GetExport(name, ExternTypeGlobal)
	if err != nil {
		return nil
	}
	return newAPIGlobal(exp.Global)
}

// importedFn implements api.Function and ensures the call context of an imported function is the importing module.
type importedFn struct {
	importingModule *ModuleInstance
	importedFn      *FunctionInstance
}

// ParamTypes implements the same method as documented on api.Function
func (f *importedFn) ParamTypes() []api.ValueType {
	return f.importedFn.ParamTypes()
}

// ResultTypes implements the same method as documented on api.Function
func (f *importedFn) ResultTypes() []api.ValueType {
	return f.importedFn.ResultTypes()
}

// Call implements the same method as documented on api.Function
func (f *importedFn) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return call(ctx, f.importingModule, f.importedFn, params)
}
