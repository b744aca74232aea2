package wasm

import (
	"fmt"
	"sort"

	"github.com/wasmedge-go/wasmedge/api"
)

// HostFunc is a function implemented in Go with an inlined type, used for NewHostModule.
// Any corresponding FunctionType will be reused or added to the Module.
type HostFunc struct {
	// Name is the export name of the function, and also its debug name.
	Name string

	ParamTypes  []ValueType
	ResultTypes []ValueType

	// Cost is added to the statistics cost on each call.
	Cost uint64

	// Call is the implementation. It is passed the module of the caller.
	Call api.GoFunction
}

// NewHostModule builds a validated module exporting Go functions and globals under their names. Resolving an import
// of (moduleName, name) then finds the host function in the same way as any other export.
func NewHostModule(
	moduleName string,
	funcs []*HostFunc,
	nameToGlobal map[string]*Global,
	enabledFeatures Features,
) (m *Module, err error) {
	m = &Module{NameSection: &NameSection{ModuleName: moduleName}, isHostModule: true}

	names := make(map[string]struct{}, len(funcs)+len(nameToGlobal))
	for _, f := range funcs {
		if f.Call == nil {
			return nil, fmt.Errorf("func[%s.%s] has no implementation", moduleName, f.Name)
		}
		if _, ok := names[f.Name]; ok {
			return nil, fmt.Errorf("func[%s.%s] is defined twice", moduleName, f.Name)
		}
		names[f.Name] = struct{}{}
	}
	for name := range nameToGlobal {
		if _, ok := names[name]; ok {
			return nil, fmt.Errorf("global[%s.%s] exports the same name as a func", moduleName, name)
		}
	}

	if err = addFuncs(m, funcs, enabledFeatures); err != nil {
		return nil, err
	}
	addGlobals(m, nameToGlobal)

	if err = m.Validate(enabledFeatures); err != nil {
		return nil, fmt.Errorf("host module[%s]: %w", moduleName, err)
	}
	return m, nil
}

func addFuncs(m *Module, funcs []*HostFunc, enabledFeatures Features) error {
	if len(funcs) == 0 {
		return nil
	}
	sorted := make([]*HostFunc, len(funcs))
	copy(sorted, funcs)
	// Sort names for consistent iteration
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	funcCount := len(sorted)
	m.NameSection.FunctionNames = make(NameMap, 0, funcCount)
	m.FunctionSection = make([]Index, 0, funcCount)
	m.CodeSection = make([]*Code, 0, funcCount)

	for i, hf := range sorted {
		idx := Index(i)
		typeIdx, err := m.maybeAddType(hf.ParamTypes, hf.ResultTypes, enabledFeatures)
		if err != nil {
			return fmt.Errorf("func[%s.%s] %v", m.NameSection.ModuleName, hf.Name, err)
		}
		m.FunctionSection = append(m.FunctionSection, typeIdx)
		m.CodeSection = append(m.CodeSection, &Code{GoFunc: hf})
		m.ExportSection = append(m.ExportSection, &Export{Type: ExternTypeFunc, Name: hf.Name, Index: idx})
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &NameAssoc{Index: idx, Name: hf.Name})
	}
	return nil
}

func addGlobals(m *Module, globals map[string]*Global) {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}
	sort.Strings(globalNames) // For consistent iteration order

	for i, name := range globalNames {
		m.GlobalSection = append(m.GlobalSection, globals[name])
		m.ExportSection = append(m.ExportSection, &Export{Type: ExternTypeGlobal, Name: name, Index: Index(i)})
	}
}

func (m *Module) maybeAddType(params, results []ValueType, enabledFeatures Features) (Index, error) {
	if len(results) > 1 {
		// Guard >1.0 feature multi-value
		if err := enabledFeatures.Require(FeatureMultiValue); err != nil {
			return 0, fmt.Errorf("multiple result types invalid as %v", err)
		}
	}
	for i, t := range m.TypeSection {
		if t.EqualsSignature(params, results) {
			return Index(i), nil
		}
	}

	result := Index(len(m.TypeSection))
	m.TypeSection = append(m.TypeSection, &FunctionType{Params: params, Results: results})
	return result, nil
}
