package wasm

import "context"

// Engine is a Store-scoped mechanism to compile functions declared or imported by a module.
// This is a top-level type implemented by an interpreter.
type Engine interface {
	// NewModuleEngine compiles down the function instances in a module, and returns ModuleEngine for the module.
	//
	//   - name is the name the module was instantiated with used for error handling.
	//   - module is the validated source of moduleFunctions.
	//   - importedFunctions: functions this module imports, already compiled in this engine or defined in Go.
	//   - moduleFunctions: functions declared in this module that must be compiled.
	//
	// Note: Input parameters must be pre-validated with wasm.Module Validate, to ensure no fields are invalid
	// due to reasons such as out-of-bounds.
	NewModuleEngine(name string, module *Module, importedFunctions, moduleFunctions []*FunctionInstance) (ModuleEngine, error)
}

// ModuleEngine implements function calls for a given module.
type ModuleEngine interface {
	// Name returns the name of the module this engine was compiled for.
	Name() string

	// Call invokes a function instance f with given parameters. callCtx is the module passed to host functions when
	// f is one.
	//
	// Returns the results from the function, or an error which is a *Trap, a *sys.ExitError or an error returned by
	// a host function.
	Call(ctx context.Context, callCtx *ModuleContext, f *FunctionInstance, params ...uint64) (results []uint64, err error)

	// Close releases the resources allocated by functions in this ModuleEngine.
	Close()
}
