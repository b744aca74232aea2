package wasmedge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/engine/interpreter"
	"github.com/wasmedge-go/wasmedge/internal/logging"
	"github.com/wasmedge-go/wasmedge/internal/statistics"
	"github.com/wasmedge-go/wasmedge/internal/wasi"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
	"github.com/wasmedge-go/wasmedge/internal/wasm/binary"
	"github.com/wasmedge-go/wasmedge/sys"
)

// vmStage is how far the active module went through the VM workflow.
type vmStage uint8

const (
	stageInitialized vmStage = iota
	stageLoaded
	stageValidated
	stageInstantiated
)

// FunctionType is the signature of an exported function.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// String returns the signature in WebAssembly text format style, ex. "(i32, i32) -> (i64)".
func (t *FunctionType) String() string {
	return "(" + valueTypeNames(t.Params) + ") -> (" + valueTypeNames(t.Results) + ")"
}

func valueTypeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, vt := range types {
		names[i] = api.ValueTypeName(vt)
	}
	return strings.Join(names, ", ")
}

// VM runs one active module at a time, along with any modules registered under a name for it to import from.
//
// The active module goes through the workflow LoadWasmBuffer (or LoadWasmFile), Validate, Instantiate and then any
// number of Execute. Calling a step before the one it depends on fails with ErrWrongVMWorkflow. RunWasmFromBuffer and
// RunWasmFromFile do all the steps in one call.
//
// Ex.
//
//	vm := wasmedge.NewVM(wasmedge.NewConfigure(wasmedge.HostRegistrationWasi))
//	defer vm.Close()
//
//	results, err := vm.RunWasmFromFile("fib.wasm", "fib", int32(20))
//
// Note: A VM is not goroutine-safe. Use a VM per goroutine: independent VMs share nothing.
type VM struct {
	conf   *Configure
	logger *zap.Logger
	stats  *statistics.Statistics
	store  *wasm.Store
	wasi   *WasiModule

	stage  vmStage
	module *wasm.Module
	active *wasm.ModuleInstance
}

// NewVM returns a VM configured by conf, or NewConfigure() if nil, with the host modules of conf registered.
func NewVM(conf *Configure) *VM {
	if conf == nil {
		conf = NewConfigure()
	}
	v := &VM{conf: conf.clone()}
	base := conf.logger
	if base == nil {
		base = logging.Logger()
	}
	v.logger = base.Named("vm")

	if conf.statisticsFlags != 0 {
		v.stats = statistics.New(conf.statisticsFlags)
		v.stats.SetCostLimit(conf.costLimit)
		if conf.costTable != nil {
			v.stats.SetCostTable(conf.costTable)
		}
	}

	if err := v.reset(base); err != nil {
		// Built-in host modules are known to be valid.
		panic(fmt.Errorf("BUG: %w", err))
	}
	return v
}

// reset replaces the store with an empty one and registers the built-in host modules into it.
func (v *VM) reset(base *zap.Logger) error {
	c := v.conf
	engine := interpreter.NewEngine(interpreter.Config{MaxCallStackDepth: c.maxCallStackDepth, Statistics: v.stats})
	v.store = wasm.NewStore(c.features, engine, wasm.Limits{
		MemoryMaxPages:   c.memoryLimitPages,
		TableMaxElements: c.tableLimit,
	})
	v.store.Logger = base.Named("store")
	v.stage, v.module, v.active, v.wasi = stageInitialized, nil, nil, nil

	if !c.HasHostRegistration(HostRegistrationWasi) {
		return nil
	}
	env := wasi.NewEnvironment(wasi.Config{
		Stdin:      c.stdin,
		Stdout:     c.stdout,
		Stderr:     c.stderr,
		RandSource: c.randSource,
		Walltime:   c.walltime,
		Logger:     base.Named("wasi"),
	})
	m, err := env.Module(c.features)
	if err != nil {
		return err
	}
	if _, err = v.store.Instantiate(context.Background(), m, wasi.ModuleName); err != nil {
		return err
	}
	v.wasi = &WasiModule{env: env}
	return nil
}

// LoadWasmBuffer decodes the binary format of a module, which becomes the active module. Errors wrap
// ErrMalformedBinary.
//
// Note: The text format is not supported.
func (v *VM) LoadWasmBuffer(buf []byte) error {
	m, err := binary.DecodeModule(buf, v.conf.features)
	if err != nil {
		v.stage, v.module = stageInitialized, nil
		return err
	}
	v.stage, v.module = stageLoaded, m
	v.logger.Debug("loaded",
		zap.Int("size", len(buf)),
		zap.Int("imports", len(m.ImportSection)),
		zap.Int("functions", len(m.FunctionSection)),
		zap.Int("exports", len(m.ExportSection)))
	return nil
}

// LoadWasmFile is like LoadWasmBuffer, except it reads the binary from path.
func (v *VM) LoadWasmFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return v.LoadWasmBuffer(buf)
}

// Validate validates the active module. Errors wrap ErrValidation.
func (v *VM) Validate() error {
	if v.stage < stageLoaded {
		return fmt.Errorf("%w: validate before load", ErrWrongVMWorkflow)
	}
	if err := v.module.Validate(v.conf.features); err != nil {
		return err
	}
	v.stage = stageValidated
	v.logger.Debug("validated")
	return nil
}

// Instantiate instantiates the active module, replacing any previously instantiated one. Its imports resolve against
// the registered modules.
func (v *VM) Instantiate() error {
	if v.stage < stageValidated {
		return fmt.Errorf("%w: instantiate before validate", ErrWrongVMWorkflow)
	}
	if v.active != nil {
		_ = v.store.CloseModule(v.active.Name)
		v.active = nil
	}
	inst, err := v.store.Instantiate(context.Background(), v.module, "")
	if err != nil {
		v.stage = stageValidated
		return err
	}
	v.active, v.stage = inst, stageInstantiated
	return nil
}

// Execute calls the exported function name of the active module.
//
// Each param must be int32 or uint32 for an i32, int64 or uint64 for an i64, float32 for an f32 and float64 for an
// f64. Results are returned as int32, int64, float32 or float64.
//
// When the guest calls "proc_exit", the result is nil and the error is a *sys.ExitError, unless the exit code was
// zero, which is a success. Either way, the code is available from WasiModule.ExitCode.
func (v *VM) Execute(name string, params ...interface{}) ([]interface{}, error) {
	return v.ExecuteContext(context.Background(), name, params...)
}

// ExecuteContext is like Execute, except ctx is passed to host functions.
func (v *VM) ExecuteContext(ctx context.Context, name string, params ...interface{}) ([]interface{}, error) {
	if v.stage < stageInstantiated {
		return nil, fmt.Errorf("%w: execute before instantiate", ErrWrongVMWorkflow)
	}
	return v.execute(ctx, v.active, name, params)
}

// ExecuteRegistered calls the exported function name of the module registered under moduleName.
func (v *VM) ExecuteRegistered(moduleName, name string, params ...interface{}) ([]interface{}, error) {
	m := v.store.Module(moduleName)
	if m == nil {
		return nil, fmt.Errorf("%w: module %q is not registered", ErrExportNotFound, moduleName)
	}
	return v.execute(context.Background(), m, name, params)
}

func (v *VM) execute(ctx context.Context, m *wasm.ModuleInstance, name string, params []interface{}) ([]interface{}, error) {
	exp, err := m.GetExport(name, wasm.ExternTypeFunc)
	if err != nil {
		return nil, err
	}
	f := exp.Function
	encoded, err := encodeParams(f, params)
	if err != nil {
		return nil, err
	}

	if v.wasi != nil {
		v.wasi.env.Enter()
		defer v.wasi.env.Leave()
	}
	if v.stats != nil {
		v.stats.StartWasm()
	}
	start := time.Now()
	results, err := f.Call(ctx, encoded...)
	if v.stats != nil {
		v.stats.StopWasm()
	}
	v.logger.Debug("executed", zap.String("func", f.Name), zap.Duration("duration", time.Since(start)))

	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil, nil
			}
			return nil, err
		}
		if errors.Is(err, ErrTrap) {
			v.logger.Warn("trapped", zap.String("func", f.Name), zap.Error(err))
		}
		return nil, err
	}
	return decodeResults(f.Type.Results, results), nil
}

// RegisterModuleFromBuffer decodes, validates and instantiates a module under moduleName, for the active module to
// import from. Registering does not change the active module.
func (v *VM) RegisterModuleFromBuffer(moduleName string, buf []byte) error {
	m, err := binary.DecodeModule(buf, v.conf.features)
	if err != nil {
		return err
	}
	if err = m.Validate(v.conf.features); err != nil {
		return err
	}
	if _, err = v.store.Instantiate(context.Background(), m, moduleName); err != nil {
		return err
	}
	v.logger.Debug("registered", zap.String("module", moduleName))
	return nil
}

// RegisterModuleFromFile is like RegisterModuleFromBuffer, except it reads the binary from path.
func (v *VM) RegisterModuleFromFile(moduleName, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return v.RegisterModuleFromBuffer(moduleName, buf)
}

// RegisterHostModule makes the functions of h available to import under h.Name().
func (v *VM) RegisterHostModule(h *HostModule) error {
	m, err := h.build(v.conf.features)
	if err != nil {
		return err
	}
	if _, err = v.store.Instantiate(context.Background(), m, h.name); err != nil {
		return err
	}
	v.logger.Debug("registered", zap.String("module", h.name), zap.Int("functions", len(h.funcs)))
	return nil
}

// RunWasmFromBuffer loads, validates and instantiates buf as the active module, then executes the function name.
func (v *VM) RunWasmFromBuffer(buf []byte, name string, params ...interface{}) ([]interface{}, error) {
	if err := v.LoadWasmBuffer(buf); err != nil {
		return nil, err
	}
	return v.validateInstantiateExecute(name, params)
}

// RunWasmFromFile is like RunWasmFromBuffer, except it reads the binary from path.
func (v *VM) RunWasmFromFile(path, name string, params ...interface{}) ([]interface{}, error) {
	if err := v.LoadWasmFile(path); err != nil {
		return nil, err
	}
	return v.validateInstantiateExecute(name, params)
}

func (v *VM) validateInstantiateExecute(name string, params []interface{}) ([]interface{}, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := v.Instantiate(); err != nil {
		return nil, err
	}
	return v.Execute(name, params...)
}

// GetFunctionType returns the signature of the exported function name of the active module.
func (v *VM) GetFunctionType(name string) (*FunctionType, error) {
	if v.stage < stageInstantiated {
		return nil, fmt.Errorf("%w: function type before instantiate", ErrWrongVMWorkflow)
	}
	exp, err := v.active.GetExport(name, wasm.ExternTypeFunc)
	if err != nil {
		return nil, err
	}
	return newFunctionType(exp.Function.Type), nil
}

// GetFunctionList returns the names of functions exported by the active module, sorted, and their signatures. Both
// are empty before Instantiate.
func (v *VM) GetFunctionList() ([]string, []*FunctionType) {
	if v.stage < stageInstantiated {
		return nil, nil
	}
	var names []string
	for name, exp := range v.active.Exports {
		if exp.Type == wasm.ExternTypeFunc {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	types := make([]*FunctionType, len(names))
	for i, name := range names {
		types[i] = newFunctionType(v.active.Exports[name].Function.Type)
	}
	return names, types
}

func newFunctionType(ft *wasm.FunctionType) *FunctionType {
	return &FunctionType{
		Params:  append([]api.ValueType(nil), ft.Params...),
		Results: append([]api.ValueType(nil), ft.Results...),
	}
}

// WasiModule returns the WASI host module, or nil unless configured with HostRegistrationWasi.
func (v *VM) WasiModule() *WasiModule {
	return v.wasi
}

// Statistics returns the measurements of this VM, or nil unless configured with Configure.WithStatistics.
func (v *VM) Statistics() *Statistics {
	if v.stats == nil {
		return nil
	}
	return &Statistics{s: v.stats}
}

// Cleanup drops the active module and all registered modules, resets the statistics and registers fresh built-in host
// modules. The WASI module returned by WasiModule before is closed and replaced.
func (v *VM) Cleanup() error {
	err := v.closeStore()
	if v.stats != nil {
		v.stats.Reset()
	}
	base := v.conf.logger
	if base == nil {
		base = logging.Logger()
	}
	if resetErr := v.reset(base); resetErr != nil {
		panic(fmt.Errorf("BUG: %w", resetErr))
	}
	return err
}

// Close releases all modules and closes the files opened by WASI.
func (v *VM) Close() error {
	err := v.closeStore()
	v.stage, v.module, v.active = stageInitialized, nil, nil
	return err
}

func (v *VM) closeStore() (err error) {
	err = v.store.Close()
	if v.wasi != nil {
		err = multierr.Append(err, v.wasi.env.Close())
	}
	return
}

// encodeParams converts params of Execute to the api.ValueType encoding of f.
func encodeParams(f *wasm.FunctionInstance, params []interface{}) ([]uint64, error) {
	types := f.Type.Params
	if len(params) != len(types) {
		return nil, fmt.Errorf("%w: %s expects %d params, but passed %d",
			ErrArityOrTypeMismatch, f.Name, len(types), len(params))
	}
	encoded := make([]uint64, len(params))
	for i, p := range params {
		ok := true
		switch types[i] {
		case api.ValueTypeI32:
			switch p := p.(type) {
			case int32:
				encoded[i] = api.EncodeI32(p)
			case uint32:
				encoded[i] = uint64(p)
			default:
				ok = false
			}
		case api.ValueTypeI64:
			switch p := p.(type) {
			case int64:
				encoded[i] = api.EncodeI64(p)
			case uint64:
				encoded[i] = p
			default:
				ok = false
			}
		case api.ValueTypeF32:
			var p32 float32
			if p32, ok = p.(float32); ok {
				encoded[i] = api.EncodeF32(p32)
			}
		case api.ValueTypeF64:
			var p64 float64
			if p64, ok = p.(float64); ok {
				encoded[i] = api.EncodeF64(p64)
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: param[%d] of %s is %s, but passed %T",
				ErrArityOrTypeMismatch, i, f.Name, api.ValueTypeName(types[i]), p)
		}
	}
	return encoded, nil
}

func decodeResults(types []api.ValueType, results []uint64) []interface{} {
	decoded := make([]interface{}, len(results))
	for i, r := range results {
		switch types[i] {
		case api.ValueTypeI32:
			decoded[i] = api.DecodeI32(r)
		case api.ValueTypeI64:
			decoded[i] = int64(r)
		case api.ValueTypeF32:
			decoded[i] = api.DecodeF32(r)
		case api.ValueTypeF64:
			decoded[i] = api.DecodeF64(r)
		}
	}
	return decoded
}
