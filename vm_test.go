package wasmedge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/sys"
)

func TestNewVM(t *testing.T) {
	t.Run("nil configure", func(t *testing.T) {
		vm := NewVM(nil)
		defer vm.Close()
		require.Nil(t, vm.WasiModule())
		require.Nil(t, vm.Statistics())
	})

	t.Run("wasi", func(t *testing.T) {
		vm := NewVM(NewConfigure(HostRegistrationWasi))
		defer vm.Close()
		require.NotNil(t, vm.WasiModule())
		require.Equal(t, WasiStateUninitialized, vm.WasiModule().State())
	})

	t.Run("statistics", func(t *testing.T) {
		vm := NewVM(NewConfigure().WithStatistics(StatisticsInstructionCounting))
		defer vm.Close()
		require.NotNil(t, vm.Statistics())
	})
}

func TestVM_Workflow(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	require.ErrorIs(t, vm.Validate(), ErrWrongVMWorkflow)
	require.ErrorIs(t, vm.Instantiate(), ErrWrongVMWorkflow)
	_, err := vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)
	_, err = vm.GetFunctionType("add")
	require.ErrorIs(t, err, ErrWrongVMWorkflow)

	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	require.ErrorIs(t, vm.Instantiate(), ErrWrongVMWorkflow)
	_, err = vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)

	require.NoError(t, vm.Validate())
	_, err = vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)

	require.NoError(t, vm.Instantiate())
	results, err := vm.Execute("add", int32(1), int32(2))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(3)}, results)

	// Instantiating again replaces the active module.
	require.NoError(t, vm.Instantiate())
	results, err = vm.Execute("add", int32(3), int32(4))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(7)}, results)

	// Loading a new module requires the workflow to start over.
	require.NoError(t, vm.LoadWasmBuffer(doubleWasm()))
	_, err = vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)
}

func TestVM_LoadWasmBuffer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "text format", input: []byte("(module)")},
		{name: "empty", input: []byte{}},
		{name: "truncated", input: arithWasm()[:20]},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			vm := NewVM(nil)
			defer vm.Close()

			err := vm.LoadWasmBuffer(tc.input)
			require.ErrorIs(t, err, ErrMalformedBinary)
			require.ErrorIs(t, vm.Validate(), ErrWrongVMWorkflow)
		})
	}
}

func TestVM_LoadWasmFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arith.wasm")
	require.NoError(t, os.WriteFile(path, arithWasm(), 0o600))

	vm := NewVM(nil)
	defer vm.Close()

	results, err := vm.RunWasmFromFile(path, "add", int32(20), int32(22))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(42)}, results)

	require.ErrorIs(t, vm.LoadWasmFile(path+".missing"), os.ErrNotExist)
}

func TestVM_Execute(t *testing.T) {
	tests := []struct {
		name     string
		funcName string
		params   []interface{}
		expected []interface{}
	}{
		{name: "i32", funcName: "add", params: []interface{}{int32(-1), int32(2)}, expected: []interface{}{int32(1)}},
		{name: "i32 overflow", funcName: "add", params: []interface{}{int32(math.MaxInt32), int32(1)}, expected: []interface{}{int32(math.MinInt32)}},
		{name: "uint32", funcName: "add", params: []interface{}{uint32(math.MaxUint32), uint32(2)}, expected: []interface{}{int32(1)}},
		{name: "int64", funcName: "echo", params: []interface{}{int64(-5)}, expected: []interface{}{int64(-5)}},
		{name: "uint64", funcName: "echo", params: []interface{}{uint64(math.MaxUint64)}, expected: []interface{}{int64(-1)}},
		{name: "multi-value", funcName: "swap", params: []interface{}{float32(1.5), 2.25}, expected: []interface{}{2.25, float32(1.5)}},
	}

	vm := NewVM(nil)
	defer vm.Close()
	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	require.NoError(t, vm.Validate())
	require.NoError(t, vm.Instantiate())

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			results, err := vm.Execute(tc.funcName, tc.params...)
			require.NoError(t, err)
			require.Equal(t, tc.expected, results)
		})
	}
}

func TestVM_Execute_Errors(t *testing.T) {
	tests := []struct {
		name          string
		funcName      string
		params        []interface{}
		expectedErr   error
		expectedInErr string
	}{
		{name: "not exported", funcName: "sub", expectedErr: ErrExportNotFound},
		{name: "not a function", funcName: "memory", expectedErr: ErrExportNotFound},
		{name: "too few params", funcName: "add", params: []interface{}{int32(1)}, expectedErr: ErrArityOrTypeMismatch},
		{name: "too many params", funcName: "echo", params: []interface{}{int64(1), int64(2)}, expectedErr: ErrArityOrTypeMismatch},
		{
			name:          "wrong type",
			funcName:      "add",
			params:        []interface{}{int32(1), int64(2)},
			expectedErr:   ErrArityOrTypeMismatch,
			expectedInErr: "param[1] of .add is i32, but passed int64",
		},
		{name: "untyped int", funcName: "add", params: []interface{}{1, 2}, expectedErr: ErrArityOrTypeMismatch},
		{name: "f64 for f32", funcName: "swap", params: []interface{}{1.5, 2.5}, expectedErr: ErrArityOrTypeMismatch},
	}

	vm := NewVM(nil)
	defer vm.Close()
	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	require.NoError(t, vm.Validate())
	require.NoError(t, vm.Instantiate())

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := vm.Execute(tc.funcName, tc.params...)
			require.ErrorIs(t, err, tc.expectedErr)
			if tc.expectedInErr != "" {
				require.Contains(t, err.Error(), tc.expectedInErr)
			}
		})
	}

	// Rejected calls do not trap the instance.
	results, err := vm.Execute("add", int32(1), int32(1))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(2)}, results)
}

func TestVM_Execute_Trap(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	vm := NewVM(NewConfigure().WithLogger(zap.New(core)))
	defer vm.Close()

	_, err := vm.RunWasmFromBuffer(arithWasm(), "div_s", int32(1), int32(0))
	require.ErrorIs(t, err, ErrTrap)
	require.ErrorIs(t, err, ErrTrapIntegerDivideByZero)
	var trap *Trap
	require.True(t, errors.As(err, &trap))

	require.Equal(t, 1, logs.FilterMessage("trapped").Len())
	entry := logs.All()[0]
	require.Equal(t, "vm", entry.LoggerName)
	require.Equal(t, zapcore.WarnLevel, entry.Level)

	// The instance is unusable after a trap, until instantiated again.
	_, err = vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrInstanceTrapped)

	require.NoError(t, vm.Instantiate())
	results, err := vm.Execute("add", int32(1), int32(2))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(3)}, results)

	_, err = vm.Execute("div_s", int32(math.MinInt32), int32(-1))
	require.ErrorIs(t, err, ErrTrapIntegerOverflow)

	require.NoError(t, vm.Instantiate())
	_, err = vm.Execute("unreachable")
	require.ErrorIs(t, err, ErrTrapUnreachable)
}

func TestVM_Execute_CallStackOverflow(t *testing.T) {
	vm := NewVM(NewConfigure().WithMaxCallStackDepth(10))
	defer vm.Close()

	_, err := vm.RunWasmFromBuffer(arithWasm(), "recurse")
	require.ErrorIs(t, err, ErrTrapCallStackOverflow)
}

func TestVM_RegisterModuleFromBuffer(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	require.NoError(t, vm.RegisterModuleFromBuffer("env", doubleWasm()))
	require.ErrorIs(t, vm.RegisterModuleFromBuffer("env", doubleWasm()), ErrDuplicateModule)

	results, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(3))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(12)}, results)

	results, err = vm.ExecuteRegistered("env", "double", int32(21))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(42)}, results)

	_, err = vm.ExecuteRegistered("math", "double", int32(21))
	require.ErrorIs(t, err, ErrExportNotFound)
}

func TestVM_RegisterModuleFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "double.wasm")
	require.NoError(t, os.WriteFile(path, doubleWasm(), 0o600))

	vm := NewVM(nil)
	defer vm.Close()

	require.NoError(t, vm.RegisterModuleFromFile("env", path))
	results, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(5))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(20)}, results)
}

func TestVM_Instantiate_UnresolvedImport(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	_, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(3))
	require.ErrorIs(t, err, ErrUnresolvedImport)
	require.Contains(t, err.Error(), "env.double")
	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	require.Equal(t, "env", importErr.Module)
	require.Equal(t, "double", importErr.Name)

	// The VM is still usable: registering the missing module fixes the import.
	require.NoError(t, vm.RegisterModuleFromBuffer("env", doubleWasm()))
	require.NoError(t, vm.Instantiate())
	results, err := vm.Execute("quad", int32(3))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(12)}, results)
}

func TestVM_Instantiate_ImportSignatureMismatch(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	env := NewHostModule("env").AddFunction("double", []api.ValueType{i64}, []api.ValueType{i64},
		func(context.Context, api.Module, []uint64) ([]uint64, error) { return []uint64{0}, nil })
	require.NoError(t, vm.RegisterHostModule(env))

	_, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(3))
	require.ErrorIs(t, err, ErrImportSignatureMismatch)
}

func TestVM_Instantiate_MemoryLimit(t *testing.T) {
	vm := NewVM(NewConfigure().WithMemoryLimitPages(0))
	defer vm.Close()

	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	require.NoError(t, vm.Validate())
	require.ErrorIs(t, vm.Instantiate(), ErrResourceLimitExceeded)
	_, err := vm.Execute("add", int32(1), int32(2))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)
}

func TestVM_Validate_DisabledFeature(t *testing.T) {
	vm := NewVM(NewConfigure().WithFeatureMultiValue(false))
	defer vm.Close()

	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	err := vm.Validate()
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, vm.Instantiate(), ErrWrongVMWorkflow)
}

func TestVM_RegisterHostModule(t *testing.T) {
	vm := NewVM(NewConfigure().WithStatistics(StatisticsCostMeasuring | StatisticsInstructionCounting))
	defer vm.Close()

	var calls []uint32
	env := NewHostModule("env").
		AddFunction("double", []api.ValueType{i32}, []api.ValueType{i32},
			func(_ context.Context, _ api.Module, params []uint64) ([]uint64, error) {
				calls = append(calls, uint32(params[0]))
				return []uint64{params[0] * 2}, nil
			}).
		WithCost("double", 100)
	require.Equal(t, "env", env.Name())
	require.NoError(t, vm.RegisterHostModule(env))

	results, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(3))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int32(12)}, results)
	require.Equal(t, []uint32{3, 6}, calls)

	stats := vm.Statistics()
	require.Equal(t, uint64(2), stats.HostCalls())
	require.True(t, stats.TotalCost() >= 200)
	require.NotZero(t, stats.InstrCount())
}

func TestVM_RegisterHostModule_Errors(t *testing.T) {
	noop := func(context.Context, api.Module, []uint64) ([]uint64, error) { return nil, nil }

	t.Run("cost of undefined function", func(t *testing.T) {
		vm := NewVM(nil)
		defer vm.Close()
		err := vm.RegisterHostModule(NewHostModule("env").AddFunction("f", nil, nil, noop).WithCost("g", 1))
		require.EqualError(t, err, "host module[env]: func[g] is not defined")
	})

	t.Run("duplicate function", func(t *testing.T) {
		vm := NewVM(nil)
		defer vm.Close()
		err := vm.RegisterHostModule(NewHostModule("env").AddFunction("f", nil, nil, noop).AddFunction("f", nil, nil, noop))
		require.EqualError(t, err, "func[env.f] is defined twice")
	})

	t.Run("duplicate module", func(t *testing.T) {
		vm := NewVM(NewConfigure(HostRegistrationWasi))
		defer vm.Close()
		err := vm.RegisterHostModule(NewHostModule(WasiModuleName).AddFunction("f", nil, nil, noop))
		require.ErrorIs(t, err, ErrDuplicateModule)
	})
}

func TestVM_HostFunctionError(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	hostErr := errors.New("host failure")
	env := NewHostModule("env").AddFunction("double", []api.ValueType{i32}, []api.ValueType{i32},
		func(context.Context, api.Module, []uint64) ([]uint64, error) { return nil, hostErr })
	require.NoError(t, vm.RegisterHostModule(env))

	_, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(3))
	require.ErrorIs(t, err, hostErr)
	require.False(t, errors.Is(err, ErrTrap))
}

func TestVM_HostFunction_UpperBitsOfI32(t *testing.T) {
	tests := []struct {
		name     string
		value    uint64
		call     string
		expected []interface{}
		err      error
	}{
		{
			// -1 as a sign-extended uint64: plus one, the address must not wrap to zero.
			name:  "load past the end",
			value: 0xffff_ffff_ffff_ffff,
			call:  "load",
			err:   ErrTrapOutOfBoundsMemoryAccess,
		},
		{
			name:     "zero with a stray upper bit",
			value:    1 << 32,
			call:     "branch",
			expected: []interface{}{int32(2)},
		},
		{
			name:     "one with a stray upper bit",
			value:    1<<32 | 1,
			call:     "branch",
			expected: []interface{}{int32(1)},
		},
	}

	for _, tc := range tests {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			vm := NewVM(nil)
			defer vm.Close()

			env := NewHostModule("env").AddFunction("value", nil, []api.ValueType{i32},
				func(context.Context, api.Module, []uint64) ([]uint64, error) { return []uint64{tt.value}, nil })
			require.NoError(t, vm.RegisterHostModule(env))

			results, err := vm.RunWasmFromBuffer(hostValueWasm(), tt.call)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, results)
		})
	}
}

func TestVM_Execute_ProcExit(t *testing.T) {
	t.Run("non-zero", func(t *testing.T) {
		vm := NewVM(NewConfigure(HostRegistrationWasi))
		defer vm.Close()

		_, err := vm.RunWasmFromBuffer(exitWasm(42), "_start")
		var exitErr *sys.ExitError
		require.True(t, errors.As(err, &exitErr))
		require.Equal(t, uint32(42), exitErr.ExitCode())
		require.Equal(t, uint32(42), vm.WasiModule().ExitCode())
		require.Equal(t, WasiStateExited, vm.WasiModule().State())
		require.False(t, errors.Is(err, ErrTrap))

		// Exiting is not a trap, so the module can run again.
		_, err = vm.Execute("_start")
		require.True(t, errors.As(err, &exitErr))
	})

	t.Run("zero", func(t *testing.T) {
		vm := NewVM(NewConfigure(HostRegistrationWasi))
		defer vm.Close()

		results, err := vm.RunWasmFromBuffer(exitWasm(0), "_start")
		require.NoError(t, err)
		require.Nil(t, results)
		require.Zero(t, vm.WasiModule().ExitCode())
	})

	t.Run("without wasi", func(t *testing.T) {
		vm := NewVM(nil)
		defer vm.Close()

		_, err := vm.RunWasmFromBuffer(exitWasm(0), "_start")
		require.ErrorIs(t, err, ErrUnresolvedImport)
		require.Contains(t, err.Error(), "wasi_snapshot_preview1.proc_exit")
	})
}

func TestVM_CostLimit(t *testing.T) {
	vm := NewVM(NewConfigure().WithStatistics(StatisticsCostMeasuring).WithCostLimit(1000))
	defer vm.Close()

	_, err := vm.RunWasmFromBuffer(arithWasm(), "spin")
	require.ErrorIs(t, err, ErrTrapCostLimitExceeded)
	stats := vm.Statistics()
	require.Equal(t, uint64(1000), stats.CostLimit())
	require.True(t, stats.TotalCost() <= 1000)
	require.True(t, stats.TotalCost() > 900)
}

func TestVM_CostTable(t *testing.T) {
	table := make([]uint64, 256)
	table[0x6a] = 7 // i32.add
	vm := NewVM(NewConfigure().WithStatistics(StatisticsCostMeasuring).WithCostTable(table))
	defer vm.Close()

	_, err := vm.RunWasmFromBuffer(arithWasm(), "add", int32(1), int32(2))
	require.NoError(t, err)
	require.Equal(t, uint64(7), vm.Statistics().TotalCost())

	vm.Statistics().Reset()
	require.Zero(t, vm.Statistics().TotalCost())
}

func TestVM_GetFunctionList(t *testing.T) {
	vm := NewVM(nil)
	defer vm.Close()

	names, types := vm.GetFunctionList()
	require.Empty(t, names)
	require.Empty(t, types)

	require.NoError(t, vm.LoadWasmBuffer(arithWasm()))
	require.NoError(t, vm.Validate())
	require.NoError(t, vm.Instantiate())

	names, types = vm.GetFunctionList()
	require.Equal(t, []string{"add", "div_s", "echo", "recurse", "spin", "swap", "unreachable"}, names)
	require.Equal(t, "(i32, i32) -> (i32)", types[0].String())
	require.Equal(t, "(f32, f64) -> (f64, f32)", types[5].String())
	require.Equal(t, "() -> ()", types[6].String())

	ft, err := vm.GetFunctionType("echo")
	require.NoError(t, err)
	require.Equal(t, &FunctionType{Params: []api.ValueType{i64}, Results: []api.ValueType{i64}}, ft)

	_, err = vm.GetFunctionType("memory")
	require.ErrorIs(t, err, ErrExportNotFound)
}

func TestVM_Cleanup(t *testing.T) {
	vm := NewVM(NewConfigure(HostRegistrationWasi).WithStatistics(StatisticsInstructionCounting))
	defer vm.Close()

	wasiBefore := vm.WasiModule()
	require.NoError(t, wasiBefore.Initialize([]string{"a"}, nil, nil))
	require.NoError(t, vm.RegisterModuleFromBuffer("env", doubleWasm()))
	_, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(1))
	require.NoError(t, err)
	require.NotZero(t, vm.Statistics().InstrCount())

	require.NoError(t, vm.Cleanup())

	_, err = vm.Execute("quad", int32(1))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)
	require.Zero(t, vm.Statistics().InstrCount())

	// Registered modules are gone, but built-in ones are back.
	_, err = vm.RunWasmFromBuffer(quadWasm(), "quad", int32(1))
	require.ErrorIs(t, err, ErrUnresolvedImport)
	require.NotSame(t, wasiBefore, vm.WasiModule())
	require.Equal(t, WasiStateUninitialized, vm.WasiModule().State())
}

func TestVM_Close(t *testing.T) {
	vm := NewVM(NewConfigure(HostRegistrationWasi))
	require.NoError(t, vm.WasiModule().Initialize(nil, nil, []string{t.TempDir()}))
	require.NoError(t, vm.RegisterModuleFromBuffer("env", doubleWasm()))
	_, err := vm.RunWasmFromBuffer(quadWasm(), "quad", int32(1))
	require.NoError(t, err)

	require.NoError(t, vm.Close())
	_, err = vm.Execute("quad", int32(1))
	require.ErrorIs(t, err, ErrWrongVMWorkflow)
	// Closing twice is not an error.
	require.NoError(t, vm.Close())
}

// TestVM_Concurrent shows independent VMs share nothing and can run at the same time.
func TestVM_Concurrent(t *testing.T) {
	const vms = 8
	outputs := make([]bytes.Buffer, vms)

	var g errgroup.Group
	for i := 0; i < vms; i++ {
		i := i
		g.Go(func() error {
			vm := NewVM(NewConfigure(HostRegistrationWasi).WithStdout(&outputs[i]))
			defer vm.Close()

			if err := vm.WasiModule().Initialize([]string{fmt.Sprintf("vm%d", i)}, nil, nil); err != nil {
				return err
			}
			if _, err := vm.RunWasmFromBuffer(printEnvWasm(), "_start"); err != nil {
				return err
			}
			results, err := vm.RunWasmFromBuffer(arithWasm(), "add", int32(i), int32(i))
			if err != nil {
				return err
			}
			if results[0] != int32(2*i) {
				return fmt.Errorf("vm%d: unexpected result %v", i, results[0])
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range outputs {
		require.Equal(t, fmt.Sprintf("vm%d\n", i), outputs[i].String())
	}
}
