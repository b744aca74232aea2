// Package vs compares the interpreter of this module with other WebAssembly runtimes on the same binaries.
package vs

import (
	"fmt"

	"github.com/wasmedge-go/wasmedge"
)

// Runtime instantiates a WebAssembly binary which doesn't import anything.
type Runtime interface {
	Name() string
	Instantiate(wasm []byte) (Module, error)
}

// Module is an instantiated binary whose exported functions take and return a single i64.
type Module interface {
	CallI64(funcName string, param int64) (int64, error)
	Close() error
}

// Runtimes returns every runtime available in this build. Runtimes implemented with cgo are only included when cgo is
// enabled.
func Runtimes() []Runtime {
	return append([]Runtime{&wasmedgeRuntime{}}, cgoRuntimes...)
}

// cgoRuntimes is appended to by files built with cgo.
var cgoRuntimes []Runtime

type wasmedgeRuntime struct{}

func (r *wasmedgeRuntime) Name() string {
	return "wasmedge"
}

func (r *wasmedgeRuntime) Instantiate(wasm []byte) (Module, error) {
	vm := wasmedge.NewVM(nil)
	if err := vm.LoadWasmBuffer(wasm); err != nil {
		return nil, err
	}
	if err := vm.Validate(); err != nil {
		return nil, err
	}
	if err := vm.Instantiate(); err != nil {
		return nil, err
	}
	return &wasmedgeModule{vm: vm}, nil
}

type wasmedgeModule struct {
	vm *wasmedge.VM
}

func (m *wasmedgeModule) CallI64(funcName string, param int64) (int64, error) {
	results, err := m.vm.Execute(funcName, param)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("%s returned %d results", funcName, len(results))
	}
	return results[0].(int64), nil
}

func (m *wasmedgeModule) Close() error {
	return m.vm.Close()
}
