//go:build amd64 && cgo && !windows

package vs

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"
)

func init() {
	cgoRuntimes = append(cgoRuntimes, &wasmtimeRuntime{engine: wasmtime.NewEngine()})
}

type wasmtimeRuntime struct {
	engine *wasmtime.Engine
}

func (r *wasmtimeRuntime) Name() string {
	return "wasmtime"
}

func (r *wasmtimeRuntime) Instantiate(wasm []byte) (Module, error) {
	store := wasmtime.NewStore(r.engine)
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, err
	}
	instance, err := wasmtime.NewInstance(store, module, []wasmtime.AsExtern{})
	if err != nil {
		return nil, err
	}
	return &wasmtimeModule{store: store, instance: instance}, nil
}

type wasmtimeModule struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
}

func (m *wasmtimeModule) CallI64(funcName string, param int64) (int64, error) {
	fn := m.instance.GetFunc(m.store, funcName)
	if fn == nil {
		return 0, fmt.Errorf("%s is not an exported function", funcName)
	}
	result, err := fn.Call(m.store, param)
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Close is a no-op as wasmtime has no way to destroy an instance, other than garbage collection.
func (m *wasmtimeModule) Close() error {
	return nil
}
