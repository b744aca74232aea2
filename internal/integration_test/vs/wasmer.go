//go:build amd64 && cgo && !windows

package vs

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

func init() {
	cgoRuntimes = append(cgoRuntimes, &wasmerRuntime{engine: wasmer.NewEngine()})
}

type wasmerRuntime struct {
	engine *wasmer.Engine
}

func (r *wasmerRuntime) Name() string {
	return "wasmer"
}

func (r *wasmerRuntime) Instantiate(wasm []byte) (Module, error) {
	// A store isn't reused, as it limits the count of instances created in it.
	store := wasmer.NewStore(r.engine)
	module, err := wasmer.NewModule(store, wasm)
	if err != nil {
		return nil, err
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, err
	}
	return &wasmerModule{instance: instance, funcs: map[string]wasmer.NativeFunction{}}, nil
}

type wasmerModule struct {
	instance *wasmer.Instance
	funcs    map[string]wasmer.NativeFunction
}

func (m *wasmerModule) CallI64(funcName string, param int64) (int64, error) {
	fn, ok := m.funcs[funcName]
	if !ok {
		var err error
		if fn, err = m.instance.Exports.GetFunction(funcName); err != nil {
			return 0, err
		}
		m.funcs[funcName] = fn
	}
	result, err := fn(param)
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Close is a no-op as the instance is released by the garbage collector.
func (m *wasmerModule) Close() error {
	return nil
}
