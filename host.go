package wasmedge

import (
	"fmt"

	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// HostModule defines functions implemented in Go, to be imported by guests once registered with
// VM.RegisterHostModule.
//
// Ex. Below defines "env.log_i32", with a cost of 10 for each call:
//
//	env := wasmedge.NewHostModule("env").
//		AddFunction("log_i32", []api.ValueType{api.ValueTypeI32}, nil, logI32).
//		WithCost("log_i32", 10)
//	err := vm.RegisterHostModule(env)
type HostModule struct {
	name  string
	funcs []*wasm.HostFunc
	// err is the first error of a builder method, returned on registration.
	err error
}

// NewHostModule returns an empty module which guests import under moduleName.
func NewHostModule(moduleName string) *HostModule {
	return &HostModule{name: moduleName}
}

// Name returns the module name guests import from.
func (h *HostModule) Name() string {
	return h.name
}

// AddFunction exports fn under name. Parameters and results are encoded as documented on api.ValueType.
//
// Note: fn returning an error aborts the call with that error. It does not trap the caller.
func (h *HostModule) AddFunction(name string, params, results []api.ValueType, fn api.GoFunction) *HostModule {
	h.funcs = append(h.funcs, &wasm.HostFunc{
		Name:        name,
		ParamTypes:  params,
		ResultTypes: results,
		Call:        fn,
	})
	return h
}

// WithCost sets the cost added to statistics on each call of the function name. It defaults to zero.
func (h *HostModule) WithCost(name string, cost uint64) *HostModule {
	for _, f := range h.funcs {
		if f.Name == name {
			f.Cost = cost
			return h
		}
	}
	if h.err == nil {
		h.err = fmt.Errorf("host module[%s]: func[%s] is not defined", h.name, name)
	}
	return h
}

// build returns the module to instantiate.
func (h *HostModule) build(enabledFeatures wasm.Features) (*wasm.Module, error) {
	if h.err != nil {
		return nil, h.err
	}
	return wasm.NewHostModule(h.name, h.funcs, nil, enabledFeatures)
}
