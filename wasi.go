package wasmedge

import (
	"github.com/wasmedge-go/wasmedge/internal/wasi"
)

// WasiState is the lifecycle of a WasiModule.
type WasiState = wasi.State

const (
	WasiStateUninitialized = wasi.StateUninitialized
	WasiStateInitialized   = wasi.StateInitialized
	WasiStateRunning       = wasi.StateRunning
	WasiStateExited        = wasi.StateExited
)

// WasiModuleName is the import module name of WASI functions.
const WasiModuleName = wasi.ModuleName

// WasiModule is the "wasi_snapshot_preview1" host module of a VM, registered with HostRegistrationWasi.
type WasiModule struct {
	env *wasi.Environment
}

// Initialize sets the command-line arguments, environment variables and preopened directories seen by the guest. It
// can be called once, before the VM executes a function. Otherwise, it returns ErrAlreadyInitialized.
//
// Each env is in "KEY=VALUE" form, and each preopen is either "guest:host" or a host path also used as the guest
// path.
func (w *WasiModule) Initialize(args, envs, preopens []string) error {
	return w.env.Initialize(args, envs, preopens)
}

// ExitCode returns the code passed to "proc_exit" by the last execution, or zero if it returned normally. It is safe
// to call from any goroutine.
func (w *WasiModule) ExitCode() uint32 {
	return w.env.ExitCode()
}

// State returns where the module is in its lifecycle.
func (w *WasiModule) State() WasiState {
	return w.env.State()
}
