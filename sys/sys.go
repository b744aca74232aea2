// Package sys includes constants and types used by both public and internal APIs.
package sys

import (
	"fmt"
)

// ExitError is returned to a caller of api.Function when the guest called "proc_exit" from "wasi_snapshot_preview1",
// or a host function otherwise requested the program to exit. ExitCode zero value means success, while any other value
// is an error.
//
// Here's an example of how to get the exit code:
//
//	if _, err := vm.Execute("_start"); err != nil {
//		if exitErr, ok := err.(*sys.ExitError); ok {
//			os.Exit(int(exitErr.ExitCode()))
//		}
//	--snip--
//
// Note: This is not a trap. The instance which exited can still be called.
// See https://github.com/WebAssembly/WASI/blob/main/phases/snapshot/docs.md#proc_exit
type ExitError struct {
	moduleName string
	exitCode   uint32
}

func NewExitError(moduleName string, exitCode uint32) *ExitError {
	return &ExitError{moduleName: moduleName, exitCode: exitCode}
}

// ModuleName is the module whose function requested the exit.
func (e *ExitError) ModuleName() string {
	return e.moduleName
}

// ExitCode returns zero on success, and an arbitrary value otherwise.
func (e *ExitError) ExitCode() uint32 {
	return e.exitCode
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("module %q exited with exit_code(%d)", e.moduleName, e.exitCode)
}

// Is allows use via errors.Is
func (e *ExitError) Is(err error) bool {
	if target, ok := err.(*ExitError); ok {
		return e.moduleName == target.moduleName && e.exitCode == target.exitCode
	}
	return false
}
