package wasmedge

import (
	"errors"

	"github.com/wasmedge-go/wasmedge/internal/wasi"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// ErrWrongVMWorkflow is returned when a VM method is called before the step it depends on, ex. VM.Execute before
// VM.Instantiate.
var ErrWrongVMWorkflow = errors.New("wrong VM workflow")

// Errors returned while loading, validating or instantiating a module. Use errors.Is to match them, as they are
// usually wrapped with the module and index which failed.
var (
	ErrMalformedBinary         = wasm.ErrMalformedBinary
	ErrValidation              = wasm.ErrValidation
	ErrNotValidated            = wasm.ErrNotValidated
	ErrUnresolvedImport        = wasm.ErrUnresolvedImport
	ErrImportSignatureMismatch = wasm.ErrImportSignatureMismatch
	ErrResourceLimitExceeded   = wasm.ErrResourceLimitExceeded
	ErrStartFunctionTrapped    = wasm.ErrStartFunctionTrapped
	ErrDuplicateModule         = wasm.ErrDuplicateModule
)

// Errors returned while executing a function.
var (
	ErrExportNotFound      = wasm.ErrExportNotFound
	ErrArityOrTypeMismatch = wasm.ErrArityOrTypeMismatch
	ErrInstanceTrapped     = wasm.ErrInstanceTrapped
)

// ErrTrap matches any trap. A trap also matches exactly one of the ErrTrap* reasons below.
var ErrTrap = wasm.ErrTrap

var (
	ErrTrapCallStackOverflow          = wasm.ErrTrapCallStackOverflow
	ErrTrapInvalidConversionToInteger = wasm.ErrTrapInvalidConversionToInteger
	ErrTrapIntegerOverflow            = wasm.ErrTrapIntegerOverflow
	ErrTrapIntegerDivideByZero        = wasm.ErrTrapIntegerDivideByZero
	ErrTrapUnreachable                = wasm.ErrTrapUnreachable
	ErrTrapOutOfBoundsMemoryAccess    = wasm.ErrTrapOutOfBoundsMemoryAccess
	ErrTrapInvalidTableAccess         = wasm.ErrTrapInvalidTableAccess
	ErrTrapUninitializedElement       = wasm.ErrTrapUninitializedElement
	ErrTrapIndirectCallTypeMismatch   = wasm.ErrTrapIndirectCallTypeMismatch
	ErrTrapCostLimitExceeded          = wasm.ErrTrapCostLimitExceeded
)

// Errors returned by WasiModule.Initialize.
var (
	ErrAlreadyInitialized = wasi.ErrAlreadyInitialized
	ErrInvalidEnv         = wasi.ErrInvalidEnv
)

// Structured errors, for use with errors.As.
type (
	DecodeError     = wasm.DecodeError
	ValidationError = wasm.ValidationError
	ImportError     = wasm.ImportError
	StartError      = wasm.StartError
	Trap            = wasm.Trap
)
