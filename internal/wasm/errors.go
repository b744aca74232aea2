package wasm

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned while loading, linking or instantiating a module. They are fail-fast: the module or instance which
// caused them must be discarded.
var (
	ErrMalformedBinary         = errors.New("malformed binary")
	ErrValidation              = errors.New("validation failed")
	ErrNotValidated            = errors.New("module has not been validated")
	ErrUnresolvedImport        = errors.New("unresolved import")
	ErrImportSignatureMismatch = errors.New("import signature mismatch")
	ErrResourceLimitExceeded   = errors.New("resource limit exceeded")
	ErrStartFunctionTrapped    = errors.New("start function trapped")
	ErrExportNotFound          = errors.New("export not found")
	ErrArityOrTypeMismatch     = errors.New("arity or type mismatch")
	ErrDuplicateModule         = errors.New("module already instantiated")
	ErrInstanceTrapped         = errors.New("instance is unusable after a trap")
)

// ErrTrap matches every Trap, regardless of its reason.
var ErrTrap = errors.New("wasm trap")

// Trap reasons. A Trap wraps exactly one of these.
var (
	// ErrTrapCallStackOverflow indicates that there are too many function calls,
	// and the Engine terminated the execution.
	ErrTrapCallStackOverflow = errors.New("call stack exhausted")
	// ErrTrapInvalidConversionToInteger indicates the Wasm function tries to
	// convert NaN floating point value to integers during trunc variant instructions.
	ErrTrapInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrTrapIntegerOverflow indicates that an integer arithmetic resulted in
	// overflow value. For example, when the program tried to truncate a float value
	// which doesn't fit in the range of target integer.
	ErrTrapIntegerOverflow = errors.New("integer overflow")
	// ErrTrapIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrTrapIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrTrapUnreachable means "unreachable" instruction was executed by the program.
	ErrTrapUnreachable = errors.New("unreachable")
	// ErrTrapOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrTrapOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrTrapInvalidTableAccess means an offset into the table was out of its bounds.
	ErrTrapInvalidTableAccess = errors.New("invalid table access")
	// ErrTrapUninitializedElement means call_indirect selected an empty table slot.
	ErrTrapUninitializedElement = errors.New("uninitialized element")
	// ErrTrapIndirectCallTypeMismatch indicates that the type check failed during call_indirect.
	ErrTrapIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
	// ErrTrapCostLimitExceeded means the configured instruction cost limit was reached.
	ErrTrapCostLimitExceeded = errors.New("cost limit exceeded")
)

// Trap is the result of a function invocation which aborted. Reason is one of the ErrTrap* sentinels, so both
// errors.Is(err, ErrTrap) and errors.Is(err, ErrTrapUnreachable) hold for an unreachable trap.
type Trap struct {
	Reason error
	// Stack are the names of the functions on the call stack when the trap happened, innermost first.
	Stack []string
}

// Error implements error
func (t *Trap) Error() string {
	if len(t.Stack) == 0 {
		return fmt.Sprintf("%s: %v", ErrTrap, t.Reason)
	}
	var b strings.Builder
	b.WriteString(ErrTrap.Error())
	b.WriteString(": ")
	b.WriteString(t.Reason.Error())
	b.WriteString(" (recovered by wasmedge)\nwasm stack trace:")
	for _, f := range t.Stack {
		b.WriteString("\n\t")
		b.WriteString(f)
	}
	return b.String()
}

func (t *Trap) Unwrap() error {
	return t.Reason
}

func (t *Trap) Is(target error) bool {
	return target == ErrTrap
}

// DecodeError is a ErrMalformedBinary at a byte offset of the binary.
type DecodeError struct {
	Offset uint64
	Err    error
}

// Error implements error
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: offset %#x: %v", ErrMalformedBinary, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedBinary
}

// ValidationError names the construct which failed validation, ex. "function[3]" or "export[memory]".
type ValidationError struct {
	Context string
	// Offset is the position in the function body, when the error is about an instruction.
	Offset *uint64
	Err    error
}

// Error implements error
func (e *ValidationError) Error() string {
	if e.Offset != nil {
		return fmt.Sprintf("invalid %s: %v at offset %#x", e.Context, e.Err, *e.Offset)
	}
	return fmt.Sprintf("invalid %s: %v", e.Context, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ImportError is ErrUnresolvedImport or ErrImportSignatureMismatch for the import Module.Name.
type ImportError struct {
	Index  Index
	Module string
	Name   string
	Kind   ExternType
	Err    error
	Detail string
}

// Error implements error
func (e *ImportError) Error() string {
	msg := fmt.Sprintf("import[%d] %s[%s.%s]: %v", e.Index, ExternTypeName(e.Kind), e.Module, e.Name, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// StartError wraps the trap or exit raised by the start function of a module.
type StartError struct {
	ModuleName string
	Err        error
}

// Error implements error
func (e *StartError) Error() string {
	return fmt.Sprintf("module[%s] start function failed: %v", e.ModuleName, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

func (e *StartError) Is(target error) bool {
	return target == ErrStartFunctionTrapped
}
