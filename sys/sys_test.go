package sys

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type notExitError struct {
	moduleName string
	exitCode   uint32
}

func (e *notExitError) Error() string {
	return "not exit error"
}

func TestExitError_Is(t *testing.T) {
	err := NewExitError("some module", 2)
	tests := []struct {
		name    string
		target  error
		matches bool
	}{
		{
			name:    "same object",
			target:  err,
			matches: true,
		},
		{
			name:    "same content",
			target:  NewExitError("some module", 2),
			matches: true,
		},
		{
			name:    "different module name",
			target:  NewExitError("not some module", 2),
			matches: false,
		},
		{
			name:    "different exit code",
			target:  NewExitError("some module", 0),
			matches: false,
		},
		{
			name:    "different type",
			target:  &notExitError{moduleName: "some module", exitCode: 2},
			matches: false,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.matches, errors.Is(err, tc.target))
		})
	}
}

func TestExitError_wrapped(t *testing.T) {
	err := fmt.Errorf("_start: %w", NewExitError("print_env", 42))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, uint32(42), exitErr.ExitCode())
	require.Equal(t, "print_env", exitErr.ModuleName())
	require.EqualError(t, exitErr, `module "print_env" exited with exit_code(42)`)
}
