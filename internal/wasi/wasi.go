// Package wasi implements the host module "wasi_snapshot_preview1", giving guests arguments, environment variables,
// clocks, randomness, process exit and file descriptors limited to stdio and preopened directories.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md
package wasi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wasmedge-go/wasmedge/internal/logging"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// ModuleName is the module name WASI functions are imported from.
const ModuleName = "wasi_snapshot_preview1"

var (
	// ErrAlreadyInitialized is returned by Environment.Initialize unless it is the first call before any execution.
	ErrAlreadyInitialized = errors.New("wasi: already initialized")
	// ErrInvalidEnv is returned by Environment.Initialize for an environment variable not in KEY=VALUE form.
	ErrInvalidEnv = errors.New("wasi: invalid environment variable")
)

// State is the lifecycle of an Environment.
type State uint32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Config holds the host resources given to the guest. Zero values are replaced by defaults in NewEnvironment.
type Config struct {
	// Stdin defaults to a reader which is always at EOF.
	Stdin io.Reader
	// Stdout defaults to io.Discard.
	Stdout io.Writer
	// Stderr defaults to io.Discard.
	Stderr io.Writer
	// RandSource defaults to crypto/rand.Reader.
	RandSource io.Reader
	// Walltime defaults to time.Now.
	Walltime func() time.Time
	// Nanotime returns monotonic nanoseconds. It defaults to the time elapsed since NewEnvironment.
	Nanotime func() int64
	// Nanosleep blocks "poll_oneoff" for ns nanoseconds, or until ctx is done. It defaults to a timer.
	Nanosleep func(ctx context.Context, ns int64) error
	// Logger defaults to the "wasi" logger of the logging package.
	Logger *zap.Logger
}

// Environment is the state of one WASI host module: its arguments, environment variables, file descriptors and exit
// code.
//
// Initialize, State and ExitCode are goroutine-safe. The host functions are called by one guest at a time.
type Environment struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	randSource io.Reader
	walltime   func() time.Time
	nanotime   func() int64
	nanosleep  func(ctx context.Context, ns int64) error
	logger     *zap.Logger

	state    atomic.Uint32
	exitCode atomic.Uint32

	// mux guards the fields below. Initialize writes them while other goroutines may read the state.
	mux     sync.Mutex
	args    []string
	environ []string
	fds     *fdTable
}

// NewEnvironment returns an uninitialized environment with only the stdio file descriptors open.
func NewEnvironment(c Config) *Environment {
	e := &Environment{
		stdin:      c.Stdin,
		stdout:     c.Stdout,
		stderr:     c.Stderr,
		randSource: c.RandSource,
		walltime:   c.Walltime,
		nanotime:   c.Nanotime,
		nanosleep:  c.Nanosleep,
		logger:     c.Logger,
	}
	if e.stdin == nil {
		e.stdin = eofReader{}
	}
	if e.stdout == nil {
		e.stdout = io.Discard
	}
	if e.stderr == nil {
		e.stderr = io.Discard
	}
	if e.randSource == nil {
		e.randSource = rand.Reader
	}
	if e.walltime == nil {
		e.walltime = time.Now
	}
	if e.nanotime == nil {
		start := time.Now()
		e.nanotime = func() int64 { return int64(time.Since(start)) }
	}
	if e.nanosleep == nil {
		e.nanosleep = sleep
	}
	if e.logger == nil {
		e.logger = logging.Named("wasi")
	}
	e.fds = newFDTable(e.stdin, e.stdout, e.stderr)
	return e
}

// Initialize sets the arguments, environment variables and preopened directories the guest sees.
//
// envs are in KEY=VALUE form. preopens are "guest:host" mappings, or a single path used for both. This can only be
// called once, and only before the guest runs, otherwise ErrAlreadyInitialized is returned.
func (e *Environment) Initialize(args, envs, preopens []string) error {
	e.mux.Lock()
	defer e.mux.Unlock()

	if s := State(e.state.Load()); s != StateUninitialized {
		return fmt.Errorf("%w: state is %s", ErrAlreadyInitialized, s)
	}
	for i, a := range args {
		if strings.IndexByte(a, 0) != -1 {
			return fmt.Errorf("wasi: arg[%d] contains a NUL character", i)
		}
	}
	for _, env := range envs {
		if i := strings.IndexByte(env, '='); i <= 0 || strings.IndexByte(env, 0) != -1 {
			return fmt.Errorf("%w: %q", ErrInvalidEnv, env)
		}
	}

	var dirs []*fileEntry
	for _, p := range preopens {
		d, err := openPreopen(p)
		if err != nil {
			return err
		}
		dirs = append(dirs, d)
	}
	for _, d := range dirs {
		e.fds.insert(d)
	}

	e.args = append([]string(nil), args...)
	e.environ = append([]string(nil), envs...)
	e.state.Store(uint32(StateInitialized))
	e.logger.Info("initialized",
		zap.Int("args", len(e.args)), zap.Int("envs", len(e.environ)), zap.Int("preopens", len(dirs)))
	return nil
}

// State returns the current lifecycle state.
func (e *Environment) State() State {
	return State(e.state.Load())
}

// ExitCode returns the exit code of the last run. It is zero unless the guest called proc_exit with another value.
func (e *Environment) ExitCode() uint32 {
	return e.exitCode.Load()
}

// Enter marks the start of a guest execution, which resets the exit code. Initialize fails after this.
func (e *Environment) Enter() {
	e.exitCode.Store(0)
	e.state.Store(uint32(StateRunning))
}

// Leave marks the end of a guest execution, whether it returned, trapped or exited.
func (e *Environment) Leave() {
	e.state.Store(uint32(StateExited))
}

// exit records the exit code requested by the guest.
func (e *Environment) exit(code uint32) {
	e.exitCode.Store(code)
	e.state.Store(uint32(StateExited))
	e.logger.Info("proc_exit", zap.Uint32("exit_code", code))
}

// Close closes all files the guest opened, as well as preopened directories.
func (e *Environment) Close() (err error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	for _, fd := range e.fds.list() {
		if f, ok := e.fds.remove(fd); ok && f.file != nil {
			err = multierr.Append(err, f.file.Close())
		}
	}
	return
}

// Module returns a validated host module named ModuleName, whose functions operate on this environment.
func (e *Environment) Module(enabledFeatures wasm.Features) (*wasm.Module, error) {
	return wasm.NewHostModule(ModuleName, e.hostFuncs(), nil, enabledFeatures)
}

type eofReader struct{}

// Read implements io.Reader
func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}

// sleep waits for ns nanoseconds, returning early with the error of ctx when it is done first.
func sleep(ctx context.Context, ns int64) error {
	timer := time.NewTimer(time.Duration(ns))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
