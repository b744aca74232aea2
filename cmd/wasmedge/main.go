package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli"

	"github.com/wasmedge-go/wasmedge"
	"github.com/wasmedge-go/wasmedge/api"
	"github.com/wasmedge-go/wasmedge/internal/version"
	"github.com/wasmedge-go/wasmedge/sys"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	os.Exit(doMain(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing. It returns the exit code of the process.
func doMain(args []string, stdIn io.Reader, stdOut, stdErr io.Writer) int {
	exitCode := 0
	app := newApp(stdIn, stdOut, stdErr, &exitCode)
	if err := app.Run(args); err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}
	return exitCode
}

func newApp(stdIn io.Reader, stdOut, stdErr io.Writer, exitCode *int) *cli.App {
	app := cli.NewApp()
	app.Name = "wasmedge"
	app.Usage = "runs WebAssembly modules with WASI"
	app.Version = version.GetVersion()
	app.HideVersion = true
	app.Writer = stdOut
	app.ErrWriter = stdErr

	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "runs a WebAssembly binary",
			ArgsUsage: "<path to wasm file> [wasm args...]",
			// Flags after the wasm file are arguments of the guest.
			SkipArgReorder: true,
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "env",
					Usage: "`KEY=VALUE` environment variable of the guest. Can be specified multiple times.",
				},
				cli.StringSliceFlag{
					Name:  "dir",
					Usage: "directory to preopen as `GUEST:HOST`, or a host path used as is. Can be specified multiple times.",
				},
				cli.StringFlag{
					Name:  "memory-limit",
					Usage: "maximum `SIZE` of memory, ex. 64MB",
				},
				cli.Uint64Flag{
					Name:  "cost-limit",
					Usage: "trap when the cost of executed instructions exceeds `N`",
				},
				cli.StringSliceFlag{
					Name:  "disable-feature",
					Usage: "WebAssembly `FEATURE` to disable, ex. multi-value. Can be specified multiple times.",
				},
				cli.BoolFlag{
					Name:  "reactor",
					Usage: "call the exported function named by the first wasm arg with the rest as params, instead of _start",
				},
				cli.BoolFlag{
					Name:  "stats",
					Usage: "print statistics as JSON to stderr",
				},
				cli.BoolFlag{
					Name:  "metrics",
					Usage: "print statistics in prometheus text format to stderr",
				},
				cli.StringFlag{
					Name:  "config, c",
					Usage: "load configuration from YAML `FILE`",
				},
				cli.StringFlag{
					Name:  "log-level, l",
					Usage: "log level, debug|info|warn|error",
				},
			},
			Action: func(c *cli.Context) (err error) {
				*exitCode, err = doRun(c, stdIn, stdOut, stdErr)
				return
			},
		},
		{
			Name:      "validate",
			Usage:     "validates a WebAssembly binary",
			ArgsUsage: "<path to wasm file>",
			Action: func(c *cli.Context) error {
				return doValidate(c)
			},
		},
		{
			Name:  "version",
			Usage: "displays the version of wasmedge CLI",
			Action: func(c *cli.Context) error {
				fmt.Fprintln(stdOut, version.GetVersion())
				return nil
			},
		},
	}

	app.Action = func(c *cli.Context) error {
		if c.NArg() > 0 {
			return fmt.Errorf("invalid command: %s", c.Args().First())
		}
		return cli.ShowAppHelp(c)
	}
	return app
}

func doValidate(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing path to wasm file")
	}
	vm := wasmedge.NewVM(nil)
	defer vm.Close()

	if err := vm.LoadWasmFile(c.Args().First()); err != nil {
		return fmt.Errorf("error loading wasm binary: %w", err)
	}
	if err := vm.Validate(); err != nil {
		return fmt.Errorf("error validating wasm binary: %w", err)
	}
	return nil
}

// doRun returns the exit code of the guest, or an error if it couldn't run.
func doRun(c *cli.Context, stdIn io.Reader, stdOut, stdErr io.Writer) (int, error) {
	if c.NArg() < 1 {
		return 1, errors.New("missing path to wasm file")
	}
	wasmPath := c.Args().First()
	wasmArgs := c.Args().Tail()
	if len(wasmArgs) > 0 && wasmArgs[0] == "--" {
		wasmArgs = wasmArgs[1:]
	}

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return 1, err
	}
	if err = mergeFlags(c, cfg); err != nil {
		return 1, err
	}

	logger, err := newLogger(cfg.LogLevel, stdErr)
	if err != nil {
		return 1, err
	}
	defer logger.Sync() //nolint

	conf := wasmedge.NewConfigure(wasmedge.HostRegistrationWasi).
		WithStdin(stdIn).
		WithStdout(stdOut).
		WithStderr(stdErr).
		WithLogger(logger)
	if conf, err = cfg.configure(conf); err != nil {
		return 1, err
	}

	vm := wasmedge.NewVM(conf)
	defer vm.Close()

	funcName := "_start"
	var params []string
	if c.Bool("reactor") {
		if len(wasmArgs) == 0 {
			return 1, errors.New("missing function name to call")
		}
		funcName, params = wasmArgs[0], wasmArgs[1:]
	}

	guestArgs := append([]string{filepath.Base(wasmPath)}, wasmArgs...)
	if err = vm.WasiModule().Initialize(guestArgs, cfg.Env, cfg.Dirs); err != nil {
		return 1, err
	}

	code, err := run(vm, wasmPath, funcName, params, stdOut)
	if stats := vm.Statistics(); stats != nil {
		if c.Bool("stats") {
			if err := printStats(stats, stdErr); err != nil {
				return 1, err
			}
		}
		if c.Bool("metrics") {
			if err := printMetrics(stats, stdErr); err != nil {
				return 1, err
			}
		}
	}
	return code, err
}

// mergeFlags overrides cfg with the flags that were set.
func mergeFlags(c *cli.Context, cfg *cliConfig) error {
	cfg.Env = append(cfg.Env, c.StringSlice("env")...)
	cfg.Dirs = append(cfg.Dirs, c.StringSlice("dir")...)
	cfg.DisabledFeatures = append(cfg.DisabledFeatures, c.StringSlice("disable-feature")...)
	if s := c.String("memory-limit"); s != "" {
		if err := cfg.MemoryLimit.UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("invalid memory limit: %s", s)
		}
	}
	if c.IsSet("cost-limit") {
		cfg.CostLimit = c.Uint64("cost-limit")
	}
	if c.Bool("stats") || c.Bool("metrics") {
		cfg.Statistics = true
	}
	if s := c.String("log-level"); s != "" {
		cfg.LogLevel = s
	}
	return nil
}

func run(vm *wasmedge.VM, wasmPath, funcName string, params []string, stdOut io.Writer) (int, error) {
	if err := vm.LoadWasmFile(wasmPath); err != nil {
		return 1, fmt.Errorf("error loading wasm binary: %w", err)
	}
	if err := vm.Validate(); err != nil {
		return 1, fmt.Errorf("error validating wasm binary: %w", err)
	}
	if err := vm.Instantiate(); err != nil {
		return exitCodeOrError(err, "error instantiating wasm binary")
	}

	ft, err := vm.GetFunctionType(funcName)
	if err != nil {
		return 1, err
	}
	typed, err := parseParams(ft, params)
	if err != nil {
		return 1, err
	}

	results, err := vm.Execute(funcName, typed...)
	if err != nil {
		return exitCodeOrError(err, "error running wasm binary")
	}
	for _, r := range results {
		fmt.Fprintln(stdOut, r)
	}
	return int(vm.WasiModule().ExitCode()), nil
}

func exitCodeOrError(err error, msg string) (int, error) {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.ExitCode()), nil
	}
	return 1, fmt.Errorf("%s: %w", msg, err)
}

// parseParams converts command-line arguments to the param types of a function.
func parseParams(ft *wasmedge.FunctionType, params []string) ([]interface{}, error) {
	if len(params) != len(ft.Params) {
		return nil, fmt.Errorf("function %s expects %d params, but passed %d", ft, len(ft.Params), len(params))
	}
	typed := make([]interface{}, len(params))
	for i, p := range params {
		var err error
		switch ft.Params[i] {
		case api.ValueTypeI32:
			var v int64
			if v, err = strconv.ParseInt(p, 0, 32); err == nil {
				typed[i] = int32(v)
			}
		case api.ValueTypeI64:
			typed[i], err = strconv.ParseInt(p, 0, 64)
		case api.ValueTypeF32:
			var v float64
			if v, err = strconv.ParseFloat(p, 32); err == nil {
				typed[i] = float32(v)
			}
		case api.ValueTypeF64:
			typed[i], err = strconv.ParseFloat(p, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid param[%d] %q: %w", i, p, err)
		}
	}
	return typed, nil
}

// statsReport is the JSON printed by --stats.
type statsReport struct {
	Instructions   uint64  `json:"instructions"`
	InstrPerSecond float64 `json:"instructionsPerSecond"`
	TotalCost      uint64  `json:"totalCost"`
	CostLimit      uint64  `json:"costLimit,omitempty"`
	HostCalls      uint64  `json:"hostCalls"`
	WasmTimeNanos  int64   `json:"wasmTimeNanos"`
	HostTimeNanos  int64   `json:"hostTimeNanos"`
}

func printStats(stats *wasmedge.Statistics, w io.Writer) error {
	b, err := json.MarshalIndent(&statsReport{
		Instructions:   stats.InstrCount(),
		InstrPerSecond: stats.InstrPerSecond(),
		TotalCost:      stats.TotalCost(),
		CostLimit:      stats.CostLimit(),
		HostCalls:      stats.HostCalls(),
		WasmTimeNanos:  int64(stats.WasmTime()),
		HostTimeNanos:  int64(stats.HostTime()),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printMetrics(stats *wasmedge.Statistics, w io.Writer) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(stats.Collector("cli")); err != nil {
		return err
	}
	mfs, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
