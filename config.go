package wasmedge

import (
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wasmedge-go/wasmedge/internal/engine/interpreter"
	"github.com/wasmedge-go/wasmedge/internal/statistics"
	"github.com/wasmedge-go/wasmedge/internal/wasm"
)

// Feature is a WebAssembly proposal the decoder and validator may accept.
type Feature uint64

const (
	// FeatureBulkMemoryOperations enables memory.init, memory.copy, memory.fill, data.drop, table.init, table.copy,
	// elem.drop, passive segments and the data count section.
	// See https://github.com/WebAssembly/spec/blob/main/proposals/bulk-memory-operations/Overview.md
	FeatureBulkMemoryOperations = Feature(wasm.FeatureBulkMemoryOperations)
	// FeatureMultiValue enables functions and blocks with more than one result, and blocks with params.
	// See https://github.com/WebAssembly/spec/blob/main/proposals/multi-value/Overview.md
	FeatureMultiValue = Feature(wasm.FeatureMultiValue)
	// FeatureMutableGlobal enables importing and exporting mutable globals.
	// See https://github.com/WebAssembly/mutable-global
	FeatureMutableGlobal = Feature(wasm.FeatureMutableGlobal)
	// FeatureNonTrappingFloatToIntConversion enables the saturating truncation instructions.
	// See https://github.com/WebAssembly/spec/blob/main/proposals/nontrapping-float-to-int-conversion/Overview.md
	FeatureNonTrappingFloatToIntConversion = Feature(wasm.FeatureNonTrappingFloatToIntConversion)
	// FeatureSignExtensionOps enables i32.extend8_s and friends.
	// See https://github.com/WebAssembly/spec/blob/main/proposals/sign-extension-ops/Overview.md
	FeatureSignExtensionOps = Feature(wasm.FeatureSignExtensionOps)
)

// String returns the proposal names of the enabled features, joined by '|'.
func (f Feature) String() string {
	return wasm.Features(f).String()
}

// HostRegistration selects host modules a VM registers on creation.
type HostRegistration uint8

const (
	// HostRegistrationWasi registers the "wasi_snapshot_preview1" host module, available as VM.WasiModule.
	HostRegistrationWasi HostRegistration = 1 << iota
)

// StatisticsFlags select what VM.Statistics measure.
type StatisticsFlags = statistics.Flags

const (
	StatisticsInstructionCounting = statistics.InstructionCounting
	StatisticsCostMeasuring       = statistics.CostMeasuring
	StatisticsTimeMeasuring       = statistics.TimeMeasuring
)

// Configure controls VM behavior, with the default implementation as NewConfigure. Each WithXxx method returns a
// copy, so a Configure can be shared and reused.
type Configure struct {
	features          wasm.Features
	hostRegistrations HostRegistration
	memoryLimitPages  uint32
	tableLimit        uint32
	maxCallStackDepth int

	statisticsFlags StatisticsFlags
	costLimit       uint64
	costTable       []uint64

	logger     *zap.Logger
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	randSource io.Reader
	walltime   func() time.Time
}

// defaultConfigure helps avoid copy/pasting the wrong defaults.
var defaultConfigure = &Configure{
	features:          wasm.FeaturesFinished,
	memoryLimitPages:  wasm.MemoryMaxPages,
	tableLimit:        math.MaxUint32,
	maxCallStackDepth: interpreter.DefaultMaxCallStackDepth,
}

// NewConfigure returns the default configuration with the given host modules registered. All supported features are
// enabled.
func NewConfigure(registrations ...HostRegistration) *Configure {
	ret := defaultConfigure.clone()
	for _, r := range registrations {
		ret.hostRegistrations |= r
	}
	return ret
}

// clone ensures all fields are copied even if nil.
func (c *Configure) clone() *Configure {
	ret := *c
	ret.costTable = append([]uint64(nil), c.costTable...)
	return &ret
}

// WithFeature enables or disables a proposal.
func (c *Configure) WithFeature(feature Feature, enabled bool) *Configure {
	ret := c.clone()
	ret.features = ret.features.Set(wasm.Features(feature), enabled)
	return ret
}

// HasFeature returns true if the proposal is enabled.
func (c *Configure) HasFeature(feature Feature) bool {
	return c.features.Get(wasm.Features(feature))
}

// WithFeatureBulkMemoryOperations is a shortcut for WithFeature(FeatureBulkMemoryOperations, enabled).
func (c *Configure) WithFeatureBulkMemoryOperations(enabled bool) *Configure {
	return c.WithFeature(FeatureBulkMemoryOperations, enabled)
}

// WithFeatureMultiValue is a shortcut for WithFeature(FeatureMultiValue, enabled).
func (c *Configure) WithFeatureMultiValue(enabled bool) *Configure {
	return c.WithFeature(FeatureMultiValue, enabled)
}

// WithFeatureMutableGlobal is a shortcut for WithFeature(FeatureMutableGlobal, enabled).
//
// When false, a module importing or exporting a mutable global fails validation.
func (c *Configure) WithFeatureMutableGlobal(enabled bool) *Configure {
	return c.WithFeature(FeatureMutableGlobal, enabled)
}

// WithFeatureNonTrappingFloatToIntConversion is a shortcut for
// WithFeature(FeatureNonTrappingFloatToIntConversion, enabled).
func (c *Configure) WithFeatureNonTrappingFloatToIntConversion(enabled bool) *Configure {
	return c.WithFeature(FeatureNonTrappingFloatToIntConversion, enabled)
}

// WithFeatureSignExtensionOps is a shortcut for WithFeature(FeatureSignExtensionOps, enabled).
func (c *Configure) WithFeatureSignExtensionOps(enabled bool) *Configure {
	return c.WithFeature(FeatureSignExtensionOps, enabled)
}

// WithHostRegistration registers a host module on VM creation.
func (c *Configure) WithHostRegistration(r HostRegistration) *Configure {
	ret := c.clone()
	ret.hostRegistrations |= r
	return ret
}

// HasHostRegistration returns true if the host module is registered on VM creation.
func (c *Configure) HasHostRegistration(r HostRegistration) bool {
	return c.hostRegistrations&r == r
}

// WithMemoryLimitPages reduces the maximum number of pages a memory can have from 65536 pages (4GiB).
//
// Notes:
//   - A module whose memory minimum exceeds this fails to instantiate with ErrResourceLimitExceeded.
//   - "memory.grow" past this limit fails, returning -1 to the guest.
//   - This panics if pages is over 65536.
func (c *Configure) WithMemoryLimitPages(pages uint32) *Configure {
	if pages > wasm.MemoryMaxPages {
		panic(fmt.Errorf("memoryLimitPages invalid: %d > %d", pages, wasm.MemoryMaxPages))
	}
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}

// MemoryLimitPages returns the maximum number of pages a memory can have.
func (c *Configure) MemoryLimitPages() uint32 {
	return c.memoryLimitPages
}

// WithTableLimit caps the initial size of any table. A module over this fails to instantiate with
// ErrResourceLimitExceeded.
func (c *Configure) WithTableLimit(elements uint32) *Configure {
	ret := c.clone()
	ret.tableLimit = elements
	return ret
}

// WithMaxCallStackDepth sets the call depth at which execution traps. Defaults to 2000. Depths above 100000 are
// lowered to 100000, as each wasm call also nests a Go call.
func (c *Configure) WithMaxCallStackDepth(depth int) *Configure {
	ret := c.clone()
	ret.maxCallStackDepth = depth
	return ret
}

// WithStatistics selects what VM.Statistics measure. Defaults to nothing, which adds no overhead to execution.
func (c *Configure) WithStatistics(flags StatisticsFlags) *Configure {
	ret := c.clone()
	ret.statisticsFlags = flags
	return ret
}

// WithCostLimit traps execution with ErrTrapCostLimitExceeded when the accumulated cost would exceed limit. Zero means
// unlimited.
//
// Note: This only applies with StatisticsCostMeasuring.
func (c *Configure) WithCostLimit(limit uint64) *Configure {
	ret := c.clone()
	ret.costLimit = limit
	return ret
}

// WithCostTable sets the cost of each opcode, indexed by its first byte. Defaults to one for every opcode.
func (c *Configure) WithCostTable(table []uint64) *Configure {
	ret := c.clone()
	ret.costTable = append([]uint64(nil), table...)
	return ret
}

// WithLogger sets the logger of the VM. Defaults to the logger of the logging package, which discards everything.
func (c *Configure) WithLogger(logger *zap.Logger) *Configure {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithStdin configures where WASI standard input (file descriptor 0) is read. Defaults to return io.EOF.
//
// Note: This does not default to os.Stdin as that both violates sandboxing and prevents concurrent VMs.
func (c *Configure) WithStdin(stdin io.Reader) *Configure {
	ret := c.clone()
	ret.stdin = stdin
	return ret
}

// WithStdout configures where WASI standard output (file descriptor 1) is written. Defaults to io.Discard.
func (c *Configure) WithStdout(stdout io.Writer) *Configure {
	ret := c.clone()
	ret.stdout = stdout
	return ret
}

// WithStderr configures where WASI standard error (file descriptor 2) is written. Defaults to io.Discard.
func (c *Configure) WithStderr(stderr io.Writer) *Configure {
	ret := c.clone()
	ret.stderr = stderr
	return ret
}

// WithRandSource configures the source of "random_get". Defaults to crypto/rand.Reader.
func (c *Configure) WithRandSource(source io.Reader) *Configure {
	ret := c.clone()
	ret.randSource = source
	return ret
}

// WithWalltime configures the realtime clock of "clock_time_get". Defaults to time.Now.
func (c *Configure) WithWalltime(walltime func() time.Time) *Configure {
	ret := c.clone()
	ret.walltime = walltime
	return ret
}
