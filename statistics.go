package wasmedge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wasmedge-go/wasmedge/internal/statistics"
)

// Statistics are measurements of all executions of a VM, selected by Configure.WithStatistics. Values accumulate
// until Reset.
//
// Counters are safe to read from any goroutine, including while the VM executes.
type Statistics struct {
	s *statistics.Statistics
}

// InstrCount returns the count of executed instructions.
func (s *Statistics) InstrCount() uint64 {
	return s.s.InstrCount()
}

// TotalCost returns the accumulated cost of executed instructions and host calls.
func (s *Statistics) TotalCost() uint64 {
	return s.s.TotalCost()
}

// CostLimit returns the limit set by Configure.WithCostLimit, or zero if unlimited.
func (s *Statistics) CostLimit() uint64 {
	return s.s.CostLimit()
}

// HostCalls returns the count of host function calls.
func (s *Statistics) HostCalls() uint64 {
	return s.s.HostCalls()
}

// WasmTime returns the time spent executing WebAssembly, excluding host functions.
func (s *Statistics) WasmTime() time.Duration {
	return s.s.WasmTime()
}

// HostTime returns the time spent in host functions.
func (s *Statistics) HostTime() time.Duration {
	return s.s.HostTime()
}

// InstrPerSecond returns InstrCount over WasmTime, or zero before anything was measured.
func (s *Statistics) InstrPerSecond() float64 {
	return s.s.InstrPerSecond()
}

// Reset zeroes all measurements. The cost limit and table are kept.
func (s *Statistics) Reset() {
	s.s.Reset()
}

// Collector returns these statistics as prometheus metrics with the const label vm.
//
// Ex. prometheus.MustRegister(vm.Statistics().Collector("worker-1"))
func (s *Statistics) Collector(vm string) prometheus.Collector {
	return statistics.NewCollector(s.s, vm)
}
