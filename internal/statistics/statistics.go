// Package statistics measures the execution of a VM: the count and cost of executed instructions, the time spent in
// WebAssembly and in host functions, and the number of host calls.
package statistics

import (
	"time"

	"go.uber.org/atomic"
)

// Flags select what Statistics measure. The zero value measures nothing.
type Flags uint8

const (
	// InstructionCounting counts executed instructions.
	InstructionCounting Flags = 1 << iota
	// CostMeasuring accumulates the cost of executed instructions and host calls, and enforces the cost limit.
	CostMeasuring
	// TimeMeasuring accumulates the wall time spent executing WebAssembly and host functions.
	TimeMeasuring
)

// CostTableSize is the length of a cost table. Opcodes with a prefix byte are all charged the cost of the prefix.
const CostTableSize = 256

// Statistics are owned by one VM. Counters are safe to read concurrently, for example from a Collector, but the
// timers must only be driven by the goroutine executing the VM.
type Statistics struct {
	flags     Flags
	costTable [CostTableSize]uint64
	costLimit uint64

	instrCount atomic.Uint64
	cost       atomic.Uint64
	hostCalls  atomic.Uint64
	// wasmNanos and hostNanos are accumulated durations.
	wasmNanos atomic.Int64
	hostNanos atomic.Int64

	wasmStart, hostStart time.Time
}

// New returns Statistics which charge a cost of one for every opcode and have no cost limit.
func New(flags Flags) *Statistics {
	s := &Statistics{flags: flags}
	for i := range s.costTable {
		s.costTable[i] = 1
	}
	return s
}

// Flags returns what these statistics measure.
func (s *Statistics) Flags() Flags {
	return s.flags
}

// SetCostTable replaces the cost of each opcode. Opcodes past the end of table cost zero.
func (s *Statistics) SetCostTable(table []uint64) {
	s.costTable = [CostTableSize]uint64{}
	copy(s.costTable[:], table)
}

// SetCostLimit sets the total cost after which execution traps. Zero means unlimited.
func (s *Statistics) SetCostLimit(limit uint64) {
	s.costLimit = limit
}

// CostLimit returns the limit set by SetCostLimit.
func (s *Statistics) CostLimit() uint64 {
	return s.costLimit
}

// AddInstrCost accounts for the execution of one instruction. It returns false, without charging, when the cost of
// op would exceed the cost limit.
func (s *Statistics) AddInstrCost(op byte) bool {
	if s.flags&InstructionCounting != 0 {
		s.instrCount.Inc()
	}
	if s.flags&CostMeasuring == 0 {
		return true
	}
	return s.addCost(s.costTable[op])
}

// AddHostCost accounts for a call to a host function of the given cost. It returns false, without charging, when
// that would exceed the cost limit.
func (s *Statistics) AddHostCost(cost uint64) bool {
	s.hostCalls.Inc()
	if s.flags&CostMeasuring == 0 {
		return true
	}
	return s.addCost(cost)
}

func (s *Statistics) addCost(cost uint64) bool {
	if cost == 0 {
		return true
	}
	if total := s.cost.Add(cost); s.costLimit > 0 && total > s.costLimit {
		s.cost.Sub(cost)
		return false
	}
	return true
}

// StartWasm starts the WebAssembly execution timer.
func (s *Statistics) StartWasm() {
	if s.flags&TimeMeasuring != 0 {
		s.wasmStart = time.Now()
	}
}

// StopWasm stops the WebAssembly execution timer, adding the time since StartWasm.
func (s *Statistics) StopWasm() {
	if s.flags&TimeMeasuring != 0 && !s.wasmStart.IsZero() {
		s.wasmNanos.Add(int64(time.Since(s.wasmStart)))
		s.wasmStart = time.Time{}
	}
}

// StartHost pauses the WebAssembly execution timer and starts the host function timer.
func (s *Statistics) StartHost() {
	if s.flags&TimeMeasuring == 0 {
		return
	}
	s.StopWasm()
	s.hostStart = time.Now()
}

// StopHost stops the host function timer and resumes the WebAssembly execution timer.
func (s *Statistics) StopHost() {
	if s.flags&TimeMeasuring == 0 || s.hostStart.IsZero() {
		return
	}
	s.hostNanos.Add(int64(time.Since(s.hostStart)))
	s.hostStart = time.Time{}
	s.StartWasm()
}

// InstrCount returns the number of executed instructions.
func (s *Statistics) InstrCount() uint64 {
	return s.instrCount.Load()
}

// TotalCost returns the cost accumulated so far.
func (s *Statistics) TotalCost() uint64 {
	return s.cost.Load()
}

// HostCalls returns the number of host function calls.
func (s *Statistics) HostCalls() uint64 {
	return s.hostCalls.Load()
}

// WasmTime returns the time spent executing WebAssembly, excluding host functions.
func (s *Statistics) WasmTime() time.Duration {
	return time.Duration(s.wasmNanos.Load())
}

// HostTime returns the time spent in host functions.
func (s *Statistics) HostTime() time.Duration {
	return time.Duration(s.hostNanos.Load())
}

// InstrPerSecond returns the instruction throughput, or zero before any time was measured.
func (s *Statistics) InstrPerSecond() float64 {
	wasmTime := s.WasmTime()
	if wasmTime <= 0 {
		return 0
	}
	return float64(s.InstrCount()) / wasmTime.Seconds()
}

// Reset zeroes all counters and timers. The cost table and limit are kept.
func (s *Statistics) Reset() {
	s.instrCount.Store(0)
	s.cost.Store(0)
	s.hostCalls.Store(0)
	s.wasmNanos.Store(0)
	s.hostNanos.Store(0)
	s.wasmStart, s.hostStart = time.Time{}, time.Time{}
}
