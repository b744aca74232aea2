package statistics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestStatistics_AddInstrCost(t *testing.T) {
	s := New(InstructionCounting | CostMeasuring)
	for i := 0; i < 3; i++ {
		require.True(t, s.AddInstrCost(0x6a))
	}
	require.Equal(t, uint64(3), s.InstrCount())
	require.Equal(t, uint64(3), s.TotalCost())
}

func TestStatistics_CostLimit(t *testing.T) {
	s := New(CostMeasuring)
	s.SetCostTable([]uint64{0x6a: 4})
	s.SetCostLimit(10)

	require.True(t, s.AddInstrCost(0x6a))
	require.True(t, s.AddInstrCost(0x6a))
	require.True(t, s.AddInstrCost(0x01)) // unlisted opcodes are free
	require.False(t, s.AddInstrCost(0x6a))
	require.Equal(t, uint64(8), s.TotalCost(), "a refused instruction must not be charged")

	require.True(t, s.AddHostCost(2))
	require.False(t, s.AddHostCost(1))
	require.Equal(t, uint64(10), s.TotalCost())
	require.Equal(t, uint64(2), s.HostCalls())
}

func TestStatistics_FlagsDisabled(t *testing.T) {
	s := New(0)
	s.SetCostLimit(1)
	for i := 0; i < 5; i++ {
		require.True(t, s.AddInstrCost(0x00))
	}
	s.StartWasm()
	s.StopWasm()

	require.Zero(t, s.InstrCount())
	require.Zero(t, s.TotalCost())
	require.Zero(t, s.WasmTime())
	require.Zero(t, s.InstrPerSecond())
}

func TestStatistics_Timers(t *testing.T) {
	s := New(InstructionCounting | TimeMeasuring)
	s.StartWasm()
	s.AddInstrCost(0x00)
	time.Sleep(time.Millisecond)
	s.StartHost()
	time.Sleep(time.Millisecond)
	s.StopHost()
	s.StopWasm()

	require.True(t, s.WasmTime() > 0)
	require.True(t, s.HostTime() >= time.Millisecond)
	require.True(t, s.InstrPerSecond() > 0)

	s.Reset()
	require.Zero(t, s.WasmTime())
	require.Zero(t, s.HostTime())
	require.Zero(t, s.InstrCount())
}

func TestCollector(t *testing.T) {
	s := New(InstructionCounting | CostMeasuring)
	s.AddInstrCost(0x41)
	s.AddInstrCost(0x41)
	s.AddHostCost(5)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(s, "test")))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		require.Equal(t, 1, len(mf.GetMetric()))
		m := mf.GetMetric()[0]
		require.Equal(t, "vm", m.GetLabel()[0].GetName())
		require.Equal(t, "test", m.GetLabel()[0].GetValue())
		values[mf.GetName()] = m.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{
		"wasmedge_instructions_total":    2,
		"wasmedge_cost_total":            7,
		"wasmedge_host_calls_total":      1,
		"wasmedge_execution_seconds":     0,
		"wasmedge_host_function_seconds": 0,
	}, values)
}
