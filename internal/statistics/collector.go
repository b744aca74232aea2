package statistics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wasmedge"

// compile-time check to ensure Collector implements prometheus.Collector
var _ prometheus.Collector = &Collector{}

// Collector exports Statistics as prometheus metrics, labeled with the name of the VM which owns them.
type Collector struct {
	stats *Statistics

	instructions  *prometheus.Desc
	cost          *prometheus.Desc
	hostCalls     *prometheus.Desc
	execution     *prometheus.Desc
	hostFunctions *prometheus.Desc
}

// NewCollector returns a Collector reading from stats.
func NewCollector(stats *Statistics, vm string) *Collector {
	labels := prometheus.Labels{"vm": vm}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &Collector{
		stats:         stats,
		instructions:  desc("instructions_total", "Count of executed WebAssembly instructions."),
		cost:          desc("cost_total", "Accumulated cost of executed instructions and host calls."),
		hostCalls:     desc("host_calls_total", "Count of host function calls."),
		execution:     desc("execution_seconds", "Time spent executing WebAssembly, excluding host functions."),
		hostFunctions: desc("host_function_seconds", "Time spent in host functions."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instructions
	ch <- c.cost
	ch <- c.hostCalls
	ch <- c.execution
	ch <- c.hostFunctions
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.instructions, prometheus.CounterValue, float64(c.stats.InstrCount()))
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.CounterValue, float64(c.stats.TotalCost()))
	ch <- prometheus.MustNewConstMetric(c.hostCalls, prometheus.CounterValue, float64(c.stats.HostCalls()))
	ch <- prometheus.MustNewConstMetric(c.execution, prometheus.CounterValue, c.stats.WasmTime().Seconds())
	ch <- prometheus.MustNewConstMetric(c.hostFunctions, prometheus.CounterValue, c.stats.HostTime().Seconds())
}
