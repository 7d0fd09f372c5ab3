// Package metrics declares the Prometheus instruments shared by the
// coordinator services.  Instruments register with the default registry so
// that the status server can expose them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Machines is the number of enrolled daemons
	Machines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_machines",
		Help: "Number of enrolled machines",
	})

	// Processes is the number of enrolled leaf processes
	Processes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_processes",
		Help: "Number of enrolled processes across all machines",
	})

	// Owners is the number of allocated owners
	Owners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_owners",
		Help: "Number of allocated owners across all processes",
	})

	// CapacityExceeded counts allocations refused for lack of slots
	CapacityExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "megastructure_capacity_exceeded_total",
		Help: "Allocations refused because a pool was full",
	}, []string{"pool"})

	// NetworkAddresses is the number of live network addresses
	NetworkAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_network_addresses",
		Help: "Number of allocated network addresses",
	})

	// NetworkAddressCapacity is the network address high-water mark
	NetworkAddressCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_network_address_capacity",
		Help: "Highest network address ever handed out",
	})

	// PipelineRuns counts finished pipeline runs by result
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "megastructure_pipeline_runs_total",
		Help: "Pipeline runs by result",
	}, []string{"result"})

	// PipelineDuration observes pipeline wall time
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "megastructure_pipeline_duration_seconds",
		Help:    "Pipeline run duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// PipelineTasks counts task completions by result
	PipelineTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "megastructure_pipeline_tasks_total",
		Help: "Pipeline task completions by result",
	}, []string{"result"})

	// TasksInFlight is the number of dispatched tasks awaiting completion
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_pipeline_tasks_in_flight",
		Help: "Tasks dispatched and not yet completed",
	})

	// LockRequests counts routed lock requests by kind and result
	LockRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "megastructure_lock_requests_total",
		Help: "Routed simulation lock requests",
	}, []string{"kind", "result"})

	// LockLatency observes the round trip of routed lock requests
	LockLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "megastructure_lock_latency_seconds",
		Help:    "Routed simulation lock latency",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})

	// Connections is the number of registered peer connections
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "megastructure_connections",
		Help: "Registered peer connections",
	})
)

// Result maps a success flag onto a result label
func Result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}
