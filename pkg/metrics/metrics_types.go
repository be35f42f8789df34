package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Transfer Metrics
	TransfersSentTotal    *prometheus.CounterVec
	TransfersDroppedTotal *prometheus.CounterVec
	DataLossTotal         prometheus.Counter

	// Module Metrics
	ModulesTotal      prometheus.Gauge
	ModuleFaultInputs *prometheus.GaugeVec
	ModuleFaulty      *prometheus.GaugeVec
	NetworksTotal     prometheus.Gauge
	ConstantsTotal    prometheus.Gauge

	// Circular Dependency Metrics
	CircularNetworksTotal prometheus.Gauge
	CycleInvalidity       *prometheus.GaugeVec
	CircularWaitWarnings  prometheus.Counter

	// Scheduler Metrics
	StepsTotal          prometheus.Counter
	StallsTotal         prometheus.Counter
	PendingTransfers    prometheus.Gauge
	DeviceInitsInFlight prometheus.Gauge

	// Device Metrics
	DeviceFunctional      *prometheus.GaugeVec
	DeviceExceptionsTotal *prometheus.CounterVec
	DeviceRecoveriesTotal *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initTransferMetrics()
	r.initModuleMetrics()
	r.initCycleMetrics()
	r.initSchedulerMetrics()
	r.initDeviceMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
