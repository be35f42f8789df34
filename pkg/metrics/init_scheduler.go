package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSchedulerMetrics() {
	r.StepsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flownet_scheduler_steps_total",
			Help: "Completed lock-step rounds in testable mode",
		},
	)

	r.StallsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flownet_scheduler_stalls_total",
			Help: "Step rounds that ended in a livelock diagnosis",
		},
	)

	r.PendingTransfers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_scheduler_pending_transfers",
			Help: "Unconsumed push transfers across the whole graph",
		},
	)

	r.DeviceInitsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_scheduler_device_inits_in_flight",
			Help: "Devices currently (re-)initialising",
		},
	)
}

func (r *Registry) initDeviceMetrics() {
	r.DeviceFunctional = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flownet_device_functional",
			Help: "Whether the device backend is currently usable (1) or down (0)",
		},
		[]string{"device"},
	)

	r.DeviceExceptionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flownet_device_exceptions_total",
			Help: "Runtime exceptions reported against each device backend",
		},
		[]string{"device"},
	)

	r.DeviceRecoveriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flownet_device_recoveries_total",
			Help: "Successful device backend reopenings after an exception",
		},
		[]string{"device"},
	)
}

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_uptime_seconds",
			Help: "Time since the application started",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_goroutines",
			Help: "Current number of goroutines",
		},
	)

	r.MemoryAllocBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
}
