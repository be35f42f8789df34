package metrics

import (
	"runtime"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
)

// RecordTransferSent records one transfer delivered to a consumer queue
func (r *Registry) RecordTransferSent(endpoint string) {
	r.TransfersSentTotal.WithLabelValues(endpoint).Inc()
}

// RecordDataLoss records one transfer dropped from a full consumer queue
func (r *Registry) RecordDataLoss(endpoint string) {
	r.TransfersDroppedTotal.WithLabelValues(endpoint).Inc()
	r.DataLossTotal.Inc()
}

// RecordModuleValidity updates the fault gauges of a module
func (r *Registry) RecordModuleValidity(module string, faultyInputs int64) {
	r.ModuleFaultInputs.WithLabelValues(module).Set(float64(faultyInputs))
	if faultyInputs > 0 {
		r.ModuleFaulty.WithLabelValues(module).Set(1)
	} else {
		r.ModuleFaulty.WithLabelValues(module).Set(0)
	}
}

// RecordCycleInvalidity updates the shared invalidity gauge of a circular
// network, keyed by its hash rendered in hex
func (r *Registry) RecordCycleInvalidity(cycle string, invalidity int64) {
	r.CycleInvalidity.WithLabelValues(cycle).Set(float64(invalidity))
}

// RecordStep records the outcome of one lock-step round
func (r *Registry) RecordStep(stalled bool) {
	r.StepsTotal.Inc()
	if stalled {
		r.StallsTotal.Inc()
	}
}

// RecordDeviceException records a backend exception report
func (r *Registry) RecordDeviceException(device string) {
	r.DeviceExceptionsTotal.WithLabelValues(device).Inc()
	r.DeviceFunctional.WithLabelValues(device).Set(0)
}

// RecordDeviceRecovery records a successful backend reopen
func (r *Registry) RecordDeviceRecovery(device string) {
	r.DeviceRecoveriesTotal.WithLabelValues(device).Inc()
	r.DeviceFunctional.WithLabelValues(device).Set(1)
}

// InstallDataLossHook routes the accessor layer's data loss counter into
// this registry. Call once at application start.
func (r *Registry) InstallDataLossHook() {
	accessor.SetDataLossHook(func(endpoint string) {
		r.RecordDataLoss(endpoint)
	})
}

// InstallTransferHook mirrors every delivered push transfer into the
// per-endpoint counter. Call once at application start.
func (r *Registry) InstallTransferHook() {
	accessor.SetTransferSentHook(func(endpoint string) {
		r.RecordTransferSent(endpoint)
	})
}

// UpdateSystemMetrics refreshes the process-level gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
}
