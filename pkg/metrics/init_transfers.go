package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransferMetrics() {
	r.TransfersSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flownet_transfers_sent_total",
			Help: "Total number of transfers delivered to consumer queues",
		},
		[]string{"endpoint"},
	)

	r.TransfersDroppedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flownet_transfers_dropped_total",
			Help: "Total number of transfers dropped from full consumer queues",
		},
		[]string{"endpoint"},
	)

	r.DataLossTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flownet_data_loss_total",
			Help: "Process-wide count of lost transfers across all endpoints",
		},
	)
}

func (r *Registry) initModuleMetrics() {
	r.ModulesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_modules_total",
			Help: "Number of application modules",
		},
	)

	r.ModuleFaultInputs = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flownet_module_faulty_inputs",
			Help: "Number of currently faulty inputs per module",
		},
		[]string{"module"},
	)

	r.ModuleFaulty = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flownet_module_faulty",
			Help: "Whether the module's outputs are currently marked faulty (1) or ok (0)",
		},
		[]string{"module"},
	)

	r.NetworksTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_networks_total",
			Help: "Number of resolved variable networks",
		},
	)

	r.ConstantsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_constants_total",
			Help: "Number of constant feeders created for unconnected inputs",
		},
	)
}

func (r *Registry) initCycleMetrics() {
	r.CircularNetworksTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flownet_circular_networks_total",
			Help: "Number of detected circular dependency networks",
		},
	)

	r.CycleInvalidity = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flownet_cycle_invalidity",
			Help: "External faulty inputs currently feeding each circular network",
		},
		[]string{"cycle"},
	)

	r.CircularWaitWarnings = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flownet_circular_wait_warnings_total",
			Help: "Warnings about modules blocked on their first value inside a circular network",
		},
	)
}
