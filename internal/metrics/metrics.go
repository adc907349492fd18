// Package metrics holds the Prometheus collectors exported by the runtime.
//
// Collectors are registered with the controller-runtime registry so a single
// /metrics endpoint serves both the runtime's and the client libraries' metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ReconcileTotal counts finished pipeline runs.
	//
	// Labels:
	// * outcome: Skipped, Succeeded, Deleted, Read or Failed.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kblocks_reconcile_total",
		Help: "Number of reconciliation pipeline runs by outcome",
	}, []string{"outcome"})

	// ReconcileDuration observes the wall time of a pipeline run, reference
	// waits included.
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kblocks_reconcile_duration_seconds",
		Help:    "Duration of reconciliation pipeline runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	// EnqueueFailuresTotal counts change events the router could not persist.
	EnqueueFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kblocks_enqueue_failures_total",
		Help: "Number of change events that could not be appended to a partition queue",
	})

	// EventDeliveriesTotal counts event sink deliveries.
	//
	// Labels:
	// * type: the envelope type (OBJECT, PATCH, LOG, LIFECYCLE, ERROR).
	// * result: delivered or dropped.
	EventDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kblocks_event_deliveries_total",
		Help: "Number of events posted to the event sink by result",
	}, []string{"type", "result"})

	// ControlReconnectsTotal counts control channel reconnect attempts.
	ControlReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kblocks_control_reconnects_total",
		Help: "Number of control channel reconnect attempts",
	})

	// ControlCommandsTotal counts control commands by type and result.
	ControlCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kblocks_control_commands_total",
		Help: "Number of control channel commands handled",
	}, []string{"command", "result"})

	// QueueDepth is the number of pending events of a partition as last seen
	// by its worker.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kblocks_queue_depth",
		Help: "Pending change events per partition",
	}, []string{"partition"})
)

// Result label values.
const (
	ResultDelivered = "delivered"
	ResultDropped   = "dropped"
	ResultOK        = "ok"
	ResultError     = "error"
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		ReconcileTotal,
		ReconcileDuration,
		EnqueueFailuresTotal,
		EventDeliveriesTotal,
		ControlReconnectsTotal,
		ControlCommandsTotal,
		QueueDepth,
	)
}

// Handler serves the shared registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{})
}
