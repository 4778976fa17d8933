package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	DispatchResults *prometheus.CounterVec
	DLQEnqueued     prometheus.Counter
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Webhook events accepted and persisted, by provider.",
		}, []string{"provider"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_rejected_total",
			Help: "Webhook requests rejected before persistence, by provider and reason.",
		}, []string{"provider", "reason"}),
		DispatchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_dispatch_results_total",
			Help: "Terminal dispatch outcomes, by result (delivered, exhausted).",
		}, []string{"result"}),
		DLQEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_dlq_enqueued_total",
			Help: "Events routed to the dead letter queue.",
		}),
	}

	reg.MustRegister(m.EventsReceived, m.EventsRejected, m.DispatchResults, m.DLQEnqueued)
	return m
}
