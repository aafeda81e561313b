package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Metrics holds the Prometheus collectors for the push service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	triggers       *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	authorizations *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	suppressed     prometheus.Counter
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_push_triggers_total",
			Help: "Order events received, by ingress.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_push_deliveries_total",
			Help: "Per-recipient delivery attempts, by result.",
		}, []string{"result"}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_push_authorizations_total",
			Help: "Access token exchanges with the identity provider, by result.",
		}, []string{"result"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_push_dispatch_errors_total",
			Help: "Dispatches that ended in an error, by error kind.",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admin_push_tokens_suppressed_total",
			Help: "Delivery addresses suppressed after a permanent provider rejection.",
		}),
	}
	reg.MustRegister(m.triggers, m.deliveries, m.authorizations, m.dispatchErrors, m.suppressed)
	return m
}

func (m *Metrics) IncTrigger(source string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(source).Inc()
}

func (m *Metrics) IncDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAuthorization(result string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDispatchError(kind string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
