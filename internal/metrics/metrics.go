package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for both cycles.
type Metrics struct {
	eventsIngested     prometheus.Counter
	ordersTransitioned prometheus.Counter
	resolverActions    prometheus.Counter
	cyclesSkipped      prometheus.Counter
	errors             prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fusion_resolver_events_ingested_total",
				Help: "Total number of escrow events decoded and applied",
			}),
			ordersTransitioned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fusion_resolver_orders_transitioned_total",
				Help: "Total number of order status transitions applied",
			}),
			resolverActions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fusion_resolver_actions_total",
				Help: "Total number of resolver transactions submitted",
			}),
			cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fusion_resolver_cycles_skipped_total",
				Help: "Total number of cycle ticks skipped (in flight or throttled)",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fusion_resolver_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.eventsIngested,
			metrics.ordersTransitioned,
			metrics.resolverActions,
			metrics.cyclesSkipped,
			metrics.errors,
		)
	})
	return metrics
}

// EventsIngested increments the ingested events counter.
func (m *Metrics) EventsIngested() {
	if m != nil {
		m.eventsIngested.Inc()
	}
}

// OrdersTransitioned increments the transitions counter.
func (m *Metrics) OrdersTransitioned() {
	if m != nil {
		m.ordersTransitioned.Inc()
	}
}

// ResolverActions increments the submitted transactions counter.
func (m *Metrics) ResolverActions() {
	if m != nil {
		m.resolverActions.Inc()
	}
}

// CyclesSkipped increments the skipped ticks counter.
func (m *Metrics) CyclesSkipped() {
	if m != nil {
		m.cyclesSkipped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
