package bdapp

import (
	"strconv"

	"github.com/advdv/bdispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the collectors of one app. They are registered on their own registry, which the admin server
// exposes on /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Dispatches counts finished dispatches by status and error kind.
	Dispatches *prometheus.CounterVec
	// DispatchDuration observes the time from intake to completion.
	DispatchDuration *prometheus.HistogramVec
	// Events counts the reported states of the dispatcher by event.
	Events *prometheus.CounterVec
	// InFlight is the number of deferred results that did not settle yet.
	InFlight prometheus.Gauge
}

// NewMetrics inits the collectors and registers them, together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdispatch_dispatches_total",
			Help: "The number of finished dispatches by response status and error kind",
		}, []string{"status", "kind"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bdispatch_dispatch_duration_seconds",
			Help:    "The time it took to finish a dispatch",
			Buckets: prometheus.DefBuckets,
		}, []string{"deferred"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdispatch_events_total",
			Help: "The number of reported dispatcher states, such as unobserved failures and transport faults",
		}, []string{"event"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bdispatch_deferred_in_flight",
			Help: "The number of deferred results that did not settle yet",
		}),
	}

	m.Registry.MustRegister(
		m.Dispatches,
		m.DispatchDuration,
		m.Events,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveOutcome records a finished dispatch, see [bdispatch.WithOutcomeFunc].
func (m *Metrics) ObserveOutcome(o bdispatch.Outcome) {
	m.Dispatches.WithLabelValues(strconv.Itoa(o.Status), o.Kind.String()).Inc()
	m.DispatchDuration.WithLabelValues(strconv.FormatBool(o.Deferred)).Observe(o.Elapsed.Seconds())
}

// AddInFlight moves the in-flight gauge, see [bdispatch.WithInFlightFunc].
func (m *Metrics) AddInFlight(delta int) {
	m.InFlight.Add(float64(delta))
}

func (m *Metrics) event(name string) {
	m.Events.WithLabelValues(name).Inc()
}
