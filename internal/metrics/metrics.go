package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hub's Prometheus instruments. Components treat a nil
// *Metrics as "metrics disabled".
type Metrics struct {
	ConnectedChargers    prometheus.Gauge
	DashboardSubscribers prometheus.Gauge
	EventsPublished      *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	DebitsTotal          *prometheus.CounterVec
	SettlementRetries    prometheus.Counter
}

// New creates and registers all instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedChargers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargehub_connected_chargers",
			Help: "Number of chargers currently connected.",
		}),
		DashboardSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargehub_dashboard_subscribers",
			Help: "Number of dashboard observers currently subscribed.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargehub_events_published_total",
			Help: "Broadcast events published, by event type.",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargehub_events_dropped_total",
			Help: "Events dropped from slow subscriber queues.",
		}),
		DebitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargehub_debits_total",
			Help: "Settlement debit attempts, by outcome.",
		}, []string{"outcome"}),
		SettlementRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargehub_settlement_retries_total",
			Help: "Settlement debit retries after billing unavailability.",
		}),
	}

	reg.MustRegister(
		m.ConnectedChargers,
		m.DashboardSubscribers,
		m.EventsPublished,
		m.EventsDropped,
		m.DebitsTotal,
		m.SettlementRetries,
	)
	return m
}
